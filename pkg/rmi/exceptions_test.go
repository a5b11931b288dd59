package rmi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyByClassName(t *testing.T) {
	cases := map[string]Classification{
		"java.rmi.NoSuchObjectException":   ClassNoSuchObject,
		"java.rmi.NotBoundException":       ClassNotBound,
		"java.rmi.AlreadyBoundException":   ClassAlreadyBound,
		"java.rmi.AccessException":         ClassAccessDenied,
		"java.io.InvalidClassException":    ClassMarshal,
		"java.lang.ClassNotFoundException": ClassNotFound,
		"java.lang.ClassCastException":     ClassCastMismatch,
		"java.rmi.UnmarshalException":      ClassMarshal,
		"com.example.SomethingProprietary": ClassUnknown,
	}
	for className, want := range cases {
		got := Classify(&RemoteException{ClassName: className})
		assert.Equal(t, want, got, className)
	}
}

func TestClassifyByClassHierarchy(t *testing.T) {
	ex := &RemoteException{
		ClassName: "sun.rmi.registry.SomeWrapper",
		Classes:   []string{"sun.rmi.registry.SomeWrapper", "java.rmi.AccessException", "java.rmi.RemoteException"},
	}
	assert.Equal(t, ClassAccessDenied, Classify(ex))
}

// Wrapper exceptions often hide the interesting cause in their message, so
// message markers must win over the wrapper's class name.
func TestClassifyMessageMarkersTakePrecedence(t *testing.T) {
	cases := []struct {
		message string
		want    Classification
	}{
		{"error unmarshalling arguments; nested exception is: unrecognized method hash: method not supported by remote object", ClassNoSuchMethod},
		{"java.io.InvalidClassException: filter status: REJECTED", ClassFilterRejected},
		{"Registry.Registry: registry is restricted to non-local host calls", ClassAccessDenied},
		{"error unmarshalling arguments; nested exception is: java.lang.ClassNotFoundException: de.example.Foo", ClassNotFound},
	}
	for _, tc := range cases {
		ex := &RemoteException{ClassName: "java.rmi.ServerException", Message: tc.message}
		assert.Equal(t, tc.want, Classify(ex), tc.message)
	}

	// even when the class name itself would classify
	ex := &RemoteException{
		ClassName: "java.rmi.UnmarshalException",
		Message:   "unrecognized method hash: method not supported by remote object",
	}
	assert.Equal(t, ClassNoSuchMethod, Classify(ex))
}

func TestClassifyNilIsUnknown(t *testing.T) {
	assert.Equal(t, ClassUnknown, Classify(nil))
}

func TestClassificationStrings(t *testing.T) {
	assert.Equal(t, "no such method", ClassNoSuchMethod.String())
	assert.Equal(t, "unclassified", ClassUnknown.String())
}
