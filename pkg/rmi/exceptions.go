package rmi

import "strings"

// Classification buckets a remote exception into the signal the scanner and
// guesser act on. The mapping lives here, behind a small marker table, so new
// endpoint behavior can be added without touching dispatch or scan logic.
type Classification int

const (
	ClassUnknown Classification = iota
	ClassNoSuchMethod
	ClassNoSuchObject
	ClassNotBound
	ClassAlreadyBound
	ClassAccessDenied
	ClassFilterRejected
	ClassNotFound
	ClassCastMismatch
	ClassMarshal
)

func (c Classification) String() string {
	switch c {
	case ClassNoSuchMethod:
		return "no such method"
	case ClassNoSuchObject:
		return "no such object"
	case ClassNotBound:
		return "not bound"
	case ClassAlreadyBound:
		return "already bound"
	case ClassAccessDenied:
		return "access denied"
	case ClassFilterRejected:
		return "rejected by deserialization filter"
	case ClassNotFound:
		return "class not found"
	case ClassCastMismatch:
		return "class cast mismatch"
	case ClassMarshal:
		return "unmarshal failure"
	default:
		return "unclassified"
	}
}

type classMarker struct {
	className string
	class     Classification
}

var classMarkers = []classMarker{
	{"java.rmi.NoSuchObjectException", ClassNoSuchObject},
	{"java.rmi.NotBoundException", ClassNotBound},
	{"java.rmi.AlreadyBoundException", ClassAlreadyBound},
	{"java.rmi.AccessException", ClassAccessDenied},
	{"java.security.AccessControlException", ClassAccessDenied},
	{"java.io.InvalidClassException", ClassMarshal},
	{"java.lang.ClassNotFoundException", ClassNotFound},
	{"java.lang.ClassCastException", ClassCastMismatch},
	{"java.rmi.UnmarshalException", ClassMarshal},
	{"java.rmi.MarshalException", ClassMarshal},
}

// Message substrings observed on real OpenJDK endpoints. These refine a class
// match; some endpoints wrap the interesting cause into a ServerException and
// only its message survives. Known-fragile, kept deliberately narrow.
type messageMarker struct {
	substring string
	class     Classification
}

var messageMarkers = []messageMarker{
	{"unrecognized method hash", ClassNoSuchMethod},
	{"filter status: REJECTED", ClassFilterRejected},
	{"non-local host", ClassAccessDenied},
	{"ClassNotFoundException", ClassNotFound},
	{"ClassCastException", ClassCastMismatch},
	{"no security manager: RMI class loader disabled", ClassNotFound},
}

// Classify maps a remote exception onto a Classification. Message markers win
// over class markers because wrapper exceptions hide the interesting cause.
func Classify(ex *RemoteException) Classification {
	if ex == nil {
		return ClassUnknown
	}
	for _, m := range messageMarkers {
		if strings.Contains(ex.Message, m.substring) {
			return m.class
		}
	}
	for _, m := range classMarkers {
		for _, name := range append([]string{ex.ClassName}, ex.Classes...) {
			if name == m.className {
				return m.class
			}
		}
	}
	return ClassUnknown
}
