package rmi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSignature(t *testing.T) {
	sig, err := ParseSignature("java.lang.String execute(java.lang.String cmd, int retries)")
	require.NoError(t, err)
	assert.Equal(t, "execute", sig.Name)
	assert.Equal(t, "java.lang.String", sig.Return)
	require.Len(t, sig.Params, 2)
	assert.Equal(t, "java.lang.String", sig.Params[0].Type)
	assert.Equal(t, "cmd", sig.Params[0].Name)
	assert.Equal(t, "int", sig.Params[1].Type)
}

func TestParseSignatureWithoutParameterNames(t *testing.T) {
	sig, err := ParseSignature("void ping()")
	require.NoError(t, err)
	assert.Equal(t, "ping", sig.Name)
	assert.Empty(t, sig.Params)

	sig, err = ParseSignature("boolean check(java.lang.String)")
	require.NoError(t, err)
	require.Len(t, sig.Params, 1)
	assert.Equal(t, "java.lang.String", sig.Params[0].Type)
}

func TestParseSignatureRejectsGarbage(t *testing.T) {
	for _, bad := range []string{
		"",
		"execute",
		"java.lang.String execute",
		"java.lang.String execute(int a, )",
		"void[] broken()",
	} {
		_, err := ParseSignature(bad)
		assert.Error(t, err, "signature %q", bad)
	}
}

func TestDescriptor(t *testing.T) {
	cases := map[string]string{
		"java.lang.String execute(java.lang.String cmd)":                        "(Ljava/lang/String;)Ljava/lang/String;",
		"void ping()":                                                           "()V",
		"int count(long a, boolean b)":                                          "(JZ)I",
		"java.lang.String system(java.lang.String cmd, java.lang.String[] args)": "(Ljava/lang/String;[Ljava/lang/String;)Ljava/lang/String;",
		"byte[] downloadFile(java.lang.String name)":                            "(Ljava/lang/String;)[B",
	}
	for raw, want := range cases {
		sig, err := ParseSignature(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, sig.Descriptor(), raw)
	}
}

// Hash values verified independently against the dispatch derivation: first
// eight bytes, little-endian, of SHA-1 over the writeUTF encoding of name
// plus descriptor. The lookup and activate values also match the pregenerated
// stub constants shipped with the JDK.
func TestHashKnownValues(t *testing.T) {
	cases := map[string]int64{
		"java.rmi.Remote lookup(java.lang.String name)":                                          -7538657168040752697,
		"java.rmi.MarshalledObject activate(java.rmi.activation.ActivationID id, boolean force)": -8767355154875805558,
		"java.lang.String execute(java.lang.String cmd)":                                         1700389054076525149,
		"java.lang.String exec(java.lang.String cmd)":                                            -8537256965393640253,
		"void shutdown()":                                                                        -7207851917985848402,
		"void ping()":                                                                            5866401369815527589,
		"java.lang.String getVersion()":                                                          -8081107751519807347,
		"java.lang.String system(java.lang.String cmd, java.lang.String[] args)":                 4424944821018771351,
	}
	for raw, want := range cases {
		sig, err := ParseSignature(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, sig.Hash(), raw)
	}
}

// The digest input is the writeUTF frame, not the bare string. Without the
// two-byte length prefix the derived value diverges from live dispatch.
func TestHashCoversLengthPrefix(t *testing.T) {
	sig, err := ParseSignature("java.rmi.MarshalledObject activate(java.rmi.activation.ActivationID id, boolean force)")
	require.NoError(t, err)
	assert.Equal(t, int64(-8767355154875805558), sig.Hash())
	assert.NotEqual(t, int64(-3109726914512506662), sig.Hash(), "bare-string digest, wrong on the wire")
}

func TestHashIgnoresParameterNames(t *testing.T) {
	a, err := ParseSignature("void f(int x)")
	require.NoError(t, err)
	b, err := ParseSignature("void f(int somethingElse)")
	require.NoError(t, err)
	assert.Equal(t, a.Hash(), b.Hash())
}

func TestZeroArguments(t *testing.T) {
	sig, err := ParseSignature("void f(int a, long b, java.lang.String c, boolean d)")
	require.NoError(t, err)
	args := sig.ZeroArguments()
	require.Len(t, args, 4)
	assert.Equal(t, Argument{kind: argPrimitive, data: make([]byte, 4)}, args[0])
	assert.Equal(t, Argument{kind: argPrimitive, data: make([]byte, 8)}, args[1])
	assert.Equal(t, NullArg(), args[2])
	assert.Equal(t, Argument{kind: argPrimitive, data: make([]byte, 1)}, args[3])
}

func TestZeroArgumentsArraysAreNull(t *testing.T) {
	sig, err := ParseSignature("void f(int[] a, java.lang.String[] b)")
	require.NoError(t, err)
	args := sig.ZeroArguments()
	require.Len(t, args, 2)
	assert.Equal(t, NullArg(), args[0])
	assert.Equal(t, NullArg(), args[1])
}

func TestActivatorTableMatchesDerivation(t *testing.T) {
	m, ok := ComponentActivator.Method("activate")
	require.True(t, ok)
	assert.Equal(t, int64(-8767355154875805558), m.Hash, "pregenerated activate stub constant")
}
