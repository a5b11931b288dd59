package rmi

import (
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"strings"
)

// Signature is one parsed Java-style method signature, e.g.
// "java.lang.String execute(java.lang.String cmd, int retries)".
type Signature struct {
	Return string
	Name   string
	Params []Param
}

// Param is one declared parameter. The name is optional in the input.
type Param struct {
	Type string
	Name string
}

var primitiveDescriptors = map[string]string{
	"void":    "V",
	"boolean": "Z",
	"byte":    "B",
	"char":    "C",
	"short":   "S",
	"int":     "I",
	"long":    "J",
	"float":   "F",
	"double":  "D",
}

// primitiveWidths gives the marshaled size of each primitive type in the
// argument block. Objects are not listed; they marshal as stream objects.
var primitiveWidths = map[string]int{
	"boolean": 1,
	"byte":    1,
	"char":    2,
	"short":   2,
	"int":     4,
	"float":   4,
	"long":    8,
	"double":  8,
}

// ParseSignature parses a Java-style signature string. Parameter names are
// accepted and ignored for hashing.
func ParseSignature(s string) (*Signature, error) {
	s = strings.TrimSpace(s)
	open := strings.Index(s, "(")
	close := strings.LastIndex(s, ")")
	if open < 0 || close < open {
		return nil, Validationf("signature %q has no parameter list", s)
	}
	head := strings.Fields(s[:open])
	if len(head) != 2 {
		return nil, Validationf("signature %q needs a return type and a method name", s)
	}
	sig := &Signature{Return: head[0], Name: head[1]}

	params := strings.TrimSpace(s[open+1 : close])
	if params != "" {
		for _, p := range strings.Split(params, ",") {
			fields := strings.Fields(p)
			switch len(fields) {
			case 1:
				sig.Params = append(sig.Params, Param{Type: fields[0]})
			case 2:
				sig.Params = append(sig.Params, Param{Type: fields[0], Name: fields[1]})
			default:
				return nil, Validationf("signature %q: cannot parse parameter %q", s, p)
			}
		}
	}

	if _, err := typeDescriptor(sig.Return); err != nil {
		return nil, err
	}
	for _, p := range sig.Params {
		if _, err := typeDescriptor(p.Type); err != nil {
			return nil, err
		}
	}
	return sig, nil
}

// typeDescriptor maps a Java source type to its JVM descriptor, handling
// trailing [] pairs for arrays.
func typeDescriptor(t string) (string, error) {
	dims := 0
	for strings.HasSuffix(t, "[]") {
		t = strings.TrimSpace(t[:len(t)-2])
		dims++
	}
	if t == "" {
		return "", Validationf("empty type name")
	}
	base, ok := primitiveDescriptors[t]
	if !ok {
		if strings.ContainsAny(t, "();") {
			return "", Validationf("invalid type name %q", t)
		}
		base = "L" + strings.ReplaceAll(t, ".", "/") + ";"
	}
	if dims > 0 && base == "V" {
		return "", Validationf("void cannot be an array type")
	}
	return strings.Repeat("[", dims) + base, nil
}

// Descriptor renders the JVM method descriptor, e.g.
// "(Ljava/lang/String;I)Ljava/lang/String;".
func (s *Signature) Descriptor() string {
	var b strings.Builder
	b.WriteString("(")
	for _, p := range s.Params {
		d, _ := typeDescriptor(p.Type)
		b.WriteString(d)
	}
	b.WriteString(")")
	d, _ := typeDescriptor(s.Return)
	b.WriteString(d)
	return b.String()
}

// Hash derives the operation hash the live protocol uses for method dispatch:
// the first eight bytes, little-endian, of the SHA-1 digest over the writeUTF
// encoding of name plus descriptor, a big-endian two-byte length followed by
// the string bytes.
func (s *Signature) Hash() int64 {
	str := s.Name + s.Descriptor()
	buf := make([]byte, 2+len(str))
	binary.BigEndian.PutUint16(buf, uint16(len(str)))
	copy(buf[2:], str)
	sum := sha1.Sum(buf)
	var hash int64
	for i := 0; i < 8; i++ {
		hash += int64(sum[i]&0xff) << (8 * uint(i))
	}
	return hash
}

func (s *Signature) String() string {
	parts := make([]string, len(s.Params))
	for i, p := range s.Params {
		parts[i] = strings.TrimSpace(p.Type + " " + p.Name)
	}
	return fmt.Sprintf("%s %s(%s)", s.Return, s.Name, strings.Join(parts, ", "))
}

// ZeroArguments builds the argument list for a call that should reach the
// method dispatch check but carry no meaningful data: primitives marshal as
// zero values, objects as null references.
func (s *Signature) ZeroArguments() []Argument {
	args := make([]Argument, 0, len(s.Params))
	for _, p := range s.Params {
		base := strings.TrimSuffix(p.Type, "[]")
		if width, ok := primitiveWidths[base]; ok && base == p.Type {
			args = append(args, PrimitiveArg(make([]byte, width)))
			continue
		}
		args = append(args, NullArg())
	}
	return args
}
