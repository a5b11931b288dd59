package guess

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/H4cking2theGate/remote-method-guesser/pkg/rmi"
)

// Candidate is one wordlist entry: the raw line and its parsed signature.
type Candidate struct {
	Raw       string
	Signature *rmi.Signature
}

// defaultSignatures are methods commonly exposed by management and legacy
// services, used when the operator supplies no wordlist.
var defaultSignatures = []string{
	"java.lang.String execute(java.lang.String cmd)",
	"java.lang.String exec(java.lang.String cmd)",
	"java.lang.String runCommand(java.lang.String cmd)",
	"java.lang.String system(java.lang.String cmd, java.lang.String[] args)",
	"void shutdown()",
	"void ping()",
	"java.lang.String getVersion()",
	"java.lang.String version()",
	"boolean login(java.lang.String user, java.lang.String password)",
	"java.lang.Object getProperty(java.lang.String name)",
	"void uploadFile(java.lang.String name, byte[] content)",
	"byte[] downloadFile(java.lang.String name)",
	"java.lang.String readFile(java.lang.String path)",
	"void writeFile(java.lang.String path, byte[] content)",
	"void updateConfig(java.util.Map config)",
}

// DefaultCandidates parses the built-in wordlist.
func DefaultCandidates() []Candidate {
	out := make([]Candidate, 0, len(defaultSignatures))
	for _, raw := range defaultSignatures {
		sig, err := rmi.ParseSignature(raw)
		if err != nil {
			panic("guess: bad built-in signature " + raw)
		}
		out = append(out, Candidate{Raw: raw, Signature: sig})
	}
	return out
}

// ParseWordlist reads candidate signatures, one per line. Blank lines and
// lines starting with # are skipped; a malformed signature fails the whole
// load with its line number, before any network I/O.
func ParseWordlist(r io.Reader) ([]Candidate, error) {
	var out []Candidate
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		sig, err := rmi.ParseSignature(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "wordlist line %d", line)
		}
		out = append(out, Candidate{Raw: raw, Signature: sig})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading wordlist")
	}
	return out, nil
}

// LoadWordlist reads candidates from a file path.
func LoadWordlist(path string) ([]Candidate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening wordlist %s", path)
	}
	defer f.Close()
	return ParseWordlist(f)
}
