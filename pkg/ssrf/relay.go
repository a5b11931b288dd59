package ssrf

import (
	"io"
	"net/http"
	"sort"
	"time"

	wappalyzer "github.com/projectdiscovery/wappalyzergo"
	"github.com/pkg/errors"
)

// RelayInfo describes the HTTP intermediary that will forward the tunneled
// stream: knowing what sits in front of the internal endpoint tells the
// operator which encoding quirks to expect.
type RelayInfo struct {
	URL          string   `json:"url"`
	Status       string   `json:"status"`
	Server       string   `json:"server,omitempty"`
	Technologies []string `json:"technologies,omitempty"`
}

// FingerprintRelay fetches the relay URL once and identifies the software
// stack from the response.
func FingerprintRelay(url string, timeout time.Duration) (*RelayInfo, error) {
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(url)
	if err != nil {
		return nil, errors.Wrap(err, "fetching relay")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "reading relay response")
	}

	analyzer, err := wappalyzer.New()
	if err != nil {
		return nil, errors.Wrap(err, "loading fingerprints")
	}
	matches := analyzer.Fingerprint(resp.Header, body)
	techs := make([]string, 0, len(matches))
	for name := range matches {
		techs = append(techs, name)
	}
	sort.Strings(techs)

	return &RelayInfo{
		URL:          url,
		Status:       resp.Status,
		Server:       resp.Header.Get("Server"),
		Technologies: techs,
	}, nil
}
