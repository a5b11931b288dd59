// Package netx resolves scan-target hostnames before the worker pool starts,
// so per-unit deadlines measure the endpoint rather than the resolver.
package netx

import (
	"context"
	"net"
	"time"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
)

const defaultServer = "8.8.8.8:53"

// Resolver answers A/AAAA questions against one nameserver with an explicit
// timeout per query.
type Resolver struct {
	client *dns.Client
	server string
}

// NewResolver builds a resolver against the system nameserver, falling back
// to a public one when the system configuration is unreadable.
func NewResolver(timeout time.Duration) *Resolver {
	server := defaultServer
	if cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf"); err == nil && len(cfg.Servers) > 0 {
		server = net.JoinHostPort(cfg.Servers[0], cfg.Port)
	}
	return &Resolver{
		client: &dns.Client{Timeout: timeout},
		server: server,
	}
}

// Resolve returns the addresses of host. Literal IP addresses pass through
// untouched.
func (r *Resolver) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}

	var ips []net.IP
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(host), qtype)
		msg.RecursionDesired = true

		reply, _, err := r.client.ExchangeContext(ctx, msg, r.server)
		if err != nil {
			if len(ips) > 0 {
				break
			}
			return nil, errors.Wrapf(err, "resolving %s", host)
		}
		for _, rr := range reply.Answer {
			switch a := rr.(type) {
			case *dns.A:
				ips = append(ips, a.A)
			case *dns.AAAA:
				ips = append(ips, a.AAAA)
			}
		}
	}
	if len(ips) == 0 {
		return nil, errors.Errorf("no address records for %s", host)
	}
	return ips, nil
}
