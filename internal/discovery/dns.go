package discovery

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/vyrodovalexey/routegw/internal/config"
)

const defaultDNSTimeout = 2 * time.Second

// DNSResolver resolves services through SRV records. The queried name
// is the service name joined with the configured domain.
type DNSResolver struct {
	client *dns.Client
	server string
	domain string
}

// NewDNSResolver creates a resolver for cfg.
func NewDNSResolver(cfg config.DNSConfig) *DNSResolver {
	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = defaultDNSTimeout
	}
	server := cfg.Server
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	return &DNSResolver{
		client: &dns.Client{Net: "udp", Timeout: timeout},
		server: server,
		domain: strings.Trim(cfg.Domain, "."),
	}
}

func (d *DNSResolver) qname(service string) string {
	if d.domain == "" {
		return dns.Fqdn(service)
	}
	return dns.Fqdn(service + "." + d.domain)
}

// Resolve implements Resolver. Records are ordered by ascending
// priority, then descending weight. Targets are returned as host names
// unless the response carries address records for them.
func (d *DNSResolver) Resolve(ctx context.Context, service string) ([]Endpoint, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(d.qname(service), dns.TypeSRV)
	msg.RecursionDesired = true

	in, _, err := d.client.ExchangeContext(ctx, msg, d.server)
	if err != nil {
		return nil, fmt.Errorf("srv lookup of %q: %w", service, err)
	}
	switch in.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return []Endpoint{}, nil
	default:
		return nil, fmt.Errorf("srv lookup of %q: %s", service, dns.RcodeToString[in.Rcode])
	}

	addrs := make(map[string]string)
	for _, rr := range in.Extra {
		switch v := rr.(type) {
		case *dns.A:
			addrs[v.Hdr.Name] = v.A.String()
		case *dns.AAAA:
			if _, ok := addrs[v.Hdr.Name]; !ok {
				addrs[v.Hdr.Name] = v.AAAA.String()
			}
		}
	}

	var records []*dns.SRV
	for _, rr := range in.Answer {
		if srv, ok := rr.(*dns.SRV); ok {
			records = append(records, srv)
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Priority != records[j].Priority {
			return records[i].Priority < records[j].Priority
		}
		return records[i].Weight > records[j].Weight
	})

	eps := make([]Endpoint, 0, len(records))
	for _, srv := range records {
		host, ok := addrs[srv.Target]
		if !ok {
			host = strings.TrimSuffix(srv.Target, ".")
		}
		eps = append(eps, Endpoint{Host: host, Port: int(srv.Port), Tag: srv.Target})
	}
	return eps, nil
}
