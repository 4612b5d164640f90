// Package hostresolver maps name server host names to addresses for the
// catalog's allow-transfer lists.
package hostresolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/csmith/mydnshost-api/internal/core/domain"
	"github.com/csmith/mydnshost-api/internal/core/ports"
	"github.com/csmith/mydnshost-api/internal/infrastructure/metrics"
	"github.com/miekg/dns"
	"golang.org/x/sync/singleflight"
)

// StoreResolver answers from the records of the most specific stored domain
// containing the host, so in-bailiwick name servers need no DNS round trip.
type StoreResolver struct {
	repo     ports.DomainRepository
	resolver ports.ZoneResolver
}

func NewStoreResolver(repo ports.DomainRepository, resolver ports.ZoneResolver) *StoreResolver {
	return &StoreResolver{repo: repo, resolver: resolver}
}

func (s *StoreResolver) LookupHost(ctx context.Context, host string) (ips []net.IP, err error) {
	defer func() {
		metrics.HostLookups.WithLabelValues("store", lookupResult(ips, err)).Inc()
	}()

	fqdn := strings.ToLower(domain.Fqdn(host))
	labels := dns.SplitDomainName(fqdn)

	for i := range labels {
		candidate := strings.Join(labels[i:], ".")
		d, err := s.repo.GetDomainByName(ctx, candidate)
		if err != nil {
			return nil, fmt.Errorf("failed to look up domain %s: %w", candidate, err)
		}
		if d == nil {
			continue
		}
		if d.Disabled {
			return nil, nil
		}

		zone, err := s.resolver.Resolve(ctx, d)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", d.Name, err)
		}
		for _, rec := range zone.Records {
			if strings.ToLower(rec.Name) != fqdn {
				continue
			}
			if rec.Type != domain.TypeA && rec.Type != domain.TypeAAAA {
				continue
			}
			if ip := net.ParseIP(rec.Content); ip != nil {
				ips = append(ips, ip)
			}
		}
		return ips, nil
	}
	return nil, nil
}

// DNSResolver looks hosts up against an upstream server. Concurrent lookups
// of the same host share one query.
type DNSResolver struct {
	server string
	client *dns.Client
	group  singleflight.Group
	logger *slog.Logger
}

func NewDNSResolver(server string, timeout time.Duration, logger *slog.Logger) *DNSResolver {
	if logger == nil {
		logger = slog.Default()
	}
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	return &DNSResolver{
		server: server,
		client: &dns.Client{Net: "udp", Timeout: timeout},
		logger: logger,
	}
}

func (r *DNSResolver) LookupHost(ctx context.Context, host string) ([]net.IP, error) {
	fqdn := dns.Fqdn(strings.ToLower(host))
	v, err, shared := r.group.Do(fqdn, func() (interface{}, error) {
		return r.lookup(ctx, fqdn)
	})
	if shared {
		r.logger.Debug("shared upstream lookup", "host", fqdn)
	}
	ips, _ := v.([]net.IP)
	metrics.HostLookups.WithLabelValues("dns", lookupResult(ips, err)).Inc()
	if err != nil {
		return nil, err
	}
	return append([]net.IP(nil), ips...), nil
}

func (r *DNSResolver) lookup(ctx context.Context, fqdn string) ([]net.IP, error) {
	var (
		ips  []net.IP
		errs []error
	)
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(fqdn, qtype)
		msg.RecursionDesired = true

		in, _, err := r.client.ExchangeContext(ctx, msg, r.server)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", dns.TypeToString[qtype], fqdn, err))
			continue
		}
		if in.Rcode != dns.RcodeSuccess && in.Rcode != dns.RcodeNameError {
			errs = append(errs, fmt.Errorf("%s %s: %s", dns.TypeToString[qtype], fqdn, dns.RcodeToString[in.Rcode]))
			continue
		}
		for _, rr := range in.Answer {
			switch v := rr.(type) {
			case *dns.A:
				ips = append(ips, v.A)
			case *dns.AAAA:
				ips = append(ips, v.AAAA)
			}
		}
	}
	if len(ips) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return ips, nil
}

// Chain asks each resolver in turn and returns the first non-empty answer.
type Chain []ports.HostResolver

func (c Chain) LookupHost(ctx context.Context, host string) ([]net.IP, error) {
	var errs []error
	for _, r := range c {
		ips, err := r.LookupHost(ctx, host)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(ips) > 0 {
			return ips, nil
		}
	}
	return nil, errors.Join(errs...)
}

func lookupResult(ips []net.IP, err error) string {
	switch {
	case err != nil:
		return "error"
	case len(ips) == 0:
		return "empty"
	}
	return "ok"
}
