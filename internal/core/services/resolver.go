package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/csmith/mydnshost-api/internal/core/domain"
	"github.com/csmith/mydnshost-api/internal/core/ports"
)

const (
	maxAliasDepth = 16

	defaultTTL        = 86400
	defaultSOARefresh = 86400
	defaultSOARetry   = 7200
	defaultSOAExpire  = 2419200
	defaultSOAMinTTL  = 60
)

// RecordResolver computes the effective record set of a domain: it follows
// alias chains, applies the zone family ordering, rewrites names for aliases
// and expands RRCLONE records.
type RecordResolver struct {
	repo   ports.DomainRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewRecordResolver creates a resolver reading through repo.
func NewRecordResolver(repo ports.DomainRepository, logger *slog.Logger) *RecordResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordResolver{repo: repo, logger: logger, now: time.Now}
}

type resolutionCacheKey struct{}

type resolutionCache struct {
	mu    sync.Mutex
	zones map[string]*domain.ResolvedZone
}

// WithResolutionCache returns a context under which every domain is resolved
// at most once. Use it for a single request or rebuild, never longer.
func WithResolutionCache(ctx context.Context) context.Context {
	if _, ok := ctx.Value(resolutionCacheKey{}).(*resolutionCache); ok {
		return ctx
	}
	return context.WithValue(ctx, resolutionCacheKey{}, &resolutionCache{zones: make(map[string]*domain.ResolvedZone)})
}

func cacheKey(d *domain.Domain) string {
	return fmt.Sprintf("%d/%s", d.ID, strings.ToLower(d.Name))
}

// Resolve returns the resolved zone for d.
func (r *RecordResolver) Resolve(ctx context.Context, d *domain.Domain) (*domain.ResolvedZone, error) {
	cache, _ := ctx.Value(resolutionCacheKey{}).(*resolutionCache)
	if cache != nil {
		cache.mu.Lock()
		z, ok := cache.zones[cacheKey(d)]
		cache.mu.Unlock()
		if ok {
			return z, nil
		}
	}

	z, err := r.resolve(ctx, d)
	if err != nil {
		return nil, err
	}

	if cache != nil {
		cache.mu.Lock()
		cache.zones[cacheKey(d)] = z
		cache.mu.Unlock()
	}
	return z, nil
}

func (r *RecordResolver) resolve(ctx context.Context, d *domain.Domain) (*domain.ResolvedZone, error) {
	source, err := sourceDomain(ctx, r.repo, d)
	if err != nil {
		return nil, err
	}

	var stored []domain.Record
	if source.ID != 0 {
		stored, err = r.repo.ListRecordsForDomain(ctx, source.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load records of %s: %w", source.Name, err)
		}
	}

	soa, soaTTL, err := r.loadSOA(ctx, source, stored)
	if err != nil {
		return nil, err
	}

	ttl := source.DefaultTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}

	var records []domain.Record
	for _, rec := range stored {
		if rec.Disabled || rec.Type == domain.TypeSOA {
			continue
		}
		records = append(records, rec)
	}

	ordering := domain.OrderingFor(d.Name)
	sort.SliceStable(records, func(i, j int) bool {
		if c := ordering.Compare(records[i].Name, records[j].Name, source.Name); c != 0 {
			return c < 0
		}
		if records[i].Type != records[j].Type {
			return records[i].Type < records[j].Type
		}
		return priorityOf(records[i]) < priorityOf(records[j])
	})

	aliased := !strings.EqualFold(domain.Fqdn(source.Name), domain.Fqdn(d.Name))

	zone := &domain.ResolvedZone{
		Domain: d,
		Source: source,
		SOA:    soa,
		SOATTL: soaTTL,
	}

	var clones []domain.ResolvedRecord
	for _, rec := range records {
		out := domain.ResolvedRecord{
			Name:     qualifyName(rec.Name, source.Name),
			Type:     rec.Type,
			Content:  rec.Content,
			TTL:      rec.TTL,
			Priority: rec.Priority,
		}
		if out.TTL <= 0 {
			out.TTL = ttl
		}
		if rec.Type == domain.TypeRRClone {
			out.Content = qualifyName(rec.Content, source.Name)
		}

		if aliased {
			out.Name = replaceZoneSuffix(out.Name, source.Name, d.Name)
			if rewritesContent(out) {
				out.Content = replaceZoneSuffix(domain.Fqdn(out.Content), source.Name, d.Name)
			}
		}

		if rec.Type == domain.TypeRRClone {
			clones = append(clones, out)
			continue
		}
		zone.Records = append(zone.Records, out)
	}

	zone.Records = append(zone.Records, expandClones(zone.Records, clones)...)

	apex := strings.ToLower(domain.Fqdn(d.Name))
	for _, rec := range zone.Records {
		if rec.Type == domain.TypeNS && strings.ToLower(rec.Name) == apex {
			zone.HasNS = true
			break
		}
	}

	return zone, nil
}

// sourceDomain follows the alias chain of d to the domain owning the records.
func sourceDomain(ctx context.Context, repo ports.DomainRepository, d *domain.Domain) (*domain.Domain, error) {
	current := d
	seen := map[int64]bool{d.ID: true}

	for depth := 0; current.AliasOf != nil; depth++ {
		if depth >= maxAliasDepth || seen[*current.AliasOf] {
			return nil, fmt.Errorf("%w: %s", domain.ErrAliasLoop, d.Name)
		}
		seen[*current.AliasOf] = true

		next, err := repo.GetDomain(ctx, *current.AliasOf)
		if err != nil {
			return nil, fmt.Errorf("failed to load alias target %d of %s: %w", *current.AliasOf, current.Name, err)
		}
		if next == nil {
			return nil, fmt.Errorf("%w: %s -> %d", domain.ErrBrokenAlias, current.Name, *current.AliasOf)
		}
		current = next
	}

	return current, nil
}

// loadSOA returns the SOA stored for source, creating a default one when the
// domain has none yet.
func (r *RecordResolver) loadSOA(ctx context.Context, source *domain.Domain, stored []domain.Record) (domain.SOA, int, error) {
	for _, rec := range stored {
		if rec.Type != domain.TypeSOA {
			continue
		}
		soa, err := domain.ParseSOA(rec.Content)
		if err != nil {
			return domain.SOA{}, 0, fmt.Errorf("domain %s: %w", source.Name, err)
		}
		ttl := rec.TTL
		if ttl <= 0 {
			ttl = source.DefaultTTL
		}
		return soa, ttl, nil
	}

	soa := DefaultSOA(source.Name, NextSerial(0, r.now()))
	ttl := source.DefaultTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}

	if source.ID != 0 {
		if err := r.repo.SaveSOARecord(ctx, source.ID, soa, ttl); err != nil {
			return domain.SOA{}, 0, fmt.Errorf("failed to save default SOA for %s: %w", source.Name, err)
		}
		r.logger.Info("created default SOA", "domain", source.Name, "serial", soa.Serial)
	}

	return soa, ttl, nil
}

// DefaultSOA returns the SOA a domain gets before one is configured.
func DefaultSOA(name string, serial uint32) domain.SOA {
	fqdn := domain.Fqdn(name)
	return domain.SOA{
		PrimaryNS: "ns1." + fqdn,
		Admin:     "dnsadmin." + fqdn,
		Serial:    serial,
		Refresh:   defaultSOARefresh,
		Retry:     defaultSOARetry,
		Expire:    defaultSOAExpire,
		MinTTL:    defaultSOAMinTTL,
	}
}

func expandClones(resolved, clones []domain.ResolvedRecord) []domain.ResolvedRecord {
	var out []domain.ResolvedRecord
	for _, clone := range clones {
		target := strings.ToLower(clone.Content)
		for _, rec := range resolved {
			if strings.ToLower(rec.Name) != target {
				continue
			}
			out = append(out, domain.ResolvedRecord{
				Name:     clone.Name,
				Type:     rec.Type,
				Content:  rec.Content,
				TTL:      rec.TTL,
				Priority: rec.Priority,
			})
		}
	}
	return out
}

// rewritesContent reports whether an aliased record's content names a host
// inside the zone and needs the alias name substituted.
func rewritesContent(rec domain.ResolvedRecord) bool {
	switch rec.Type {
	case domain.TypeCNAME, domain.TypeNS, domain.TypeMX, domain.TypePTR, domain.TypeRRClone:
		return true
	case domain.TypeSRV:
		fields := strings.Fields(rec.Content)
		return len(fields) > 0 && fields[len(fields)-1] != "."
	}
	return false
}

// qualifyName turns a stored record name into a fully qualified one. Names
// are normally stored in full; "@", "" and relative names are accepted.
func qualifyName(name, zone string) string {
	zoneFqdn := domain.Fqdn(zone)
	switch {
	case name == "" || name == "@":
		return zoneFqdn
	case strings.HasSuffix(name, "."):
		return name
	}

	lower := strings.ToLower(name)
	lowerZone := strings.ToLower(strings.TrimSuffix(zone, "."))
	if lower == lowerZone || strings.HasSuffix(lower, "."+lowerZone) {
		return name + "."
	}
	return name + "." + zoneFqdn
}

// replaceZoneSuffix replaces a trailing from-zone in the qualified value with
// the to-zone, respecting label boundaries.
func replaceZoneSuffix(value, from, to string) string {
	from = domain.Fqdn(from)
	to = domain.Fqdn(to)

	lower := strings.ToLower(value)
	lowerFrom := strings.ToLower(from)
	switch {
	case lower == lowerFrom:
		return to
	case strings.HasSuffix(lower, "."+lowerFrom):
		return value[:len(value)-len(from)] + to
	case strings.HasSuffix(lower, " "+lowerFrom):
		return value[:len(value)-len(from)] + to
	}
	return value
}

func priorityOf(rec domain.Record) int {
	if rec.Priority == nil {
		return 0
	}
	return *rec.Priority
}
