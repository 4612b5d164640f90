package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/csmith/mydnshost-api/internal/core/domain"
	"github.com/csmith/mydnshost-api/internal/core/ports"
	"github.com/csmith/mydnshost-api/internal/dns/master"
	"github.com/csmith/mydnshost-api/internal/infrastructure/metrics"
)

const catalogVersion = `"2"`

// CatalogManager maintains the shared catalog zone listing every published
// zone and the addresses allowed to transfer it. All edits happen under the
// catalog lock.
type CatalogManager struct {
	repo     ports.DomainRepository
	resolver ports.ZoneResolver
	hosts    ports.HostResolver
	locker   ports.CatalogLocker
	commands ports.ZoneCommander

	zone   string
	file   string
	logger *slog.Logger
	now    func() time.Time
}

// CatalogOptions names the catalog zone and the file it is stored in.
type CatalogOptions struct {
	Zone string
	File string
}

func NewCatalogManager(
	repo ports.DomainRepository,
	resolver ports.ZoneResolver,
	hosts ports.HostResolver,
	locker ports.CatalogLocker,
	commands ports.ZoneCommander,
	opts CatalogOptions,
	logger *slog.Logger,
) *CatalogManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogManager{
		repo:     repo,
		resolver: resolver,
		hosts:    hosts,
		locker:   locker,
		commands: commands,
		zone:     domain.Fqdn(strings.ToLower(opts.Zone)),
		file:     opts.File,
		logger:   logger,
		now:      time.Now,
	}
}

// Zone returns the fully qualified catalog zone name.
func (c *CatalogManager) Zone() string { return c.zone }

// UpdateCatalog adds or removes the catalog entry of d. A catalog file that
// cannot be parsed is left untouched; RebuildCatalog is the way to repair it.
func (c *CatalogManager) UpdateCatalog(ctx context.Context, d *domain.Domain, isAdd bool) (err error) {
	op := "remove"
	if isAdd {
		op = "add"
	}
	defer func() {
		metrics.CatalogUpdatesTotal.WithLabelValues(op, metrics.Result(err)).Inc()
	}()

	hash, err := master.CatalogHash(d.Name)
	if err != nil {
		return fmt.Errorf("failed to hash %s: %w", d.Name, err)
	}

	unlock, err := c.lock(ctx)
	if err != nil {
		return err
	}
	defer c.release(unlock)

	zone, err := c.load()
	if err != nil {
		return err
	}
	serial := zone.BumpSerial()

	c.unsetEntry(zone, hash)
	if isAdd {
		cache := newAddressCache(c.hosts)
		if err := c.setEntry(ctx, zone, hash, d, cache); err != nil {
			return err
		}
	}

	if err := writeZoneFile(c.file, zone); err != nil {
		return fmt.Errorf("failed to write catalog: %w", err)
	}
	metrics.CatalogSerial.Set(float64(serial))
	c.logger.Info("catalog updated", "domain", d.Name, "operation", op, "serial", serial)

	c.reload(ctx)
	return nil
}

// RebuildCatalog regenerates the catalog from every enabled domain with an
// apex NS record.
func (c *CatalogManager) RebuildCatalog(ctx context.Context) (err error) {
	defer func() {
		metrics.CatalogUpdatesTotal.WithLabelValues("rebuild", metrics.Result(err)).Inc()
	}()

	domains, err := c.repo.ListDomains(ctx)
	if err != nil {
		return fmt.Errorf("failed to list domains: %w", err)
	}
	sort.SliceStable(domains, func(i, j int) bool {
		return master.CompareNamesCanonically(domains[i].Name, domains[j].Name) < 0
	})

	unlock, err := c.lock(ctx)
	if err != nil {
		return err
	}
	defer c.release(unlock)

	var serial uint32
	if existing, err := c.load(); err == nil {
		if _, _, ok := existing.SOA(); ok {
			serial = existing.BumpSerial()
		}
	} else {
		c.logger.Warn("existing catalog unreadable, starting a new serial", "file", c.file, "error", err)
	}

	zone := c.bootstrap()
	if serial != 0 {
		soa, ttl, _ := zone.SOA()
		soa.Serial = serial
		zone.SetSOA(soa, ttl)
	}

	ctx = WithResolutionCache(ctx)
	cache := newAddressCache(c.hosts)
	added := 0
	for i := range domains {
		d := &domains[i]
		if d.Disabled {
			continue
		}
		resolved, err := c.resolver.Resolve(ctx, d)
		if err != nil {
			c.logger.Warn("skipping domain in catalog rebuild", "domain", d.Name, "error", err)
			continue
		}
		if !resolved.HasNS {
			continue
		}
		hash, err := master.CatalogHash(d.Name)
		if err != nil {
			c.logger.Warn("skipping domain in catalog rebuild", "domain", d.Name, "error", err)
			continue
		}
		c.addEntry(ctx, zone, hash, d.Name, resolved.ApexNameservers(), cache)
		added++
	}

	if err := writeZoneFile(c.file, zone); err != nil {
		return fmt.Errorf("failed to write catalog: %w", err)
	}
	soa, _, _ := zone.SOA()
	metrics.CatalogSerial.Set(float64(soa.Serial))
	c.logger.Info("catalog rebuilt", "zones", added, "serial", soa.Serial)

	c.reload(ctx)
	return nil
}

func (c *CatalogManager) lock(ctx context.Context) (func() error, error) {
	start := time.Now()
	unlock, err := c.locker.Lock(ctx)
	metrics.CatalogLockWait.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCatalogLocked, err)
	}
	return unlock, nil
}

func (c *CatalogManager) release(unlock func() error) {
	if err := unlock(); err != nil {
		c.logger.Error("failed to release catalog lock", "error", err)
	}
}

// load reads the catalog file, or returns a bootstrap zone when none exists.
func (c *CatalogManager) load() (*master.Zone, error) {
	f, err := os.Open(c.file)
	if errors.Is(err, os.ErrNotExist) {
		return c.bootstrap(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer func() { _ = f.Close() }()

	zone, err := master.Parse(f, c.zone)
	if err != nil {
		return nil, fmt.Errorf("catalog %s is malformed: %w", c.file, err)
	}
	if _, _, ok := zone.SOA(); !ok {
		fresh := c.bootstrap()
		soa, ttl, _ := fresh.SOA()
		zone.SetSOA(soa, ttl)
	}
	return zone, nil
}

func (c *CatalogManager) bootstrap() *master.Zone {
	zone := master.NewZone(c.zone)
	zone.SetSOA(domain.SOA{
		PrimaryNS: "invalid.",
		Admin:     "invalid.",
		Serial:    NextSerial(0, c.now()),
		Refresh:   3600,
		Retry:     600,
		Expire:    2419200,
		MinTTL:    0,
	}, 0)
	zone.SetRecord(c.zone, domain.TypeNS, "invalid.", 0, nil)
	zone.SetRecord("version."+c.zone, domain.TypeTXT, catalogVersion, 0, nil)
	return zone
}

func (c *CatalogManager) ptrOwner(hash string) string {
	return hash + ".zones." + c.zone
}

func (c *CatalogManager) aplOwner(hash string) string {
	return "allow-transfer." + hash + ".zones." + c.zone
}

func (c *CatalogManager) unsetEntry(zone *master.Zone, hash string) {
	zone.UnsetRecord(c.ptrOwner(hash), domain.TypePTR)
	zone.UnsetRecord(c.aplOwner(hash), domain.TypeAPL)
}

func (c *CatalogManager) setEntry(ctx context.Context, zone *master.Zone, hash string, d *domain.Domain, cache *addressCache) error {
	resolved, err := c.resolver.Resolve(ctx, d)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", d.Name, err)
	}
	c.addEntry(ctx, zone, hash, d.Name, resolved.ApexNameservers(), cache)
	return nil
}

func (c *CatalogManager) addEntry(ctx context.Context, zone *master.Zone, hash, name string, nameservers []string, cache *addressCache) {
	zone.SetRecord(c.ptrOwner(hash), domain.TypePTR, domain.Fqdn(strings.ToLower(name)), 0, nil)

	ips := cache.addresses(ctx, nameservers, c.logger)
	if len(ips) > 0 {
		zone.SetRecord(c.aplOwner(hash), domain.TypeAPL, APLContent(ips), 0, nil)
	}
}

func (c *CatalogManager) reload(ctx context.Context) {
	res := c.commands.ReloadZone(ctx, strings.TrimSuffix(c.zone, "."), c.file)
	logCommand(c.logger, "reload", strings.TrimSuffix(c.zone, "."), res)
}

// APLContent renders addresses as APL tokens: 1:a.b.c.d/32 and 2:x::y/128.
func APLContent(ips []net.IP) string {
	seen := make(map[string]bool, len(ips))
	tokens := make([]string, 0, len(ips))
	for _, ip := range ips {
		var token string
		if v4 := ip.To4(); v4 != nil {
			token = "1:" + v4.String() + "/32"
		} else if ip.To16() != nil {
			token = "2:" + ip.String() + "/128"
		} else {
			continue
		}
		if !seen[token] {
			seen[token] = true
			tokens = append(tokens, token)
		}
	}
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// addressCache memoizes name server lookups for one catalog operation.
type addressCache struct {
	hosts ports.HostResolver
	cache map[string][]net.IP
}

func newAddressCache(hosts ports.HostResolver) *addressCache {
	return &addressCache{hosts: hosts, cache: make(map[string][]net.IP)}
}

func (a *addressCache) lookup(ctx context.Context, host string, logger *slog.Logger) []net.IP {
	key := strings.ToLower(domain.Fqdn(host))
	if ips, ok := a.cache[key]; ok {
		return ips
	}
	ips, err := a.hosts.LookupHost(ctx, key)
	if err != nil {
		logger.Warn("name server lookup failed", "host", key, "error", err)
		ips = nil
	}
	a.cache[key] = ips
	return ips
}

func (a *addressCache) addresses(ctx context.Context, hosts []string, logger *slog.Logger) []net.IP {
	var out []net.IP
	for _, h := range hosts {
		out = append(out, a.lookup(ctx, h, logger)...)
	}
	return out
}

func logCommand(logger *slog.Logger, op, zone string, res ports.CommandResult) {
	metrics.CommandsTotal.WithLabelValues(op, commandResultLabel(res)).Inc()
	switch {
	case res.Skipped:
		logger.Debug("no command configured", "operation", op, "zone", zone)
	case res.OK():
		logger.Info("command executed", "operation", op, "zone", zone, "command", res.Command, "duration", res.Duration)
	default:
		logger.Warn("command failed", "operation", op, "zone", zone, "command", res.Command,
			"exit_code", res.ExitCode, "output", res.Output, "error", res.Err)
	}
}

func commandResultLabel(res ports.CommandResult) string {
	switch {
	case res.Skipped:
		return "skipped"
	case res.OK():
		return "ok"
	}
	return "error"
}
