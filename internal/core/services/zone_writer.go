package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/csmith/mydnshost-api/internal/core/domain"
	"github.com/csmith/mydnshost-api/internal/core/events"
	"github.com/csmith/mydnshost-api/internal/core/ports"
	"github.com/csmith/mydnshost-api/internal/dns/master"
	"github.com/csmith/mydnshost-api/internal/infrastructure/metrics"
	"golang.org/x/sync/errgroup"
)

// ZoneWriter keeps one master file per publishable domain in sync with the
// resolved record set and announces zone lifecycle changes on the bus.
type ZoneWriter struct {
	repo     ports.DomainRepository
	resolver ports.ZoneResolver
	bus      *events.Bus
	zoneDir  string
	workers  int
	logger   *slog.Logger
}

// NewZoneWriter creates a writer storing zone files under zoneDir.
func NewZoneWriter(repo ports.DomainRepository, resolver ports.ZoneResolver, bus *events.Bus, zoneDir string, logger *slog.Logger) *ZoneWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ZoneWriter{
		repo:     repo,
		resolver: resolver,
		bus:      bus,
		zoneDir:  zoneDir,
		workers:  4,
		logger:   logger,
	}
}

// SetWorkers bounds how many domains ReAddAllZones processes at once.
func (w *ZoneWriter) SetWorkers(n int) {
	if n > 0 {
		w.workers = n
	}
}

// ZonePath returns the file a zone is stored in.
func (w *ZoneWriter) ZonePath(name string) (string, error) {
	canonical, err := domain.CanonicalName(name)
	if err != nil {
		return "", err
	}
	if err := domain.ValidateZoneName(canonical + "."); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidZoneName, err)
	}
	return filepath.Join(w.zoneDir, canonical+".db"), nil
}

// Sync brings the zone file of d in line with its resolved records. Zones
// without an apex NS record, and disabled domains, are not published.
func (w *ZoneWriter) Sync(ctx context.Context, d *domain.Domain) error {
	return w.sync(ctx, d, false)
}

func (w *ZoneWriter) sync(ctx context.Context, d *domain.Domain, replay bool) (err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveSync(start, err)
	}()

	path, err := w.ZonePath(d.Name)
	if err != nil {
		return err
	}

	if d.Disabled {
		return w.removeFile(ctx, d, d.Name, path, replay)
	}

	resolved, err := w.resolver.Resolve(ctx, d)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", d.Name, err)
	}

	if !resolved.HasNS {
		w.logger.Debug("zone has no apex NS, not publishing", "domain", d.Name)
		return w.removeFile(ctx, d, d.Name, path, replay)
	}

	existed := fileExists(path)
	zone := BuildZone(resolved)
	if err := writeZoneFile(path, zone); err != nil {
		return fmt.Errorf("failed to write zone %s: %w", d.Name, err)
	}

	kind := events.ZoneChanged
	if !existed {
		kind = events.ZoneAdded
	}
	w.logger.Info("zone written", "domain", d.Name, "file", path, "event", kind.String(), "records", zone.Len())

	return w.bus.Publish(ctx, events.Event{
		Kind:     kind,
		Domain:   d,
		ZoneName: d.Name,
		ZoneFile: path,
		Zone:     zone,
		Replay:   replay,
	})
}

// Remove deletes the zone file published under name, if any.
func (w *ZoneWriter) Remove(ctx context.Context, d *domain.Domain, name string) error {
	path, err := w.ZonePath(name)
	if err != nil {
		return err
	}
	return w.removeFile(ctx, d, name, path, false)
}

// Rename moves a domain's zone: the file under the old name is removed
// before the domain is published under its new name.
func (w *ZoneWriter) Rename(ctx context.Context, oldName string, d *domain.Domain) error {
	if err := w.Remove(ctx, d, oldName); err != nil {
		return fmt.Errorf("failed to remove zone %s: %w", oldName, err)
	}
	return w.Sync(ctx, d)
}

// ReAddAllZones removes and republishes every domain's zone file. The
// lifecycle events it publishes are marked as replays so the catalog is left
// alone. A failing domain does not stop the others.
func (w *ZoneWriter) ReAddAllZones(ctx context.Context) error {
	domains, err := w.repo.ListDomains(ctx)
	if err != nil {
		return fmt.Errorf("failed to list domains: %w", err)
	}

	ctx = WithResolutionCache(ctx)
	errs := make([]error, len(domains))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.workers)
	for i := range domains {
		d := &domains[i]
		g.Go(func() error {
			path, err := w.ZonePath(d.Name)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", d.Name, err)
				return nil
			}
			if err := w.removeFile(gctx, d, d.Name, path, true); err != nil {
				errs[i] = fmt.Errorf("%s: %w", d.Name, err)
				return nil
			}
			if d.Disabled {
				return nil
			}
			if err := w.sync(gctx, d, true); err != nil {
				errs[i] = fmt.Errorf("%s: %w", d.Name, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	joined := errors.Join(errs...)
	if joined != nil {
		w.logger.Warn("re-adding zones finished with errors", "domains", len(domains), "error", joined)
	} else {
		w.logger.Info("re-added all zones", "domains", len(domains))
	}
	return joined
}

func (w *ZoneWriter) removeFile(ctx context.Context, d *domain.Domain, name, path string, replay bool) error {
	if !fileExists(path) {
		return nil
	}

	var last *master.Zone
	if f, err := os.Open(path); err == nil {
		last, _ = master.Parse(f, name)
		_ = f.Close()
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove zone file %s: %w", path, err)
	}
	w.logger.Info("zone removed", "zone", name, "file", path)

	return w.bus.Publish(ctx, events.Event{
		Kind:     events.ZoneRemoved,
		Domain:   d,
		ZoneName: name,
		ZoneFile: path,
		Zone:     last,
		Replay:   replay,
	})
}

// BuildZone turns a resolved zone into a master file representation.
func BuildZone(resolved *domain.ResolvedZone) *master.Zone {
	zone := master.NewZone(resolved.Apex())
	zone.ClearRecords()

	soa := resolved.SOA
	soa.PrimaryNS = domain.Fqdn(soa.PrimaryNS)
	soa.Admin = domain.Fqdn(soa.Admin)
	zone.SetSOA(soa, resolved.SOATTL)

	records := append([]domain.ResolvedRecord(nil), resolved.Records...)
	master.SortRecordsCanonically(records)
	for _, rec := range records {
		content := rec.Content
		switch {
		case rec.Type == domain.TypeTXT:
			content = master.QuoteTXT(content)
		case rec.Type.HostnameContent():
			content = domain.Fqdn(content)
		}
		zone.SetRecord(rec.Name, rec.Type, content, rec.TTL, rec.Priority)
	}

	if params := resolved.Domain.NSEC3Params; params != nil && strings.TrimSpace(*params) != "" {
		zone.SetRecord(resolved.Apex(), domain.TypeNSEC3PARAM, strings.TrimSpace(*params), 0, nil)
	}

	return zone
}

func writeZoneFile(path string, zone *master.Zone) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := zone.WriteTo(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
