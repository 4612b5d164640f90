package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/csmith/mydnshost-api/internal/core/domain"
	"github.com/csmith/mydnshost-api/internal/core/events"
	"github.com/csmith/mydnshost-api/internal/core/ports"
	"github.com/csmith/mydnshost-api/internal/infrastructure/metrics"
)

// SyncService reacts to store events by rewriting zone files, and to zone
// lifecycle events by updating the catalog and notifying the nameserver.
type SyncService struct {
	repo     ports.DomainRepository
	writer   *ZoneWriter
	catalog  *CatalogManager
	commands ports.ZoneCommander
	logger   *slog.Logger
	now      func() time.Time
}

func NewSyncService(repo ports.DomainRepository, writer *ZoneWriter, catalog *CatalogManager, commands ports.ZoneCommander, logger *slog.Logger) *SyncService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncService{
		repo:     repo,
		writer:   writer,
		catalog:  catalog,
		commands: commands,
		logger:   logger,
		now:      time.Now,
	}
}

// Register subscribes the service to every kind it handles.
func (s *SyncService) Register(bus *events.Bus) error {
	handlers := map[events.Kind]events.Handler{
		events.AddDomain:      s.onAddDomain,
		events.UpdateDomain:   s.onUpdateDomain,
		events.DeleteDomain:   s.onDeleteDomain,
		events.RecordsChanged: s.onRecordsChanged,
		events.ZoneAdded:      s.onZoneAdded,
		events.ZoneChanged:    s.onZoneChanged,
		events.ZoneRemoved:    s.onZoneRemoved,
	}
	for _, kind := range append(append([]events.Kind(nil), events.DomainKinds...), events.ZoneKinds...) {
		if err := bus.Subscribe(kind, s.counted(kind, handlers[kind])); err != nil {
			return err
		}
	}
	return nil
}

func (s *SyncService) counted(kind events.Kind, h events.Handler) events.Handler {
	return func(ctx context.Context, ev events.Event) error {
		err := h(ctx, ev)
		metrics.EventsTotal.WithLabelValues(kind.String(), metrics.Result(err)).Inc()
		return err
	}
}

// SyncDomain rewrites the zone of the named domain and of its aliases.
func (s *SyncService) SyncDomain(ctx context.Context, name string) error {
	d, err := s.repo.GetDomainByName(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load domain %s: %w", name, err)
	}
	if d == nil {
		return fmt.Errorf("%w: %s", domain.ErrDomainNotFound, name)
	}
	return s.syncWithAliases(WithResolutionCache(ctx), d)
}

func (s *SyncService) onAddDomain(ctx context.Context, ev events.Event) error {
	if ev.Domain == nil {
		return errors.New("add_domain event without domain")
	}
	return s.syncWithAliases(WithResolutionCache(ctx), ev.Domain)
}

func (s *SyncService) onRecordsChanged(ctx context.Context, ev events.Event) error {
	if ev.Domain == nil {
		return errors.New("records_changed event without domain")
	}
	ctx = WithResolutionCache(ctx)
	if err := s.bumpSerial(ctx, ev.Domain); err != nil {
		return err
	}
	return s.syncWithAliases(ctx, ev.Domain)
}

func (s *SyncService) onUpdateDomain(ctx context.Context, ev events.Event) error {
	if ev.Domain == nil {
		return errors.New("update_domain event without domain")
	}
	ctx = WithResolutionCache(ctx)

	if ev.OldName != "" && !strings.EqualFold(domain.Fqdn(ev.OldName), domain.Fqdn(ev.Domain.Name)) {
		s.logger.Info("domain renamed", "old", ev.OldName, "new", ev.Domain.Name)
		if err := s.writer.Rename(ctx, ev.OldName, ev.Domain); err != nil {
			return err
		}
		return s.syncAliases(ctx, ev.Domain, map[int64]bool{ev.Domain.ID: true})
	}
	return s.syncWithAliases(ctx, ev.Domain)
}

func (s *SyncService) onDeleteDomain(ctx context.Context, ev events.Event) error {
	if ev.Domain == nil {
		return errors.New("delete_domain event without domain")
	}
	name := ev.Domain.Name
	if ev.ZoneName != "" {
		name = ev.ZoneName
	}
	return s.writer.Remove(ctx, ev.Domain, name)
}

func (s *SyncService) onZoneAdded(ctx context.Context, ev events.Event) error {
	d := zoneDomain(ev)
	zone, err := domain.CanonicalName(d.Name)
	if err != nil {
		return err
	}
	if !ev.Replay {
		if err := s.catalog.UpdateCatalog(ctx, d, true); err != nil {
			s.logger.Error("catalog update failed", "zone", zone, "error", err)
			return err
		}
	}

	var allow []string
	if ev.Zone != nil {
		allow = s.allowTransfer(ctx, ev)
	}
	res := s.commands.AddZone(ctx, zone, ev.ZoneFile, allow)
	logCommand(s.logger, "add", zone, res)
	return nil
}

func (s *SyncService) onZoneChanged(ctx context.Context, ev events.Event) error {
	zone, err := domain.CanonicalName(zoneDomain(ev).Name)
	if err != nil {
		return err
	}
	res := s.commands.ReloadZone(ctx, zone, ev.ZoneFile)
	logCommand(s.logger, "reload", zone, res)
	return nil
}

func (s *SyncService) onZoneRemoved(ctx context.Context, ev events.Event) error {
	d := zoneDomain(ev)
	zone, err := domain.CanonicalName(d.Name)
	if err != nil {
		return err
	}
	if !ev.Replay {
		if err := s.catalog.UpdateCatalog(ctx, d, false); err != nil {
			s.logger.Error("catalog update failed", "zone", zone, "error", err)
			return err
		}
	}
	res := s.commands.DeleteZone(ctx, zone, ev.ZoneFile)
	logCommand(s.logger, "delete", zone, res)
	return nil
}

// zoneDomain returns the domain a lifecycle event is about, named after the
// zone it refers to.
func zoneDomain(ev events.Event) *domain.Domain {
	d := domain.Domain{Name: ev.ZoneName}
	if ev.Domain != nil {
		d = *ev.Domain
		if ev.ZoneName != "" {
			d.Name = ev.ZoneName
		}
	}
	return &d
}

// allowTransfer lists the addresses of the zone's apex name servers.
func (s *SyncService) allowTransfer(ctx context.Context, ev events.Event) []string {
	var hosts []string
	for _, e := range ev.Zone.Lookup(ev.Zone.Origin, domain.TypeNS) {
		hosts = append(hosts, e.Content)
	}

	cache := newAddressCache(s.catalog.hosts)
	var out []string
	seen := make(map[string]bool)
	for _, ip := range cache.addresses(ctx, hosts, s.logger) {
		if !seen[ip.String()] {
			seen[ip.String()] = true
			out = append(out, ip.String())
		}
	}
	return out
}

func (s *SyncService) bumpSerial(ctx context.Context, d *domain.Domain) error {
	source, err := sourceDomain(ctx, s.repo, d)
	if err != nil {
		return err
	}

	records, err := s.repo.ListRecordsForDomain(ctx, source.ID)
	if err != nil {
		return fmt.Errorf("failed to load records of %s: %w", source.Name, err)
	}

	var (
		soa domain.SOA
		ttl = source.DefaultTTL
	)
	found := false
	for _, rec := range records {
		if rec.Type != domain.TypeSOA {
			continue
		}
		soa, err = domain.ParseSOA(rec.Content)
		if err != nil {
			return fmt.Errorf("domain %s: %w", source.Name, err)
		}
		if rec.TTL > 0 {
			ttl = rec.TTL
		}
		found = true
		break
	}
	if !found {
		// The resolver creates a default SOA on first use.
		return nil
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}

	soa.Serial = NextSerial(soa.Serial, s.now())
	if err := s.repo.SaveSOARecord(ctx, source.ID, soa, ttl); err != nil {
		return fmt.Errorf("failed to save serial of %s: %w", source.Name, err)
	}
	s.logger.Debug("serial bumped", "domain", source.Name, "serial", soa.Serial)
	return nil
}

func (s *SyncService) syncWithAliases(ctx context.Context, d *domain.Domain) error {
	err := s.writer.Sync(ctx, d)
	if err != nil {
		s.logger.Error("zone sync failed", "domain", d.Name, "error", err)
	}
	return errors.Join(err, s.syncAliases(ctx, d, map[int64]bool{d.ID: true}))
}

// syncAliases rewrites every domain aliasing d, following aliases of aliases.
func (s *SyncService) syncAliases(ctx context.Context, d *domain.Domain, seen map[int64]bool) error {
	if d.ID == 0 {
		return nil
	}
	aliases, err := s.repo.ListAliases(ctx, d.ID)
	if err != nil {
		return fmt.Errorf("failed to list aliases of %s: %w", d.Name, err)
	}

	var errs []error
	for i := range aliases {
		alias := &aliases[i]
		if seen[alias.ID] {
			continue
		}
		seen[alias.ID] = true

		if err := s.writer.Sync(ctx, alias); err != nil {
			s.logger.Error("alias sync failed", "domain", alias.Name, "alias_of", d.Name, "error", err)
			errs = append(errs, err)
		}
		if err := s.syncAliases(ctx, alias, seen); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
