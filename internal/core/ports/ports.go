package ports

import (
	"context"
	"net"
	"time"

	"github.com/csmith/mydnshost-api/internal/core/domain"
)

// DomainRepository is the persistence layer the engine reads domains and
// records through. Lookups of missing rows return (nil, nil).
type DomainRepository interface {
	GetDomain(ctx context.Context, id int64) (*domain.Domain, error)
	GetDomainByName(ctx context.Context, name string) (*domain.Domain, error)
	ListDomains(ctx context.Context) ([]domain.Domain, error)
	ListAliases(ctx context.Context, id int64) ([]domain.Domain, error)
	ListRecordsForDomain(ctx context.Context, domainID int64) ([]domain.Record, error)
	SaveSOARecord(ctx context.Context, domainID int64, soa domain.SOA, ttl int) error
	Ping(ctx context.Context) error
}

// ZoneResolver computes the effective record set of a domain.
type ZoneResolver interface {
	Resolve(ctx context.Context, d *domain.Domain) (*domain.ResolvedZone, error)
}

// HostResolver maps a name server host name to its addresses.
type HostResolver interface {
	LookupHost(ctx context.Context, host string) ([]net.IP, error)
}

// CatalogLocker serializes access to the shared catalog zone file.
type CatalogLocker interface {
	Lock(ctx context.Context) (unlock func() error, err error)
}

// CommandResult describes one run of an external nameserver command.
type CommandResult struct {
	Command  string
	ExitCode int
	Output   string
	Duration time.Duration
	Skipped  bool
	Err      error
}

// OK reports whether the command ran and exited successfully, or was skipped.
func (r CommandResult) OK() bool {
	return r.Skipped || (r.Err == nil && r.ExitCode == 0)
}

// ZoneCommander tells the nameserver daemon about zone changes. Results are
// informational; a failing command never fails the caller.
type ZoneCommander interface {
	AddZone(ctx context.Context, zone, file string, allowTransfer []string) CommandResult
	ReloadZone(ctx context.Context, zone, file string) CommandResult
	DeleteZone(ctx context.Context, zone, file string) CommandResult
}
