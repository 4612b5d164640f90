package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/csmith/mydnshost-api/internal/core/domain"
)

// MemoryRepo is an in-memory ports.DomainRepository for tests.
type MemoryRepo struct {
	mu      sync.Mutex
	domains map[int64]domain.Domain
	records map[int64][]domain.Record
	nextID  int64

	SOASaves int
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		domains: make(map[int64]domain.Domain),
		records: make(map[int64][]domain.Record),
	}
}

// AddDomain stores d, assigning an ID when it has none, and returns the copy.
func (m *MemoryRepo) AddDomain(d domain.Domain) *domain.Domain {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d.ID == 0 {
		m.nextID++
		d.ID = m.nextID
	} else if d.ID > m.nextID {
		m.nextID = d.ID
	}
	m.domains[d.ID] = d
	return &d
}

// AddRecord stores a record for domainID.
func (m *MemoryRepo) AddRecord(domainID int64, rec domain.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec.DomainID = domainID
	rec.ID = int64(len(m.records[domainID]) + 1)
	m.records[domainID] = append(m.records[domainID], rec)
}

// SetRecords replaces all records of domainID.
func (m *MemoryRepo) SetRecords(domainID int64, recs []domain.Record) {
	m.mu.Lock()
	m.records[domainID] = nil
	m.mu.Unlock()
	for _, r := range recs {
		m.AddRecord(domainID, r)
	}
}

// DeleteDomain removes a domain and its records.
func (m *MemoryRepo) DeleteDomain(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.domains, id)
	delete(m.records, id)
}

func (m *MemoryRepo) GetDomain(_ context.Context, id int64) (*domain.Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.domains[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (m *MemoryRepo) GetDomainByName(_ context.Context, name string) (*domain.Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name = strings.TrimSuffix(strings.ToLower(name), ".")
	for _, d := range m.domains {
		if strings.ToLower(d.Name) == name {
			d := d
			return &d, nil
		}
	}
	return nil, nil
}

func (m *MemoryRepo) ListDomains(_ context.Context) ([]domain.Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Domain, 0, len(m.domains))
	for _, d := range m.domains {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryRepo) ListAliases(_ context.Context, id int64) ([]domain.Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Domain
	for _, d := range m.domains {
		if d.AliasOf != nil && *d.AliasOf == id {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryRepo) ListRecordsForDomain(_ context.Context, domainID int64) ([]domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Record(nil), m.records[domainID]...), nil
}

func (m *MemoryRepo) SaveSOARecord(_ context.Context, domainID int64, soa domain.SOA, ttl int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SOASaves++

	d := m.domains[domainID]
	recs := m.records[domainID]
	for i, r := range recs {
		if r.Type == domain.TypeSOA {
			recs[i].Content = soa.Content()
			recs[i].TTL = ttl
			return nil
		}
	}
	m.records[domainID] = append(recs, domain.Record{
		ID:       int64(len(recs) + 1),
		DomainID: domainID,
		Name:     d.Name,
		Type:     domain.TypeSOA,
		Content:  soa.Content(),
		TTL:      ttl,
	})
	return nil
}

func (m *MemoryRepo) Ping(context.Context) error { return nil }
