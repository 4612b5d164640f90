package testutil

import (
	"context"

	"github.com/csmith/mydnshost-api/internal/core/domain"
	"github.com/stretchr/testify/mock"
)

type MockRepo struct {
	mock.Mock
}

func (m *MockRepo) GetDomain(ctx context.Context, id int64) (*domain.Domain, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Domain), args.Error(1)
}

func (m *MockRepo) GetDomainByName(ctx context.Context, name string) (*domain.Domain, error) {
	args := m.Called(name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Domain), args.Error(1)
}

func (m *MockRepo) ListDomains(ctx context.Context) ([]domain.Domain, error) {
	args := m.Called()
	return args.Get(0).([]domain.Domain), args.Error(1)
}

func (m *MockRepo) ListAliases(ctx context.Context, id int64) ([]domain.Domain, error) {
	args := m.Called(id)
	return args.Get(0).([]domain.Domain), args.Error(1)
}

func (m *MockRepo) ListRecordsForDomain(ctx context.Context, domainID int64) ([]domain.Record, error) {
	args := m.Called(domainID)
	return args.Get(0).([]domain.Record), args.Error(1)
}

func (m *MockRepo) SaveSOARecord(ctx context.Context, domainID int64, soa domain.SOA, ttl int) error {
	args := m.Called(domainID, soa, ttl)
	return args.Error(0)
}

func (m *MockRepo) Ping(ctx context.Context) error {
	args := m.Called()
	return args.Error(0)
}
