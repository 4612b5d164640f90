package repository

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/csmith/mydnshost-api/internal/core/domain"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("zonesync_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("5432").
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("failed to start container: %s", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %s", err)
	}

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		t.Fatalf("failed to open db: %s", err)
	}

	schemaPath := filepath.Join(".", "schema.sql")
	schema, err := os.ReadFile(schemaPath)
	if err != nil {
		t.Fatalf("failed to read schema: %s", err)
	}

	if _, err := db.Exec(string(schema)); err != nil {
		t.Fatalf("failed to apply schema: %s", err)
	}

	return db, func() {
		db.Close()
		pgContainer.Terminate(ctx)
	}
}

func TestPostgresRepository_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewPostgresRepository(db)
	ctx := context.Background()

	// 1. Domains and aliases
	src := &domain.Domain{Name: "example.com", DefaultTTL: 3600}
	if err := repo.CreateDomain(ctx, src); err != nil {
		t.Fatalf("CreateDomain failed: %v", err)
	}
	params := "1 0 10 ABCD"
	alias := &domain.Domain{Name: "example.org", AliasOf: &src.ID, NSEC3Params: &params}
	if err := repo.CreateDomain(ctx, alias); err != nil {
		t.Fatalf("CreateDomain (alias) failed: %v", err)
	}

	got, err := repo.GetDomainByName(ctx, "EXAMPLE.org.")
	if err != nil || got == nil {
		t.Fatalf("GetDomainByName failed: %v", err)
	}
	if got.AliasOf == nil || *got.AliasOf != src.ID {
		t.Errorf("Expected alias of %d, got %v", src.ID, got.AliasOf)
	}
	if got.NSEC3Params == nil || *got.NSEC3Params != params {
		t.Errorf("Expected NSEC3 params %q, got %v", params, got.NSEC3Params)
	}

	aliases, err := repo.ListAliases(ctx, src.ID)
	if err != nil || len(aliases) != 1 || aliases[0].ID != alias.ID {
		t.Errorf("ListAliases failed: %v, %+v", err, aliases)
	}

	missing, err := repo.GetDomain(ctx, 9999)
	if err != nil || missing != nil {
		t.Errorf("Expected (nil, nil) for a missing domain, got %+v, %v", missing, err)
	}

	// 2. Records
	prio := 10
	for _, rec := range []domain.Record{
		{DomainID: src.ID, Name: "example.com", Type: domain.TypeNS, Content: "ns1.example.com", TTL: 86400},
		{DomainID: src.ID, Name: "example.com", Type: domain.TypeMX, Content: "mail.example.com", Priority: &prio},
		{DomainID: src.ID, Name: "old.example.com", Type: domain.TypeA, Content: "192.0.2.1", Disabled: true},
	} {
		rec := rec
		if err := repo.CreateRecord(ctx, &rec); err != nil {
			t.Fatalf("CreateRecord failed: %v", err)
		}
	}

	records, err := repo.ListRecordsForDomain(ctx, src.ID)
	if err != nil || len(records) != 3 {
		t.Fatalf("ListRecordsForDomain failed: %v, count %d", err, len(records))
	}
	if records[1].Priority == nil || *records[1].Priority != 10 {
		t.Errorf("Expected MX priority 10, got %v", records[1].Priority)
	}
	if !records[2].Disabled {
		t.Errorf("Expected disabled record to stay disabled")
	}

	// 3. SOA insert then update
	soa := domain.SOA{PrimaryNS: "ns1.example.com.", Admin: "hostmaster.example.com.", Serial: 2026101900, Refresh: 86400, Retry: 7200, Expire: 2419200, MinTTL: 60}
	if err := repo.SaveSOARecord(ctx, src.ID, soa, 3600); err != nil {
		t.Fatalf("SaveSOARecord (insert) failed: %v", err)
	}
	soa.Serial++
	if err := repo.SaveSOARecord(ctx, src.ID, soa, 3600); err != nil {
		t.Fatalf("SaveSOARecord (update) failed: %v", err)
	}

	records, _ = repo.ListRecordsForDomain(ctx, src.ID)
	soaCount := 0
	for _, rec := range records {
		if rec.Type == domain.TypeSOA {
			soaCount++
			if rec.Content != soa.Content() || rec.Name != "example.com" {
				t.Errorf("Unexpected SOA record: %+v", rec)
			}
		}
	}
	if soaCount != 1 {
		t.Errorf("Expected exactly one SOA record, got %d", soaCount)
	}

	if err := repo.SaveSOARecord(ctx, 9999, soa, 3600); err == nil {
		t.Errorf("Expected SaveSOARecord to fail for a missing domain")
	}

	// 4. Listing
	all, err := repo.ListDomains(ctx)
	if err != nil || len(all) != 2 {
		t.Errorf("ListDomains failed: %v, count %d", err, len(all))
	}

	if err := repo.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}
