package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/csmith/mydnshost-api/internal/core/domain"
)

// PostgresRepository implements ports.DomainRepository using PostgreSQL.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates and returns a new PostgresRepository instance.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const domainColumns = `id, domain, disabled, defaultttl, nsec3params, aliasof, created_at, updated_at`

const recordColumns = `id, domain_id, name, type, content, ttl, priority, disabled, changed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDomain(row rowScanner) (*domain.Domain, error) {
	var d domain.Domain
	var nsec3 sql.NullString
	var aliasOf sql.NullInt64
	if err := row.Scan(&d.ID, &d.Name, &d.Disabled, &d.DefaultTTL, &nsec3, &aliasOf, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	if nsec3.Valid {
		v := nsec3.String
		d.NSEC3Params = &v
	}
	if aliasOf.Valid {
		v := aliasOf.Int64
		d.AliasOf = &v
	}
	return &d, nil
}

func (r *PostgresRepository) GetDomain(ctx context.Context, id int64) (*domain.Domain, error) {
	query := `SELECT ` + domainColumns + ` FROM domains WHERE id = $1`
	d, errRow := scanDomain(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(errRow, sql.ErrNoRows) {
		return nil, nil
	}
	if errRow != nil {
		return nil, errRow
	}
	return d, nil
}

func (r *PostgresRepository) GetDomainByName(ctx context.Context, name string) (*domain.Domain, error) {
	// Names are stored without the trailing dot and compared case-insensitively.
	query := `SELECT ` + domainColumns + ` FROM domains WHERE LOWER(domain) = LOWER($1)`
	d, errRow := scanDomain(r.db.QueryRowContext(ctx, query, strings.TrimSuffix(name, ".")))
	if errors.Is(errRow, sql.ErrNoRows) {
		return nil, nil
	}
	if errRow != nil {
		return nil, errRow
	}
	return d, nil
}

func (r *PostgresRepository) ListDomains(ctx context.Context) ([]domain.Domain, error) {
	query := `SELECT ` + domainColumns + ` FROM domains ORDER BY id`
	return r.queryDomains(ctx, query)
}

func (r *PostgresRepository) ListAliases(ctx context.Context, id int64) ([]domain.Domain, error) {
	query := `SELECT ` + domainColumns + ` FROM domains WHERE aliasof = $1 ORDER BY id`
	return r.queryDomains(ctx, query, id)
}

func (r *PostgresRepository) queryDomains(ctx context.Context, query string, args ...any) ([]domain.Domain, error) {
	rows, errQuery := r.db.QueryContext(ctx, query, args...)
	if errQuery != nil {
		return nil, errQuery
	}
	defer func() {
		if errClose := rows.Close(); errClose != nil {
			log.Printf("failed to close rows: %v", errClose)
		}
	}()

	var domains []domain.Domain
	for rows.Next() {
		d, errScan := scanDomain(rows)
		if errScan != nil {
			return nil, errScan
		}
		domains = append(domains, *d)
	}
	return domains, rows.Err()
}

func (r *PostgresRepository) ListRecordsForDomain(ctx context.Context, domainID int64) ([]domain.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE domain_id = $1 ORDER BY id`
	rows, errQuery := r.db.QueryContext(ctx, query, domainID)
	if errQuery != nil {
		return nil, errQuery
	}
	defer func() {
		if errClose := rows.Close(); errClose != nil {
			log.Printf("failed to close rows: %v", errClose)
		}
	}()

	var records []domain.Record
	for rows.Next() {
		var rec domain.Record
		var priority sql.NullInt32
		var changedAt sql.NullTime
		if errScan := rows.Scan(&rec.ID, &rec.DomainID, &rec.Name, &rec.Type, &rec.Content, &rec.TTL, &priority, &rec.Disabled, &changedAt); errScan != nil {
			return nil, errScan
		}
		if priority.Valid {
			p := int(priority.Int32)
			rec.Priority = &p
		}
		if changedAt.Valid {
			rec.ChangedAt = changedAt.Time
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SaveSOARecord updates the domain's SOA record, inserting it when missing.
func (r *PostgresRepository) SaveSOARecord(ctx context.Context, domainID int64, soa domain.SOA, ttl int) error {
	tx, errTx := r.db.BeginTx(ctx, nil)
	if errTx != nil {
		return errTx
	}
	defer func() {
		if errRollback := tx.Rollback(); errRollback != nil && !errors.Is(errRollback, sql.ErrTxDone) {
			log.Printf("failed to rollback transaction: %v", errRollback)
		}
	}()

	now := time.Now().UTC()
	updateQuery := `UPDATE records SET content = $1, ttl = $2, changed_at = $3 WHERE domain_id = $4 AND type = 'SOA'`
	res, errExec := tx.ExecContext(ctx, updateQuery, soa.Content(), ttl, now, domainID)
	if errExec != nil {
		return errExec
	}
	affected, errAffected := res.RowsAffected()
	if errAffected != nil {
		return errAffected
	}

	if affected == 0 {
		insertQuery := `INSERT INTO records (domain_id, name, type, content, ttl, priority, disabled, changed_at)
		                SELECT id, domain, 'SOA', $1, $2, NULL, false, $3 FROM domains WHERE id = $4`
		res, errExec = tx.ExecContext(ctx, insertQuery, soa.Content(), ttl, now, domainID)
		if errExec != nil {
			return errExec
		}
		if inserted, errInserted := res.RowsAffected(); errInserted == nil && inserted == 0 {
			return fmt.Errorf("%w: id %d", domain.ErrDomainNotFound, domainID)
		}
	}

	return tx.Commit()
}

// CreateDomain inserts d and sets its ID.
func (r *PostgresRepository) CreateDomain(ctx context.Context, d *domain.Domain) error {
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	query := `INSERT INTO domains (domain, disabled, defaultttl, nsec3params, aliasof, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	return r.db.QueryRowContext(ctx, query, d.Name, d.Disabled, d.DefaultTTL, d.NSEC3Params, d.AliasOf, d.CreatedAt, d.UpdatedAt).Scan(&d.ID)
}

// CreateRecord inserts rec and sets its ID.
func (r *PostgresRepository) CreateRecord(ctx context.Context, rec *domain.Record) error {
	if rec.ChangedAt.IsZero() {
		rec.ChangedAt = time.Now().UTC()
	}
	query := `INSERT INTO records (domain_id, name, type, content, ttl, priority, disabled, changed_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`
	return r.db.QueryRowContext(ctx, query, rec.DomainID, rec.Name, string(rec.Type), rec.Content, rec.TTL, rec.Priority, rec.Disabled, rec.ChangedAt).Scan(&rec.ID)
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
