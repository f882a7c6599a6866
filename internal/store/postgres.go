package store

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/dramcove/catalog-cli/internal/db"
	"github.com/dramcove/catalog-cli/internal/model"
	"github.com/dramcove/catalog-cli/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations.
var preparedStatements = map[string]string{
	"get_record_by_fp":   `SELECT data FROM product_records WHERE fingerprint = $1`,
	"get_record_by_gtin": `SELECT data FROM product_records WHERE gtin = $1`,
	"get_profile":        `SELECT domain, required_tier, last_success_tier, session_cookies, age_gate_cookies, updated_at FROM domain_profiles WHERE domain = $1`,
	"list_brand_type":    `SELECT data FROM product_records WHERE lower(brand) = lower($1) AND product_type = $2`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool, used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS product_records (
	fingerprint        TEXT PRIMARY KEY,
	gtin               TEXT,
	name               TEXT NOT NULL,
	brand              TEXT,
	product_type       TEXT,
	status             TEXT NOT NULL DEFAULT 'incomplete',
	completeness_score INTEGER NOT NULL DEFAULT 0,
	source_count       INTEGER NOT NULL DEFAULT 0,
	data               JSONB NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_records_gtin
	ON product_records(gtin) WHERE gtin IS NOT NULL AND gtin != '';
CREATE INDEX IF NOT EXISTS idx_records_status ON product_records(status);
CREATE INDEX IF NOT EXISTS idx_records_brand_type ON product_records(lower(brand), product_type);

CREATE TABLE IF NOT EXISTS conflict_logs (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	fingerprint    TEXT NOT NULL,
	field          TEXT NOT NULL,
	existing_value TEXT NOT NULL,
	incoming_value TEXT NOT NULL,
	source_url     TEXT NOT NULL,
	observed_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_conflicts_fingerprint ON conflict_logs(fingerprint);

CREATE TABLE IF NOT EXISTS domain_profiles (
	domain            TEXT PRIMARY KEY,
	required_tier     INTEGER NOT NULL DEFAULT 1,
	last_success_tier INTEGER NOT NULL DEFAULT 0,
	session_cookies   JSONB,
	age_gate_cookies  JSONB,
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	url            TEXT NOT NULL,
	domain         TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
CREATE INDEX IF NOT EXISTS idx_dlq_domain ON dead_letter_queue(domain);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) UpsertRecord(ctx context.Context, rec *model.ProductRecord) error {
	data, err := marshalRecord(rec)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO product_records
			(fingerprint, gtin, name, brand, product_type, status, completeness_score, source_count, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (fingerprint) DO UPDATE SET
			gtin = EXCLUDED.gtin,
			name = EXCLUDED.name,
			brand = EXCLUDED.brand,
			product_type = EXCLUDED.product_type,
			status = EXCLUDED.status,
			completeness_score = EXCLUDED.completeness_score,
			source_count = EXCLUDED.source_count,
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at`,
		rec.Fingerprint, rec.GTIN, rec.Name, rec.Brand, rec.ProductType,
		string(rec.Status), rec.CompletenessScore, rec.SourceCount,
		[]byte(data), rec.CreatedAt, rec.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: upsert record %s", rec.Fingerprint)
}

func (s *PostgresStore) GetByFingerprint(ctx context.Context, fingerprint string) (*model.ProductRecord, error) {
	return s.getRecord(ctx, `SELECT data FROM product_records WHERE fingerprint = $1`, fingerprint)
}

func (s *PostgresStore) GetByGTIN(ctx context.Context, gtin string) (*model.ProductRecord, error) {
	if gtin == "" {
		return nil, nil
	}
	return s.getRecord(ctx, `SELECT data FROM product_records WHERE gtin = $1`, gtin)
}

func (s *PostgresStore) getRecord(ctx context.Context, query, arg string) (*model.ProductRecord, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, query, arg).Scan(&data)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get record")
	}
	return unmarshalRecord(string(data))
}

func (s *PostgresStore) ListByBrandType(ctx context.Context, brand, productType string) ([]*model.ProductRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM product_records WHERE lower(brand) = lower($1) AND product_type = $2`,
		brand, productType,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list by brand/type")
	}
	defer rows.Close()

	var out []*model.ProductRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		rec, err := unmarshalRecord(string(data))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list by brand/type iterate")
}

func (s *PostgresStore) ListRecords(ctx context.Context, filter RecordFilter) ([]model.ProductRecord, error) {
	query := `SELECT data FROM product_records WHERE 1=1`
	var args []any
	n := 0
	arg := func(v any) string {
		n++
		args = append(args, v)
		return "$" + strconv.Itoa(n)
	}

	if filter.Status != "" {
		query += ` AND status = ` + arg(string(filter.Status))
	}
	if filter.Brand != "" {
		query += ` AND lower(brand) = lower(` + arg(filter.Brand) + `)`
	}
	if filter.ProductType != "" {
		query += ` AND product_type = ` + arg(filter.ProductType)
	}
	if filter.MinScore > 0 {
		query += ` AND completeness_score >= ` + arg(filter.MinScore)
	}
	query += ` ORDER BY updated_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ` + arg(limit)
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list records")
	}
	defer rows.Close()

	var out []model.ProductRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		rec, err := unmarshalRecord(string(data))
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list records iterate")
}

func (s *PostgresStore) SetRecordStatus(ctx context.Context, fingerprint string, status model.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE product_records
		 SET status = $1, data = jsonb_set(data, '{status}', to_jsonb($1::text)), updated_at = $2
		 WHERE fingerprint = $3`,
		string(status), time.Now().UTC(), fingerprint,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set record status %s", fingerprint)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("record not found: %s", fingerprint)
	}
	return nil
}

func (s *PostgresStore) AppendConflicts(ctx context.Context, conflicts []model.ConflictLog) error {
	if len(conflicts) == 0 {
		return nil
	}
	rows := make([][]any, len(conflicts))
	for i, c := range conflicts {
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		rows[i] = []any{c.ID, c.Fingerprint, c.Field, c.ExistingValue, c.IncomingValue, c.SourceURL, c.ObservedAt}
	}
	_, err := db.CopyFrom(ctx, s.pool, "conflict_logs",
		[]string{"id", "fingerprint", "field", "existing_value", "incoming_value", "source_url", "observed_at"},
		rows,
	)
	return eris.Wrap(err, "postgres: append conflicts")
}

func (s *PostgresStore) ListConflicts(ctx context.Context, fingerprint string) ([]model.ConflictLog, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, fingerprint, field, existing_value, incoming_value, source_url, observed_at
		 FROM conflict_logs WHERE fingerprint = $1 ORDER BY observed_at`,
		fingerprint,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list conflicts")
	}
	defer rows.Close()

	var out []model.ConflictLog
	for rows.Next() {
		var c model.ConflictLog
		if err := rows.Scan(&c.ID, &c.Fingerprint, &c.Field, &c.ExistingValue, &c.IncomingValue, &c.SourceURL, &c.ObservedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan conflict")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list conflicts iterate")
}

func (s *PostgresStore) GetProfile(ctx context.Context, domain string) (*model.DomainFetchProfile, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT domain, required_tier, last_success_tier, session_cookies, age_gate_cookies, updated_at
		 FROM domain_profiles WHERE domain = $1`,
		domain,
	)

	var p model.DomainFetchProfile
	var session, ageGate []byte
	err := row.Scan(&p.Domain, &p.RequiredTier, &p.LastSuccessTier, &session, &ageGate, &p.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get profile")
	}
	if len(session) > 0 {
		if err := json.Unmarshal(session, &p.SessionCookies); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal session cookies")
		}
	}
	if len(ageGate) > 0 {
		if err := json.Unmarshal(ageGate, &p.AgeGateCookies); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal age gate cookies")
		}
	}
	return &p, nil
}

func (s *PostgresStore) PutProfile(ctx context.Context, prof *model.DomainFetchProfile) error {
	session, err := json.Marshal(prof.SessionCookies)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal session cookies")
	}
	ageGate, err := json.Marshal(prof.AgeGateCookies)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal age gate cookies")
	}

	// required_tier only ever rises here; ResetProfile is the escape hatch.
	_, err = s.pool.Exec(ctx, `
		INSERT INTO domain_profiles (domain, required_tier, last_success_tier, session_cookies, age_gate_cookies, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (domain) DO UPDATE SET
			required_tier = GREATEST(domain_profiles.required_tier, EXCLUDED.required_tier),
			last_success_tier = EXCLUDED.last_success_tier,
			session_cookies = EXCLUDED.session_cookies,
			age_gate_cookies = EXCLUDED.age_gate_cookies,
			updated_at = EXCLUDED.updated_at`,
		prof.Domain, prof.RequiredTier, prof.LastSuccessTier, session, ageGate, prof.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: put profile %s", prof.Domain)
}

func (s *PostgresStore) ListProfiles(ctx context.Context) ([]model.DomainFetchProfile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT domain, required_tier, last_success_tier, session_cookies, age_gate_cookies, updated_at
		 FROM domain_profiles ORDER BY domain`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list profiles")
	}
	defer rows.Close()

	var out []model.DomainFetchProfile
	for rows.Next() {
		var p model.DomainFetchProfile
		var session, ageGate []byte
		if err := rows.Scan(&p.Domain, &p.RequiredTier, &p.LastSuccessTier, &session, &ageGate, &p.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan profile")
		}
		if len(session) > 0 {
			if err := json.Unmarshal(session, &p.SessionCookies); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal session cookies")
			}
		}
		if len(ageGate) > 0 {
			if err := json.Unmarshal(ageGate, &p.AgeGateCookies); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal age gate cookies")
			}
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list profiles iterate")
}

func (s *PostgresStore) ResetProfile(ctx context.Context, domain string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE domain_profiles SET required_tier = $1, last_success_tier = 0, updated_at = $2 WHERE domain = $3`,
		model.TierDirect, time.Now().UTC(), domain,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: reset profile %s", domain)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("profile not found: %s", domain)
	}
	return nil
}

func (s *PostgresStore) AddDLQ(ctx context.Context, entry *resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dead_letter_queue (id, url, domain, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.URL, entry.Domain, entry.Error, entry.ErrorType,
		entry.RetryCount, entry.MaxRetries, entry.NextRetryAt, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrap(err, "postgres: add dlq entry")
}

func (s *PostgresStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, url, domain, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at
	          FROM dead_letter_queue WHERE 1=1`
	var args []any
	n := 0
	arg := func(v any) string {
		n++
		args = append(args, v)
		return "$" + strconv.Itoa(n)
	}

	if filter.ErrorType != "" {
		query += ` AND error_type = ` + arg(filter.ErrorType)
	}
	if filter.Domain != "" {
		query += ` AND domain = ` + arg(filter.Domain)
	}
	query += ` ORDER BY next_retry_at`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ` + arg(limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list dlq")
	}
	defer rows.Close()

	var out []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		if err := rows.Scan(&e.ID, &e.URL, &e.Domain, &e.Error, &e.ErrorType,
			&e.RetryCount, &e.MaxRetries, &e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list dlq iterate")
}

func (s *PostgresStore) DeleteDLQ(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM dead_letter_queue WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete dlq entry %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("dlq entry not found: %s", id)
	}
	return nil
}
