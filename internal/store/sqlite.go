package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/dramcove/catalog-cli/internal/model"
	"github.com/dramcove/catalog-cli/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS product_records (
	fingerprint        TEXT PRIMARY KEY,
	gtin               TEXT,
	name               TEXT NOT NULL,
	brand              TEXT,
	product_type       TEXT,
	status             TEXT NOT NULL DEFAULT 'incomplete',
	completeness_score INTEGER NOT NULL DEFAULT 0,
	source_count       INTEGER NOT NULL DEFAULT 0,
	data               TEXT NOT NULL,
	created_at         DATETIME NOT NULL,
	updated_at         DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_records_gtin
	ON product_records(gtin) WHERE gtin IS NOT NULL AND gtin != '';
CREATE INDEX IF NOT EXISTS idx_records_status ON product_records(status);
CREATE INDEX IF NOT EXISTS idx_records_brand_type ON product_records(brand, product_type);

CREATE TABLE IF NOT EXISTS conflict_logs (
	id             TEXT PRIMARY KEY,
	fingerprint    TEXT NOT NULL,
	field          TEXT NOT NULL,
	existing_value TEXT NOT NULL,
	incoming_value TEXT NOT NULL,
	source_url     TEXT NOT NULL,
	observed_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conflicts_fingerprint ON conflict_logs(fingerprint);

CREATE TABLE IF NOT EXISTS domain_profiles (
	domain            TEXT PRIMARY KEY,
	required_tier     INTEGER NOT NULL DEFAULT 1,
	last_success_tier INTEGER NOT NULL DEFAULT 0,
	session_cookies   TEXT,
	age_gate_cookies  TEXT,
	updated_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY,
	url            TEXT NOT NULL,
	domain         TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  DATETIME NOT NULL,
	created_at     DATETIME NOT NULL,
	last_failed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
CREATE INDEX IF NOT EXISTS idx_dlq_domain ON dead_letter_queue(domain);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertRecord(ctx context.Context, rec *model.ProductRecord) error {
	data, err := marshalRecord(rec)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO product_records
			(fingerprint, gtin, name, brand, product_type, status, completeness_score, source_count, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			gtin = excluded.gtin,
			name = excluded.name,
			brand = excluded.brand,
			product_type = excluded.product_type,
			status = excluded.status,
			completeness_score = excluded.completeness_score,
			source_count = excluded.source_count,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		rec.Fingerprint, rec.GTIN, rec.Name, rec.Brand, rec.ProductType,
		string(rec.Status), rec.CompletenessScore, rec.SourceCount,
		data, rec.CreatedAt, rec.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert record %s", rec.Fingerprint)
}

func (s *SQLiteStore) GetByFingerprint(ctx context.Context, fingerprint string) (*model.ProductRecord, error) {
	return s.getRecord(ctx, `SELECT data FROM product_records WHERE fingerprint = ?`, fingerprint)
}

func (s *SQLiteStore) GetByGTIN(ctx context.Context, gtin string) (*model.ProductRecord, error) {
	if gtin == "" {
		return nil, nil
	}
	return s.getRecord(ctx, `SELECT data FROM product_records WHERE gtin = ?`, gtin)
}

func (s *SQLiteStore) getRecord(ctx context.Context, query string, arg any) (*model.ProductRecord, error) {
	var data string
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get record")
	}
	return unmarshalRecord(data)
}

func (s *SQLiteStore) ListByBrandType(ctx context.Context, brand, productType string) ([]*model.ProductRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM product_records WHERE brand = ? COLLATE NOCASE AND product_type = ?`,
		brand, productType,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list by brand/type")
	}
	defer rows.Close()

	var out []*model.ProductRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		rec, err := unmarshalRecord(data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list by brand/type iterate")
}

func (s *SQLiteStore) ListRecords(ctx context.Context, filter RecordFilter) ([]model.ProductRecord, error) {
	query := `SELECT data FROM product_records WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Brand != "" {
		query += ` AND brand = ? COLLATE NOCASE`
		args = append(args, filter.Brand)
	}
	if filter.ProductType != "" {
		query += ` AND product_type = ?`
		args = append(args, filter.ProductType)
	}
	if filter.MinScore > 0 {
		query += ` AND completeness_score >= ?`
		args = append(args, filter.MinScore)
	}
	query += ` ORDER BY updated_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list records")
	}
	defer rows.Close()

	var out []model.ProductRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		rec, err := unmarshalRecord(data)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list records iterate")
}

func (s *SQLiteStore) SetRecordStatus(ctx context.Context, fingerprint string, status model.Status) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE product_records
		 SET status = ?, data = json_set(data, '$.status', ?), updated_at = ?
		 WHERE fingerprint = ?`,
		string(status), string(status), now, fingerprint,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set record status %s", fingerprint)
	}
	return checkRowsAffected(res, "record", fingerprint)
}

func (s *SQLiteStore) AppendConflicts(ctx context.Context, conflicts []model.ConflictLog) error {
	if len(conflicts) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin conflicts tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, c := range conflicts {
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conflict_logs (id, fingerprint, field, existing_value, incoming_value, source_url, observed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.Fingerprint, c.Field, c.ExistingValue, c.IncomingValue, c.SourceURL, c.ObservedAt,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert conflict")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit conflicts")
}

func (s *SQLiteStore) ListConflicts(ctx context.Context, fingerprint string) ([]model.ConflictLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, fingerprint, field, existing_value, incoming_value, source_url, observed_at
		 FROM conflict_logs WHERE fingerprint = ? ORDER BY observed_at`,
		fingerprint,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list conflicts")
	}
	defer rows.Close()

	var out []model.ConflictLog
	for rows.Next() {
		var c model.ConflictLog
		if err := rows.Scan(&c.ID, &c.Fingerprint, &c.Field, &c.ExistingValue, &c.IncomingValue, &c.SourceURL, &c.ObservedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan conflict")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list conflicts iterate")
}

func (s *SQLiteStore) GetProfile(ctx context.Context, domain string) (*model.DomainFetchProfile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT domain, required_tier, last_success_tier, session_cookies, age_gate_cookies, updated_at
		 FROM domain_profiles WHERE domain = ?`,
		domain,
	)

	var p model.DomainFetchProfile
	var session, ageGate sql.NullString
	err := row.Scan(&p.Domain, &p.RequiredTier, &p.LastSuccessTier, &session, &ageGate, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get profile")
	}
	if err := unmarshalCookies(session, &p.SessionCookies); err != nil {
		return nil, err
	}
	if err := unmarshalCookies(ageGate, &p.AgeGateCookies); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) PutProfile(ctx context.Context, prof *model.DomainFetchProfile) error {
	session, err := marshalCookies(prof.SessionCookies)
	if err != nil {
		return err
	}
	ageGate, err := marshalCookies(prof.AgeGateCookies)
	if err != nil {
		return err
	}

	// required_tier only ever rises here; ResetProfile is the escape hatch.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO domain_profiles (domain, required_tier, last_success_tier, session_cookies, age_gate_cookies, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(domain) DO UPDATE SET
			required_tier = MAX(domain_profiles.required_tier, excluded.required_tier),
			last_success_tier = excluded.last_success_tier,
			session_cookies = excluded.session_cookies,
			age_gate_cookies = excluded.age_gate_cookies,
			updated_at = excluded.updated_at`,
		prof.Domain, prof.RequiredTier, prof.LastSuccessTier, session, ageGate, prof.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: put profile %s", prof.Domain)
}

func (s *SQLiteStore) ListProfiles(ctx context.Context) ([]model.DomainFetchProfile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT domain, required_tier, last_success_tier, session_cookies, age_gate_cookies, updated_at
		 FROM domain_profiles ORDER BY domain`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list profiles")
	}
	defer rows.Close()

	var out []model.DomainFetchProfile
	for rows.Next() {
		var p model.DomainFetchProfile
		var session, ageGate sql.NullString
		if err := rows.Scan(&p.Domain, &p.RequiredTier, &p.LastSuccessTier, &session, &ageGate, &p.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan profile")
		}
		if err := unmarshalCookies(session, &p.SessionCookies); err != nil {
			return nil, err
		}
		if err := unmarshalCookies(ageGate, &p.AgeGateCookies); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list profiles iterate")
}

func (s *SQLiteStore) ResetProfile(ctx context.Context, domain string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE domain_profiles SET required_tier = ?, last_success_tier = 0, updated_at = ? WHERE domain = ?`,
		model.TierDirect, time.Now().UTC(), domain,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: reset profile %s", domain)
	}
	return checkRowsAffected(res, "profile", domain)
}

func (s *SQLiteStore) AddDLQ(ctx context.Context, entry *resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dead_letter_queue (id, url, domain, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.URL, entry.Domain, entry.Error, entry.ErrorType,
		entry.RetryCount, entry.MaxRetries, entry.NextRetryAt, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrap(err, "sqlite: add dlq entry")
}

func (s *SQLiteStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, url, domain, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at
	          FROM dead_letter_queue WHERE 1=1`
	var args []any

	if filter.ErrorType != "" {
		query += ` AND error_type = ?`
		args = append(args, filter.ErrorType)
	}
	if filter.Domain != "" {
		query += ` AND domain = ?`
		args = append(args, filter.Domain)
	}
	query += ` ORDER BY next_retry_at`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list dlq")
	}
	defer rows.Close()

	var out []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		if err := rows.Scan(&e.ID, &e.URL, &e.Domain, &e.Error, &e.ErrorType,
			&e.RetryCount, &e.MaxRetries, &e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list dlq iterate")
}

func (s *SQLiteStore) DeleteDLQ(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dead_letter_queue WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete dlq entry %s", id)
	}
	return checkRowsAffected(res, "dlq entry", id)
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

// marshalRecord serializes a record for the data column. Conflicts live in
// their own append-only table, not in the record blob.
func marshalRecord(rec *model.ProductRecord) (string, error) {
	cp := *rec
	cp.Conflicts = nil
	data, err := json.Marshal(&cp)
	if err != nil {
		return "", eris.Wrap(err, "store: marshal record")
	}
	return string(data), nil
}

func unmarshalRecord(data string) (*model.ProductRecord, error) {
	var rec model.ProductRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal record")
	}
	return &rec, nil
}

func marshalCookies(m map[string]string) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, eris.Wrap(err, "store: marshal cookies")
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalCookies(s sql.NullString, dst *map[string]string) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s.String), dst); err != nil {
		return eris.Wrap(err, "store: unmarshal cookies")
	}
	return nil
}
