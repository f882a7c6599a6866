package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dramcove/catalog-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit
// testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresWithPool(mock), mock
}

func TestPostgresStore_GetByFingerprint_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT data FROM product_records WHERE fingerprint = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	rec, err := s.GetByFingerprint(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetByFingerprint_Found(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	data := []byte(`{"fingerprint":"fp-1","name":"Ardbeg 10","status":"partial","source_count":2}`)
	mock.ExpectQuery(`SELECT data FROM product_records WHERE fingerprint = \$1`).
		WithArgs("fp-1").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow(data))

	rec, err := s.GetByFingerprint(context.Background(), "fp-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "Ardbeg 10", rec.Name)
	assert.Equal(t, model.StatusPartial, rec.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetByGTIN_EmptyShortCircuits(t *testing.T) {
	s, _ := newMockPostgresStore(t)

	rec, err := s.GetByGTIN(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, rec, "empty gtin never hits the database")
}

func TestPostgresStore_UpsertRecord(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT \(fingerprint\) DO UPDATE`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertRecord(context.Background(), testRecord("fp-1", ""))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PutProfile_Monotonic(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`GREATEST\(domain_profiles.required_tier, EXCLUDED.required_tier\)`).
		WithArgs("masterofmalt.com", 2, 2, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	prof := model.NewDomainFetchProfile("masterofmalt.com")
	prof.RecordSuccess(2, nil)
	require.NoError(t, s.PutProfile(context.Background(), prof))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetRecordStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE product_records`).
		WithArgs("rejected", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.SetRecordStatus(context.Background(), "missing", model.StatusRejected)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendConflicts_Copy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"conflict_logs"},
		[]string{"id", "fingerprint", "field", "existing_value", "incoming_value", "source_url", "observed_at"}).
		WillReturnResult(1)

	conflicts := []model.ConflictLog{{
		ID: "c-1", Fingerprint: "fp-1", Field: model.FieldABV,
		ExistingValue: "40", IncomingValue: "43",
		SourceURL: "https://b.test/p", ObservedAt: time.Now().UTC(),
	}}
	require.NoError(t, s.AppendConflicts(context.Background(), conflicts))
	assert.NoError(t, mock.ExpectationsWereMet())
}
