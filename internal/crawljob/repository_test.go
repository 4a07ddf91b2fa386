package crawljob

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pgxMockAdapter struct {
	mock pgxmock.PgxPoolIface
}

func (a *pgxMockAdapter) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return a.mock.Exec(ctx, sql, args...)
}

func (a *pgxMockAdapter) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return a.mock.Query(ctx, sql, args...)
}

func (a *pgxMockAdapter) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return a.mock.QueryRow(ctx, sql, args...)
}

func (a *pgxMockAdapter) BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) {
	return a.mock.BeginTx(ctx, txOptions)
}

func (a *pgxMockAdapter) Close() {
	a.mock.Close()
}

func (a *pgxMockAdapter) Ping(ctx context.Context) error {
	return a.mock.Ping(ctx)
}

func setupMockDB(t *testing.T) (pgxmock.PgxPoolIface, *PostgresRepository) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)

	adapter := &pgxMockAdapter{mock: mock}
	repo := NewPostgresRepository(adapter)

	return mock, repo
}

func TestPostgresRepository_Create(t *testing.T) {
	mock, repo := setupMockDB(t)
	defer mock.Close()

	now := time.Now()
	mock.ExpectQuery(`INSERT INTO crawl_jobs`).
		WithArgs("job-1", StatusRunning, 3, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	j := &Job{JobID: "job-1", Status: StatusRunning, TotalSpiders: 3}
	err := repo.Create(context.Background(), j)

	require.NoError(t, err)
	assert.Equal(t, now, j.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_GetByID_NotFound(t *testing.T) {
	mock, repo := setupMockDB(t)
	defer mock.Close()

	mock.ExpectQuery(`SELECT job_id, status`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresRepository_IncrementCompleted(t *testing.T) {
	mock, repo := setupMockDB(t)
	defer mock.Close()

	mock.ExpectExec(`UPDATE crawl_jobs SET completed_spiders`).
		WithArgs("job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.IncrementCompleted(context.Background(), "job-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_AppendEvent(t *testing.T) {
	mock, repo := setupMockDB(t)
	defer mock.Close()

	now := time.Now()
	mock.ExpectQuery(`INSERT INTO crawl_job_events`).
		WithArgs("job-1", EventCrawlStart, "started", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"event_id", "recorded_at"}).AddRow(int64(1), now))

	e := &Event{JobID: "job-1", EventType: EventCrawlStart, Status: "started"}
	err := repo.AppendEvent(context.Background(), e)

	require.NoError(t, err)
	assert.Equal(t, int64(1), e.EventID)
	require.NoError(t, mock.ExpectationsWereMet())
}
