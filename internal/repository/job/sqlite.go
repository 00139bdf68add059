package job

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ahmethakanbesel/clipper/internal/apperror"
	domain "github.com/ahmethakanbesel/clipper/internal/job"
	"github.com/ahmethakanbesel/clipper/internal/timestamp"
)

// Fixed width so timestamps compare correctly as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

const jobColumns = `id, source_url, input_ms, output_ms, status, message,
	output_path, download_url, error, created_at, updated_at, completed_at, expired_at`

// Repository is the durable job store. Every mutation runs in its own
// transaction behind a single writer lock, so a record is either fully
// replaced or untouched.
type Repository struct {
	db      *sql.DB
	writeMu sync.Mutex
	now     func() time.Time
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *Repository) Create(ctx context.Context, j *domain.Job) error {
	if j.CreatedAt.IsZero() {
		j.CreatedAt = r.now()
	}
	j.UpdatedAt = j.CreatedAt
	if err := j.Check(); err != nil {
		return apperror.Wrap(apperror.Internal, "invalid job record", err)
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	const query = `INSERT INTO jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query, jobArgs(j)...)
	if err != nil {
		var se *sqlite.Error
		if errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
			return apperror.New(apperror.Conflict, "job id already exists")
		}
		return unavailable("create job", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*domain.Job, error) {
	return getJob(ctx, r.db, id)
}

// Update applies mutate to the stored job and persists the result as one
// record replacement. The mutation may not break the status state machine,
// the record invariants, or the immutable request fields.
func (r *Repository) Update(ctx context.Context, id string, mutate domain.Mutation) (*domain.Job, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("update job: begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := getJob(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	next := *cur
	if err := mutate(&next); err != nil {
		return nil, err
	}

	if err := checkUpdate(cur, &next); err != nil {
		return nil, apperror.Wrap(apperror.Conflict, "illegal job update", err)
	}
	next.UpdatedAt = r.now()

	const query = `UPDATE jobs SET status = ?, message = ?, output_path = ?,
		download_url = ?, error = ?, updated_at = ?, completed_at = ?, expired_at = ?
		WHERE id = ?`

	_, err = tx.ExecContext(ctx, query,
		string(next.Status), next.Message,
		nullString(next.OutputPath), nullString(next.DownloadURL), nullString(next.Error),
		next.UpdatedAt.Format(timeFormat), nullTime(next.CompletedAt), nullTime(next.ExpiredAt),
		id,
	)
	if err != nil {
		return nil, unavailable("update job", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, unavailable("update job: commit", err)
	}
	return &next, nil
}

func checkUpdate(cur, next *domain.Job) error {
	if next.ID != cur.ID || next.SourceURL != cur.SourceURL ||
		next.InputMark != cur.InputMark || next.OutputMark != cur.OutputMark ||
		!next.CreatedAt.Equal(cur.CreatedAt) {
		return errors.New("immutable field changed")
	}
	if !domain.CanTransition(cur.Status, next.Status) {
		return fmt.Errorf("transition %s -> %s", cur.Status, next.Status)
	}
	if cur.Expired() && !next.Expired() {
		return errors.New("expired job cannot be restored")
	}
	if cur.CompletedAt != nil && (next.CompletedAt == nil || !next.CompletedAt.Equal(*cur.CompletedAt)) {
		return errors.New("completed_at is set once")
	}
	return next.Check()
}

// List returns jobs in creation order, optionally filtered by status.
func (r *Repository) List(ctx context.Context, status domain.Status) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY rowid ASC`

	return r.queryJobs(ctx, "list jobs", query, args...)
}

// ClaimQueued atomically moves the oldest queued job to downloading and
// returns it. It returns nil when nothing is queued.
func (r *Repository) ClaimQueued(ctx context.Context) (*domain.Job, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("claim queued: begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM jobs WHERE status = 'queued' ORDER BY rowid ASC LIMIT 1`,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("claim queued: select", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE jobs SET status = 'downloading', message = ?, updated_at = ? WHERE id = ?`,
		domain.MessageDownloading, r.now().Format(timeFormat), id,
	)
	if err != nil {
		return nil, unavailable("claim queued: update", err)
	}

	j, err := getJob(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, unavailable("claim queued: commit", err)
	}
	return j, nil
}

// FailInterrupted terminates jobs a previous process left mid-pipeline and
// returns their IDs in creation order.
func (r *Repository) FailInterrupted(ctx context.Context, reason string) ([]string, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("fail interrupted jobs: begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM jobs WHERE status IN ('downloading', 'processing') ORDER BY rowid ASC`)
	if err != nil {
		return nil, unavailable("fail interrupted jobs: select", err)
	}
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, unavailable("fail interrupted jobs: scan", err)
		}
		ids = append(ids, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, unavailable("fail interrupted jobs: select", err)
	}
	if len(ids) == 0 {
		return ids, nil
	}

	now := r.now().Format(timeFormat)
	const query = `UPDATE jobs SET status = 'failed', error = ?, message = ?,
		output_path = NULL, download_url = NULL, completed_at = ?, updated_at = ?
		WHERE status IN ('downloading', 'processing')`

	if _, err := tx.ExecContext(ctx, query, reason, domain.MessageFailed, now, now); err != nil {
		return nil, unavailable("fail interrupted jobs", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, unavailable("fail interrupted jobs: commit", err)
	}
	return ids, nil
}

// ListExpirable returns completed jobs whose artifact is still present and
// whose completion time is before completedBefore.
func (r *Repository) ListExpirable(ctx context.Context, completedBefore time.Time) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE status = 'completed' AND expired_at IS NULL AND completed_at < ?
		ORDER BY completed_at ASC`

	return r.queryJobs(ctx, "list expirable jobs", query, completedBefore.UTC().Format(timeFormat))
}

func (r *Repository) queryJobs(ctx context.Context, op, query string, args ...any) ([]domain.Job, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer func() { _ = rows.Close() }()

	jobs := []domain.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, unavailable(op+": scan", err)
		}
		jobs = append(jobs, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(op, err)
	}
	return jobs, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getJob(ctx context.Context, q queryRower, id string) (*domain.Job, error) {
	row := q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.New(apperror.NotFound, "job not found")
	}
	if err != nil {
		return nil, unavailable("get job", err)
	}
	return j, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*domain.Job, error) {
	j := &domain.Job{}
	var inputMS, outputMS int64
	var status, createdStr, updatedStr string
	var outputPath, downloadURL, dbErr, completedStr, expiredStr sql.NullString

	if err := s.Scan(
		&j.ID, &j.SourceURL, &inputMS, &outputMS, &status, &j.Message,
		&outputPath, &downloadURL, &dbErr, &createdStr, &updatedStr,
		&completedStr, &expiredStr,
	); err != nil {
		return nil, err
	}

	j.InputMark = timestamp.FromMilliseconds(inputMS)
	j.OutputMark = timestamp.FromMilliseconds(outputMS)
	j.Status = domain.Status(status)
	j.OutputPath = outputPath.String
	j.DownloadURL = downloadURL.String
	j.Error = dbErr.String
	var err error
	if j.CreatedAt, err = time.Parse(timeFormat, createdStr); err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	if j.UpdatedAt, err = time.Parse(timeFormat, updatedStr); err != nil {
		return nil, fmt.Errorf("updated_at: %w", err)
	}
	if j.CompletedAt, err = parseNullTime(completedStr); err != nil {
		return nil, fmt.Errorf("completed_at: %w", err)
	}
	if j.ExpiredAt, err = parseNullTime(expiredStr); err != nil {
		return nil, fmt.Errorf("expired_at: %w", err)
	}
	return j, nil
}

func jobArgs(j *domain.Job) []any {
	return []any{
		j.ID, j.SourceURL, j.InputMark.Milliseconds(), j.OutputMark.Milliseconds(),
		string(j.Status), j.Message,
		nullString(j.OutputPath), nullString(j.DownloadURL), nullString(j.Error),
		j.CreatedAt.UTC().Format(timeFormat), j.UpdatedAt.UTC().Format(timeFormat),
		nullTime(j.CompletedAt), nullTime(j.ExpiredAt),
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeFormat), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := time.Parse(timeFormat, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func unavailable(op string, err error) error {
	return apperror.Wrap(apperror.Unavailable, "job store unavailable", fmt.Errorf("%s: %w", op, err))
}
