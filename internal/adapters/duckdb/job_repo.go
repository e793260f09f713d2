package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/manthysbr/metaingest/internal/core/domain"
)

const jobColumns = `job_id, source, status, started_at, completed_at, metrics, image_digest, logs_url`

// Queue inserts or replaces the job in the queued state. Nothing from an
// existing row survives.
func (r *Repository) Queue(ctx context.Context, id domain.JobID, source string, opts domain.JobOptions) (domain.JobRecord, error) {
	query := `
	INSERT OR REPLACE INTO migration_jobs (job_id, source, status, started_at, completed_at, metrics, image_digest, logs_url)
	VALUES (?, ?, ?, ?, NULL, '{}', ?, ?);
	`
	var job domain.JobRecord
	err := r.withDB(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, query,
			string(id), source, string(domain.JobStatusQueued), r.timestamp(),
			nullable(opts.ImageDigest), nullable(opts.LogsURL),
		)
		if err != nil {
			return fmt.Errorf("queue job %s: %w", id, err)
		}
		job, err = getJob(ctx, db, id)
		return err
	})
	return job, err
}

// Start marks the job running. An existing row keeps started_at and metrics;
// digest and logs URL are only replaced by non-empty values.
func (r *Repository) Start(ctx context.Context, id domain.JobID, source string, opts domain.JobOptions) (domain.JobRecord, error) {
	query := `
	INSERT INTO migration_jobs (job_id, source, status, started_at, completed_at, metrics, image_digest, logs_url)
	VALUES (?, ?, ?, ?, NULL, '{}', ?, ?)
	ON CONFLICT (job_id) DO UPDATE SET
		source       = excluded.source,
		status       = excluded.status,
		completed_at = NULL,
		image_digest = COALESCE(excluded.image_digest, image_digest),
		logs_url     = COALESCE(excluded.logs_url, logs_url);
	`
	var job domain.JobRecord
	err := r.withDB(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, query,
			string(id), source, string(domain.JobStatusRunning), r.timestamp(),
			nullable(opts.ImageDigest), nullable(opts.LogsURL),
		)
		if err != nil {
			return fmt.Errorf("start job %s: %w", id, err)
		}
		job, err = getJob(ctx, db, id)
		return err
	})
	return job, err
}

// Complete writes the final status once. Metrics are replaced wholesale
// while an empty logsURL keeps the stored value. A job already succeeded or
// failed is left untouched and ErrJobFinalized is returned.
func (r *Repository) Complete(ctx context.Context, id domain.JobID, status domain.JobStatus, metrics domain.Metrics, logsURL string) (domain.JobRecord, error) {
	if !status.Valid() {
		return domain.JobRecord{}, fmt.Errorf("%w: %q", domain.ErrInvalidJobStatus, status)
	}

	raw, err := encodeMetrics(metrics)
	if err != nil {
		return domain.JobRecord{}, err
	}

	query := `
	UPDATE migration_jobs
	   SET status = ?,
	       completed_at = ?,
	       metrics = ?,
	       logs_url = COALESCE(?, logs_url)
	 WHERE job_id = ?;
	`
	var job domain.JobRecord
	err = r.withDB(ctx, func(db *sql.DB) error {
		current, err := getJob(ctx, db, id)
		if err != nil {
			return err
		}
		if current.Status.Terminal() {
			return fmt.Errorf("%w: %s is %s", domain.ErrJobFinalized, id, current.Status)
		}

		if _, err := db.ExecContext(ctx, query,
			string(status), r.timestamp(), raw, nullable(logsURL), string(id),
		); err != nil {
			return fmt.Errorf("complete job %s: %w", id, err)
		}
		job, err = getJob(ctx, db, id)
		return err
	})
	return job, err
}

func (r *Repository) Get(ctx context.Context, id domain.JobID) (domain.JobRecord, error) {
	var job domain.JobRecord
	err := r.withDB(ctx, func(db *sql.DB) error {
		var err error
		job, err = getJob(ctx, db, id)
		return err
	})
	return job, err
}

func (r *Repository) List(ctx context.Context) ([]domain.JobRecord, error) {
	query := `SELECT ` + jobColumns + ` FROM migration_jobs ORDER BY started_at DESC, job_id ASC`
	jobs := []domain.JobRecord{}
	err := r.withDB(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, query)
		if err != nil {
			return fmt.Errorf("list jobs: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			job, err := scanJob(rows)
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}
			jobs = append(jobs, job)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("list jobs: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func getJob(ctx context.Context, db *sql.DB, id domain.JobID) (domain.JobRecord, error) {
	query := `SELECT ` + jobColumns + ` FROM migration_jobs WHERE job_id = ?`
	job, err := scanJob(db.QueryRowContext(ctx, query, string(id)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.JobRecord{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
		}
		return domain.JobRecord{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.JobRecord, error) {
	var (
		job                   domain.JobRecord
		id, status            string
		startedAt             time.Time
		completedAt           sql.NullTime
		metrics, digest, logs sql.NullString
	)
	if err := row.Scan(&id, &job.Source, &status, &startedAt, &completedAt, &metrics, &digest, &logs); err != nil {
		return domain.JobRecord{}, err
	}

	job.ID = domain.JobID(id)
	job.Status = domain.JobStatus(status)
	job.StartedAt = startedAt.UTC()
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		job.CompletedAt = &t
	}

	m, err := decodeMetrics(metrics)
	if err != nil {
		return domain.JobRecord{}, err
	}
	job.Metrics = m

	if digest.Valid {
		job.ImageDigest = &digest.String
	}
	if logs.Valid {
		job.LogsURL = &logs.String
	}
	return job, nil
}

func encodeMetrics(m domain.Metrics) (string, error) {
	if m == nil {
		m = domain.Metrics{}
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode metrics: %w", err)
	}
	return string(raw), nil
}

func decodeMetrics(raw sql.NullString) (domain.Metrics, error) {
	m := domain.Metrics{}
	if !raw.Valid || raw.String == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(raw.String), &m); err != nil {
		return nil, fmt.Errorf("decode metrics: %w", err)
	}
	if m == nil {
		m = domain.Metrics{}
	}
	return m, nil
}

// nullable maps an empty string to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
