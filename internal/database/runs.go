package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/adlibrary-harvester/internal/events"
	"github.com/maltedev/adlibrary-harvester/internal/models"
)

// RunRepository stores finished runs and their ads. It is the "postgres"
// persistence sink.
type RunRepository struct {
	db           *DB
	outbox       *OutboxRepository
	outboxStream string
	logger       *slog.Logger
}

func NewRunRepository(db *DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{
		db:     db,
		outbox: NewOutboxRepository(db),
		logger: logger.With("component", "run_repository"),
	}
}

// WithOutbox makes every stored run enqueue a completion event for the
// relay in the same transaction.
func (r *RunRepository) WithOutbox(stream string) *RunRepository {
	r.outboxStream = stream
	if r.outboxStream == "" {
		r.outboxStream = events.DefaultStream
	}
	return r
}

func (r *RunRepository) Name() string { return "postgres" }

func (r *RunRepository) Write(ctx context.Context, records []models.ExtractedRecord, summary models.JobSummary) (string, error) {
	runID := uuid.New()
	inserted := 0

	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO scrape_run (
				id, job_id, search_term, country_filter,
				total_records, unique_advertisers,
				successful_sessions, failed_sessions, blocked_sessions, timed_out_sessions,
				proxies_used, started_at, duration_seconds
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			runID, summary.JobID, summary.SearchTerm, summary.CountryFilter,
			summary.TotalRecords, summary.UniqueAdvertiserCount,
			summary.SuccessfulSessions, summary.FailedSessions, summary.BlockedSessions, summary.TimedOutSessions,
			summary.ProxiesUsed, summary.StartedAt, summary.DurationSeconds,
		)
		if err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}

		batch := &pgx.Batch{}
		for _, rec := range records {
			media := rec.MediaURLs
			if media == nil {
				media = []string{}
			}
			batch.Queue(`
				INSERT INTO scraped_ad (
					run_id, dedup_key, advertiser, body_text, cta_text,
					sponsor_info, media_urls, source_proxy, extracted_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				ON CONFLICT (run_id, dedup_key) DO NOTHING`,
				runID, rec.DedupKey,
				rec.Field(models.FieldAdvertiser), rec.Field(models.FieldText),
				rec.Field(models.FieldCTAText), rec.Field(models.FieldSponsorInfo),
				media, rec.SourceProxy, rec.ExtractedAt,
			)
		}

		results := tx.SendBatch(ctx, batch)
		for range records {
			tag, err := results.Exec()
			if err != nil {
				results.Close()
				return fmt.Errorf("failed to insert ad: %w", err)
			}
			inserted += int(tag.RowsAffected())
		}
		if err := results.Close(); err != nil {
			return fmt.Errorf("failed to close batch: %w", err)
		}

		if r.outboxStream == "" {
			return nil
		}
		event, err := NewRunCompletedEvent(events.NewRunCompleted(records, summary), r.outboxStream)
		if err != nil {
			return err
		}
		return r.outbox.InsertWithTx(ctx, tx, event)
	})
	if err != nil {
		return "", err
	}

	r.logger.Info("run stored", "run_id", runID, "job_id", summary.JobID, "ads", inserted)
	return fmt.Sprintf("postgres://scrape_run/%s", runID), nil
}

// StoredRun is a row of scrape_run.
type StoredRun struct {
	ID           uuid.UUID `db:"id"`
	JobID        string    `db:"job_id"`
	SearchTerm   string    `db:"search_term"`
	TotalRecords int       `db:"total_records"`
	AdsPersisted int       `db:"ads_persisted"`
}

// GetRun loads a stored run with the number of ads attached to it.
func (r *RunRepository) GetRun(ctx context.Context, id uuid.UUID) (*StoredRun, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT r.id, r.job_id, r.search_term, r.total_records,
		       (SELECT COUNT(*) FROM scraped_ad a WHERE a.run_id = r.id)::int AS ads_persisted
		FROM scrape_run r
		WHERE r.id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}

	run, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[StoredRun])
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", id, err)
	}
	return run, nil
}
