package aggregator

import (
	"log/slog"
	"strings"
	"time"

	"github.com/maltedev/adlibrary-harvester/internal/dedup"
	"github.com/maltedev/adlibrary-harvester/internal/models"
)

// Aggregator merges session results after the pool has joined. It is not
// safe for concurrent use and holds no state between calls.
type Aggregator struct {
	logger *slog.Logger
	now    func() time.Time
}

func New(logger *slog.Logger) *Aggregator {
	return &Aggregator{
		logger: logger.With("component", "aggregator"),
		now:    time.Now,
	}
}

// Merge concatenates records in result order, dropping any whose dedup key
// was already seen, and builds the job summary.
func (a *Aggregator) Merge(jc *models.JobContext, results []models.SessionResult) ([]models.ExtractedRecord, models.JobSummary) {
	summary := models.JobSummary{
		JobID:         jc.ID,
		SearchTerm:    jc.Config.SearchTerm(),
		CountryFilter: jc.Config.CountryFilter(),
		StartedAt:     jc.StartedAt,
		ProxiesUsed:   make([]string, 0, len(results)),
	}

	seen := dedup.New()
	advertisers := make(map[string]struct{})
	records := make([]models.ExtractedRecord, 0)
	naive := 0

	for _, result := range results {
		summary.ProxiesUsed = append(summary.ProxiesUsed, result.Proxy.Address)

		switch result.Status {
		case models.StatusSuccess:
			summary.SuccessfulSessions++
		case models.StatusBlocked:
			summary.BlockedSessions++
		case models.StatusTimeout:
			summary.TimedOutSessions++
			summary.FailedSessions++
		default:
			summary.FailedSessions++
		}

		for _, record := range result.Records {
			naive++
			if !seen.Accept(record.DedupKey) {
				continue
			}
			records = append(records, record)

			if name := strings.ToLower(strings.TrimSpace(record.Field(models.FieldAdvertiser))); name != "" {
				advertisers[name] = struct{}{}
			}
		}
	}

	summary.TotalRecords = len(records)
	summary.UniqueAdvertiserCount = len(advertisers)
	summary.DurationSeconds = a.now().Sub(jc.StartedAt).Seconds()

	a.logger.Info("merged session results",
		"job_id", jc.ID,
		"sessions", len(results),
		"records", summary.TotalRecords,
		"duplicates_dropped", naive-summary.TotalRecords,
		"unique_advertisers", summary.UniqueAdvertiserCount,
		"successful", summary.SuccessfulSessions,
		"blocked", summary.BlockedSessions,
		"failed", summary.FailedSessions)

	return records, summary
}
