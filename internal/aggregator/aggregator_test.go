package aggregator

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/maltedev/adlibrary-harvester/internal/dedup"
	"github.com/maltedev/adlibrary-harvester/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fingerprint = dedup.PrefixFingerprint(dedup.DefaultPrefixLength)

func record(proxy, advertiser, text string) models.ExtractedRecord {
	fields := map[string]string{models.FieldAdvertiser: advertiser, models.FieldText: text}
	return models.NewExtractedRecord(fields, nil, proxy, time.Now(), fingerprint(dedup.RecordText(fields, nil)))
}

func session(proxy string, status models.SessionStatus, records ...models.ExtractedRecord) models.SessionResult {
	return models.SessionResult{
		Proxy:   models.ProxyCandidate{Address: proxy, Validated: true},
		Status:  status,
		Records: records,
	}
}

func newAggregator(now time.Time) *Aggregator {
	a := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	a.now = func() time.Time { return now }
	return a
}

func jobContext(started time.Time) *models.JobContext {
	return &models.JobContext{
		ID: "agg-test",
		Config: models.JobConfig{
			SearchFilters: map[string]string{models.FilterSearchTerm: "coffee", models.FilterCountry: "FR"},
		},
		StartedAt: started,
	}
}

func TestMerge_CrossSessionDuplicateIsDropped(t *testing.T) {
	started := time.Now()
	a := newAggregator(started.Add(90 * time.Second))

	results := []models.SessionResult{
		session("1.1.1.1:80", models.StatusSuccess,
			record("1.1.1.1:80", "Roastery", "Freshly roasted beans every week"),
			record("1.1.1.1:80", "Cafe Uno", "Two for one espresso"),
		),
		session("2.2.2.2:80", models.StatusSuccess,
			record("2.2.2.2:80", "Roastery", "  freshly ROASTED beans   every week "),
			record("2.2.2.2:80", "Brew Co", "Cold brew subscription"),
		),
	}

	records, summary := a.Merge(jobContext(started), results)

	require.Len(t, records, 3, "naive sum 4 minus one duplicate")
	assert.Equal(t, "1.1.1.1:80", records[0].SourceProxy, "first occurrence wins")
	assert.Equal(t, 3, summary.TotalRecords)
	assert.Equal(t, 3, summary.UniqueAdvertiserCount)
	assert.Equal(t, 2, summary.SuccessfulSessions)
	assert.Equal(t, []string{"1.1.1.1:80", "2.2.2.2:80"}, summary.ProxiesUsed)
	assert.InDelta(t, 90.0, summary.DurationSeconds, 0.001)
	assert.Equal(t, "coffee", summary.SearchTerm)
	assert.Equal(t, "FR", summary.CountryFilter)
	assert.Equal(t, "agg-test", summary.JobID)
}

func TestMerge_StatusCounts(t *testing.T) {
	started := time.Now()
	a := newAggregator(started)

	results := []models.SessionResult{
		session("1.1.1.1:80", models.StatusSuccess),
		session("2.2.2.2:80", models.StatusBlocked),
		session("3.3.3.3:80", models.StatusError),
		session("4.4.4.4:80", models.StatusTimeout, record("4.4.4.4:80", "Late", "partial record")),
		session("5.5.5.5:80", models.StatusBlocked),
	}

	records, summary := a.Merge(jobContext(started), results)

	assert.Len(t, records, 1, "partial records from timed out sessions are kept")
	assert.Equal(t, 1, summary.SuccessfulSessions)
	assert.Equal(t, 2, summary.BlockedSessions)
	assert.Equal(t, 2, summary.FailedSessions)
	assert.Equal(t, 1, summary.TimedOutSessions)
	assert.Len(t, summary.ProxiesUsed, 5)
}

func TestMerge_AdvertiserCountIgnoresCaseAndBlanks(t *testing.T) {
	started := time.Now()
	a := newAggregator(started)

	var recs []models.ExtractedRecord
	for i, adv := range []string{"Acme", "ACME ", "acme", "", "  ", "Globex"} {
		recs = append(recs, record("1.1.1.1:80", adv, fmt.Sprintf("body %d", i)))
	}

	_, summary := a.Merge(jobContext(started), []models.SessionResult{session("1.1.1.1:80", models.StatusSuccess, recs...)})

	assert.Equal(t, 6, summary.TotalRecords)
	assert.Equal(t, 2, summary.UniqueAdvertiserCount)
}

func TestMerge_DedupKeysUnique(t *testing.T) {
	started := time.Now()
	a := newAggregator(started)

	var results []models.SessionResult
	for s := 0; s < 4; s++ {
		var recs []models.ExtractedRecord
		for i := 0; i < 10; i++ {
			// sessions overlap on even record numbers
			text := fmt.Sprintf("session %d record %d", s, i)
			if i%2 == 0 {
				text = fmt.Sprintf("shared record %d", i)
			}
			recs = append(recs, record(fmt.Sprintf("10.0.0.%d:80", s), "adv", text))
		}
		results = append(results, session(fmt.Sprintf("10.0.0.%d:80", s), models.StatusSuccess, recs...))
	}

	records, _ := a.Merge(jobContext(started), results)

	keys := make(map[string]bool)
	for _, r := range records {
		assert.False(t, keys[r.DedupKey])
		keys[r.DedupKey] = true
	}
	assert.Len(t, records, 5+4*5)
}

func TestMerge_Empty(t *testing.T) {
	started := time.Now()
	records, summary := newAggregator(started).Merge(jobContext(started), nil)

	assert.Empty(t, records)
	assert.Equal(t, 0, summary.TotalRecords)
	assert.NotNil(t, summary.ProxiesUsed)
}
