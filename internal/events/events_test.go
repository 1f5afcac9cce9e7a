package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/maltedev/adlibrary-harvester/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRedisClient struct {
	mock.Mock
}

func (m *MockRedisClient) XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd {
	mockArgs := m.Called(ctx, args)
	cmd := redis.NewStringCmd(ctx)
	if mockArgs.Get(0) != nil {
		cmd.SetErr(mockArgs.Error(0))
	} else {
		cmd.SetVal("1700000000000-0")
	}
	return cmd
}

func sample() ([]models.ExtractedRecord, models.JobSummary) {
	now := time.Now()
	records := []models.ExtractedRecord{
		models.NewExtractedRecord(map[string]string{models.FieldAdvertiser: "Acme"}, nil, "p", now, "k1"),
		models.NewExtractedRecord(map[string]string{models.FieldAdvertiser: "Globex"}, nil, "p", now, "k2"),
		models.NewExtractedRecord(map[string]string{models.FieldAdvertiser: "Acme"}, nil, "p", now, "k3"),
		models.NewExtractedRecord(map[string]string{models.FieldText: "anonymous"}, nil, "p", now, "k4"),
	}
	summary := models.JobSummary{
		JobID:                 "job-42",
		SearchTerm:            "shoes",
		TotalRecords:          4,
		UniqueAdvertiserCount: 2,
		SuccessfulSessions:    2,
		BlockedSessions:       1,
	}
	return records, summary
}

func TestNewRunCompleted(t *testing.T) {
	records, summary := sample()

	payload := NewRunCompleted(records, summary)

	assert.NotEmpty(t, payload.EventID)
	assert.Equal(t, string(EventTypeRunCompleted), payload.EventType)
	assert.Equal(t, "job-42", payload.JobID)
	assert.Equal(t, 4, payload.TotalRecords)
	assert.Equal(t, 1, payload.BlockedSessions)
	assert.Equal(t, []string{"Acme", "Globex"}, payload.Advertisers)
	assert.Equal(t, Source, payload.Source)
}

func TestStreamPublisher_Write(t *testing.T) {
	ctx := context.Background()
	records, summary := sample()

	t.Run("publishes run event to stream", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
			if args.Stream != DefaultStream {
				return false
			}
			values, ok := args.Values.(map[string]interface{})
			if !ok || values["type"] != string(EventTypeRunCompleted) || values["aggregate_id"] != "job-42" {
				return false
			}
			var payload RunCompletedPayload
			if err := json.Unmarshal([]byte(values["data"].(string)), &payload); err != nil {
				return false
			}
			return payload.TotalRecords == 4
		})).Return(nil)

		publisher := NewStreamPublisher(mockRedis, "", slog.Default())
		location, err := publisher.Write(ctx, records, summary)

		require.NoError(t, err)
		assert.Equal(t, "redis://stream:scrape_runs/1700000000000-0", location)
		assert.Equal(t, "redis", publisher.Name())
		mockRedis.AssertExpectations(t)
	})

	t.Run("returns redis errors", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockRedis.On("XAdd", ctx, mock.Anything).Return(errors.New("connection refused"))

		publisher := NewStreamPublisher(mockRedis, "stream:custom", slog.Default())
		_, err := publisher.Write(ctx, records, summary)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
		mockRedis.AssertExpectations(t)
	})
}
