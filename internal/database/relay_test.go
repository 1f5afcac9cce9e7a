package database

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/adlibrary-harvester/internal/events"
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
		cmd.SetVal("1234567890-0")
	}
	return cmd
}

type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*OutboxEvent), args.Error(1)
}

func (m *MockOutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, err error) error {
	args := m.Called(ctx, id, err)
	return args.Error(0)
}

func runEvent(t *testing.T, jobID string) *OutboxEvent {
	t.Helper()
	summary := models.JobSummary{JobID: jobID, SearchTerm: "shoes", TotalRecords: 3}
	event, err := NewRunCompletedEvent(events.NewRunCompleted(nil, summary), "")
	require.NoError(t, err)
	event.ID = uuid.New()
	return event
}

func TestNewRunCompletedEvent(t *testing.T) {
	event := runEvent(t, "job-1")

	assert.Equal(t, "scrape_run", event.AggregateType)
	assert.Equal(t, "job-1", event.AggregateID)
	assert.Equal(t, string(events.EventTypeRunCompleted), event.EventType)
	assert.Equal(t, events.DefaultStream, event.TargetStream)

	var payload events.RunCompletedPayload
	require.NoError(t, json.Unmarshal(event.Payload, &payload))
	assert.Equal(t, 3, payload.TotalRecords)
}

func TestRelay_ProcessEvents(t *testing.T) {
	ctx := context.Background()
	logger := slog.Default()

	t.Run("publishes pending events and marks them processed", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)

		relay := &Relay{redis: mockRedis, outbox: mockOutbox, logger: logger, batchSize: 10}

		pending := []*OutboxEvent{runEvent(t, "job-1"), runEvent(t, "job-2")}
		mockOutbox.On("GetPending", ctx, 10).Return(pending, nil)

		for _, event := range pending {
			event := event
			mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
				values, ok := args.Values.(map[string]interface{})
				return ok &&
					args.Stream == event.TargetStream &&
					values["type"] == event.EventType &&
					values["aggregate_id"] == event.AggregateID &&
					values["outbox_id"] == event.ID.String()
			})).Return(nil)
			mockOutbox.On("MarkProcessed", ctx, event.ID).Return(nil)
		}

		require.NoError(t, relay.processEvents(ctx))

		mockRedis.AssertExpectations(t)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("marks event failed when redis rejects it", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)

		relay := &Relay{redis: mockRedis, outbox: mockOutbox, logger: logger, batchSize: 10}

		event := runEvent(t, "job-1")
		mockOutbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{event}, nil)
		mockRedis.On("XAdd", ctx, mock.Anything).Return(errors.New("redis connection failed"))
		mockOutbox.On("MarkFailed", ctx, event.ID, mock.MatchedBy(func(err error) bool {
			return err.Error() == "failed to publish to redis: redis connection failed"
		})).Return(nil)

		assert.NoError(t, relay.processEvents(ctx))

		mockRedis.AssertExpectations(t)
		mockOutbox.AssertExpectations(t)
		mockOutbox.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything)
	})

	t.Run("marks malformed payload failed without publishing", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)

		relay := &Relay{redis: mockRedis, outbox: mockOutbox, logger: logger, batchSize: 10}

		event := &OutboxEvent{
			ID:           uuid.New(),
			AggregateID:  "job-1",
			EventType:    string(events.EventTypeRunCompleted),
			Payload:      json.RawMessage(`{not json`),
			TargetStream: events.DefaultStream,
		}
		mockOutbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{event}, nil)
		mockOutbox.On("MarkFailed", ctx, event.ID, mock.Anything).Return(nil)

		assert.NoError(t, relay.processEvents(ctx))

		mockRedis.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("returns error when outbox cannot be read", func(t *testing.T) {
		mockOutbox := new(MockOutboxRepository)
		relay := &Relay{redis: new(MockRedisClient), outbox: mockOutbox, logger: logger, batchSize: 10}

		mockOutbox.On("GetPending", ctx, 10).Return(nil, errors.New("database error"))

		err := relay.processEvents(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to get pending events")
	})
}

func TestRelay_StartStopsOnCancel(t *testing.T) {
	mockOutbox := new(MockOutboxRepository)
	mockOutbox.On("GetPending", mock.Anything, 5).Return([]*OutboxEvent{}, nil)

	relay := &Relay{
		redis:     new(MockRedisClient),
		outbox:    mockOutbox,
		logger:    slog.Default(),
		interval:  10 * time.Millisecond,
		batchSize: 5,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := relay.Start(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	mockOutbox.AssertCalled(t, "GetPending", mock.Anything, 5)
}
