package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/adlibrary-harvester/internal/models"
	"github.com/redis/go-redis/v9"
)

type EventType string

const (
	EventTypeRunCompleted EventType = "SCRAPE_RUN_COMPLETED"

	DefaultStream = "stream:scrape_runs"
	Source        = "adlibrary-harvester"
)

// RunCompletedPayload announces a finished harvesting job.
type RunCompletedPayload struct {
	EventID            string    `json:"event_id"`
	EventType          string    `json:"event_type"`
	Timestamp          time.Time `json:"timestamp"`
	JobID              string    `json:"job_id"`
	SearchTerm         string    `json:"search_term"`
	CountryFilter      string    `json:"country_filter"`
	TotalRecords       int       `json:"total_records"`
	UniqueAdvertisers  int       `json:"unique_advertisers"`
	SuccessfulSessions int       `json:"successful_sessions"`
	FailedSessions     int       `json:"failed_sessions"`
	BlockedSessions    int       `json:"blocked_sessions"`
	DurationSeconds    float64   `json:"duration_seconds"`
	Advertisers        []string  `json:"advertisers,omitempty"`
	Source             string    `json:"source"`
}

// NewRunCompleted builds the payload for summary. Advertisers lists the
// distinct advertiser names in first-seen order.
func NewRunCompleted(records []models.ExtractedRecord, summary models.JobSummary) *RunCompletedPayload {
	seen := make(map[string]struct{})
	var advertisers []string
	for _, r := range records {
		name := r.Field(models.FieldAdvertiser)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		advertisers = append(advertisers, name)
	}

	return &RunCompletedPayload{
		EventID:            uuid.New().String(),
		EventType:          string(EventTypeRunCompleted),
		Timestamp:          time.Now(),
		JobID:              summary.JobID,
		SearchTerm:         summary.SearchTerm,
		CountryFilter:      summary.CountryFilter,
		TotalRecords:       summary.TotalRecords,
		UniqueAdvertisers:  summary.UniqueAdvertiserCount,
		SuccessfulSessions: summary.SuccessfulSessions,
		FailedSessions:     summary.FailedSessions,
		BlockedSessions:    summary.BlockedSessions,
		DurationSeconds:    summary.DurationSeconds,
		Advertisers:        advertisers,
		Source:             Source,
	}
}

// RedisClient is the subset of the go-redis client used here.
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

// StreamValues renders a payload as stream entry fields.
func StreamValues(payload *RunCompletedPayload) (map[string]interface{}, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return map[string]interface{}{
		"data":         string(data),
		"type":         payload.EventType,
		"timestamp":    fmt.Sprintf("%d", payload.Timestamp.UnixNano()),
		"event_id":     payload.EventID,
		"aggregate_id": payload.JobID,
		"source":       payload.Source,
	}, nil
}

// StreamPublisher appends run events to a Redis stream. It doubles as the
// "redis" persistence sink.
type StreamPublisher struct {
	redis  RedisClient
	stream string
	maxLen int64
	logger *slog.Logger
}

func NewStreamPublisher(client RedisClient, stream string, logger *slog.Logger) *StreamPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	return &StreamPublisher{
		redis:  client,
		stream: stream,
		maxLen: 10000,
		logger: logger.With("component", "event_publisher"),
	}
}

func (p *StreamPublisher) Name() string { return "redis" }

func (p *StreamPublisher) Publish(ctx context.Context, payload *RunCompletedPayload) (string, error) {
	values, err := StreamValues(payload)
	if err != nil {
		return "", err
	}

	id, err := p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish to redis: %w", err)
	}

	p.logger.Info("event published",
		"type", payload.EventType,
		"event_id", payload.EventID,
		"job_id", payload.JobID,
		"stream", p.stream,
		"stream_id", id)

	return id, nil
}

func (p *StreamPublisher) Write(ctx context.Context, records []models.ExtractedRecord, summary models.JobSummary) (string, error) {
	id, err := p.Publish(ctx, NewRunCompleted(records, summary))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("redis://%s/%s", p.stream, id), nil
}
