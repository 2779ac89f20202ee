package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/clicklens/clicklens/internal/metrics"
)

const (
	// StreamKey is the Redis stream for raw click hits.
	StreamKey = "stream:click_events"

	// MaxStreamLen is the approximate max length of the stream.
	MaxStreamLen = 100000

	// PublishTimeout is the max time to wait for Redis publish.
	PublishTimeout = 100 * time.Millisecond
)

// Publisher enqueues click hits to the Redis stream for the worker.
type Publisher struct {
	redis   *redis.Client
	logger  *slog.Logger
	metrics metrics.Recorder

	inflight sync.WaitGroup
}

// NewPublisher creates a new hit publisher.
func NewPublisher(client *redis.Client, logger *slog.Logger, recorder metrics.Recorder) *Publisher {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Publisher{
		redis:   client,
		logger:  logger.With("component", "analytics.publisher"),
		metrics: recorder,
	}
}

// Publish adds a hit to the stream synchronously and returns its stream ID.
func (p *Publisher) Publish(ctx context.Context, hit Hit) (string, error) {
	data, err := json.Marshal(NewHitPayload(hit))
	if err != nil {
		return "", fmt.Errorf("marshal hit: %w", err)
	}

	result, err := p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: MaxStreamLen,
		Approx: true, // ~MAXLEN for performance
		ID:     "*",
		Values: map[string]interface{}{
			"payload": string(data),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}

	return result, nil
}

// TrackAsync publishes without blocking the caller.
// Errors are logged but not returned (fire-and-forget).
func (p *Publisher) TrackAsync(hit Hit) {
	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()

		ctx, cancel := context.WithTimeout(context.Background(), PublishTimeout)
		defer cancel()

		streamID, err := p.Publish(ctx, hit)
		if err != nil {
			p.logger.Warn("failed to publish click hit",
				"link_id", hit.LinkID,
				"short_code", hit.ShortCode,
				"error", err,
			)
			p.metrics.IncAnalyticsEventPublished("dropped")
			return
		}

		p.logger.Debug("click hit published",
			"short_code", hit.ShortCode,
			"stream_id", streamID,
		)
		p.metrics.IncAnalyticsEventPublished("success")
	}()
}

// Shutdown waits for in-flight publishes.
func (p *Publisher) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
