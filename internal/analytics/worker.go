package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/clicklens/clicklens/internal/metrics"
	"github.com/clicklens/clicklens/internal/model"
)

const (
	// ConsumerGroup is the Redis consumer group name.
	ConsumerGroup = "analytics_workers"

	// DefaultBatchSize is the max hits per batch.
	DefaultBatchSize = 100

	// DefaultConcurrency is the number of hits tracked in parallel.
	DefaultConcurrency = 8

	// DefaultBlockTimeout is how long to block waiting for messages.
	DefaultBlockTimeout = 5 * time.Second

	// DefaultClaimInterval is how often to scan pending messages.
	DefaultClaimInterval = 10 * time.Second

	// DefaultClaimIdle is the idle time before reclaiming pending messages.
	DefaultClaimIdle = 30 * time.Second

	// DefaultMetricsInterval is how often to refresh queue depth metrics.
	DefaultMetricsInterval = 5 * time.Second
)

// HitProcessor turns one hit into a recorded click.
type HitProcessor interface {
	Track(ctx context.Context, hit Hit) (*model.ClickEvent, error)
}

// Worker consumes click hits from the Redis stream and records them.
type Worker struct {
	redis           *redis.Client
	processor       HitProcessor
	logger          *slog.Logger
	metrics         metrics.Recorder
	consumerID      string
	batchSize       int
	concurrency     int
	blockTimeout    time.Duration
	claimInterval   time.Duration
	claimIdle       time.Duration
	metricsInterval time.Duration
	claimStartID    string
	lastClaim       time.Time
	lastMetrics     time.Time

	started  bool
	draining bool
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex
}

// NewWorker creates a new analytics worker.
func NewWorker(client *redis.Client, processor HitProcessor, logger *slog.Logger, consumerID string, recorder metrics.Recorder) *Worker {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Worker{
		redis:           client,
		processor:       processor,
		logger:          logger.With("component", "analytics.worker", "consumer_id", consumerID),
		metrics:         recorder,
		consumerID:      consumerID,
		batchSize:       DefaultBatchSize,
		concurrency:     DefaultConcurrency,
		blockTimeout:    DefaultBlockTimeout,
		claimInterval:   DefaultClaimInterval,
		claimIdle:       DefaultClaimIdle,
		metricsInterval: DefaultMetricsInterval,
		claimStartID:    "0-0",
	}
}

// Run starts the worker loop. Blocks until context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return errors.New("worker already started")
	}
	w.started = true
	w.done = make(chan struct{})
	ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	defer close(w.done)

	if err := w.ensureConsumerGroup(ctx); err != nil {
		return fmt.Errorf("ensure consumer group: %w", err)
	}

	w.logger.Info("analytics worker started")

	for {
		w.mu.Lock()
		draining := w.draining
		w.mu.Unlock()

		if draining {
			w.logger.Info("analytics worker draining, stopping")
			return nil
		}

		select {
		case <-ctx.Done():
			w.logger.Info("analytics worker stopping")
			return ctx.Err()
		default:
			if err := w.processOnce(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				w.logger.Error("process error", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

// Shutdown gracefully stops the worker, completing any in-flight batch.
// It implements server.ShutdownFunc for integration with graceful shutdown.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil
	}
	w.draining = true
	cancel := w.cancel
	done := w.done
	w.mu.Unlock()

	w.logger.Info("analytics worker shutdown initiated")

	if cancel != nil {
		cancel()
	}

	if done != nil {
		select {
		case <-done:
			w.logger.Info("analytics worker shutdown complete")
			return nil
		case <-ctx.Done():
			w.logger.Warn("analytics worker shutdown timed out")
			return ctx.Err()
		}
	}
	return nil
}

// ensureConsumerGroup creates the consumer group if it doesn't exist.
func (w *Worker) ensureConsumerGroup(ctx context.Context) error {
	err := w.redis.XGroupCreateMkStream(ctx, StreamKey, ConsumerGroup, "0").Err()
	if err != nil && !isConsumerGroupExistsError(err) {
		return err
	}
	return nil
}

// processOnce reads and processes a single batch.
func (w *Worker) processOnce(ctx context.Context) error {
	w.maybeUpdateQueueDepth(ctx)

	claimed, err := w.maybeClaimPending(ctx)
	if err != nil {
		w.logger.Warn("failed to claim pending messages", "error", err)
	}

	messages := claimed
	if len(messages) == 0 {
		messages, err = w.readBatch(ctx)
		if err != nil {
			return err
		}
	}

	if len(messages) == 0 {
		return nil
	}

	hits, poisonIDs := w.parseMessages(ctx, messages)
	// Poison messages are already in the dead-letter stream.
	if err := w.ackMessages(ctx, poisonIDs); err != nil {
		return err
	}
	if len(hits) == 0 {
		return nil
	}

	return w.ackMessages(ctx, w.processBatch(ctx, hits))
}

type streamHit struct {
	messageID string
	hit       Hit
}

// maybeClaimPending checks for stuck pending messages and reclaims them.
func (w *Worker) maybeClaimPending(ctx context.Context) ([]redis.XMessage, error) {
	if w.claimInterval <= 0 || w.claimIdle <= 0 {
		return nil, nil
	}
	if !w.lastClaim.IsZero() && time.Since(w.lastClaim) < w.claimInterval {
		return nil, nil
	}

	w.lastClaim = time.Now()
	messages, start, err := w.redis.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   StreamKey,
		Group:    ConsumerGroup,
		Consumer: w.consumerID,
		MinIdle:  w.claimIdle,
		Start:    w.claimStartID,
		Count:    int64(w.batchSize),
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}
	if start != "" {
		w.claimStartID = start
	}
	return messages, nil
}

func (w *Worker) maybeUpdateQueueDepth(ctx context.Context) {
	if w.metricsInterval <= 0 {
		return
	}
	if !w.lastMetrics.IsZero() && time.Since(w.lastMetrics) < w.metricsInterval {
		return
	}
	w.lastMetrics = time.Now()

	groups, err := w.redis.XInfoGroups(ctx, StreamKey).Result()
	if err != nil && err != redis.Nil {
		w.logger.Warn("failed to read stream group info", "error", err)
		return
	}
	for _, group := range groups {
		if group.Name == ConsumerGroup {
			w.metrics.SetAnalyticsQueueDepth(group.Pending + group.Lag)
			return
		}
	}
}

// SetBatchSize overrides the default batch size.
func (w *Worker) SetBatchSize(size int) {
	if size > 0 {
		w.batchSize = size
	}
}

// SetConcurrency overrides the number of hits tracked in parallel.
func (w *Worker) SetConcurrency(n int) {
	if n > 0 {
		w.concurrency = n
	}
}

// SetBlockTimeout overrides the default blocking timeout.
func (w *Worker) SetBlockTimeout(timeout time.Duration) {
	if timeout > 0 {
		w.blockTimeout = timeout
	}
}

// SetClaimInterval overrides the default pending-claim interval.
func (w *Worker) SetClaimInterval(interval time.Duration) {
	if interval > 0 {
		w.claimInterval = interval
	}
}

// SetClaimIdle overrides the default pending idle threshold.
func (w *Worker) SetClaimIdle(idle time.Duration) {
	if idle > 0 {
		w.claimIdle = idle
	}
}

// readBatch reads messages from the stream using XREADGROUP.
func (w *Worker) readBatch(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := w.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    ConsumerGroup,
		Consumer: w.consumerID,
		Streams:  []string{StreamKey, ">"},
		Count:    int64(w.batchSize),
		Block:    w.blockTimeout,
	}).Result()

	if err == redis.Nil || len(streams) == 0 {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}

	return streams[0].Messages, nil
}

// parseMessages converts stream messages to hits. Malformed or invalid
// messages are moved to the dead-letter queue and returned as poison IDs.
func (w *Worker) parseMessages(ctx context.Context, messages []redis.XMessage) ([]streamHit, []string) {
	hits := make([]streamHit, 0, len(messages))
	var poisonIDs []string

	for _, msg := range messages {
		hit, reason, err := decodeMessage(msg)
		if err != nil {
			w.deadLetterMessage(ctx, msg, reason, err.Error())
			poisonIDs = append(poisonIDs, msg.ID)
			continue
		}
		hits = append(hits, streamHit{messageID: msg.ID, hit: hit})
	}

	return hits, poisonIDs
}

func decodeMessage(msg redis.XMessage) (Hit, string, error) {
	payload, ok := msg.Values["payload"].(string)
	if !ok {
		return Hit{}, ReasonInvalidFormat, errors.New("payload field missing or not a string")
	}

	var hitPayload HitPayload
	if err := json.Unmarshal([]byte(payload), &hitPayload); err != nil {
		return Hit{}, ReasonUnmarshalError, err
	}
	if err := ValidateHitPayload(hitPayload); err != nil {
		return Hit{}, ReasonValidationError, err
	}

	// Stream ID = idempotency key.
	return hitPayload.Hit(msg.ID), "", nil
}

// deadLetterMessage moves a poison message to the dead-letter queue.
func (w *Worker) deadLetterMessage(ctx context.Context, msg redis.XMessage, reason, detail string) {
	w.logger.Warn("dead-lettering poison message",
		"message_id", msg.ID,
		"reason", reason,
		"detail", detail,
	)

	err := writeDeadLetter(ctx, w.redis, map[string]interface{}{
		"original_id":     msg.ID,
		"original_stream": StreamKey,
		"reason":          reason,
		"detail":          detail,
		"payload":         msg.Values["payload"],
	})
	if err != nil {
		w.logger.Error("failed to write to dead-letter queue",
			"message_id", msg.ID,
			"error", err,
		)
	}

	w.metrics.IncAnalyticsEventProcessed(StatusDeadLettered)
}

// processBatch tracks every hit and returns the IDs of messages that are
// durably recorded, either in the click log or the dead-letter stream.
// Anything else stays pending and is reclaimed later.
func (w *Worker) processBatch(ctx context.Context, hits []streamHit) []string {
	start := time.Now()

	var (
		mu    sync.Mutex
		acked = make([]string, 0, len(hits))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)

	for _, sh := range hits {
		sh := sh
		g.Go(func() error {
			_, err := w.processor.Track(gctx, sh.hit)
			switch {
			case err == nil:
				w.metrics.IncAnalyticsEventProcessed(StatusSuccess)
				w.metrics.ObserveAnalyticsIngestLag(time.Since(sh.hit.OccurredAt))
			case errors.Is(err, ErrDeadLettered):
				w.metrics.IncAnalyticsEventProcessed(StatusDeadLettered)
			default:
				w.metrics.IncAnalyticsEventProcessed(StatusFailed)
				w.logger.Error("click hit not recorded, leaving pending",
					"message_id", sh.messageID,
					"link_id", sh.hit.LinkID,
					"error", err,
				)
				return nil
			}

			mu.Lock()
			acked = append(acked, sh.messageID)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	w.logger.Info("batch processed",
		"hits_count", len(hits),
		"recorded_count", len(acked),
		"duration_ms", float64(time.Since(start).Microseconds())/1000,
	)
	w.metrics.ObserveAnalyticsBatchSize(len(hits))
	w.metrics.ObserveAnalyticsBatchDuration(time.Since(start))

	return acked
}

// ackMessages acknowledges processed messages.
func (w *Worker) ackMessages(ctx context.Context, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	_, err := w.redis.XAck(ctx, StreamKey, ConsumerGroup, messageIDs...).Result()
	if err != nil {
		return fmt.Errorf("xack: %w", err)
	}

	return nil
}

// isConsumerGroupExistsError checks if the error is "BUSYGROUP" (group exists).
func isConsumerGroupExistsError(err error) bool {
	return err != nil && (err.Error() == "BUSYGROUP Consumer Group name already exists" ||
		err.Error() == "BUSYGROUP")
}
