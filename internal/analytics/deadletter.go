package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/clicklens/clicklens/internal/model"
)

const (
	// DeadLetterStreamKey is the Redis stream for clicks that could not be
	// recorded and for poison stream messages.
	DeadLetterStreamKey = "stream:click_events:dlq"

	// MaxDeadLetterLen is the approximate max length of the dead-letter stream.
	MaxDeadLetterLen = 10000

	// DeadLetterTimeout bounds one dead-letter write.
	DeadLetterTimeout = time.Second
)

// Dead-letter reasons.
const (
	ReasonAppendFailed    = "append_failed"
	ReasonInvalidFormat   = "invalid_format"
	ReasonUnmarshalError  = "unmarshal_error"
	ReasonValidationError = "validation_error"
)

// RedisDeadLetter writes unrecorded clicks to the dead-letter stream.
type RedisDeadLetter struct {
	redis *redis.Client
}

// NewRedisDeadLetter creates a RedisDeadLetter.
func NewRedisDeadLetter(client *redis.Client) *RedisDeadLetter {
	return &RedisDeadLetter{redis: client}
}

// DeadLetterEvent stores the fully enriched event with the append error so
// it can be replayed without re-running enrichment.
func (d *RedisDeadLetter) DeadLetterEvent(ctx context.Context, event *model.ClickEvent, cause error) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	return writeDeadLetter(ctx, d.redis, map[string]interface{}{
		"click_id": event.ID,
		"reason":   ReasonAppendFailed,
		"detail":   detail,
		"event":    string(data),
	})
}

func writeDeadLetter(ctx context.Context, client *redis.Client, values map[string]interface{}) error {
	values["dead_lettered_at"] = time.Now().UTC().Format(time.RFC3339)

	_, err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterStreamKey,
		MaxLen: MaxDeadLetterLen,
		Approx: true,
		ID:     "*",
		Values: values,
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd dead letter: %w", err)
	}
	return nil
}
