package analytics

import "fmt"

const (
	maxLinkIDLength = 64
	maxIPLength     = 64
)

// ValidateHitPayload validates a payload read from the stream.
func ValidateHitPayload(payload HitPayload) error {
	if payload.LinkID == "" {
		return fmt.Errorf("link_id is required")
	}
	if len(payload.LinkID) > maxLinkIDLength {
		return fmt.Errorf("link_id too long")
	}
	if payload.OccurredAt <= 0 {
		return fmt.Errorf("occurred_at must be set")
	}
	if payload.LinkCreatedAt < 0 {
		return fmt.Errorf("link_created_at must not be negative")
	}
	if len(payload.SourceIP) > maxIPLength {
		return fmt.Errorf("source_ip too long")
	}
	if len(payload.Referer) > MaxMetaLength {
		return fmt.Errorf("referer too long")
	}
	if len(payload.UserAgent) > MaxMetaLength {
		return fmt.Errorf("user_agent too long")
	}
	return nil
}
