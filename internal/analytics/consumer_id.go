package analytics

import (
	"os"
	"strconv"
	"strings"

	"github.com/oklog/ulid/v2"
)

// NewConsumerID names this process within the consumer group:
// host, pid and a ULID so restarts never reuse a name that still owns
// pending entries.
func NewConsumerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "clicklens"
	}
	host = strings.Map(func(r rune) rune {
		if r == ' ' || r == ':' {
			return '_'
		}
		return r
	}, host)
	return host + "-" + strconv.Itoa(os.Getpid()) + "-" + strings.ToLower(ulid.Make().String())
}
