package session

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// NewToken returns a random identifier suffixed with the issue time in
// base 36. Tokens are opaque; nothing parses them.
func NewToken(now time.Time) string {
	return uuid.NewString() + "-" + strconv.FormatInt(now.UnixNano(), 36)
}
