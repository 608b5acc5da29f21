package terminal

import (
	"golang.org/x/time/rate"
)

const (
	// MaxInputMessageSize is the largest binary input frame forwarded to the
	// exec channel. Larger frames are dropped.
	MaxInputMessageSize = 64 * 1024

	// MaxTermCols and MaxTermRows bound resize requests.
	MaxTermCols = 500
	MaxTermRows = 200

	// MessageRateLimit is the sustained number of client frames accepted per
	// second, with MessageRateBurst frames of headroom for pastes.
	MessageRateLimit = 100
	MessageRateBurst = 200

	// readLimit is the websocket read limit. It sits above
	// MaxInputMessageSize so an oversized frame is dropped rather than
	// failing the connection.
	readLimit = 1024 * 1024
)

// ClampSize bounds a terminal size. ok is false when either dimension is
// zero, in which case the size must be ignored.
func ClampSize(cols, rows uint16) (uint16, uint16, bool) {
	if cols == 0 || rows == 0 {
		return 0, 0, false
	}
	if cols > MaxTermCols {
		cols = MaxTermCols
	}
	if rows > MaxTermRows {
		rows = MaxTermRows
	}
	return cols, rows, true
}

// NewInputLimiter returns the per-connection limiter for client frames.
func NewInputLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(MessageRateLimit), MessageRateBurst)
}
