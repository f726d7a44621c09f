package broker

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Validation and terminal-state errors surfaced to callers. These never
// trigger the retry driver.
var (
	// ErrSymbolUnavailable means the symbol mapper has no broker symbol for
	// the requested universal symbol.
	ErrSymbolUnavailable = errors.New("symbol unavailable on broker")
	// ErrInvalidVolume means the requested volume is below the broker's
	// minimum lot of 0.01.
	ErrInvalidVolume = errors.New("invalid volume: below 0.01 lot minimum")
	// ErrPositionAlreadyClosed means the ticket is no longer in the bridge's
	// open-positions list, or the bridge rejected the close as invalid.
	ErrPositionAlreadyClosed = errors.New("position already closed")
	// ErrBridgeUnavailable means the bridge could not be reached after the
	// retry budget was exhausted.
	ErrBridgeUnavailable = errors.New("mt4 bridge unavailable")
)

// MT4 broker error codes that matter to the retry matrix.
const (
	// CodeTradeContextBusy is MT4's "trade context busy"; the terminal is
	// serializing trade requests and a bounded wait clears it.
	CodeTradeContextBusy = 146
	// CodeInvalidTicket is returned for close/modify against a ticket the
	// terminal no longer holds.
	CodeInvalidTicket = 4108
)

// retryableCodes are transient terminal-side failures: 4 trade server busy,
// 6 no connection, 8 too frequent requests, 129 invalid price, 136 off
// quotes, 137 broker busy, 146 trade context busy.
var retryableCodes = map[int]struct{}{
	4: {}, 6: {}, 8: {}, 129: {}, 136: {}, 137: {}, 146: {},
}

// Error is a broker-level failure carrying the MT4 error code parsed out of
// the bridge's error string. Code is 0 when the bridge gave no code.
type Error struct {
	Op      string
	Code    int
	Message string
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: %s (error code: %d)", e.Op, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Retryable reports whether the failure is in the transient set.
func (e *Error) Retryable() bool {
	_, ok := retryableCodes[e.Code]
	return ok
}

// Fatal reports whether retrying is pointless: the ticket is gone or the
// bridge says the position is already closed.
func (e *Error) Fatal() bool {
	if e.Code == CodeInvalidTicket {
		return true
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "invalid ticket") || strings.Contains(msg, "already closed")
}

var errCodePattern = regexp.MustCompile(`error code:\s*(\d+)`)

// ParseErrorCode extracts an MT4 error code from a bridge error string.
// Returns 0 when no code is present.
func ParseErrorCode(s string) int {
	m := errCodePattern.FindStringSubmatch(s)
	if len(m) != 2 {
		return 0
	}
	code, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return code
}

// newBridgeError wraps a bridge error string into an Error with its parsed code.
func newBridgeError(op, message string) *Error {
	return &Error{Op: op, Code: ParseErrorCode(message), Message: message}
}

// IsAlreadyClosed reports whether err (anywhere in its chain) indicates the
// position no longer exists on the terminal.
func IsAlreadyClosed(err error) bool {
	if errors.Is(err, ErrPositionAlreadyClosed) {
		return true
	}
	var be *Error
	return errors.As(err, &be) && be.Fatal()
}
