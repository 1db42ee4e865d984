// Package transcript defines the shared conversation log: the Message
// record, the conversation metadata bag, and the Store contract that both
// the file-backed and networked backends implement.
package transcript

import (
	"strings"
	"time"
	"unicode"

	apperrors "github.com/loopwire/duet/pkg/errors"
)

// DefaultMaxMessageLength is the sanitization cap applied when the caller
// does not configure MAX_MESSAGE_LENGTH.
const DefaultMaxMessageLength = 100000

// Well-known metadata keys. Values beyond these are opaque to the store.
const (
	MetaTokens          = "tokens"
	MetaModel           = "model"
	MetaTurn            = "turn"
	MetaResponseTimeMs  = "response_time_ms"
	MetaFingerprint     = "fingerprint"
	MetaSeed            = "seed"
)

// Message is one entry in the append-only transcript.
type Message struct {
	ID        int64
	Sender    string
	Content   string
	Timestamp time.Time
	Metadata  map[string]interface{}
}

// NormalizeSender trims whitespace and upper-cases the first rune, per the
// §3 sender normalization rule.
func NormalizeSender(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	runes := []rune(trimmed)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

// ValidateContent checks the 1..maxLen octet bound required of every
// stored message body. maxLen <= 0 falls back to DefaultMaxMessageLength.
func ValidateContent(content string, maxLen int) error {
	if maxLen <= 0 {
		maxLen = DefaultMaxMessageLength
	}
	n := len(content)
	if n < 1 {
		return apperrors.NewInvalidInput("message content must not be empty")
	}
	if n > maxLen {
		return apperrors.NewInvalidInput("message content exceeds maximum length")
	}
	return nil
}

// TokensOf reads the well-known "tokens" metadata key, returning 0 if
// absent or not a numeric type the store recognizes.
func TokensOf(metadata map[string]interface{}) int64 {
	if metadata == nil {
		return 0
	}
	switch v := metadata[MetaTokens].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}
