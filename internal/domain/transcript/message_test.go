package transcript

import (
	"strings"
	"testing"

	apperrors "github.com/loopwire/duet/pkg/errors"
)

func TestNormalizeSender(t *testing.T) {
	tests := []struct{ in, want string }{
		{"anthropic", "Anthropic"},
		{"  openai  ", "Openai"},
		{"Gemini", "Gemini"},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := NormalizeSender(tt.in); got != tt.want {
			t.Errorf("NormalizeSender(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidateContent_EmptyRejected(t *testing.T) {
	err := ValidateContent("", 100)
	if !apperrors.Is(err, apperrors.CodeInvalidInput) {
		t.Fatalf("expected CodeInvalidInput, got %v", err)
	}
}

func TestValidateContent_ExactBoundarySucceeds(t *testing.T) {
	content := strings.Repeat("a", 10)
	if err := ValidateContent(content, 10); err != nil {
		t.Fatalf("expected exactly-at-cap content to succeed, got %v", err)
	}
}

func TestValidateContent_OneOverBoundaryFails(t *testing.T) {
	content := strings.Repeat("a", 11)
	err := ValidateContent(content, 10)
	if !apperrors.Is(err, apperrors.CodeInvalidInput) {
		t.Fatalf("expected CodeInvalidInput for one-byte-over content, got %v", err)
	}
}

func TestValidateContent_DefaultsWhenMaxLenNonPositive(t *testing.T) {
	content := strings.Repeat("a", DefaultMaxMessageLength)
	if err := ValidateContent(content, 0); err != nil {
		t.Fatalf("expected content at the default cap to succeed, got %v", err)
	}
	if err := ValidateContent(content+"x", -5); err == nil {
		t.Fatal("expected content over the default cap to fail when maxLen <= 0")
	}
}

func TestTokensOf(t *testing.T) {
	tests := []struct {
		name string
		meta map[string]interface{}
		want int64
	}{
		{"nil metadata", nil, 0},
		{"missing key", map[string]interface{}{"other": 1}, 0},
		{"int", map[string]interface{}{MetaTokens: 42}, 42},
		{"int64", map[string]interface{}{MetaTokens: int64(42)}, 42},
		{"float64 (json-decoded)", map[string]interface{}{MetaTokens: float64(42)}, 42},
		{"unrecognized type", map[string]interface{}{MetaTokens: "42"}, 0},
	}
	for _, tt := range tests {
		if got := TokensOf(tt.meta); got != tt.want {
			t.Errorf("%s: TokensOf() = %d, want %d", tt.name, got, tt.want)
		}
	}
}
