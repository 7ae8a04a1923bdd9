package agent

import (
	"testing"
	"time"
)

func TestClassifyFailure(t *testing.T) {
	tests := []struct {
		errText string
		want    failureKind
	}{
		{"model endpoint status 413: request_too_large", failureOverflow},
		{"prompt is too long: 210000 tokens > 200000 maximum", failureOverflow},
		{"context length exceeded", failureOverflow},
		{"model endpoint status 413: payload too large", failureOverflow},
		{"model endpoint status 429: rate limited", failureTransient},
		{"model endpoint status 503: service unavailable", failureTransient},
		{"model endpoint status 529: overloaded", failureTransient},
		{"read tcp: connection reset by peer", failureTransient},
		{"request timeout", failureTransient},
		{"model endpoint status 400: invalid request", failureUnknown},
		{"something else entirely", failureUnknown},
	}
	for _, tt := range tests {
		if got := classifyFailure(tt.errText); got != tt.want {
			t.Errorf("classifyFailure(%q) = %v, want %v", tt.errText, got, tt.want)
		}
	}
}

func TestTransientDelayBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 15 * time.Second}, // capped
		{6, 15 * time.Second},
	}
	for _, tt := range tests {
		if got := transientDelay(tt.attempt); got != tt.want {
			t.Errorf("transientDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
