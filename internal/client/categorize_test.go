package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

// TestCategorizeError verifies that CategorizeError maps errors to the correct ErrorCategory
// for metrics labeling, including sentinel errors and wrapped errors.
func TestCategorizeError(t *testing.T) {
	var syntaxErr error = &json.SyntaxError{}
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ""},
		{"deadline", context.DeadlineExceeded, ErrorCategoryTimeout},
		{"canceled", context.Canceled, ErrorCategoryCanceled},
		{"wrapped deadline", fmt.Errorf("current: %w", context.DeadlineExceeded), ErrorCategoryTimeout},
		{"circuit open", fmt.Errorf("forecast: %w", ErrCircuitOpen), ErrorCategoryCircuitOpen},
		{"rate limited", ErrRateLimited, ErrorCategoryRateLimited},
		{"not found", fmt.Errorf("current: %w: HTTP 404", ErrNotFound), ErrorCategoryNotFound},
		{"bad request", ErrBadRequest, ErrorCategoryBadRequest},
		{"unavailable", fmt.Errorf("exhausted retries: %w", ErrUpstreamUnavailable), ErrorCategoryUnavailable},
		{"5xx", ErrUpstreamFailure, ErrorCategoryUpstream5xx},
		{"parsing", fmt.Errorf("parse response: %w", syntaxErr), ErrorCategoryParsing},
		{"unknown", errors.New("something else"), ErrorCategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CategorizeError(tt.err); got != tt.want {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
