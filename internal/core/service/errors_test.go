package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/rl1809/cafe-order/internal/port"
)

func TestIsDefinitive(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"order not found", port.ErrOrderNotFound, true},
		{"unauthenticated", fmt.Errorf("%w: token expired", port.ErrUnauthenticated), true},
		{"rejected", fmt.Errorf("%w: status 400", port.ErrRejected), true},
		{"unavailable", fmt.Errorf("%w: status 503", port.ErrUnavailable), false},
		{"malformed response", fmt.Errorf("%w: missing status", port.ErrMalformedResponse), false},
		{"deadline", context.DeadlineExceeded, false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDefinitive(tt.err); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
