package resilience

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

func newStringGroup() *FallbackGroup[string] {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	fg.AddFallback("secondary", "secondary")
	return fg
}

func TestFallbackGroup(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		fail    map[string]bool
		want    string
		wantErr error
	}{
		{name: "primary succeeds", want: "primary"},
		{name: "failover", fail: map[string]bool{"primary": true}, want: "secondary"},
		{name: "all fail", fail: map[string]bool{"primary": true, "secondary": true}, wantErr: ErrAllFailed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			fg := newStringGroup()
			got, err := ExecuteWithResult(context.Background(), fg, func(v string) (string, error) {
				if tc.fail[v] {
					return "", errTest
				}
				return v, nil
			})
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) || !errors.Is(err, errTest) {
					t.Fatalf("err = %v, want %v wrapping errTest", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFallbackGroup_SkipsOpenPrimary(t *testing.T) {
	t.Parallel()

	fg := newStringGroup()
	var calls []string
	fn := func(v string) (string, error) {
		calls = append(calls, v)
		if v == "primary" {
			return "", errTest
		}
		return v, nil
	}

	for range 2 {
		if _, err := ExecuteWithResult(context.Background(), fg, fn); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	want := []string{"primary", "secondary", "secondary"}
	if !reflect.DeepEqual(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestFallbackGroup_StopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	fg := newStringGroup()
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	_, err := ExecuteWithResult(ctx, fg, func(string) (string, error) {
		calls++
		cancel()
		return "", context.Canceled
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestFallbackGroup_Names(t *testing.T) {
	t.Parallel()

	fg := newStringGroup()
	if got := fg.Names(); !reflect.DeepEqual(got, []string{"primary", "secondary"}) {
		t.Errorf("Names = %v", got)
	}
	if fg.Primary() != "primary" {
		t.Errorf("Primary = %q", fg.Primary())
	}
}
