package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-intel/internal/config"
	"github.com/sells-group/prospect-intel/internal/model"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2,
	}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit", NewTransientError(errors.New("overloaded"), 503), true},
		{"wrapped", fmt.Errorf("fetch: %w", NewTransientError(errors.New("rate limited"), 429)), true},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"dns timeout", &net.DNSError{IsTimeout: true, Err: "timeout"}, true},
		{"pattern", errors.New("net/http: TLS handshake timeout"), true},
		{"plain", errors.New("invalid input"), false},
		{"cancelled", fmt.Errorf("fetch: %w", context.Canceled), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	t.Parallel()
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), code)
	}
	for _, code := range []int{200, 301, 400, 403, 404, 501} {
		assert.False(t, IsTransientHTTPStatus(code), code)
	}
}

func TestDo_RetriesTransient(t *testing.T) {
	t.Parallel()
	var calls int
	var retried []int
	cfg := fastRetry(3)
	cfg.OnRetry = func(attempt int, _ error) { retried = append(retried, attempt) }

	err := Do(context.Background(), cfg, func(context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("temporary"), 503)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_StopsOnPermanent(t *testing.T) {
	t.Parallel()
	var calls int
	err := Do(context.Background(), fastRetry(5), func(context.Context) error {
		calls++
		return errors.New("404 not found")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoVal_ExhaustsAttempts(t *testing.T) {
	t.Parallel()
	var calls int
	v, err := DoVal(context.Background(), fastRetry(3), func(context.Context) (int, error) {
		calls++
		return 7, NewTransientError(errors.New("always"), 500)
	})
	require.Error(t, err)
	assert.Zero(t, v)
	assert.Equal(t, 3, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	err := Do(ctx, RetryConfig{MaxAttempts: 10, InitialBackoff: time.Hour}, func(context.Context) error {
		calls++
		cancel()
		return NewTransientError(errors.New("temporary"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestBackoff_Capped(t *testing.T) {
	t.Parallel()
	cfg := applyDefaults(RetryConfig{InitialBackoff: time.Second, MaxBackoff: 3 * time.Second, Multiplier: 2})
	cfg.JitterFraction = 0
	assert.Equal(t, time.Second, backoff(0, cfg))
	assert.Equal(t, 2*time.Second, backoff(1, cfg))
	assert.Equal(t, 3*time.Second, backoff(5, cfg))
}

func TestHostBreakers_OpensPerHost(t *testing.T) {
	t.Parallel()
	hb := NewHostBreakers(BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute})
	ctx := context.Background()
	fail := func(context.Context) (string, error) {
		return "", NewTransientError(errors.New("503"), 503)
	}

	for range 2 {
		_, err := Execute(ctx, hb, "down.example", fail)
		require.Error(t, err)
	}

	var called bool
	_, err := Execute(ctx, hb, "down.example", func(context.Context) (string, error) {
		called = true
		return "ok", nil
	})
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	got, err := Execute(ctx, hb, "up.example", func(context.Context) (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", got)

	states := hb.States()
	assert.Equal(t, "open", states["down.example"])
	assert.Equal(t, "closed", states["up.example"])
}

func TestHostBreakers_PermanentErrorsDoNotTrip(t *testing.T) {
	t.Parallel()
	hb := NewHostBreakers(BreakerConfig{FailureThreshold: 1})
	ctx := context.Background()

	for range 3 {
		_, err := Execute(ctx, hb, "a.example", func(context.Context) (int, error) {
			return 0, errors.New("http 404")
		})
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrCircuitOpen)
	}
	assert.Equal(t, "closed", hb.States()["a.example"])
}

func TestHostBreakers_GetIsShared(t *testing.T) {
	t.Parallel()
	hb := NewHostBreakers(DefaultBreakerConfig())
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hb.Get("a.example")
		}()
	}
	wg.Wait()
	assert.Same(t, hb.Get("a.example"), hb.Get("a.example"))
	assert.Len(t, hb.States(), 1)
}

func TestFromFetchConfig(t *testing.T) {
	t.Parallel()
	retry, breaker := FromFetchConfig(config.FetchConfig{MaxRetries: 2, TimeoutSecs: 10, BreakerFailures: 7})
	assert.Equal(t, 3, retry.MaxAttempts)
	assert.Equal(t, 10*time.Second, retry.MaxBackoff)
	assert.Equal(t, 7, breaker.FailureThreshold)

	retry, _ = FromFetchConfig(config.FetchConfig{})
	assert.Equal(t, 1, retry.MaxAttempts)
}

func TestFailureLog(t *testing.T) {
	t.Parallel()
	var log FailureLog
	log.Record(2, "B", "scrape", model.ErrKindFetch, NewTransientError(errors.New("503"), 503))
	log.Record(1, "A", "probe", model.ErrKindTool, errors.New("nmap exited 1"))
	log.Record(1, "A", "analyze", model.ErrKindStore, errors.New("constraint"))
	log.Record(3, "C", "scrape", model.ErrKindFetch, nil)

	entries := log.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, int64(1), entries[0].CompanyID)
	assert.Equal(t, "analyze", entries[0].Stage)
	assert.Equal(t, "probe", entries[1].Stage)
	assert.Equal(t, []int64{2}, log.Retryable())
	assert.Equal(t, 3, log.Len())
}
