package utils

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCode(t *testing.T) {
	code, err := GenerateCode(3)
	require.NoError(t, err)

	assert.Len(t, code, 6)
	assert.Equal(t, strings.ToUpper(code), code)

	for _, c := range code {
		assert.Contains(t, "0123456789ABCDEF", string(c))
	}
}

func TestGenerateTicketToken(t *testing.T) {
	token, err := GenerateTicketToken()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(token, "W-"))
	assert.Len(t, token, 8)

	// Tokens are random; a small sample should not collide.
	seen := map[string]bool{token: true}
	for i := 0; i < 50; i++ {
		next, err := GenerateTicketToken()
		require.NoError(t, err)
		assert.False(t, seen[next], "duplicate token %s", next)
		seen[next] = true
	}
}

func TestCircuitBreaker_PassesThrough(t *testing.T) {
	cb := NewCircuitBreaker("test", 10, time.Minute, 0.5)

	result, err := cb.Execute(context.Background(), func() (interface{}, error) {
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestCircuitBreaker_PropagatesErrors(t *testing.T) {
	cb := NewCircuitBreaker("test", 10, time.Minute, 0.5)
	boom := errors.New("sink unavailable")

	_, err := cb.Execute(context.Background(), func() (interface{}, error) {
		return nil, boom
	})

	assert.ErrorIs(t, err, boom)
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", 10, time.Minute, 0.5)
	boom := errors.New("sink unavailable")

	// Trip the breaker: the failure ratio only counts once the window
	// holds enough requests.
	for i := 0; i < 10; i++ {
		cb.Execute(context.Background(), func() (interface{}, error) {
			return nil, boom
		})
	}

	_, err := cb.Execute(context.Background(), func() (interface{}, error) {
		t.Fatal("request must not reach the sink while open")
		return nil, nil
	})

	require.ErrorIs(t, err, ErrBreakerOpen)
}

func TestCircuitBreaker_RecoversAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker("test", 5, 20*time.Millisecond, 0.5)
	boom := errors.New("sink unavailable")

	for i := 0; i < 5; i++ {
		cb.Execute(context.Background(), func() (interface{}, error) {
			return nil, boom
		})
	}
	_, err := cb.Execute(context.Background(), func() (interface{}, error) { return nil, nil })
	require.ErrorIs(t, err, ErrBreakerOpen)

	// After the timeout the breaker goes half-open; one success closes it.
	time.Sleep(30 * time.Millisecond)

	result, err := cb.Execute(context.Background(), func() (interface{}, error) {
		return "recovered", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", result)

	result, err = cb.Execute(context.Background(), func() (interface{}, error) {
		return "closed", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "closed", result)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("test", 5, 20*time.Millisecond, 0.5)
	boom := errors.New("sink unavailable")

	for i := 0; i < 5; i++ {
		cb.Execute(context.Background(), func() (interface{}, error) {
			return nil, boom
		})
	}
	time.Sleep(30 * time.Millisecond)

	_, err := cb.Execute(context.Background(), func() (interface{}, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	_, err = cb.Execute(context.Background(), func() (interface{}, error) {
		t.Fatal("request must not reach the sink while open")
		return nil, nil
	})
	require.ErrorIs(t, err, ErrBreakerOpen)
}
