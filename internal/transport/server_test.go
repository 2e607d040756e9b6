package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidgroves/dnssrc/internal/dnstest"
)

func TestNewServerDefaults(t *testing.T) {
	h := &dnstest.FakeHandler{}
	s := NewServer(h, nil)
	assert.Equal(t, DefaultIdleTimeout, s.IdleTimeout)
	assert.Equal(t, DefaultRequestTimeout, s.RequestTimeout)
	assert.Equal(t, "/dns-query", s.DoHPath)
}

func TestRunWithBudgetReturnsWithinTimeout(t *testing.T) {
	resp, send, timedOut := runWithBudget(100*time.Millisecond, func() ([]byte, bool) {
		return []byte("ok"), true
	})
	require.False(t, timedOut)
	assert.True(t, send)
	assert.Equal(t, []byte("ok"), resp)
}

func TestRunWithBudgetTimesOut(t *testing.T) {
	_, send, timedOut := runWithBudget(10*time.Millisecond, func() ([]byte, bool) {
		time.Sleep(100 * time.Millisecond)
		return []byte("late"), true
	})
	assert.True(t, timedOut)
	assert.False(t, send)
}

func TestShutdownWithNoListenersReturnsImmediately(t *testing.T) {
	h := &dnstest.FakeHandler{}
	s := NewServer(h, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.NoError(t, s.Shutdown(ctx))
}
