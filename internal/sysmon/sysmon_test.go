package sysmon

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCollectCurrentProcess(t *testing.T) {
	m, err := New(0)
	require.NoError(t, err)

	s, err := m.Collect()
	require.NoError(t, err)
	assert.Equal(t, int32(os.Getpid()), s.PID)
	assert.NotZero(t, s.MemoryRSS)
	assert.False(t, s.Timestamp.IsZero())
	assert.Equal(t, s, m.Last())
}

func TestStartStop(t *testing.T) {
	m, err := New(10 * time.Millisecond)
	require.NoError(t, err)

	m.Start(context.Background())
	m.Start(context.Background())

	select {
	case s := <-m.Samples():
		assert.NotZero(t, s.MemoryRSS)
	case <-time.After(2 * time.Second):
		t.Fatal("no sample delivered")
	}

	m.Stop()
	m.Stop()
}

func TestStopsWithContext(t *testing.T) {
	m, err := New(10 * time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	cancel()
	m.Stop()
}

func TestUnknownProcess(t *testing.T) {
	_, err := NewForPID(-1, time.Second)
	assert.Error(t, err)
}
