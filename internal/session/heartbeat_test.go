package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedLister struct {
	mu    sync.Mutex
	steps []func() ([]Session, error)
	calls int
}

func (s *scriptedLister) Sessions(ctx context.Context) ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	return s.steps[i]()
}

func active(token string) func() ([]Session, error) {
	return func() ([]Session, error) {
		return []Session{{Token: "lain", Status: StatusActive}, {Token: token, Status: StatusActive}}, nil
	}
}

func revoked(token string) func() ([]Session, error) {
	return func() ([]Session, error) {
		return []Session{{Token: token, Status: StatusRevoked}}, nil
	}
}

func failing() ([]Session, error) { return nil, errors.New("network unreachable") }

func TestHeartbeatForcesLogoutOnRevokedToken(t *testing.T) {
	lister := &scriptedLister{steps: []func() ([]Session, error){active("tok"), revoked("tok")}}
	var ended atomic.Int32
	hb := NewHeartbeat(lister, "tok", 5*time.Millisecond, func(err error) {
		assert.ErrorIs(t, err, ErrSessionEnded)
		ended.Add(1)
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := hb.Run(ctx)
	assert.ErrorIs(t, err, ErrSessionEnded)
	assert.Equal(t, int32(1), ended.Load())
	assert.Equal(t, 2, lister.calls)
}

func TestHeartbeatSurvivesTransientErrors(t *testing.T) {
	lister := &scriptedLister{steps: []func() ([]Session, error){failing, failing, active("tok"), revoked("tok")}}
	hb := NewHeartbeat(lister, "tok", 5*time.Millisecond, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.ErrorIs(t, hb.Run(ctx), ErrSessionEnded)
	assert.Equal(t, 4, lister.calls)
}

func TestHeartbeatStopsOnCancel(t *testing.T) {
	lister := &scriptedLister{steps: []func() ([]Session, error){active("tok")}}
	var ended atomic.Int32
	hb := NewHeartbeat(lister, "tok", 5*time.Millisecond, func(error) { ended.Add(1) }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hb.Run(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("heartbeat did not stop")
	}
	assert.Zero(t, ended.Load())
}

func TestHeartbeatCheck(t *testing.T) {
	hb := NewHeartbeat(&scriptedLister{steps: []func() ([]Session, error){revoked("tok")}}, "tok", 0, nil, nil)
	ok, err := hb.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, DefaultHeartbeatInterval, hb.interval)
}
