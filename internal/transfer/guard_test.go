package transfer

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Warky-Devs/WkMailMove/internal/mailbox"
)

type panickySession struct {
	*fakeSession
}

func (p panickySession) Teardown() error {
	panic("connection already gone")
}

func TestGuard_TeardownOnce(t *testing.T) {
	calls := &callLog{}
	source := newFakeSession(RoleSource, calls)
	target := newFakeSession(RoleTarget, calls)
	sessions := &Sessions{}
	sessions.set(RoleSource, source)
	sessions.set(RoleTarget, target)
	guard := NewGuard(sessions, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			guard.Teardown()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, source.teardownCount())
	assert.Equal(t, 1, target.teardownCount())
	assert.Equal(t, mailbox.Closed, source.State())
	select {
	case <-guard.Done():
	default:
		t.Fatal("Done not closed after teardown")
	}
}

func TestGuard_NoSessions(t *testing.T) {
	guard := NewGuard(&Sessions{}, testLogger())
	assert.NotPanics(t, guard.Teardown)
}

func TestGuard_SwallowsPanics(t *testing.T) {
	calls := &callLog{}
	target := newFakeSession(RoleTarget, calls)
	sessions := &Sessions{}
	sessions.set(RoleSource, panickySession{newFakeSession(RoleSource, calls)})
	sessions.set(RoleTarget, target)

	guard := NewGuard(sessions, testLogger())
	assert.NotPanics(t, guard.Teardown)
	assert.Equal(t, 1, target.teardownCount(), "a failing session does not stop the others")
}

func TestGuard_Interrupt(t *testing.T) {
	calls := &callLog{}
	source := newFakeSession(RoleSource, calls)
	sessions := &Sessions{}
	sessions.set(RoleSource, source)
	guard := NewGuard(sessions, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	guard.Watch(cancel)
	defer guard.Stop()

	guard.Interrupt(os.Interrupt)

	select {
	case <-guard.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("teardown did not run")
	}
	require.Error(t, ctx.Err())
	assert.Equal(t, 1, source.teardownCount())

	guard.Teardown()
	assert.Equal(t, 1, source.teardownCount())
}

func TestGuard_StopWithoutSignal(t *testing.T) {
	guard := NewGuard(&Sessions{}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	guard.Watch(cancel)
	guard.Stop()
	guard.Stop()

	assert.NoError(t, ctx.Err())
}

func TestGuard_HoldDelaysTeardown(t *testing.T) {
	calls := &callLog{}
	source := newFakeSession(RoleSource, calls)
	sessions := &Sessions{}
	sessions.set(RoleSource, source)
	guard := NewGuard(sessions, testLogger())

	release := guard.Hold()
	go guard.Teardown()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, source.teardownCount())

	release()
	release()
	select {
	case <-guard.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("teardown did not run after release")
	}
	assert.Equal(t, 1, source.teardownCount())
}

func TestGuard_ReleasesSignalsAfterFirst(t *testing.T) {
	proc, err := os.FindProcess(os.Getpid())
	require.NoError(t, err)

	// keep the test process alive once the guard lets go of SIGINT
	caught := make(chan os.Signal, 1)
	signal.Notify(caught, os.Interrupt)
	defer signal.Stop(caught)

	guard := NewGuard(&Sessions{}, testLogger())
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	guard.Watch(cancel)
	defer guard.Stop()

	if err := proc.Signal(os.Interrupt); err != nil {
		t.Skipf("cannot signal own process: %v", err)
	}
	select {
	case <-guard.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("first signal was not handled")
	}
	<-caught

	require.NoError(t, proc.Signal(os.Interrupt))
	select {
	case <-caught:
	case <-time.After(5 * time.Second):
		t.Fatal("second signal was not delivered")
	}
	assert.Empty(t, guard.interrupts, "the guard no longer receives signals")
}
