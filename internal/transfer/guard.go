package transfer

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/Warky-Devs/WkMailMove/internal/logger"
)

// Guard tears down the sessions of a run exactly once, whether the run
// finishes, fails, panics or is interrupted.
type Guard struct {
	sessions *Sessions
	log      logger.Logger

	once     sync.Once
	busy     sync.Mutex
	torndown chan struct{}

	interrupts chan os.Signal
	watchOnce  sync.Once
	stopOnce   sync.Once
	stop       chan struct{}
}

func NewGuard(sessions *Sessions, log logger.Logger) *Guard {
	return &Guard{
		sessions:   sessions,
		log:        log,
		torndown:   make(chan struct{}),
		interrupts: make(chan os.Signal, 1),
		stop:       make(chan struct{}),
	}
}

// Teardown closes every open session. Only the first call acts; later or
// concurrent calls wait for it to finish. It never panics. A message held
// with Hold is finished before the sessions close.
func (g *Guard) Teardown() {
	g.once.Do(func() {
		defer close(g.torndown)
		g.busy.Lock()
		defer g.busy.Unlock()
		g.log.Info("Cleaning...")
		for _, s := range []Session{g.sessions.Source(), g.sessions.Target()} {
			g.teardown(s)
		}
	})
}

func (g *Guard) teardown(s Session) {
	if s == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			g.log.Errorf("Teardown of %s session panicked: %v", s.Role(), r)
		}
	}()
	if err := s.Teardown(); err != nil {
		g.log.Warnf("Teardown of %s session: %v", s.Role(), err)
	}
}

// Hold delays teardown until release is called. The engine holds the guard
// from APPEND until the source copy is marked deleted.
func (g *Guard) Hold() (release func()) {
	g.busy.Lock()
	var once sync.Once
	return func() { once.Do(g.busy.Unlock) }
}

// Done is closed once teardown has completed.
func (g *Guard) Done() <-chan struct{} {
	return g.torndown
}

// Watch routes SIGINT and SIGTERM to the guard: the first one cancels the
// run and tears the sessions down.
func (g *Guard) Watch(cancel context.CancelFunc) {
	g.watchOnce.Do(func() {
		signal.Notify(g.interrupts, os.Interrupt, syscall.SIGTERM)
		go g.loop(cancel)
	})
}

// Interrupt requests the same handling as an operator signal.
func (g *Guard) Interrupt(sig os.Signal) {
	select {
	case g.interrupts <- sig:
	default:
	}
}

func (g *Guard) loop(cancel context.CancelFunc) {
	select {
	case sig := <-g.interrupts:
		// a second signal gets the default handling and kills the process
		signal.Stop(g.interrupts)
		g.log.Warnf("Interrupted by %s", describe(sig))
		if cancel != nil {
			cancel()
		}
		g.Teardown()
	case <-g.stop:
	}
}

// Stop releases the signal registration.
func (g *Guard) Stop() {
	g.stopOnce.Do(func() {
		signal.Stop(g.interrupts)
		close(g.stop)
	})
}

func describe(sig os.Signal) string {
	if sig == nil {
		return "request"
	}
	return fmt.Sprintf("signal %s", sig)
}
