package reconcile

import (
	"fmt"
	"sync"
	"time"

	"github.com/siegeup/node-agent/internal/builds"
	"github.com/siegeup/node-agent/internal/logging"
	"github.com/siegeup/node-agent/internal/state"
	"github.com/siegeup/node-agent/internal/supervisor"
)

// Reconciler periodically compares the desired-server set with the live
// children and asks the supervisor to start whatever is missing. Stops are
// not its job: the API facade shuts servers down when the desired set
// changes, and crashed children simply reappear missing on the next tick.
type Reconciler struct {
	store      *state.Store
	builds     *builds.Store
	supervisor *supervisor.Supervisor
	interval   time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(store *state.Store, buildStore *builds.Store, sup *supervisor.Supervisor, interval time.Duration) *Reconciler {
	return &Reconciler{
		store:      store,
		builds:     buildStore,
		supervisor: sup,
		interval:   interval,
		stopCh:     make(chan struct{}),
	}
}

// Start runs the reconcile loop until Stop is called. Ticks never overlap:
// the next interval is armed only after the current tick returns, so a slow
// shutdown elsewhere cannot multiply spawns.
func (r *Reconciler) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		logging.L().Info("reconciler started", "interval", r.interval)
		for {
			select {
			case <-r.stopCh:
				return
			case <-time.After(r.interval):
				r.tick()
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight tick to finish.
func (r *Reconciler) Stop() {
	close(r.stopCh)
	r.wg.Wait()
	logging.L().Info("reconciler stopped")
}

// tick walks the desired set once. Failures on one port never skip the
// others.
func (r *Reconciler) tick() {
	for _, desired := range r.store.Desired() {
		if _, ok := r.store.Child(desired.Port); ok {
			continue
		}
		if !desired.Run {
			continue
		}

		exePath, ok := r.builds.FindExecutable(desired.Version)
		if !ok {
			r.store.SetLastError(desired.Port, fmt.Sprintf("Executable not found for version %q", desired.Version))
			continue
		}

		if _, err := r.supervisor.Spawn(desired, exePath); err != nil {
			logging.L().Error("failed to start server", "port", desired.Port, "version", desired.Version, "error", err)
		}
	}
}
