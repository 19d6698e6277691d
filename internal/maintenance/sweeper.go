package maintenance

import (
	"github.com/robfig/cron/v3"

	"github.com/siegeup/node-agent/internal/logging"
	"github.com/siegeup/node-agent/internal/logsink"
	"github.com/siegeup/node-agent/internal/state"
)

// Sweeper removes log directories left behind by servers that are no longer
// part of the desired set. It runs once a day; stale directories are cheap
// to keep around, so a slow cadence is fine.
type Sweeper struct {
	store *state.Store
	sink  *logsink.Sink
	cron  *cron.Cron
}

func NewSweeper(store *state.Store, sink *logsink.Sink) *Sweeper {
	return &Sweeper{
		store: store,
		sink:  sink,
		cron:  cron.New(),
	}
}

// Start schedules the daily sweep.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc("@daily", s.Sweep); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the schedule without waiting for a running sweep.
func (s *Sweeper) Stop() {
	s.cron.Stop()
}

// Sweep deletes per-port log directories whose port is absent from the
// desired set and has no live child.
func (s *Sweeper) Sweep() {
	keep := make(map[int]bool)
	for _, desired := range s.store.Desired() {
		keep[desired.Port] = true
	}
	for _, child := range s.store.Children() {
		keep[child.Port] = true
	}

	ports, err := s.sink.Ports()
	if err != nil {
		logging.L().Warn("log sweep failed to list log directories", "error", err)
		return
	}
	for _, port := range ports {
		if keep[port] {
			continue
		}
		if err := s.sink.RemoveDir(port); err != nil {
			logging.L().Warn("failed to remove stale log directory", "port", port, "error", err)
			continue
		}
		logging.L().Info("removed stale log directory", "port", port)
	}
}
