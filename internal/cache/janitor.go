package cache

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// DefaultJanitorSchedule sweeps expired entries every five minutes.
const DefaultJanitorSchedule = "@every 5m"

// Janitor periodically removes expired cache entries.
type Janitor struct {
	cron   *cron.Cron
	layer  *Layer
	logger *slog.Logger
}

// NewJanitor schedules Layer.Cleanup on spec, a robfig/cron expression.
func NewJanitor(layer *Layer, spec string, logger *slog.Logger) (*Janitor, error) {
	if spec == "" {
		spec = DefaultJanitorSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}
	j := &Janitor{cron: cron.New(), layer: layer, logger: logger}
	if _, err := j.cron.AddFunc(spec, j.Sweep); err != nil {
		return nil, fmt.Errorf("cache: janitor schedule %q: %w", spec, err)
	}
	return j, nil
}

// Sweep runs one cleanup pass.
func (j *Janitor) Sweep() {
	if n := j.layer.Cleanup(); n > 0 {
		j.logger.Debug("cache: swept expired entries", "removed", n)
	}
}

// Start begins running the schedule in the background.
func (j *Janitor) Start() { j.cron.Start() }

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() { <-j.cron.Stop().Done() }
