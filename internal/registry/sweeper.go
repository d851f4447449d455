package registry

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// ParseSchedule parses a five-field cron expression for the eviction sweep
func ParseSchedule(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(expr)
}

// Sweeper runs the registry eviction sweep on a cron schedule
type Sweeper struct {
	registry *Registry
	schedule cron.Schedule
	onEvict  func(ids []string)
}

// NewSweeper creates a sweeper. onEvict is called with the evicted entity
// ids after every non-empty sweep (the server uses it to close
// subscriptions).
func NewSweeper(reg *Registry, expr string, onEvict func(ids []string)) (*Sweeper, error) {
	schedule, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}
	return &Sweeper{registry: reg, schedule: schedule, onEvict: onEvict}, nil
}

// Run blocks until ctx is cancelled, sweeping at each scheduled activation
func (s *Sweeper) Run(ctx context.Context) error {
	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case now := <-timer.C:
			evicted := s.registry.Sweep(now)
			if len(evicted) > 0 {
				log.Printf("[registry] evicted %d terminal entities", len(evicted))
				if s.onEvict != nil {
					s.onEvict(evicted)
				}
			}
		}
	}
}
