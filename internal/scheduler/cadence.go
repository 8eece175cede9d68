package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser — парсер cron-выражений каденса.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Cadence задаёт момент следующего прохода Scheduler'а.
type Cadence interface {
	Next(from time.Time) time.Time
}

// intervalCadence — фиксированный интервал между проходами.
type intervalCadence struct {
	every time.Duration
}

func (c intervalCadence) Next(from time.Time) time.Time {
	return from.Add(c.every)
}

// ParseCadence разбирает каденс из строки: либо Go-duration ("30s",
// "1m"), либо пятипольное cron-выражение ("*/5 * * * *").
func ParseCadence(s string) (Cadence, error) {
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return nil, fmt.Errorf("cadence must be positive, got %q", s)
		}
		return intervalCadence{every: d}, nil
	}

	schedule, err := cronParser.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("parse cadence %q: %w", s, err)
	}
	return schedule, nil
}

// RunLoop гоняет Tick по каденсу до отмены контекста.
func (s *Scheduler) RunLoop(ctx context.Context, cadence Cadence, shard string) error {
	for {
		next := cadence.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if err := s.Tick(ctx, shard); err != nil {
			s.logger.Error("scheduler tick failed", "error", err)
		}
	}
}
