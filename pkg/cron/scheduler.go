package cron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var exprParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CalculateNextRun returns the next run after now in milliseconds, or nil when the
// schedule will never fire again.
func CalculateNextRun(schedule Schedule, now time.Time) (*int64, error) {
	switch schedule.Kind {
	case ScheduleKindAt:
		return calculateAtSchedule(schedule, now)
	case ScheduleKindEvery:
		return calculateEverySchedule(schedule, now)
	case ScheduleKindCron:
		return calculateCronSchedule(schedule, now)
	default:
		return nil, fmt.Errorf("%w: unknown schedule kind %q", ErrInvalidSchedule, schedule.Kind)
	}
}

// ValidateSchedule checks a schedule without computing a run time.
func ValidateSchedule(schedule Schedule) error {
	switch schedule.Kind {
	case ScheduleKindAt:
		if schedule.AtMs <= 0 {
			return fmt.Errorf("%w: 'at' schedule requires 'atMs'", ErrInvalidSchedule)
		}
	case ScheduleKindEvery:
		if schedule.EveryMs <= 0 {
			return fmt.Errorf("%w: 'every' schedule requires positive 'everyMs'", ErrInvalidSchedule)
		}
	case ScheduleKindCron:
		if _, err := parseCron(schedule); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown schedule kind %q", ErrInvalidSchedule, schedule.Kind)
	}
	return nil
}

func calculateAtSchedule(schedule Schedule, now time.Time) (*int64, error) {
	if schedule.AtMs <= 0 {
		return nil, fmt.Errorf("%w: 'at' schedule requires 'atMs'", ErrInvalidSchedule)
	}
	if schedule.AtMs <= now.UnixMilli() {
		return nil, nil
	}
	return Int64Ptr(schedule.AtMs), nil
}

func calculateEverySchedule(schedule Schedule, now time.Time) (*int64, error) {
	if schedule.EveryMs <= 0 {
		return nil, fmt.Errorf("%w: 'every' schedule requires positive 'everyMs'", ErrInvalidSchedule)
	}
	return Int64Ptr(now.UnixMilli() + schedule.EveryMs), nil
}

func calculateCronSchedule(schedule Schedule, now time.Time) (*int64, error) {
	sched, err := parseCron(schedule)
	if err != nil {
		return nil, err
	}
	if schedule.TZ != "" {
		loc, err := time.LoadLocation(schedule.TZ)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid timezone: %v", ErrInvalidSchedule, err)
		}
		now = now.In(loc)
	}
	return Int64Ptr(sched.Next(now).UnixMilli()), nil
}

func parseCron(schedule Schedule) (cron.Schedule, error) {
	if schedule.Expr == "" {
		return nil, fmt.Errorf("%w: 'cron' schedule requires 'expr'", ErrInvalidSchedule)
	}
	sched, err := exprParser.Parse(schedule.Expr)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid cron expression: %v", ErrInvalidSchedule, err)
	}
	return sched, nil
}

// Describe renders a schedule for listings.
func Describe(schedule Schedule) string {
	switch schedule.Kind {
	case ScheduleKindAt:
		return "at " + time.UnixMilli(schedule.AtMs).Format(time.RFC3339)
	case ScheduleKindEvery:
		return "every " + (time.Duration(schedule.EveryMs) * time.Millisecond).String()
	case ScheduleKindCron:
		if schedule.TZ != "" {
			return fmt.Sprintf("cron %s (%s)", schedule.Expr, schedule.TZ)
		}
		return "cron " + schedule.Expr
	}
	return string(schedule.Kind)
}
