package cron

import "errors"

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrInvalidSchedule = errors.New("invalid schedule")
	ErrJobRunning      = errors.New("job already running")
)
