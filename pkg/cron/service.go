package cron

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harun/nanobot/internal/observability"
	"github.com/harun/nanobot/internal/tracing"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "nanobot/cron"

const storeVersion = 1

// Service manages cron job scheduling and execution. Jobs are loaded when the service
// is created, so the CLI can manage them without starting timers.
type Service struct {
	jobs    map[string]*Job
	timers  map[string]*time.Timer
	running map[string]bool
	options ServiceOptions
	logger  zerolog.Logger
	now     func() time.Time

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewService creates a new cron service
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.StorePath == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if opts.Handler == nil {
		return nil, fmt.Errorf("job handler is required")
	}

	s := &Service{
		jobs:    make(map[string]*Job),
		timers:  make(map[string]*time.Timer),
		running: make(map[string]bool),
		options: opts,
		logger:  log.With().Str("component", "cron").Logger(),
		now:     time.Now,
	}

	if err := s.loadJobs(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to load jobs, starting with empty registry")
	}

	return s, nil
}

// Start arms timers for every enabled job. Jobs run until Stop is called or ctx is done.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true

	for _, job := range s.jobs {
		if !job.Enabled || job.State.NextRunAtMs != nil {
			continue
		}
		next, err := CalculateNextRun(job.Schedule, s.now())
		if err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Cannot schedule job")
			continue
		}
		job.State.NextRunAtMs = next
	}
	if err := s.persistLocked(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to persist jobs on start")
	}

	for _, job := range s.jobs {
		s.armLocked(job)
	}

	s.logger.Info().Int("jobs", len(s.jobs)).Int("armed", len(s.timers)).Msg("Cron service started")
	return nil
}

// Stop cancels all timers and waits for running jobs to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.cancel()
	for id := range s.timers {
		s.cancelTimerLocked(id)
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persistLocked(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to persist state on shutdown")
	}
	s.logger.Info().Msg("Cron service stopped")
}

// AddJob creates and schedules a job.
func (s *Service) AddJob(params AddParams) (Job, error) {
	if strings.TrimSpace(params.Name) == "" {
		return Job{}, fmt.Errorf("job name is required")
	}
	if strings.TrimSpace(params.Payload.Message) == "" {
		return Job{}, fmt.Errorf("job message is required")
	}
	if err := ValidateSchedule(params.Schedule); err != nil {
		return Job{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	next, err := CalculateNextRun(params.Schedule, now)
	if err != nil {
		return Job{}, err
	}
	if next == nil {
		return Job{}, fmt.Errorf("%w: 'at' time is in the past", ErrInvalidSchedule)
	}

	job := &Job{
		ID:             s.newIDLocked(),
		Name:           params.Name,
		Enabled:        true,
		Schedule:       params.Schedule,
		Payload:        params.Payload,
		State:          JobState{NextRunAtMs: next},
		CreatedAtMs:    now.UnixMilli(),
		UpdatedAtMs:    now.UnixMilli(),
		DeleteAfterRun: params.DeleteAfterRun,
	}
	s.jobs[job.ID] = job

	if err := s.persistLocked(); err != nil {
		delete(s.jobs, job.ID)
		return Job{}, fmt.Errorf("failed to persist job: %w", err)
	}
	s.armLocked(job)

	s.logger.Info().
		Str("job_id", job.ID).
		Str("name", job.Name).
		Str("schedule", Describe(job.Schedule)).
		Msg("Job created")
	s.emit(Event{Action: EventActionAdded, JobID: job.ID})

	return *job, nil
}

// RemoveJob deletes a job
func (s *Service) RemoveJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	s.cancelTimerLocked(id)
	delete(s.jobs, id)

	if err := s.persistLocked(); err != nil {
		return fmt.Errorf("failed to persist jobs: %w", err)
	}

	s.logger.Info().Str("job_id", id).Str("name", job.Name).Msg("Job removed")
	s.emit(Event{Action: EventActionDeleted, JobID: id})
	return nil
}

// EnableJob turns a job on or off. Enabling recomputes its next run.
func (s *Service) EnableJob(id string, enabled bool) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	job.Enabled = enabled
	job.UpdatedAtMs = s.now().UnixMilli()
	s.cancelTimerLocked(id)

	if enabled {
		next, err := CalculateNextRun(job.Schedule, s.now())
		if err != nil {
			return Job{}, err
		}
		job.State.NextRunAtMs = next
		s.armLocked(job)
	} else {
		job.State.NextRunAtMs = nil
	}

	if err := s.persistLocked(); err != nil {
		return Job{}, fmt.Errorf("failed to persist jobs: %w", err)
	}

	s.logger.Info().Str("job_id", id).Bool("enabled", enabled).Msg("Job updated")
	s.emit(Event{Action: EventActionUpdated, JobID: id})
	return *job, nil
}

// RunJob executes a job now. Disabled jobs only run when force is set; ran reports
// whether the job executed and err carries the handler's failure.
func (s *Service) RunJob(ctx context.Context, id string, force bool) (ran bool, err error) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	enabled := job.Enabled
	s.mu.Unlock()

	if !enabled && !force {
		s.logger.Debug().Str("job_id", id).Msg("Skipping disabled job")
		return false, nil
	}

	if err := s.execute(ctx, id); err != nil {
		if errors.Is(err, ErrJobRunning) {
			return false, err
		}
		return true, err
	}
	return true, nil
}

// GetJob returns a copy of a job.
func (s *Service) GetJob(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// ListJobs returns jobs ordered by next run, soonest first.
func (s *Service) ListJobs(includeDisabled bool) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if !includeDisabled && !job.Enabled {
			continue
		}
		jobs = append(jobs, *job)
	}

	sort.Slice(jobs, func(i, j int) bool {
		a, b := jobs[i].State.NextRunAtMs, jobs[j].State.NextRunAtMs
		switch {
		case a != nil && b != nil && *a != *b:
			return *a < *b
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return jobs[i].CreatedAtMs < jobs[j].CreatedAtMs
	})
	return jobs
}

// Status reports whether timers are running, the job count and the next wake-up.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Running: s.started, Jobs: len(s.jobs)}
	for _, job := range s.jobs {
		next := job.State.NextRunAtMs
		if !job.Enabled || next == nil {
			continue
		}
		if st.NextWakeAtMs == nil || *next < *st.NextWakeAtMs {
			st.NextWakeAtMs = Int64Ptr(*next)
		}
	}
	return st
}

// armLocked starts the timer for job (must hold lock)
func (s *Service) armLocked(job *Job) {
	if !s.started || !job.Enabled || job.State.NextRunAtMs == nil {
		return
	}
	s.cancelTimerLocked(job.ID)

	delay := time.Duration(*job.State.NextRunAtMs-s.now().UnixMilli()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}

	id := job.ID
	s.timers[id] = time.AfterFunc(delay, func() { s.fire(id) })

	s.logger.Debug().
		Str("job_id", id).
		Dur("delay", delay).
		Msg("Job scheduled")
}

// cancelTimerLocked stops a job's timer (must hold lock)
func (s *Service) cancelTimerLocked(id string) {
	if timer, ok := s.timers[id]; ok {
		timer.Stop()
		delete(s.timers, id)
	}
}

func (s *Service) fire(id string) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	ctx := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	if err := s.execute(ctx, id); err != nil && !errors.Is(err, ErrJobRunning) {
		s.logger.Debug().Err(err).Str("job_id", id).Msg("Scheduled run failed")
	}
}

// execute runs the handler and records the result in the job state.
func (s *Service) execute(ctx context.Context, id string) error {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if s.running[id] {
		s.mu.Unlock()
		return ErrJobRunning
	}
	s.running[id] = true
	snapshot := *job
	s.mu.Unlock()

	start := s.now()
	ctx, span := tracing.StartSpan(ctx, tracerName, "cron.run",
		attribute.String("job_id", id),
		attribute.String("job_name", snapshot.Name),
	)
	s.logger.Info().Str("job_id", id).Str("name", snapshot.Name).Msg("Executing job")

	err := s.options.Handler(ctx, snapshot)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	observability.RecordCronRun(err == nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, id)

	job, ok = s.jobs[id]
	if !ok {
		return err
	}

	duration := s.now().Sub(start)
	job.State.LastRunAtMs = Int64Ptr(start.UnixMilli())
	job.UpdatedAtMs = s.now().UnixMilli()
	if err != nil {
		job.State.LastStatus = "error"
		job.State.LastError = err.Error()
		s.logger.Error().Err(err).Str("job_id", id).Msg("Job execution failed")
	} else {
		job.State.LastStatus = "ok"
		job.State.LastError = ""
		s.logger.Info().Str("job_id", id).Dur("duration", duration).Msg("Job execution completed")
	}

	evt := Event{
		Action:     EventActionFinished,
		JobID:      id,
		Status:     job.State.LastStatus,
		Error:      job.State.LastError,
		DurationMs: duration.Milliseconds(),
	}

	if job.Schedule.Kind == ScheduleKindAt {
		s.cancelTimerLocked(id)
		if job.DeleteAfterRun {
			delete(s.jobs, id)
			if perr := s.persistLocked(); perr != nil {
				s.logger.Error().Err(perr).Msg("Failed to persist after delete")
			}
			s.emit(evt)
			s.emit(Event{Action: EventActionDeleted, JobID: id})
			return err
		}
		job.Enabled = false
		job.State.NextRunAtMs = nil
	} else {
		next, calcErr := CalculateNextRun(job.Schedule, s.now())
		if calcErr != nil {
			s.logger.Error().Err(calcErr).Str("job_id", id).Msg("Failed to calculate next run")
		}
		job.State.NextRunAtMs = next
		s.armLocked(job)
	}

	if perr := s.persistLocked(); perr != nil {
		s.logger.Error().Err(perr).Msg("Failed to persist job state")
	}
	s.emit(evt)
	return err
}

func (s *Service) emit(evt Event) {
	if s.options.OnEvent != nil {
		s.options.OnEvent(evt)
	}
}

func (s *Service) newIDLocked() string {
	for {
		id := uuid.NewString()[:8]
		if _, taken := s.jobs[id]; !taken {
			return id
		}
	}
}

// loadJobs loads jobs from storage
func (s *Service) loadJobs() error {
	data, err := os.ReadFile(s.options.StorePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read jobs file: %w", err)
	}

	var st store
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("failed to parse jobs file: %w", err)
	}

	for _, job := range st.Jobs {
		if job == nil || job.ID == "" {
			continue
		}
		s.jobs[job.ID] = job
	}

	s.logger.Debug().Int("count", len(s.jobs)).Msg("Loaded jobs from registry")
	return nil
}

// persistLocked writes jobs.json atomically (must hold lock)
func (s *Service) persistLocked() error {
	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAtMs != jobs[j].CreatedAtMs {
			return jobs[i].CreatedAtMs < jobs[j].CreatedAtMs
		}
		return jobs[i].ID < jobs[j].ID
	})

	data, err := json.MarshalIndent(store{Version: storeVersion, Jobs: jobs}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal jobs: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.options.StorePath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile := s.options.StorePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempFile, s.options.StorePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
