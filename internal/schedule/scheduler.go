package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/meshgate/meshgate/internal/audit"
	"github.com/meshgate/meshgate/internal/command"
	"github.com/meshgate/meshgate/internal/models"
	"github.com/meshgate/meshgate/internal/plugin"
)

// Output is one unit of content produced by a fired job, handed to the
// response assembler. Scheduled output has no triggering sender; it always
// goes out as a channel broadcast.
type Output struct {
	Job      string
	Content  string
	Preamble string
	Channel  int
	Priority models.Priority
}

// Sink receives job output. Wired to the dispatch assembler.
type Sink func(Output)

// Scheduler drives the configured jobs on a fixed tick. Each job moves
// through Idle -> Due -> Dispatched -> Idle; the dispatched guard makes a
// concurrent double-fire impossible, and jobs due in the same tick resolve
// their payloads concurrently. Serializing the actual radio sends is the
// dispatcher's problem, not ours.
type Scheduler struct {
	jobs    []*Job
	store   *StateStore
	exec    *plugin.Executor
	runner  *command.Runner
	sink    Sink
	auditor *audit.Logger // optional, set before Start

	tick   time.Duration
	now    func() time.Time
	start  time.Time
	logger *slog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	loopWG   sync.WaitGroup
	inflight sync.WaitGroup
}

// New creates a scheduler over the loaded jobs. tick zero means one second.
func New(jobs []*Job, store *StateStore, exec *plugin.Executor, runner *command.Runner, sink Sink, tick time.Duration, logger *slog.Logger) *Scheduler {
	if tick <= 0 {
		tick = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		jobs:   jobs,
		store:  store,
		exec:   exec,
		runner: runner,
		sink:   sink,
		tick:   tick,
		now:    time.Now,
		logger: logger,
	}
}

// SetAuditor makes fired jobs show up in the audit log. Call before Start.
func (s *Scheduler) SetAuditor(a *audit.Logger) { s.auditor = a }

// Start loads persisted last-fired state and begins ticking.
func (s *Scheduler) Start(ctx context.Context) error {
	persisted, err := s.store.LoadAll()
	if err != nil {
		return fmt.Errorf("failed to load scheduler state: %w", err)
	}
	for _, j := range s.jobs {
		if t, ok := persisted[j.Name]; ok {
			j.mu.Lock()
			j.lastFired = t
			j.mu.Unlock()
		}
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.start = s.now()

	s.loopWG.Add(1)
	go s.loop()

	s.logger.Info("scheduler started", "jobs", len(s.jobs), "tick", s.tick)
	return nil
}

// Stop halts the tick loop and waits up to grace for in-flight dispatches.
// Jobs mid-dispatch at shutdown have already persisted nothing, so their
// restart behavior follows the persisted last-fired semantics.
func (s *Scheduler) Stop(grace time.Duration) error {
	if s.cancel != nil {
		s.cancel()
	}
	s.loopWG.Wait()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(grace):
		return fmt.Errorf("scheduler stop: dispatches still running after %v", grace)
	}
}

// SetEnabled hot-toggles the named job and reports whether it was found.
func (s *Scheduler) SetEnabled(name string, enabled bool) bool {
	for _, j := range s.jobs {
		if j.Name == name {
			j.SetEnabled(enabled)
			s.logger.Info("job toggled", "job", name, "enabled", enabled)
			return true
		}
	}
	return false
}

func (s *Scheduler) loop() {
	defer s.loopWG.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.checkJobs(s.now())
		}
	}
}

// checkJobs transitions every due job to Dispatched and fires it on its own
// goroutine.
func (s *Scheduler) checkJobs(now time.Time) {
	for _, j := range s.jobs {
		if !j.Enabled() {
			continue
		}

		j.mu.Lock()
		due := !j.dispatched && j.isDue(now, s.start)
		if due {
			j.dispatched = true
		}
		j.mu.Unlock()

		if due {
			s.inflight.Add(1)
			go s.dispatch(j, now)
		}
	}
}

// dispatch resolves the job's payload, emits the output, and returns the
// job to Idle with last-fired updated. The fire instant is recorded even
// when the payload fails: scheduled work does not retry until its next
// scheduled instant.
func (s *Scheduler) dispatch(j *Job, now time.Time) {
	defer s.inflight.Done()

	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	var payloadErr error

	switch j.Payload {
	case PayloadText:
		s.emit(Output{Job: j.Name, Content: j.Text, Channel: j.Channel, Priority: j.Priority})

	case PayloadPlugin:
		results := s.exec.Execute(ctx, []models.PluginCall{*j.Call}, plugin.Trigger{
			Source:  "job:" + j.Name,
			Channel: j.Channel,
		})
		for _, res := range results {
			if res.Failed() {
				payloadErr = res.Err
				s.logger.Warn("job plugin call failed",
					"job", j.Name, "plugin", res.Plugin, "error", res.Err)
				continue
			}
			out := Output{
				Job:      j.Name,
				Content:  res.Content,
				Preamble: res.Preamble,
				Channel:  res.Channel,
				Priority: j.Priority,
			}
			if res.Priority != models.PriorityNormal {
				out.Priority = res.Priority
			}
			s.emit(out)
		}

	case PayloadCommand:
		content, err := s.runner.Run(ctx, j.Command)
		if err != nil {
			payloadErr = err
			s.logger.Warn("job command failed", "job", j.Name, "error", err)
		} else if content != "" {
			s.emit(Output{Job: j.Name, Content: content, Channel: j.Channel, Priority: j.Priority})
		}
	}

	s.recordFire(ctx, j, now, payloadErr)

	if err := s.store.SetLastFired(j.Name, now); err != nil {
		s.logger.Error("failed to persist job state", "job", j.Name, "error", err)
	}

	j.mu.Lock()
	j.lastFired = now
	j.dispatched = false
	j.mu.Unlock()

	s.logger.Debug("job dispatched", "job", j.Name, "at", now)
}

func (s *Scheduler) recordFire(ctx context.Context, j *Job, at time.Time, payloadErr error) {
	if s.auditor == nil {
		return
	}
	e := &audit.Entry{
		Timestamp: at,
		Kind:      audit.KindJobFire,
		Source:    j.Name,
		Channel:   j.Channel,
		Success:   payloadErr == nil,
	}
	if payloadErr != nil {
		e.Error = payloadErr.Error()
	}
	if err := s.auditor.Record(ctx, e); err != nil {
		s.logger.Warn("audit write failed", "job", j.Name, "error", err)
	}
}

func (s *Scheduler) emit(out Output) {
	if out.Content == "" || s.sink == nil {
		return
	}
	s.sink(out)
}

// waitDispatches blocks until every in-flight dispatch has finished.
// Used by tests driving checkJobs directly.
func (s *Scheduler) waitDispatches() {
	s.inflight.Wait()
}
