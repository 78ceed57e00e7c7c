// Package schedule computes fire times for cron, interval and one-time jobs
// and resolves their payloads into outbound content.
package schedule

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	cron "github.com/robfig/cron/v3"

	"github.com/meshgate/meshgate/internal/models"
)

// Kind is a job's scheduling discipline.
type Kind string

const (
	KindCron     Kind = "cron"
	KindInterval Kind = "interval"
	KindOneTime  Kind = "one_time"
)

// PayloadKind is what a job emits when it fires.
type PayloadKind string

const (
	PayloadText    PayloadKind = "text"    // static text passed through unchanged
	PayloadPlugin  PayloadKind = "plugin"  // one plugin call via the executor
	PayloadCommand PayloadKind = "command" // external command via the runner
)

// Job is one configured scheduled broadcast. Schedule parameters are
// immutable after Compile; the enabled flag may be hot-toggled; lastFired is
// mutated only by the Scheduler after a dispatch.
type Job struct {
	Name     string
	Kind     Kind
	CronExpr string        // KindCron
	Every    time.Duration // KindInterval
	At       time.Time     // KindOneTime, timezone-aware instant
	Payload  PayloadKind
	Text     string
	Call     *models.PluginCall
	Command  string
	Channel  int
	Priority models.Priority

	cronSched cron.Schedule
	enabled   atomic.Bool

	mu         sync.Mutex
	dispatched bool // guards against a second concurrent dispatch
	lastFired  time.Time
}

// Compile validates the job's schedule and payload after configuration
// decoding. A failure rejects this job at load time; others load on.
func (j *Job) Compile(enabled bool) error {
	j.enabled.Store(enabled)

	switch j.Kind {
	case KindCron:
		sched, err := cron.ParseStandard(j.CronExpr)
		if err != nil {
			return fmt.Errorf("job %q cron %q: %w", j.Name, j.CronExpr, err)
		}
		j.cronSched = sched
	case KindInterval:
		if j.Every <= 0 {
			return fmt.Errorf("job %q: interval must be positive", j.Name)
		}
	case KindOneTime:
		if j.At.IsZero() {
			return fmt.Errorf("job %q: one_time job needs an absolute instant", j.Name)
		}
	default:
		return fmt.Errorf("job %q: unknown schedule kind %q", j.Name, j.Kind)
	}

	switch j.Payload {
	case PayloadText:
		if j.Text == "" {
			return fmt.Errorf("job %q: text payload is empty", j.Name)
		}
	case PayloadPlugin:
		if j.Call == nil || j.Call.Plugin == "" {
			return fmt.Errorf("job %q: plugin payload names no plugin", j.Name)
		}
	case PayloadCommand:
		if j.Command == "" {
			return fmt.Errorf("job %q: command payload is empty", j.Name)
		}
	default:
		return fmt.Errorf("job %q: unknown payload kind %q", j.Name, j.Payload)
	}
	return nil
}

// Enabled reports whether the job may fire.
func (j *Job) Enabled() bool { return j.enabled.Load() }

// SetEnabled hot-toggles the job.
func (j *Job) SetEnabled(v bool) { j.enabled.Store(v) }

// LastFired returns the job's last dispatch instant (zero if never).
func (j *Job) LastFired() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastFired
}

// isDue reports whether now has reached or passed the next fire instant.
// start is the process start, used as the cron baseline for never-fired
// jobs so downtime produces at most one catch-up fire.
//
// One-time jobs whose instant already passed at load fire once immediately;
// the persisted last-fired flag is what prevents a re-fire after restart.
func (j *Job) isDue(now, start time.Time) bool {
	switch j.Kind {
	case KindCron:
		base := j.lastFired
		if base.IsZero() {
			base = start
		}
		return !now.Before(j.cronSched.Next(base))
	case KindInterval:
		if j.lastFired.IsZero() {
			return true
		}
		return !now.Before(j.lastFired.Add(j.Every))
	case KindOneTime:
		return j.lastFired.IsZero() && !now.Before(j.At)
	}
	return false
}
