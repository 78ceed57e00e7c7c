// Package config loads the gateway's rule and job set from YAML and its
// process settings from the environment. A malformed rule or job is logged
// and skipped; it never aborts loading the rest.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/meshgate/meshgate/internal/models"
	"github.com/meshgate/meshgate/internal/rules"
	"github.com/meshgate/meshgate/internal/schedule"
)

// Duration wraps time.Duration with YAML decoding of "30s"-style strings.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// ruleSpec is the YAML shape of one auto-response rule.
type ruleSpec struct {
	Name          string     `yaml:"name"`
	Keywords      []string   `yaml:"keywords"`
	Match         string     `yaml:"match"`
	CaseSensitive bool       `yaml:"case_sensitive"`
	Priority      int        `yaml:"priority"`
	Cooldown      Duration   `yaml:"cooldown"`
	MaxPerHour    int        `yaml:"max_per_hour"`
	Response      string     `yaml:"response"`
	Calls         []callSpec `yaml:"calls"`
	Channels      []int      `yaml:"channels"`
	DenyChannels  []int      `yaml:"deny_channels"`
	DirectOnly    bool       `yaml:"direct_only"`
	Emergency     bool       `yaml:"emergency"`
	Delivery      string     `yaml:"delivery"`
	Enabled       *bool      `yaml:"enabled"` // default true
}

// callSpec is the YAML shape of one plugin call.
type callSpec struct {
	Plugin   string         `yaml:"plugin"`
	Method   string         `yaml:"method"`
	Args     map[string]any `yaml:"args"`
	Preamble string         `yaml:"preamble"`
	Channel  *int           `yaml:"channel"`
	Priority string         `yaml:"priority"`
}

// jobSpec is the YAML shape of one scheduled job.
type jobSpec struct {
	Name     string    `yaml:"name"`
	Kind     string    `yaml:"kind"`
	Cron     string    `yaml:"cron"`
	Every    Duration  `yaml:"every"`
	At       time.Time `yaml:"at"`
	Payload  string    `yaml:"payload"`
	Text     string    `yaml:"text"`
	Call     *callSpec `yaml:"call"`
	Command  string    `yaml:"command"`
	Channel  int       `yaml:"channel"`
	Priority string    `yaml:"priority"`
	Enabled  *bool     `yaml:"enabled"`
}

type file struct {
	Rules []ruleSpec `yaml:"rules"`
	Jobs  []jobSpec  `yaml:"jobs"`
}

// Load reads the YAML config at path and returns the rules and jobs that
// survived validation.
func Load(path string, logger *slog.Logger) ([]*rules.Rule, []*schedule.Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data, logger)
}

// Parse decodes and validates a YAML config document.
func Parse(data []byte, logger *slog.Logger) ([]*rules.Rule, []*schedule.Job, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config: %w", err)
	}

	var rs []*rules.Rule
	for i, spec := range f.Rules {
		r, err := buildRule(i, &spec)
		if err != nil {
			logger.Warn("rejecting malformed rule", "rule", spec.Name, "index", i, "error", err)
			continue
		}
		rs = append(rs, r)
	}

	var jobs []*schedule.Job
	for i, spec := range f.Jobs {
		j, err := buildJob(&spec)
		if err != nil {
			logger.Warn("rejecting malformed job", "job", spec.Name, "index", i, "error", err)
			continue
		}
		jobs = append(jobs, j)
	}

	logger.Info("configuration loaded",
		"rules", len(rs), "rejected_rules", len(f.Rules)-len(rs),
		"jobs", len(jobs), "rejected_jobs", len(f.Jobs)-len(jobs))
	return rs, jobs, nil
}

func buildRule(seq int, spec *ruleSpec) (*rules.Rule, error) {
	mode, err := rules.ParseMatchMode(spec.Match)
	if err != nil {
		return nil, err
	}
	delivery, err := models.ParseDeliveryMode(spec.Delivery)
	if err != nil {
		return nil, err
	}
	calls, err := buildCalls(spec.Calls)
	if err != nil {
		return nil, err
	}

	name := spec.Name
	if name == "" {
		name = fmt.Sprintf("rule-%d", seq)
	}

	r := &rules.Rule{
		ID:            fmt.Sprintf("%02d-%s", seq, name),
		Name:          name,
		Keywords:      spec.Keywords,
		Mode:          mode,
		CaseSensitive: spec.CaseSensitive,
		Priority:      spec.Priority,
		Cooldown:      time.Duration(spec.Cooldown),
		MaxPerHour:    spec.MaxPerHour,
		Response:      spec.Response,
		Calls:         calls,
		AllowChannels: spec.Channels,
		DenyChannels:  spec.DenyChannels,
		DirectOnly:    spec.DirectOnly,
		Emergency:     spec.Emergency,
		Delivery:      delivery,
	}
	if err := r.Compile(seq, enabled(spec.Enabled)); err != nil {
		return nil, err
	}
	return r, nil
}

func buildCalls(specs []callSpec) ([]models.PluginCall, error) {
	var calls []models.PluginCall
	for i, cs := range specs {
		call, err := buildCall(&cs)
		if err != nil {
			return nil, fmt.Errorf("call %d: %w", i, err)
		}
		calls = append(calls, *call)
	}
	return calls, nil
}

func buildCall(cs *callSpec) (*models.PluginCall, error) {
	if cs.Plugin == "" {
		return nil, fmt.Errorf("call names no plugin")
	}
	priority, err := models.ParsePriority(cs.Priority)
	if err != nil {
		return nil, err
	}
	return &models.PluginCall{
		Plugin:   cs.Plugin,
		Method:   cs.Method,
		Args:     cs.Args,
		Preamble: cs.Preamble,
		Channel:  cs.Channel,
		Priority: priority,
	}, nil
}

func buildJob(spec *jobSpec) (*schedule.Job, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("job has no name")
	}
	priority, err := models.ParsePriority(spec.Priority)
	if err != nil {
		return nil, err
	}

	j := &schedule.Job{
		Name:     spec.Name,
		Kind:     schedule.Kind(spec.Kind),
		CronExpr: spec.Cron,
		Every:    time.Duration(spec.Every),
		At:       spec.At,
		Payload:  schedule.PayloadKind(spec.Payload),
		Text:     spec.Text,
		Command:  spec.Command,
		Channel:  spec.Channel,
		Priority: priority,
	}
	if spec.Call != nil {
		call, err := buildCall(spec.Call)
		if err != nil {
			return nil, err
		}
		j.Call = call
	}
	if err := j.Compile(enabled(spec.Enabled)); err != nil {
		return nil, err
	}
	return j, nil
}

func enabled(v *bool) bool {
	return v == nil || *v
}
