package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scheduled worker names accepted in the schedule file.
const (
	WorkerDaily    = "daily"
	WorkerIntraday = "intraday"
)

// WorkerSchedule overrides how one periodic worker is scheduled.
type WorkerSchedule struct {
	Name       string        `yaml:"name"`
	Interval   time.Duration `yaml:"interval,omitempty"`
	WindowDays int           `yaml:"window_days,omitempty"`
	Disabled   bool          `yaml:"disabled,omitempty"`
}

// ScheduleFile is the parsed YAML structure:
// workers: [{name, interval, window_days, disabled}]
type ScheduleFile struct {
	Workers []WorkerSchedule `yaml:"workers"`
}

// WorkerPlan is the resolved schedule of one worker.
type WorkerPlan struct {
	Enabled    bool
	Interval   time.Duration
	WindowDays int
}

// Plan is the resolved schedule of every periodic worker.
type Plan struct {
	Daily    WorkerPlan
	Intraday WorkerPlan
}

// LoadScheduleFile parses a YAML schedule file from the given path.
// Returns nil if path is empty (no schedule file).
func LoadScheduleFile(path string) ([]WorkerSchedule, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schedule file: %w", err)
	}

	var sf ScheduleFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parse schedule file: %w", err)
	}

	if err := validateSchedules(sf.Workers); err != nil {
		return nil, err
	}

	return sf.Workers, nil
}

func validateSchedules(schedules []WorkerSchedule) error {
	if len(schedules) == 0 {
		return fmt.Errorf("schedule file contains no workers")
	}

	seen := make(map[string]bool)
	for i, s := range schedules {
		switch s.Name {
		case "":
			return fmt.Errorf("worker %d: name is required", i)
		case WorkerDaily, WorkerIntraday:
		default:
			return fmt.Errorf("worker %q: unknown worker", s.Name)
		}

		if seen[s.Name] {
			return fmt.Errorf("worker %q: duplicate name", s.Name)
		}
		seen[s.Name] = true

		if s.Interval < 0 {
			return fmt.Errorf("worker %q: interval cannot be negative", s.Name)
		}
		if s.WindowDays < 0 {
			return fmt.Errorf("worker %q: window_days cannot be negative", s.Name)
		}
		if s.WindowDays > 0 && s.Name != WorkerDaily {
			return fmt.Errorf("worker %q: window_days only applies to the daily worker", s.Name)
		}
	}

	return nil
}

// Plan merges the environment defaults with schedule file overrides.
func (c Config) Plan(overrides []WorkerSchedule) Plan {
	plan := Plan{
		Daily:    WorkerPlan{Enabled: true, Interval: c.DailyInterval, WindowDays: c.DailyWindowDays},
		Intraday: WorkerPlan{Enabled: true, Interval: c.IntradayInterval},
	}

	for _, o := range overrides {
		target := &plan.Daily
		if o.Name == WorkerIntraday {
			target = &plan.Intraday
		}
		if o.Interval > 0 {
			target.Interval = o.Interval
		}
		if o.WindowDays > 0 {
			target.WindowDays = o.WindowDays
		}
		if o.Disabled {
			target.Enabled = false
		}
	}

	return plan
}
