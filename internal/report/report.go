// Package report accumulates per-file, per-step outcomes into the run
// report and classifies results once a run finishes.
package report

import (
	"errors"
	"fmt"
	"time"
)

// TimestampLayout is the UTC completion-time format in report metadata.
const TimestampLayout = "2006-01-02 15:04:05"

// ErrFinalized is returned for any mutation after Finalize.
var ErrFinalized = errors.New("report already finalized")

// Status is the tag of a recorded outcome.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusInvalid   Status = "invalid"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Outcome is the immutable record of one step applied to one file.
// Exactly one exists per (file, step) pair per run.
type Outcome struct {
	Step            string  `json:"step"`
	Status          Status  `json:"status"`
	Reason          string  `json:"reason,omitempty"`
	ErrorKind       string  `json:"error_kind,omitempty"`
	Diagnostic      string  `json:"diagnostic,omitempty"`
	Output          string  `json:"output,omitempty"`
	OutputMD5       string  `json:"output_md5,omitempty"`
	WalltimeSeconds float64 `json:"walltime_seconds"`
}

// Succeeded builds an outcome for a completed step with a written output.
func Succeeded(step, output, outputMD5 string, d time.Duration) Outcome {
	return Outcome{
		Step:            step,
		Status:          StatusSucceeded,
		Output:          output,
		OutputMD5:       outputMD5,
		WalltimeSeconds: d.Seconds(),
	}
}

// Invalid builds an outcome for a file that failed the step's validation.
func Invalid(step, reason string, d time.Duration) Outcome {
	return Outcome{
		Step:            step,
		Status:          StatusInvalid,
		Reason:          reason,
		WalltimeSeconds: d.Seconds(),
	}
}

// Failed builds an outcome for a step that raised during execution. The
// diagnostic carries the full trace for postmortem.
func Failed(step, errorKind, diagnostic string, d time.Duration) Outcome {
	return Outcome{
		Step:            step,
		Status:          StatusFailed,
		ErrorKind:       errorKind,
		Diagnostic:      diagnostic,
		WalltimeSeconds: d.Seconds(),
	}
}

// Skipped builds an outcome for a step that was deliberately not executed.
func Skipped(step, reason string) Outcome {
	return Outcome{Step: step, Status: StatusSkipped, Reason: reason}
}

// FileEntry groups the outcomes for one resolved input.
type FileEntry struct {
	Input           string    `json:"input"`
	Origin          string    `json:"origin"`
	RawMD5          string    `json:"raw_md5,omitempty"`
	WalltimeSeconds float64   `json:"walltime_seconds"`
	Outcomes        []Outcome `json:"outcomes"`
}

// Metadata is attached exactly once, when the run finalizes.
type Metadata struct {
	ToolVersion  string   `json:"tool_version"`
	CompletedUTC string   `json:"completed_utc"`
	RunID        string   `json:"run_id,omitempty"`
	InvocationID string   `json:"invocation_id"`
	Tags         []string `json:"tags,omitempty"`
}

// RunReport is the aggregated record of one invocation. Files appear in
// resolution order.
type RunReport struct {
	Steps    []string    `json:"steps"`
	Files    []FileEntry `json:"files"`
	Critical string      `json:"critical,omitempty"`
	Metadata *Metadata   `json:"metadata,omitempty"`
}

// Aggregator builds a RunReport incrementally. It is owned by the
// orchestrator for the lifetime of one invocation.
type Aggregator struct {
	report    RunReport
	index     map[string]int
	recorded  map[string]map[string]bool
	finalized bool
	now       func() time.Time
}

// NewAggregator creates an aggregator for a run over the given configured
// step names.
func NewAggregator(steps []string) *Aggregator {
	return &Aggregator{
		report:   RunReport{Steps: append([]string{}, steps...)},
		index:    map[string]int{},
		recorded: map[string]map[string]bool{},
		now:      time.Now,
	}
}

// AddFile registers a resolved input, preserving resolution order.
func (a *Aggregator) AddFile(input, origin, rawMD5 string) error {
	if a.finalized {
		return ErrFinalized
	}
	if _, dup := a.index[input]; dup {
		return fmt.Errorf("file %s already in report", input)
	}
	a.index[input] = len(a.report.Files)
	a.recorded[input] = map[string]bool{}
	a.report.Files = append(a.report.Files, FileEntry{
		Input:  input,
		Origin: origin,
		RawMD5: rawMD5,
	})
	return nil
}

// Record stores one outcome. A second outcome for the same (file, step)
// pair is an internal error, never a silent overwrite.
func (a *Aggregator) Record(input string, oc Outcome) error {
	if a.finalized {
		return ErrFinalized
	}
	i, ok := a.index[input]
	if !ok {
		return fmt.Errorf("file %s not registered in report", input)
	}
	if a.recorded[input][oc.Step] {
		return fmt.Errorf("outcome for (%s, %s) already recorded", input, oc.Step)
	}
	a.recorded[input][oc.Step] = true
	a.report.Files[i].Outcomes = append(a.report.Files[i].Outcomes, oc)
	return nil
}

// SetFileWalltime records the total wall-clock duration spent on one file.
func (a *Aggregator) SetFileWalltime(input string, d time.Duration) {
	if i, ok := a.index[input]; ok && !a.finalized {
		a.report.Files[i].WalltimeSeconds = d.Seconds()
	}
}

// MarkCritical attaches a run-level critical note, e.g. an operator
// interrupt.
func (a *Aggregator) MarkCritical(note string) {
	if !a.finalized {
		a.report.Critical = note
	}
}

// Finalize attaches metadata and returns the completed report. It may be
// called exactly once; the completion timestamp is stamped here.
func (a *Aggregator) Finalize(meta Metadata) (*RunReport, error) {
	if a.finalized {
		return nil, ErrFinalized
	}
	a.finalized = true
	if meta.CompletedUTC == "" {
		meta.CompletedUTC = a.now().UTC().Format(TimestampLayout)
	}
	a.report.Metadata = &meta
	return &a.report, nil
}

// Class is a per-file classification across the run's configured steps.
type Class string

const (
	ClassAll  Class = "all_succeeded"
	ClassSome Class = "some_succeeded"
	ClassNone Class = "none_succeeded"
)

// Summary classifies every file in a report. Thresholds are computed over
// the count of steps configured for the run, not a global constant.
type Summary struct {
	StepCount int
	All       []string
	Some      []string
	None      []string
	Successes map[string]int
}

// Summarize classifies each file in report order.
func Summarize(r *RunReport) Summary {
	s := Summary{StepCount: len(r.Steps), Successes: map[string]int{}}
	for _, fe := range r.Files {
		n := 0
		for _, oc := range fe.Outcomes {
			if oc.Status == StatusSucceeded {
				n++
			}
		}
		s.Successes[fe.Input] = n
		switch {
		case n == s.StepCount && s.StepCount > 0:
			s.All = append(s.All, fe.Input)
		case n == 0:
			s.None = append(s.None, fe.Input)
		default:
			s.Some = append(s.Some, fe.Input)
		}
	}
	return s
}
