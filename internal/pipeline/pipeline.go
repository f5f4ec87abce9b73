// Package pipeline drives one batch invocation: for each resolved file,
// for each configured step, execute the step in isolation and record a
// single outcome into the run report.
//
// Failure handling follows a strict taxonomy. Validation failures become
// Invalid outcomes and execution failures become Failed outcomes; neither
// stops the run unless halt-on-error is set. Operator interrupts always
// terminate the run, regardless of the halt policy.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/mwaller/cellpipe/internal/outname"
	"github.com/mwaller/cellpipe/internal/registry"
	"github.com/mwaller/cellpipe/internal/report"
	"github.com/mwaller/cellpipe/internal/resolve"
	"github.com/mwaller/cellpipe/internal/runlog"
	"github.com/mwaller/cellpipe/internal/serialize"
)

// ErrCancelled is returned when an operator interrupt terminates the run.
var ErrCancelled = errors.New("run cancelled by operator")

// HaltError carries the first failure encountered under halt-on-error.
type HaltError struct {
	File    string
	Step    string
	Outcome report.Outcome
}

func (e *HaltError) Error() string {
	detail := e.Outcome.Reason
	if detail == "" {
		detail = e.Outcome.Diagnostic
	}
	return fmt.Sprintf("halting on first error: step %s on %s: %s: %s",
		e.Step, e.File, e.Outcome.Status, detail)
}

// WriteFunc is the durable-write capability: serialize a result object to
// a destination path.
type WriteFunc func(v any, path string) error

// Orchestrator owns the run report for the lifetime of one invocation and
// executes the sequential file x step loop.
type Orchestrator struct {
	Steps []registry.StepSpec
	Namer *outname.Namer
	Write WriteFunc // defaults to serialize.Write
	Log   *runlog.Logger
	Halt  bool
	Meta  report.Metadata
}

// Run processes every resolved file through every configured step. The
// returned report is always non-nil and finalized, including under halt
// and cancellation; persisting a partial report is the caller's decision.
func (o *Orchestrator) Run(ctx context.Context, files []resolve.ResolvedFile) (*report.RunReport, error) {
	log := o.Log
	if log == nil {
		log = runlog.Discard()
	}
	write := o.Write
	if write == nil {
		write = serialize.Write
	}

	stepNames := make([]string, len(o.Steps))
	for i, sp := range o.Steps {
		stepNames[i] = sp.Name
	}
	agg := report.NewAggregator(stepNames)

	n := len(files)
	log.Infof("applying %d steps to each of %d files", len(o.Steps), n)

	for i, f := range files {
		prefix := fmt.Sprintf("file %d of %d", i+1, n)

		if ctx.Err() != nil {
			return o.cancel(agg, log)
		}

		fileStart := time.Now()
		log.Debugf("%s: hashing %s", prefix, f.Path)
		rawMD5, err := f.Fingerprint()
		if err != nil {
			// The fingerprint is audit metadata; a hash failure must not
			// fail the file.
			log.Warnf("%s: could not fingerprint %s: %v", prefix, f.Path, err)
		}

		var (
			outcomes  []report.Outcome
			haltErr   *HaltError
			cancelled bool
		)
		for _, sp := range o.Steps {
			if ctx.Err() != nil {
				cancelled = true
				break
			}
			oc, interrupted := o.runStep(ctx, write, log, prefix, f, sp)
			if interrupted {
				// The in-flight outcome is never recorded.
				cancelled = true
				break
			}
			outcomes = append(outcomes, oc)
			if o.Halt && (oc.Status == report.StatusFailed || oc.Status == report.StatusInvalid) {
				haltErr = &HaltError{File: f.Path, Step: sp.Name, Outcome: oc}
				break
			}
		}

		if haltErr != nil {
			// Under halt-on-error the failure propagates instead of being
			// converted into a report entry; the aborted file is not
			// aggregated.
			rep, ferr := agg.Finalize(o.Meta)
			if ferr != nil {
				return nil, ferr
			}
			return rep, haltErr
		}

		if err := o.aggregate(agg, f, rawMD5, outcomes, time.Since(fileStart)); err != nil {
			return nil, err
		}
		if cancelled {
			return o.cancel(agg, log)
		}
	}

	rep, err := agg.Finalize(o.Meta)
	if err != nil {
		return nil, err
	}
	return rep, nil
}

func (o *Orchestrator) aggregate(agg *report.Aggregator, f resolve.ResolvedFile, rawMD5 string, outcomes []report.Outcome, elapsed time.Duration) error {
	if err := agg.AddFile(f.Path, string(f.Origin), rawMD5); err != nil {
		return fmt.Errorf("aggregating %s: %w", f.Path, err)
	}
	for _, oc := range outcomes {
		if err := agg.Record(f.Path, oc); err != nil {
			return fmt.Errorf("aggregating %s: %w", f.Path, err)
		}
	}
	agg.SetFileWalltime(f.Path, elapsed)
	return nil
}

func (o *Orchestrator) cancel(agg *report.Aggregator, log *runlog.Logger) (*report.RunReport, error) {
	log.Criticalf("operator interrupt caught - terminating run")
	agg.MarkCritical("operator interrupt: run terminated before completion")
	rep, err := agg.Finalize(o.Meta)
	if err != nil {
		return nil, err
	}
	return rep, ErrCancelled
}

// runStep executes one step against one file: construct, validate,
// execute, name, write, record. Every failure mode maps to an outcome;
// only an operator interrupt escapes as interrupted=true.
func (o *Orchestrator) runStep(ctx context.Context, write WriteFunc, log *runlog.Logger, prefix string, f resolve.ResolvedFile, sp registry.StepSpec) (oc report.Outcome, interrupted bool) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("%s: step %s panicked on %s: %v", prefix, sp.Name, f.Path, r)
			oc = report.Failed(sp.Name, "panic", fmt.Sprintf("%v\n%s", r, debug.Stack()), time.Since(start))
			interrupted = false
		}
	}()

	step, err := sp.Factory.New(f.Path, sp.Params)
	if err != nil {
		if wasInterrupted(ctx, err) {
			return oc, true
		}
		log.Errorf("%s: failed (%s): constructing step %s for %s: %v", prefix, errorKind(err), sp.Name, f.Path, err)
		return report.Failed(sp.Name, errorKind(err), err.Error(), time.Since(start)), false
	}

	valid, reason := step.Validate()
	if !valid {
		log.Errorf("%s: invalid: step %s on %s: %s", prefix, sp.Name, f.Path, reason)
		return report.Invalid(sp.Name, reason, time.Since(start)), false
	}
	log.Infof("%s: step %s valid for %s", prefix, sp.Name, f.Path)

	result, err := step.Execute(ctx)
	if err != nil {
		if wasInterrupted(ctx, err) {
			return oc, true
		}
		log.Errorf("%s: failed (%s): step %s on %s: %v", prefix, errorKind(err), sp.Name, f.Path, err)
		return report.Failed(sp.Name, errorKind(err), err.Error(), time.Since(start)), false
	}
	if result == nil {
		// Steps signal a deliberate no-op (e.g. validation-only mode) with
		// a nil result; nothing is written.
		log.Infof("%s: step %s skipped execution for %s", prefix, sp.Name, f.Path)
		oc = report.Skipped(sp.Name, "execution skipped by step configuration")
		oc.WalltimeSeconds = time.Since(start).Seconds()
		return oc, false
	}

	dest := o.Namer.Destination(f.Path, sp.Name, sp.Factory.Naming())
	if err := write(result, dest); err != nil {
		if wasInterrupted(ctx, err) {
			return oc, true
		}
		log.Errorf("%s: failed (%s): writing output of step %s to %s: %v", prefix, errorKind(err), sp.Name, dest, err)
		return report.Failed(sp.Name, errorKind(err), err.Error(), time.Since(start)), false
	}

	outMD5, err := serialize.MD5Sum(dest)
	if err != nil {
		log.Warnf("%s: could not fingerprint output %s: %v", prefix, dest, err)
	}
	log.Infof("%s: step %s output for %s written to %s", prefix, sp.Name, f.Path, dest)
	return report.Succeeded(sp.Name, dest, outMD5, time.Since(start)), false
}

func wasInterrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}

// kinder lets domain errors carry an explicit kind label into reports.
type kinder interface {
	Kind() string
}

// errorKind derives the error-kind label recorded with Failed outcomes:
// the error's own kind when it declares one, otherwise the root cause's
// type name.
func errorKind(err error) string {
	var k kinder
	if errors.As(err, &k) {
		return k.Kind()
	}
	root := err
	for {
		u := errors.Unwrap(root)
		if u == nil {
			break
		}
		root = u
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", root), "*")
}
