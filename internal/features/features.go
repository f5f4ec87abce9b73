// Package features holds the native featurizer table. Each featurizer is
// a processing step over a structured datapath file producing a flat
// feature mapping.
//
// The science here is deliberately lightweight summary statistics; the
// point of a featurizer is its contract: declared defaults, a validation
// gate, and an execution that either yields a feature set or raises a
// FeaturizationError.
package features

import (
	"context"
	"fmt"

	"github.com/mwaller/cellpipe/internal/datapath"
	"github.com/mwaller/cellpipe/internal/outname"
	"github.com/mwaller/cellpipe/internal/registry"
)

// FeaturizationError is a domain failure raised while computing features.
type FeaturizationError struct {
	Msg string
}

func (e *FeaturizationError) Error() string { return e.Msg }
func (e *FeaturizationError) Kind() string  { return "FeaturizationError" }

// FeatureSet is the durable result object of one featurizer run.
type FeatureSet struct {
	Featurizer string             `json:"featurizer"`
	Source     string             `json:"source"`
	Parameters registry.Params    `json:"parameters"`
	Features   map[string]float64 `json:"features"`
}

type validateFunc func(p *datapath.Processed, params registry.Params) (bool, string)

type computeFunc func(p *datapath.Processed, params registry.Params) (map[string]float64, error)

// featurizer is the shared Factory implementation for all native
// featurizers.
type featurizer struct {
	name     string
	defaults registry.Params
	validate validateFunc
	compute  computeFunc
}

func (f *featurizer) Name() string               { return f.name }
func (f *featurizer) Defaults() registry.Params  { return f.defaults }
func (f *featurizer) Naming() outname.Convention { return outname.Convention{Prefixed: true} }

func (f *featurizer) New(input string, params registry.Params) (registry.Step, error) {
	p, err := datapath.LoadProcessed(input)
	if err != nil {
		return nil, fmt.Errorf("loading processed run %s: %w", input, err)
	}
	return &featurizerStep{f: f, p: p, params: params}, nil
}

type featurizerStep struct {
	f      *featurizer
	p      *datapath.Processed
	params registry.Params
}

func (s *featurizerStep) Validate() (bool, string) {
	if s.p.Structured == nil || len(s.p.Structured.Cycles) == 0 {
		return false, "datapath has no structured cycles"
	}
	return s.f.validate(s.p, s.params)
}

func (s *featurizerStep) Execute(ctx context.Context) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	feats, err := s.f.compute(s.p, s.params)
	if err != nil {
		return nil, err
	}
	return &FeatureSet{
		Featurizer: s.f.name,
		Source:     s.p.SourcePath,
		Parameters: s.params,
		Features:   feats,
	}, nil
}

// Natives returns every native featurizer, core set first.
func Natives() []registry.Factory {
	return []registry.Factory{
		hppcResistanceVoltageFeatures(),
		deltaQFastCharge(),
		trajectoryFastCharge(),
		cycleSummaryStats(),
		diagnosticProperties(),
		diagnosticSummaryStats(),
		intracellCycles(),
		intracellFeatures(),
	}
}

// Core lists the featurizers the "all" selection expands to. The
// intracell featurizers are native but opt-in.
func Core() []string {
	return []string{
		"HPPCResistanceVoltageFeatures",
		"DeltaQFastCharge",
		"TrajectoryFastCharge",
		"CycleSummaryStats",
		"DiagnosticProperties",
		"DiagnosticSummaryStats",
	}
}

// NewRegistry builds the featurize operation's registry.
func NewRegistry() *registry.Registry {
	return registry.New(Natives(), Core())
}
