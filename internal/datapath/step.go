package datapath

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mwaller/cellpipe/internal/outname"
	"github.com/mwaller/cellpipe/internal/registry"
)

// StepName identifies the structuring step.
const StepName = "structure"

// StructureFactory builds structuring steps. It is the single entry in
// the structure command's native table.
type StructureFactory struct{}

func (StructureFactory) Name() string { return StepName }

func (StructureFactory) Defaults() registry.Params {
	return registry.Params{
		"v_range":             nil,
		"resolution":          1000,
		"nominal_capacity":    1.1,
		"full_fast_charge":    0.8,
		"charge_axis":         "charge_capacity",
		"discharge_axis":      "voltage",
		"diagnostic_interval": 0,
		"automatic":           false,
		"parameters_dir":      "",
		"validation_only":     false,
		"omit_raw":            false,
		"schema":              "",
	}
}

func (StructureFactory) Naming() outname.Convention {
	// Structuring changes representation: raw csv in, structured json out.
	return outname.Convention{Suffix: outname.StructuredSuffix, NewExt: ".json.gz"}
}

func (StructureFactory) New(input string, params registry.Params) (registry.Step, error) {
	var schema *Schema
	if path := params.String("schema"); path != "" {
		var err error
		schema, err = LoadSchema(path)
		if err != nil {
			return nil, err
		}
	}
	d, err := Load(input, schema)
	if err != nil {
		return nil, err
	}
	return &structureStep{d: d, params: params}, nil
}

type structureStep struct {
	d      *Datapath
	params registry.Params
}

func (s *structureStep) Validate() (bool, string) {
	return s.d.Validate()
}

func (s *structureStep) Execute(ctx context.Context) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.params.Bool("validation_only") {
		return nil, nil
	}

	p := Params{
		VRange:             s.params.Floats("v_range"),
		Resolution:         s.params.Int("resolution"),
		NominalCapacity:    s.params.Float("nominal_capacity"),
		FullFastCharge:     s.params.Float("full_fast_charge"),
		ChargeAxis:         s.params.String("charge_axis"),
		DischargeAxis:      s.params.String("discharge_axis"),
		DiagnosticInterval: s.params.Int("diagnostic_interval"),
	}
	if s.params.Bool("automatic") {
		auto, err := determineParams(s.d.Path, s.params.String("parameters_dir"))
		if err != nil {
			return nil, err
		}
		// Auto-determined parameters override everything set manually.
		p = mergeAutoParams(p, auto)
	}

	structured, err := s.d.Structure(p)
	if err != nil {
		return nil, err
	}

	out := &Processed{
		SourcePath: s.d.Path,
		Schema:     s.d.Schema.Name,
		Structured: structured,
	}
	if !s.params.Bool("omit_raw") {
		out.Raw = s.d.Readings()
	}
	return out, nil
}

// determineParams looks up structuring parameters for a file from a
// protocol parameters directory. The project name is the part of the
// basename before the first underscore, and the directory must contain
// "<project>.yaml".
func determineParams(inputPath, paramsDir string) (Params, error) {
	if paramsDir == "" {
		return Params{}, &StructuringError{
			Msg: "automatic structuring requested but no protocol parameters directory is configured",
		}
	}
	base := filepath.Base(inputPath)
	project := base
	if i := strings.Index(base, "_"); i > 0 {
		project = base[:i]
	} else if i := strings.Index(base, "."); i > 0 {
		project = base[:i]
	}

	path := filepath.Join(paramsDir, project+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return Params{}, &StructuringError{
			Msg: fmt.Sprintf("no protocol parameters for project %q (looked for %s)", project, path),
		}
	}
	var p Params
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Params{}, &StructuringError{Msg: fmt.Sprintf("parsing protocol parameters %s: %v", path, err)}
	}
	return p, nil
}

func mergeAutoParams(manual, auto Params) Params {
	out := manual
	if len(auto.VRange) == 2 {
		out.VRange = auto.VRange
	}
	if auto.Resolution > 0 {
		out.Resolution = auto.Resolution
	}
	if auto.NominalCapacity > 0 {
		out.NominalCapacity = auto.NominalCapacity
	}
	if auto.FullFastCharge > 0 {
		out.FullFastCharge = auto.FullFastCharge
	}
	if auto.ChargeAxis != "" {
		out.ChargeAxis = auto.ChargeAxis
	}
	if auto.DischargeAxis != "" {
		out.DischargeAxis = auto.DischargeAxis
	}
	if auto.DiagnosticInterval > 0 {
		out.DiagnosticInterval = auto.DiagnosticInterval
	}
	return out
}
