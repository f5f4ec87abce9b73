// Package datapath models one cycler data file through its life in the
// pipeline: raw CSV in, schema validation, structuring onto a fixed
// interpolation grid, and a durable structured form that featurizers
// consume.
package datapath

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/mwaller/cellpipe/internal/serialize"
)

// StructuringError is a domain failure raised while structuring.
type StructuringError struct {
	Msg string
}

func (e *StructuringError) Error() string { return e.Msg }
func (e *StructuringError) Kind() string  { return "StructuringError" }

// Reading is one parsed row of a raw cycler file.
type Reading struct {
	CycleIndex        int     `json:"cycle_index"`
	TestTime          float64 `json:"test_time"`
	Current           float64 `json:"current"`
	Voltage           float64 `json:"voltage"`
	ChargeCapacity    float64 `json:"charge_capacity"`
	DischargeCapacity float64 `json:"discharge_capacity"`
}

// Params controls structuring.
type Params struct {
	VRange             []float64 `json:"v_range,omitempty" yaml:"v_range"`
	Resolution         int       `json:"resolution" yaml:"resolution"`
	NominalCapacity    float64   `json:"nominal_capacity" yaml:"nominal_capacity"`
	FullFastCharge     float64   `json:"full_fast_charge" yaml:"full_fast_charge"`
	ChargeAxis         string    `json:"charge_axis" yaml:"charge_axis"`
	DischargeAxis      string    `json:"discharge_axis" yaml:"discharge_axis"`
	DiagnosticInterval int       `json:"diagnostic_interval" yaml:"diagnostic_interval"`
}

// CycleSummary aggregates one cycle.
type CycleSummary struct {
	CycleIndex        int     `json:"cycle_index"`
	ChargeCapacity    float64 `json:"charge_capacity"`
	DischargeCapacity float64 `json:"discharge_capacity"`
	MaxVoltage        float64 `json:"max_voltage"`
	MinVoltage        float64 `json:"min_voltage"`
	MeanCurrent       float64 `json:"mean_current"`
	Duration          float64 `json:"duration"`
	Diagnostic        bool    `json:"diagnostic"`
}

// InterpolatedCycle holds one cycle's charge or discharge branch
// interpolated onto a fixed-resolution axis grid.
type InterpolatedCycle struct {
	CycleIndex int       `json:"cycle_index"`
	Branch     string    `json:"branch"` // "charge" or "discharge"
	Axis       string    `json:"axis"`
	X          []float64 `json:"x"`
	Y          []float64 `json:"y"`
	YName      string    `json:"y_name"`
}

// Structured is the structuring result for one file.
type Structured struct {
	Params           Params              `json:"parameters"`
	Cycles           []CycleSummary      `json:"cycles_summary"`
	Interpolated     []InterpolatedCycle `json:"cycles_interpolated"`
	DiagnosticCycles []int               `json:"diagnostic_cycles,omitempty"`
}

// Processed is the durable structured form written to disk and consumed
// by featurizers.
type Processed struct {
	SourcePath string      `json:"source_path"`
	Schema     string      `json:"schema,omitempty"`
	Raw        []Reading   `json:"raw,omitempty"`
	Structured *Structured `json:"structured"`
}

// Datapath is a raw cycler file held loosely enough that schema problems
// surface as validation results, not load failures.
type Datapath struct {
	Path   string
	Header []string
	Rows   [][]string
	Schema *Schema

	cols map[string]int
}

// Load reads a raw cycler CSV. Only structural CSV problems (unreadable
// file, ragged rows) fail the load; header and content issues are left
// for Validate.
func Load(path string, schema *Schema) (*Datapath, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("reading %s: empty file", path)
	}
	if schema == nil {
		schema = DefaultSchema()
	}

	d := &Datapath{
		Path:   path,
		Header: records[0],
		Rows:   records[1:],
		Schema: schema,
		cols:   map[string]int{},
	}
	for i, name := range d.Header {
		d.cols[name] = i
	}
	return d, nil
}

// Validate checks the raw file against the schema without mutating
// anything. The reason string is empty only when the file is valid.
func (d *Datapath) Validate() (bool, string) {
	for _, col := range d.Schema.RequiredColumns {
		if _, ok := d.cols[col]; !ok {
			return false, fmt.Sprintf("missing required column %q", col)
		}
	}
	if len(d.Rows) < d.Schema.MinRows {
		return false, fmt.Sprintf("only %d data rows, schema requires at least %d", len(d.Rows), d.Schema.MinRows)
	}
	for _, col := range d.Schema.RequiredColumns {
		idx := d.cols[col]
		for rn, row := range d.Rows {
			if idx >= len(row) {
				return false, fmt.Sprintf("row %d has no value for column %q", rn+1, col)
			}
			if _, err := strconv.ParseFloat(row[idx], 64); err != nil {
				return false, fmt.Sprintf("row %d column %q: %q is not numeric", rn+1, col, row[idx])
			}
		}
	}
	for _, col := range d.Schema.Monotonic {
		idx, ok := d.cols[col]
		if !ok {
			continue
		}
		prev := math.Inf(-1)
		for rn, row := range d.Rows {
			v, _ := strconv.ParseFloat(row[idx], 64)
			if v < prev {
				return false, fmt.Sprintf("column %q not monotonically increasing at row %d", col, rn+1)
			}
			prev = v
		}
	}
	if idx, ok := d.cols["voltage"]; ok && d.Schema.Voltage.Max > d.Schema.Voltage.Min {
		for rn, row := range d.Rows {
			v, _ := strconv.ParseFloat(row[idx], 64)
			if v < d.Schema.Voltage.Min || v > d.Schema.Voltage.Max {
				return false, fmt.Sprintf("voltage %.3f at row %d outside schema bounds [%.3f, %.3f]",
					v, rn+1, d.Schema.Voltage.Min, d.Schema.Voltage.Max)
			}
		}
	}
	return true, ""
}

// Readings converts the raw rows into typed readings. Callers must have
// validated first; unparseable cells become zeros here.
func (d *Datapath) Readings() []Reading {
	get := func(row []string, col string) float64 {
		idx, ok := d.cols[col]
		if !ok || idx >= len(row) {
			return 0
		}
		v, _ := strconv.ParseFloat(row[idx], 64)
		return v
	}
	out := make([]Reading, 0, len(d.Rows))
	for _, row := range d.Rows {
		out = append(out, Reading{
			CycleIndex:        int(get(row, "cycle_index")),
			TestTime:          get(row, "test_time"),
			Current:           get(row, "current"),
			Voltage:           get(row, "voltage"),
			ChargeCapacity:    get(row, "charge_capacity"),
			DischargeCapacity: get(row, "discharge_capacity"),
		})
	}
	return out
}

// Structure summarizes every cycle and interpolates the charge and
// discharge branches onto fixed-resolution grids.
func (d *Datapath) Structure(p Params) (*Structured, error) {
	if p.Resolution <= 1 {
		return nil, &StructuringError{Msg: fmt.Sprintf("resolution must be at least 2, got %d", p.Resolution)}
	}
	readings := d.Readings()
	if len(readings) == 0 {
		return nil, &StructuringError{Msg: "no readings to structure"}
	}

	byCycle := map[int][]Reading{}
	var order []int
	for _, r := range readings {
		if _, seen := byCycle[r.CycleIndex]; !seen {
			order = append(order, r.CycleIndex)
		}
		byCycle[r.CycleIndex] = append(byCycle[r.CycleIndex], r)
	}
	sort.Ints(order)

	vrange := p.VRange
	if len(vrange) != 2 {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, r := range readings {
			lo = math.Min(lo, r.Voltage)
			hi = math.Max(hi, r.Voltage)
		}
		vrange = []float64{lo, hi}
	}
	if vrange[0] >= vrange[1] {
		return nil, &StructuringError{Msg: fmt.Sprintf("voltage range [%.3f, %.3f] is empty", vrange[0], vrange[1])}
	}
	p.VRange = vrange

	s := &Structured{Params: p}
	for _, ci := range order {
		group := byCycle[ci]
		summary := summarizeCycle(ci, group)
		if p.DiagnosticInterval > 0 && ci%p.DiagnosticInterval == 0 {
			summary.Diagnostic = true
			s.DiagnosticCycles = append(s.DiagnosticCycles, ci)
		}
		s.Cycles = append(s.Cycles, summary)

		if ic, ok := interpolateBranch(ci, group, "discharge", p.DischargeAxis, p); ok {
			s.Interpolated = append(s.Interpolated, ic)
		}
		if ic, ok := interpolateBranch(ci, group, "charge", p.ChargeAxis, p); ok {
			s.Interpolated = append(s.Interpolated, ic)
		}
	}
	return s, nil
}

func summarizeCycle(ci int, group []Reading) CycleSummary {
	sum := CycleSummary{
		CycleIndex: ci,
		MaxVoltage: math.Inf(-1),
		MinVoltage: math.Inf(1),
	}
	tMin, tMax := math.Inf(1), math.Inf(-1)
	var currentTotal float64
	for _, r := range group {
		sum.ChargeCapacity = math.Max(sum.ChargeCapacity, r.ChargeCapacity)
		sum.DischargeCapacity = math.Max(sum.DischargeCapacity, r.DischargeCapacity)
		sum.MaxVoltage = math.Max(sum.MaxVoltage, r.Voltage)
		sum.MinVoltage = math.Min(sum.MinVoltage, r.Voltage)
		currentTotal += math.Abs(r.Current)
		tMin = math.Min(tMin, r.TestTime)
		tMax = math.Max(tMax, r.TestTime)
	}
	sum.MeanCurrent = currentTotal / float64(len(group))
	sum.Duration = tMax - tMin
	return sum
}

// interpolateBranch interpolates one branch of a cycle onto the axis
// grid. Branch membership follows current sign; branches with fewer than
// two samples are skipped.
func interpolateBranch(ci int, group []Reading, branch, axis string, p Params) (InterpolatedCycle, bool) {
	var pts []Reading
	for _, r := range group {
		if branch == "discharge" && r.Current < 0 {
			pts = append(pts, r)
		}
		if branch == "charge" && r.Current > 0 {
			pts = append(pts, r)
		}
	}
	if len(pts) < 2 {
		return InterpolatedCycle{}, false
	}

	axisValue := func(r Reading) float64 {
		switch axis {
		case "voltage":
			return r.Voltage
		case "charge_capacity":
			return r.ChargeCapacity
		case "discharge_capacity":
			return r.DischargeCapacity
		case "test_time":
			return r.TestTime
		default:
			return r.Voltage
		}
	}
	var yValue func(r Reading) float64
	yName := "voltage"
	if branch == "discharge" && axis == "voltage" {
		yValue = func(r Reading) float64 { return r.DischargeCapacity }
		yName = "discharge_capacity"
	} else {
		yValue = func(r Reading) float64 { return r.Voltage }
	}

	sort.Slice(pts, func(i, j int) bool { return axisValue(pts[i]) < axisValue(pts[j]) })
	xs := make([]float64, len(pts))
	ys := make([]float64, len(pts))
	for i, r := range pts {
		xs[i] = axisValue(r)
		ys[i] = yValue(r)
	}

	var lo, hi float64
	if axis == "voltage" {
		lo, hi = p.VRange[0], p.VRange[1]
	} else {
		lo, hi = xs[0], xs[len(xs)-1]
	}
	if hi <= lo {
		return InterpolatedCycle{}, false
	}

	grid := linspace(lo, hi, p.Resolution)
	out := make([]float64, len(grid))
	for i, x := range grid {
		out[i] = interp(xs, ys, x)
	}
	return InterpolatedCycle{
		CycleIndex: ci,
		Branch:     branch,
		Axis:       axis,
		X:          grid,
		Y:          out,
		YName:      yName,
	}, true
}

func linspace(lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	out[n-1] = hi
	return out
}

// interp linearly interpolates ys over sorted xs, clamping outside the
// sampled range so results stay JSON-encodable.
func interp(xs, ys []float64, x float64) float64 {
	if x <= xs[0] {
		return ys[0]
	}
	if x >= xs[len(xs)-1] {
		return ys[len(ys)-1]
	}
	i := sort.SearchFloat64s(xs, x)
	x0, x1 := xs[i-1], xs[i]
	y0, y1 := ys[i-1], ys[i]
	if x1 == x0 {
		return y0
	}
	return y0 + (y1-y0)*(x-x0)/(x1-x0)
}

// LoadProcessed reads a structured file previously written by the
// structure step.
func LoadProcessed(path string) (*Processed, error) {
	var p Processed
	if err := serialize.ReadInto(path, &p); err != nil {
		return nil, err
	}
	if p.Structured == nil {
		return nil, fmt.Errorf("%s is not a structured file", path)
	}
	return &p, nil
}

// Summary returns the cycle summary for one cycle index, if present.
func (s *Structured) Summary(cycleIndex int) (CycleSummary, bool) {
	for _, c := range s.Cycles {
		if c.CycleIndex == cycleIndex {
			return c, true
		}
	}
	return CycleSummary{}, false
}

// InterpolatedBranch returns one cycle's interpolated branch, if present.
func (s *Structured) InterpolatedBranch(cycleIndex int, branch string) (InterpolatedCycle, bool) {
	for _, ic := range s.Interpolated {
		if ic.CycleIndex == cycleIndex && ic.Branch == branch {
			return ic, true
		}
	}
	return InterpolatedCycle{}, false
}
