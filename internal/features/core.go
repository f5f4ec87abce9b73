package features

import (
	"fmt"
	"math"

	"github.com/mwaller/cellpipe/internal/datapath"
	"github.com/mwaller/cellpipe/internal/registry"
)

// cycleSummaryStats compares summary statistics between two reference
// cycles.
func cycleSummaryStats() *featurizer {
	return &featurizer{
		name: "CycleSummaryStats",
		defaults: registry.Params{
			"cycle_comp_num": []any{10, 100},
		},
		validate: func(p *datapath.Processed, params registry.Params) (bool, string) {
			comp := params.Floats("cycle_comp_num")
			if len(comp) != 2 {
				return false, "cycle_comp_num must name exactly two cycles"
			}
			for _, c := range comp {
				if _, ok := p.Structured.Summary(int(c)); !ok {
					return false, fmt.Sprintf("cycle %d not present in structured data", int(c))
				}
			}
			return true, ""
		},
		compute: func(p *datapath.Processed, params registry.Params) (map[string]float64, error) {
			comp := params.Floats("cycle_comp_num")
			first, _ := p.Structured.Summary(int(comp[0]))
			second, _ := p.Structured.Summary(int(comp[1]))
			if first.DischargeCapacity == 0 || first.ChargeCapacity == 0 {
				return nil, &FeaturizationError{Msg: fmt.Sprintf("cycle %d has zero capacity", first.CycleIndex)}
			}
			return map[string]float64{
				"discharge_capacity_ratio": second.DischargeCapacity / first.DischargeCapacity,
				"charge_capacity_ratio":    second.ChargeCapacity / first.ChargeCapacity,
				"voltage_spread_first":     first.MaxVoltage - first.MinVoltage,
				"voltage_spread_second":    second.MaxVoltage - second.MinVoltage,
				"duration_ratio":           ratio(second.Duration, first.Duration),
			}, nil
		},
	}
}

// deltaQFastCharge computes statistics of the capacity difference between
// an early and a late interpolated discharge curve.
func deltaQFastCharge() *featurizer {
	return &featurizer{
		name: "DeltaQFastCharge",
		defaults: registry.Params{
			"init_pred_cycle":  10,
			"final_pred_cycle": 100,
		},
		validate: func(p *datapath.Processed, params registry.Params) (bool, string) {
			for _, key := range []string{"init_pred_cycle", "final_pred_cycle"} {
				ci := params.Int(key)
				ic, ok := p.Structured.InterpolatedBranch(ci, "discharge")
				if !ok {
					return false, fmt.Sprintf("no interpolated discharge for cycle %d", ci)
				}
				if len(ic.Y) == 0 {
					return false, fmt.Sprintf("empty interpolation for cycle %d", ci)
				}
			}
			return true, ""
		},
		compute: func(p *datapath.Processed, params registry.Params) (map[string]float64, error) {
			init, _ := p.Structured.InterpolatedBranch(params.Int("init_pred_cycle"), "discharge")
			final, _ := p.Structured.InterpolatedBranch(params.Int("final_pred_cycle"), "discharge")
			if len(init.Y) != len(final.Y) {
				return nil, &FeaturizationError{Msg: "interpolation grids differ between cycles"}
			}
			dq := make([]float64, len(init.Y))
			for i := range dq {
				dq[i] = final.Y[i] - init.Y[i]
			}
			v := variance(dq)
			if v <= 0 {
				// log of non-positive variance is meaningless downstream
				return nil, &FeaturizationError{Msg: "delta-Q variance is not positive"}
			}
			return map[string]float64{
				"delta_q_log_variance": math.Log10(v),
				"delta_q_min":          minOf(dq),
				"delta_q_mean":         mean(dq),
			}, nil
		},
	}
}

// trajectoryFastCharge reports the cycle number at which discharge
// capacity first drops below a sweep of retention thresholds.
func trajectoryFastCharge() *featurizer {
	return &featurizer{
		name: "TrajectoryFastCharge",
		defaults: registry.Params{
			"thresh_max_cap": 0.98,
			"thresh_min_cap": 0.78,
			"interval_cap":   0.03,
		},
		validate: func(p *datapath.Processed, params registry.Params) (bool, string) {
			if params.Float("interval_cap") <= 0 {
				return false, "interval_cap must be positive"
			}
			if params.Float("thresh_max_cap") <= params.Float("thresh_min_cap") {
				return false, "thresh_max_cap must exceed thresh_min_cap"
			}
			if len(p.Structured.Cycles) < 2 {
				return false, "need at least two cycles for a capacity trajectory"
			}
			return true, ""
		},
		compute: func(p *datapath.Processed, params registry.Params) (map[string]float64, error) {
			cycles := p.Structured.Cycles
			initial := cycles[0].DischargeCapacity
			if initial <= 0 {
				return nil, &FeaturizationError{Msg: "initial discharge capacity is not positive"}
			}
			feats := map[string]float64{}
			for thresh := params.Float("thresh_max_cap"); thresh >= params.Float("thresh_min_cap")-1e-9; thresh -= params.Float("interval_cap") {
				crossing := -1.0
				for _, c := range cycles {
					if c.DischargeCapacity < thresh*initial {
						crossing = float64(c.CycleIndex)
						break
					}
				}
				feats[fmt.Sprintf("capacity_%.2f", thresh)] = crossing
			}
			return feats, nil
		},
	}
}

// hppcResistanceVoltageFeatures estimates a resistance proxy from each
// diagnostic cycle's voltage spread and mean current.
func hppcResistanceVoltageFeatures() *featurizer {
	return &featurizer{
		name: "HPPCResistanceVoltageFeatures",
		defaults: registry.Params{
			"min_diagnostic_cycles": 1,
		},
		validate: requireDiagnostics("min_diagnostic_cycles"),
		compute: func(p *datapath.Processed, params registry.Params) (map[string]float64, error) {
			var resistances []float64
			for _, c := range diagnostics(p) {
				if c.MeanCurrent == 0 {
					return nil, &FeaturizationError{Msg: fmt.Sprintf("diagnostic cycle %d has zero mean current", c.CycleIndex)}
				}
				resistances = append(resistances, (c.MaxVoltage-c.MinVoltage)/c.MeanCurrent)
			}
			return map[string]float64{
				"resistance_mean":  mean(resistances),
				"resistance_var":   variance(resistances),
				"resistance_first": resistances[0],
				"resistance_last":  resistances[len(resistances)-1],
			}, nil
		},
	}
}

// diagnosticProperties fits a linear capacity-fade trend across the
// diagnostic cycles.
func diagnosticProperties() *featurizer {
	return &featurizer{
		name: "DiagnosticProperties",
		defaults: registry.Params{
			"min_diagnostic_cycles": 2,
		},
		validate: requireDiagnostics("min_diagnostic_cycles"),
		compute: func(p *datapath.Processed, params registry.Params) (map[string]float64, error) {
			diags := diagnostics(p)
			xs := make([]float64, len(diags))
			ys := make([]float64, len(diags))
			for i, c := range diags {
				xs[i] = float64(c.CycleIndex)
				ys[i] = c.DischargeCapacity
			}
			slope, intercept, err := linearFit(xs, ys)
			if err != nil {
				return nil, err
			}
			return map[string]float64{
				"fade_slope":       slope,
				"fade_intercept":   intercept,
				"diagnostic_count": float64(len(diags)),
			}, nil
		},
	}
}

// diagnosticSummaryStats aggregates summary statistics over the
// diagnostic cycles.
func diagnosticSummaryStats() *featurizer {
	return &featurizer{
		name: "DiagnosticSummaryStats",
		defaults: registry.Params{
			"min_diagnostic_cycles": 1,
		},
		validate: requireDiagnostics("min_diagnostic_cycles"),
		compute: func(p *datapath.Processed, params registry.Params) (map[string]float64, error) {
			diags := diagnostics(p)
			caps := make([]float64, len(diags))
			spreads := make([]float64, len(diags))
			for i, c := range diags {
				caps[i] = c.DischargeCapacity
				spreads[i] = c.MaxVoltage - c.MinVoltage
			}
			return map[string]float64{
				"discharge_capacity_mean": mean(caps),
				"discharge_capacity_var":  variance(caps),
				"discharge_capacity_min":  minOf(caps),
				"discharge_capacity_max":  maxOf(caps),
				"voltage_spread_mean":     mean(spreads),
			}, nil
		},
	}
}

// intracellCycles compares the first and last diagnostic cycles.
func intracellCycles() *featurizer {
	return &featurizer{
		name: "IntracellCycles",
		defaults: registry.Params{
			"min_diagnostic_cycles": 2,
		},
		validate: requireDiagnostics("min_diagnostic_cycles"),
		compute: func(p *datapath.Processed, params registry.Params) (map[string]float64, error) {
			diags := diagnostics(p)
			first, last := diags[0], diags[len(diags)-1]
			if first.DischargeCapacity == 0 {
				return nil, &FeaturizationError{Msg: "first diagnostic cycle has zero discharge capacity"}
			}
			return map[string]float64{
				"capacity_retention": last.DischargeCapacity / first.DischargeCapacity,
				"cycle_span":         float64(last.CycleIndex - first.CycleIndex),
			}, nil
		},
	}
}

// intracellFeatures extends IntracellCycles with charge-side ratios.
func intracellFeatures() *featurizer {
	return &featurizer{
		name: "IntracellFeatures",
		defaults: registry.Params{
			"min_diagnostic_cycles": 2,
		},
		validate: requireDiagnostics("min_diagnostic_cycles"),
		compute: func(p *datapath.Processed, params registry.Params) (map[string]float64, error) {
			diags := diagnostics(p)
			first, last := diags[0], diags[len(diags)-1]
			if first.DischargeCapacity == 0 || first.ChargeCapacity == 0 {
				return nil, &FeaturizationError{Msg: "first diagnostic cycle has zero capacity"}
			}
			return map[string]float64{
				"discharge_retention":  last.DischargeCapacity / first.DischargeCapacity,
				"charge_retention":     last.ChargeCapacity / first.ChargeCapacity,
				"voltage_spread_shift": (last.MaxVoltage - last.MinVoltage) - (first.MaxVoltage - first.MinVoltage),
			}, nil
		},
	}
}

func diagnostics(p *datapath.Processed) []datapath.CycleSummary {
	var out []datapath.CycleSummary
	for _, c := range p.Structured.Cycles {
		if c.Diagnostic {
			out = append(out, c)
		}
	}
	return out
}

func requireDiagnostics(minKey string) validateFunc {
	return func(p *datapath.Processed, params registry.Params) (bool, string) {
		min := params.Int(minKey)
		if n := len(diagnostics(p)); n < min {
			return false, fmt.Sprintf("need at least %d diagnostic cycles, found %d", min, n)
		}
		return true, ""
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var total float64
	for _, x := range xs {
		total += x
	}
	return total / float64(len(xs))
}

func variance(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var total float64
	for _, x := range xs {
		total += (x - m) * (x - m)
	}
	return total / float64(len(xs)-1)
}

func minOf(xs []float64) float64 {
	out := xs[0]
	for _, x := range xs[1:] {
		out = math.Min(out, x)
	}
	return out
}

func maxOf(xs []float64) float64 {
	out := xs[0]
	for _, x := range xs[1:] {
		out = math.Max(out, x)
	}
	return out
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

func linearFit(xs, ys []float64) (slope, intercept float64, err error) {
	if len(xs) < 2 {
		return 0, 0, &FeaturizationError{Msg: "linear fit needs at least two points"}
	}
	mx, my := mean(xs), mean(ys)
	var num, den float64
	for i := range xs {
		num += (xs[i] - mx) * (ys[i] - my)
		den += (xs[i] - mx) * (xs[i] - mx)
	}
	if den == 0 {
		return 0, 0, &FeaturizationError{Msg: "degenerate cycle indices in linear fit"}
	}
	slope = num / den
	return slope, my - slope*mx, nil
}
