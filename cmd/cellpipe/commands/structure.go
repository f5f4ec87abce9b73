package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mwaller/cellpipe/cmd/cellpipe/internal/clierr"
	"github.com/mwaller/cellpipe/internal/datapath"
	"github.com/mwaller/cellpipe/internal/registry"
)

func newStructureCmd(sess *session) *cobra.Command {
	var (
		bf             batchFlags
		vRange         []float64
		resolution     int
		nominalCap     float64
		fullFastCharge float64
		chargeAxis     string
		dischargeAxis  string
		diagInterval   int
		automatic      bool
		paramsDir      string
		validationOnly bool
		noRaw          bool
		schemaPath     string
	)

	cmd := &cobra.Command{
		Use:   "structure <file|glob> [more files] [flags]",
		Short: "Validate and structure raw cycler files",
		Long: `Resolve the given raw cycler files, validate each against the data
schema, and interpolate its cycles onto a fixed-resolution grid. Each
structured result is written next to its input with a -structured
suffix unless an output directory or explicit filenames are given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, closeLog, err := sess.newLogger(cmd)
			if err != nil {
				return err
			}
			defer closeLog()

			fl := cmd.Flags()
			params := registry.Params{}
			if fl.Changed("v-range") {
				params["v_range"] = vRange
			}
			if fl.Changed("resolution") {
				params["resolution"] = resolution
			}
			if fl.Changed("nominal-capacity") {
				params["nominal_capacity"] = nominalCap
			}
			if fl.Changed("full-fast-charge") {
				params["full_fast_charge"] = fullFastCharge
			}
			if fl.Changed("charge-axis") {
				params["charge_axis"] = chargeAxis
			}
			if fl.Changed("discharge-axis") {
				params["discharge_axis"] = dischargeAxis
			}
			if fl.Changed("diagnostic-interval") {
				params["diagnostic_interval"] = diagInterval
			}
			if automatic {
				params["automatic"] = true
			}
			if validationOnly {
				params["validation_only"] = true
			}
			if noRaw {
				params["omit_raw"] = true
			}
			if schemaPath != "" {
				params["schema"] = schemaPath
			}
			if dir := protocolParamsDir(paramsDir, fl.Changed("protocol-parameters-dir"), warnTo(log)); dir != "" {
				params["parameters_dir"] = dir
			}

			reg := registry.New([]registry.Factory{datapath.StructureFactory{}}, []string{datapath.StepName})
			specs, err := reg.Select(
				[]string{datapath.StepName},
				[]registry.Override{{Name: datapath.StepName, Params: params}},
				warnTo(log))
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "configuring structuring", err)
			}

			return sess.runBatch(cmd, log, args, specs, bf)
		},
	}

	addBatchFlags(cmd, &bf)
	cmd.Flags().Float64SliceVar(&vRange, "v-range", nil, "voltage interpolation range as min,max (default: observed span)")
	cmd.Flags().IntVar(&resolution, "resolution", 1000, "points per interpolated cycle")
	cmd.Flags().Float64Var(&nominalCap, "nominal-capacity", 1.1, "nominal cell capacity in Ah")
	cmd.Flags().Float64Var(&fullFastCharge, "full-fast-charge", 0.8, "state of charge at the end of fast charging")
	cmd.Flags().StringVar(&chargeAxis, "charge-axis", "charge_capacity", "interpolation axis for charge branches")
	cmd.Flags().StringVar(&dischargeAxis, "discharge-axis", "voltage", "interpolation axis for discharge branches")
	cmd.Flags().IntVar(&diagInterval, "diagnostic-interval", 0, "mark every n-th cycle as diagnostic (0 disables)")
	cmd.Flags().BoolVar(&automatic, "automatic", false, "determine structuring parameters from the protocol parameters directory")
	cmd.Flags().StringVar(&paramsDir, "protocol-parameters-dir", "", "directory of per-project protocol parameter files")
	cmd.Flags().BoolVar(&validationOnly, "validation-only", false, "validate files without structuring them")
	cmd.Flags().BoolVar(&noRaw, "no-raw", false, "omit raw readings from the structured output")
	cmd.Flags().StringVar(&schemaPath, "schema", "", "validation schema file (default: built-in schema)")

	return cmd
}

// protocolParamsDir picks the parameters directory: the flag when set,
// otherwise the CELLPIPE_PARAMETERS_DIR environment variable. Setting
// both warns and uses the flag.
func protocolParamsDir(flagVal string, flagSet bool, warn func(string)) string {
	env := os.Getenv("CELLPIPE_PARAMETERS_DIR")
	if flagSet && flagVal != "" {
		if env != "" && env != flagVal {
			warn("both --protocol-parameters-dir and CELLPIPE_PARAMETERS_DIR are set; using the flag value")
		}
		return flagVal
	}
	return env
}
