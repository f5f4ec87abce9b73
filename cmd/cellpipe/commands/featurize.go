package commands

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mwaller/cellpipe/cmd/cellpipe/internal/clierr"
	"github.com/mwaller/cellpipe/internal/features"
	"github.com/mwaller/cellpipe/internal/registry"
)

func newFeaturizeCmd(sess *session) *cobra.Command {
	var (
		bf        batchFlags
		apply     []string
		applyYAML []string
	)

	cmd := &cobra.Command{
		Use:   "featurize <structured file|glob> [more files] [flags]",
		Short: "Compute feature sets from structured cycler files",
		Long: `Resolve the given structured files and apply the selected featurizers
to each. The default selection "all" expands to the core featurizer
set. Featurizer options are overridden with --apply-with-params, a
YAML mapping from one featurizer name to its options:

  cellpipe featurize run-structured.json.gz \
      -H 'DeltaQFastCharge: {init_pred_cycle: 5}'

Supplying options for a featurizer not otherwise selected also
selects it.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, closeLog, err := sess.newLogger(cmd)
			if err != nil {
				return err
			}
			defer closeLog()

			overrides, err := parseOverrides(applyYAML)
			if err != nil {
				return err
			}

			specs, err := features.NewRegistry().Select(apply, overrides, warnTo(log))
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "selecting featurizers", err)
			}

			return sess.runBatch(cmd, log, args, specs, bf)
		},
	}

	addBatchFlags(cmd, &bf)
	cmd.Flags().StringArrayVarP(&apply, "apply", "f", []string{registry.SelectAll}, "featurizer to apply (repeatable; \"all\" selects the core set)")
	cmd.Flags().StringArrayVarP(&applyYAML, "apply-with-params", "H", nil, "featurizer options as a single-key YAML mapping (repeatable)")

	return cmd
}

// parseOverrides decodes each --apply-with-params value. Every value must
// be a YAML mapping with exactly one key, the featurizer name.
func parseOverrides(raw []string) ([]registry.Override, error) {
	var out []registry.Override
	for _, doc := range raw {
		var m map[string]registry.Params
		if err := yaml.Unmarshal([]byte(doc), &m); err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parsing --apply-with-params", err)
		}
		if len(m) != 1 {
			return nil, clierr.Newf(clierr.CodeUsage,
				"--apply-with-params must map exactly one featurizer name to its options, got %d keys in %q",
				len(m), doc)
		}
		for name, params := range m {
			if name == "" {
				return nil, clierr.Newf(clierr.CodeUsage, "empty featurizer name in %q", doc)
			}
			out = append(out, registry.Override{Name: name, Params: params})
		}
	}
	return out, nil
}
