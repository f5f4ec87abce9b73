// Package commands wires the cellpipe CLI: file resolution, step
// selection, and the batch pipeline behind the structure and featurize
// subcommands.
package commands

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mwaller/cellpipe/cmd/cellpipe/internal/clierr"
	"github.com/mwaller/cellpipe/internal/report"
	"github.com/mwaller/cellpipe/internal/runlog"
)

// session holds the root-level options shared by every batch subcommand.
// One session corresponds to one invocation of the tool.
type session struct {
	logFile     string
	runID       string
	tags        []string
	statusJSON  string
	haltOnError bool
	verbose     bool
}

// NewRootCmd constructs the cellpipe root command.
func NewRootCmd() *cobra.Command {
	sess := &session{}

	cmd := &cobra.Command{
		Use:           "cellpipe",
		Short:         "Batch processing for battery cycler data",
		Long:          "cellpipe resolves raw cycler files from local and remote sources,\nruns structuring and featurization steps over them, and records a\nper-file, per-step status report.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")
	cmd.PersistentFlags().StringVar(&sess.logFile, "log-file", "", "append JSONL log records to this file")
	cmd.PersistentFlags().StringVar(&sess.runID, "run-id", "", "external run identifier recorded in the status report")
	cmd.PersistentFlags().StringArrayVar(&sess.tags, "tags", nil, "free-form tag recorded in the status report (repeatable)")
	cmd.PersistentFlags().StringVar(&sess.statusJSON, "output-status-json", "", "write the run status report to this file")
	cmd.PersistentFlags().BoolVar(&sess.haltOnError, "halt-on-error", false, "stop at the first invalid or failed step instead of continuing")
	cmd.PersistentPreRun = func(c *cobra.Command, args []string) {
		sess.verbose, _ = c.Flags().GetBool("verbose")
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number of cellpipe",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "cellpipe version %s\n", toolVersion())
		},
	})

	cmd.AddCommand(newStructureCmd(sess))
	cmd.AddCommand(newFeaturizeCmd(sess))
	cmd.AddCommand(newStepsCmd())

	return cmd
}

func toolVersion() string {
	if v := os.Getenv("CELLPIPE_VERSION"); v != "" {
		return v
	}
	return "0.0.0-dev"
}

// newLogger builds the session's logger on the command's stderr, with the
// JSONL sink attached when --log-file is set. The returned closer flushes
// the sink.
func (s *session) newLogger(cmd *cobra.Command) (*runlog.Logger, func(), error) {
	log := runlog.New(cmd.ErrOrStderr())
	log.SetVerbose(s.verbose)
	if s.logFile != "" {
		if err := log.AttachJSONL(s.logFile); err != nil {
			return nil, nil, clierr.Wrap(clierr.CodeUsage, "attaching log file", err)
		}
	}
	return log, func() { _ = log.Close() }, nil
}

// metadata stamps the identity block attached to the run report. The
// invocation id is generated fresh here; the run id is operator-supplied.
func (s *session) metadata() report.Metadata {
	return report.Metadata{
		ToolVersion:  toolVersion(),
		RunID:        s.runID,
		InvocationID: uuid.NewString(),
		Tags:         s.tags,
	}
}
