package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mwaller/cellpipe/cmd/cellpipe/internal/clierr"
	"github.com/mwaller/cellpipe/internal/outname"
	"github.com/mwaller/cellpipe/internal/pipeline"
	"github.com/mwaller/cellpipe/internal/registry"
	"github.com/mwaller/cellpipe/internal/report"
	"github.com/mwaller/cellpipe/internal/resolve"
	"github.com/mwaller/cellpipe/internal/runlog"
	"github.com/mwaller/cellpipe/internal/serialize"
)

// batchFlags are the input/output options shared by the structure and
// featurize subcommands.
type batchFlags struct {
	outputFilenames []string
	outputDir       string
	bucket          string
	useCache        bool
}

func addBatchFlags(cmd *cobra.Command, bf *batchFlags) {
	cmd.Flags().StringArrayVar(&bf.outputFilenames, "output-filenames", nil, "explicit output path, one per input (repeatable)")
	cmd.Flags().StringVar(&bf.outputDir, "output-dir", "", "directory for auto-named outputs")
	cmd.Flags().StringVar(&bf.bucket, "bucket", "", "remote bucket directory to match wildcard inputs against")
	cmd.Flags().BoolVar(&bf.useCache, "use-cache", false, "fetch remote files into the shared cache dir (CELLPIPE_CACHE_DIR)")
}

// runBatch drives one invocation: resolve tokens, build the namer, run
// the pipeline, persist the status report, and map failures to exit
// codes.
func (s *session) runBatch(cmd *cobra.Command, log *runlog.Logger, tokens []string, specs []registry.StepSpec, bf batchFlags) error {
	ctx := cmd.Context()

	wd, err := os.Getwd()
	if err != nil {
		return err
	}

	resolver := &resolve.Resolver{
		WorkDir:  wd,
		CacheDir: os.Getenv("CELLPIPE_CACHE_DIR"),
		UseCache: bf.useCache,
		Log:      log,
	}
	if bf.bucket != "" {
		// The bucket flag names a directory; its parent is the store root.
		abs, err := filepath.Abs(bf.bucket)
		if err != nil {
			return clierr.Wrap(clierr.CodeUsage, "resolving bucket path", err)
		}
		resolver.Store = resolve.NewDirStore(filepath.Dir(abs))
		resolver.Bucket = filepath.Base(abs)
	}

	files, tokErrs, err := resolver.Resolve(ctx, tokens)
	if err != nil {
		if errors.Is(err, resolve.ErrFileNotFound) {
			return clierr.Wrap(clierr.CodeUsage, "resolving input files", err)
		}
		return fmt.Errorf("resolving input files: %w", err)
	}
	for _, te := range tokErrs {
		log.Warnf("skipping input: %v", te)
	}
	if len(files) == 0 {
		return clierr.New(clierr.CodeUsage, "no input files resolved")
	}

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	namer, err := outname.New(paths, bf.outputFilenames, bf.outputDir, wd, len(specs) > 1, warnTo(log))
	if err != nil {
		return clierr.Wrap(clierr.CodeUsage, "output naming", err)
	}

	orch := &pipeline.Orchestrator{
		Steps: specs,
		Namer: namer,
		Log:   log,
		Halt:  s.haltOnError,
		Meta:  s.metadata(),
	}
	rep, runErr := orch.Run(ctx, files)

	// A halted run propagates its failure without persisting the partial
	// report; a cancelled run persists what completed.
	if rep != nil && s.statusJSON != "" && (runErr == nil || errors.Is(runErr, pipeline.ErrCancelled)) {
		if werr := serialize.Write(rep, s.statusJSON); werr != nil {
			log.Errorf("writing status report to %s: %v", s.statusJSON, werr)
			if runErr == nil {
				runErr = fmt.Errorf("writing status report: %w", werr)
			}
		} else {
			log.Infof("status report written to %s", s.statusJSON)
		}
	}

	switch {
	case runErr == nil:
		printSummary(cmd.OutOrStdout(), rep)
		return nil
	case errors.Is(runErr, pipeline.ErrCancelled):
		return clierr.Wrap(clierr.CodeInterrupt, "run interrupted", runErr)
	default:
		return runErr
	}
}

// warnTo adapts the logger to the plain warn callback consumed by the
// namer and the step registry.
func warnTo(log *runlog.Logger) func(string) {
	return func(msg string) { log.Warnf("%s", msg) }
}

// printSummary renders the per-file success classification after a
// completed run.
func printSummary(w io.Writer, rep *report.RunReport) {
	sum := report.Summarize(rep)
	fmt.Fprintf(w, "processed %d files with %d steps\n", len(rep.Files), sum.StepCount)
	fmt.Fprintf(w, "  all steps succeeded:  %d\n", len(sum.All))
	fmt.Fprintf(w, "  some steps succeeded: %d\n", len(sum.Some))
	fmt.Fprintf(w, "  no steps succeeded:   %d\n", len(sum.None))
	for _, input := range sum.None {
		fmt.Fprintf(w, "    %s\n", input)
	}
}
