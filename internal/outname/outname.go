// Package outname computes output destinations for processed files.
//
// Precedence for one run: explicit output filenames, then an explicit
// output directory with auto-naming, then auto-naming in the working
// directory. Auto-naming either inserts a suffix before the extension
// (optionally substituting a new extension, for steps that change
// representation) or prefixes the basename with the step identifier.
package outname

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Suffixes for steps that keep the one-output-per-input convention.
const (
	StructuredSuffix = "-structured"
	FeaturizedSuffix = "-featurized"
)

// ErrOutputCount marks a caller mistake: the explicit output filename list
// does not match the input list. It fails the whole run before any
// processing begins.
var ErrOutputCount = errors.New("output filename count mismatch")

// Convention describes how a step auto-names its outputs.
type Convention struct {
	Suffix   string // inserted before the extension, e.g. "-structured"
	NewExt   string // substituted extension, e.g. ".json.gz"; empty keeps the input's
	Prefixed bool   // "<Step>-<basename>" naming instead of a suffix
}

// Namer computes destinations for one run. Construct it once after file
// resolution; construction validates the explicit-filename count.
type Namer struct {
	explicit  map[string]string
	outputDir string
	workDir   string
	multi     bool
}

// New builds a Namer. inputs must be the resolved input paths in run
// order; explicit, when non-empty, must have exactly one entry per input.
// warn receives human-readable notes about ignored options.
func New(inputs, explicit []string, outputDir, workDir string, multiStep bool, warn func(string)) (*Namer, error) {
	n := &Namer{
		outputDir: outputDir,
		workDir:   workDir,
		multi:     multiStep,
	}
	if len(explicit) > 0 {
		if len(explicit) != len(inputs) {
			return nil, fmt.Errorf("%w: %d inputs but %d output filenames",
				ErrOutputCount, len(inputs), len(explicit))
		}
		if outputDir != "" && warn != nil {
			warn("both explicit output filenames and an output directory were specified; using the explicit filenames")
		}
		n.explicit = make(map[string]string, len(inputs))
		for i, in := range inputs {
			n.explicit[in] = n.abs(explicit[i])
		}
	}
	return n, nil
}

// Destination returns the output path for one (input, step) pair. For any
// two distinct steps applied to the same input the destinations differ.
func (n *Namer) Destination(input, step string, conv Convention) string {
	if dest, ok := n.explicit[input]; ok {
		if n.multi {
			// Namespace per step so concurrent steps over the same input
			// cannot collide on one explicit name.
			return filepath.Join(filepath.Dir(dest), step+"-"+filepath.Base(dest))
		}
		return dest
	}

	dir := n.outputDir
	if dir == "" {
		dir = n.workDir
	}

	if conv.Prefixed {
		return filepath.Join(dir, step+"-"+filepath.Base(input))
	}

	name := addSuffix(filepath.Base(input), conv.Suffix, conv.NewExt)
	if n.multi {
		name = step + "-" + name
	}
	return filepath.Join(dir, name)
}

func (n *Namer) abs(p string) string {
	if filepath.IsAbs(p) || n.workDir == "" {
		return p
	}
	return filepath.Join(n.workDir, p)
}

// addSuffix inserts suffix before the basename's extension, substituting
// newExt for the original extension when given.
func addSuffix(basename, suffix, newExt string) string {
	ext := filepath.Ext(basename)
	stem := strings.TrimSuffix(basename, ext)
	if newExt != "" {
		ext = newExt
	}
	return stem + suffix + ext
}
