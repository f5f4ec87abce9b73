// Package registry resolves step identifiers to processing-step
// implementations and their effective configurations.
//
// Native steps live in a closed table fixed at construction. Externally
// supplied steps are added through Register, under a namespaced
// "<namespace>.<name>" identifier, by the host application at startup.
// There is no reflective or interpreted lookup: if a step was not
// registered, it does not exist.
package registry

import (
	"context"

	"github.com/mwaller/cellpipe/internal/outname"
)

// Step is one constructed processing-step instance, bound to a single
// input file and an effective configuration.
type Step interface {
	// Validate checks the input against the step's requirements without
	// mutating persistent state. A false return carries the reason.
	Validate() (bool, string)

	// Execute performs the transformation and returns the result object to
	// be durably written. Blocking work must honor ctx.
	Execute(ctx context.Context) (any, error)
}

// Factory constructs Step instances and declares the step's identity,
// default configuration, and output naming convention.
type Factory interface {
	Name() string
	Defaults() Params
	Naming() outname.Convention
	New(input string, params Params) (Step, error)
}
