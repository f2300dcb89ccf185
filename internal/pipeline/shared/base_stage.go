// Package shared provides utilities common to the pipeline stages.
package shared

// BaseStage provides the identity and progress-budget boilerplate every
// stage needs.
type BaseStage struct {
	id     string
	name   string
	lo, hi int
}

// NewBaseStage creates a BaseStage with the given identity and budget.
func NewBaseStage(id, name string, lo, hi int) BaseStage {
	return BaseStage{id: id, name: name, lo: lo, hi: hi}
}

// ID returns the stage identifier.
func (b BaseStage) ID() string { return b.id }

// Name returns the human-readable stage name.
func (b BaseStage) Name() string { return b.name }

// Budget returns the stage's slice of the job progress scale.
func (b BaseStage) Budget() (lo, hi int) { return b.lo, b.hi }
