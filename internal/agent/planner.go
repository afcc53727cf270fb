package agent

import "fmt"

// Planner produces a Plan once per run from the user's task. The
// controller's planner is rule-based, not model-driven: spec §4.4
// describes only "Planner (rule-based) produces a hint from the
// original user task", so this stays a fixed, deterministic
// transformation rather than an additional model round-trip.
type Planner struct{}

// NewPlanner constructs a Planner.
func NewPlanner() *Planner { return &Planner{} }

// Plan produces a single-step plan whose hint restates the task. More
// elaborate decomposition belongs to the model itself (via its tool
// calls), not this rule-based stage.
func (p *Planner) Plan(task string) Plan {
	return Plan{
		ID: "plan-1",
		Steps: []PlanStep{
			{ID: "step-1", Description: task, Hint: fmt.Sprintf("Address the task: %s", task)},
		},
	}
}

// Hint returns the first step's hint, which is what the per-iteration
// algorithm folds into the prompt.
func (plan Plan) Hint() string {
	if len(plan.Steps) == 0 {
		return ""
	}
	return plan.Steps[0].Hint
}
