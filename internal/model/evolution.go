package model

import "time"

// EvolutionTrigger names what produced a new strategy version.
type EvolutionTrigger string

const (
	TriggerOptimization EvolutionTrigger = "optimization"
	TriggerABTest       EvolutionTrigger = "ab_test"
	TriggerManual       EvolutionTrigger = "manual"
)

// ParameterChange is one entry of a before/after parameter diff. Added or
// removed parameters carry a nil side.
type ParameterChange struct {
	Parameter ParamName `json:"parameter"`
	OldValue  *float64  `json:"old_value"`
	NewValue  *float64  `json:"new_value"`
}

// StrategyEvolution is one append-only version record.
type StrategyEvolution struct {
	ID                  string            `json:"id"`
	StrategyID          string            `json:"strategy_id"`
	Version             int               `json:"version"`
	Timestamp           time.Time         `json:"timestamp"`
	Trigger             EvolutionTrigger  `json:"trigger"`
	Changes             []ParameterChange `json:"changes"`
	PerformanceDeltaPct float64           `json:"performance_delta_pct"`
	SourceID            string            `json:"source_id,omitempty"`
}
