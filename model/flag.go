package model

// FeatureFlag is the stored representation of a feature flag as delivered by
// the flag service. Field names match the wire format exactly.
type FeatureFlag struct {
	Key                  string             `json:"key"`
	Version              int                `json:"version"`
	Deleted              bool               `json:"deleted,omitempty"`
	On                   bool               `json:"on"`
	Variations           []any              `json:"variations"`
	OffVariation         *int               `json:"offVariation,omitempty"`
	Fallthrough          VariationOrRollout `json:"fallthrough"`
	Prerequisites        []Prerequisite     `json:"prerequisites,omitempty"`
	Targets              []Target           `json:"targets,omitempty"`
	Rules                []FlagRule         `json:"rules,omitempty"`
	Salt                 string             `json:"salt"`
	TrackEvents          bool               `json:"trackEvents,omitempty"`
	DebugEventsUntilDate *int64             `json:"debugEventsUntilDate,omitempty"`
	ClientSide           bool               `json:"clientSide,omitempty"`
}

// GetKey implements Item.
func (f *FeatureFlag) GetKey() string { return f.Key }

// GetVersion implements Item.
func (f *FeatureFlag) GetVersion() int { return f.Version }

// IsDeleted implements Item.
func (f *FeatureFlag) IsDeleted() bool { return f.Deleted }

// Prerequisite names another flag that must be on and evaluating to the given
// variation index for this flag's non-off paths to apply.
type Prerequisite struct {
	Key       string `json:"key"`
	Variation int    `json:"variation"`
}

// Target maps an explicit list of user keys to a variation, short-circuiting
// rule evaluation.
type Target struct {
	Variation int      `json:"variation"`
	Values    []string `json:"values"`
}

// FlagRule is an ordered targeting rule: all clauses must match, and the
// embedded VariationOrRollout selects the result.
type FlagRule struct {
	VariationOrRollout
	ID      string   `json:"id,omitempty"`
	Clauses []Clause `json:"clauses,omitempty"`
}

// VariationOrRollout selects either a fixed variation index or a weighted
// rollout over variations. Exactly one of the fields should be set.
type VariationOrRollout struct {
	Variation *int     `json:"variation,omitempty"`
	Rollout   *Rollout `json:"rollout,omitempty"`
}

// Rollout is a weighted partitioning of users over variations.
type Rollout struct {
	Variations []WeightedVariation `json:"variations"`
	BucketBy   string              `json:"bucketBy,omitempty"`
}

// WeightedVariation assigns a weight (out of 100000) to a variation index.
type WeightedVariation struct {
	Variation int `json:"variation"`
	Weight    int `json:"weight"`
}

// Clause is a single condition within a rule. Op "segmentMatch" is special:
// Values holds segment keys rather than literals.
type Clause struct {
	Attribute string   `json:"attribute"`
	Op        Operator `json:"op"`
	Values    []any    `json:"values"`
	Negate    bool     `json:"negate,omitempty"`
}

// Operator names a clause matching function.
type Operator string

const (
	OperatorIn                 Operator = "in"
	OperatorEndsWith           Operator = "endsWith"
	OperatorStartsWith         Operator = "startsWith"
	OperatorMatches            Operator = "matches"
	OperatorContains           Operator = "contains"
	OperatorLessThan           Operator = "lessThan"
	OperatorLessThanOrEqual    Operator = "lessThanOrEqual"
	OperatorGreaterThan        Operator = "greaterThan"
	OperatorGreaterThanOrEqual Operator = "greaterThanOrEqual"
	OperatorBefore             Operator = "before"
	OperatorAfter              Operator = "after"
	OperatorSegmentMatch       Operator = "segmentMatch"
	OperatorSemVerEqual        Operator = "semVerEqual"
	OperatorSemVerLessThan     Operator = "semVerLessThan"
	OperatorSemVerGreaterThan  Operator = "semVerGreaterThan"
)
