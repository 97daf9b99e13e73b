package policy

// Lifecycle represents the lifecycle state of a policy.
// Transitions (draft -> review -> active -> retired) are managed by the
// policy author tooling; the evaluation core only reads the state.
type Lifecycle string

const (
	// LifecycleDraft is the initial authoring state.
	LifecycleDraft Lifecycle = "draft"

	// LifecycleReview marks a policy awaiting approval.
	LifecycleReview Lifecycle = "review"

	// LifecycleActive marks a policy as live. Only active policies are evaluated.
	LifecycleActive Lifecycle = "active"

	// LifecycleRetired marks a policy no longer in force.
	LifecycleRetired Lifecycle = "retired"
)

// Severity classifies the impact of a control's violation.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Operator is a deterministic comparison operator usable in a Rule.
type Operator string

const (
	OperatorEqual        Operator = "=="
	OperatorNotEqual     Operator = "!="
	OperatorGreaterThan  Operator = ">"
	OperatorLessThan     Operator = "<"
	OperatorGreaterEqual Operator = ">="
	OperatorLessEqual    Operator = "<="
	OperatorIn           Operator = "in"
	OperatorNotIn        Operator = "not_in"
	OperatorRegex        Operator = "regex"
)

// ThresholdType selects the sliding-window aggregate computed for a control.
type ThresholdType string

const (
	// ThresholdCount breaches when the number of violations for the control
	// within the trailing window reaches the threshold value.
	ThresholdCount ThresholdType = "count"

	// ThresholdPercent breaches when control violations as a percentage of
	// the actor's total events in the window reach the threshold value.
	ThresholdPercent ThresholdType = "percent"

	// ThresholdTimeWindow is mechanically identical to ThresholdCount but
	// kept as a distinct label for audit clarity.
	ThresholdTimeWindow ThresholdType = "time_window"
)

// Policy is the top-level named governance object.
type Policy struct {
	ID          string    `yaml:"id" json:"id"`
	Name        string    `yaml:"name" json:"name"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	Version     string    `yaml:"version" json:"version"`
	Lifecycle   Lifecycle `yaml:"lifecycle" json:"lifecycle"`
	Controls    []*Control `yaml:"controls" json:"controls"`
}

// Active reports whether the policy is in the active lifecycle state.
func (p *Policy) Active() bool {
	return p.Lifecycle == LifecycleActive
}

// Control groups related rules under a policy and carries severity,
// an ordering key, and optionally a threshold and a composite expression.
type Control struct {
	ID          string      `yaml:"id" json:"id"`
	Name        string      `yaml:"name" json:"name"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Severity    Severity    `yaml:"severity" json:"severity"`
	Order       int         `yaml:"order" json:"order"`
	Active      bool        `yaml:"active" json:"active"`
	Rules       []*Rule     `yaml:"rules" json:"rules"`
	Threshold   *Threshold  `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	Expression  *Expression `yaml:"expression,omitempty" json:"expression,omitempty"`
}

// RuleByName returns the enabled rule with the given name, or nil.
func (c *Control) RuleByName(name string) *Rule {
	for _, r := range c.Rules {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// RuleByID returns the rule with the given id, or nil.
func (c *Control) RuleByID(id string) *Rule {
	for _, r := range c.Rules {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// Rule is a single deterministic comparison over a dotted-path context value.
// LeftOperand is a dotted path into the evaluation context (e.g.
// "event.type", "detail.remote_addr"); RightValue is a typed literal
// (string, number, bool, or list).
type Rule struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	LeftOperand string   `yaml:"left_operand" json:"left_operand"`
	Operator    Operator `yaml:"operator" json:"operator"`
	RightValue  any      `yaml:"right_value" json:"right_value"`
	Order       int      `yaml:"order" json:"order"`
	Enabled     bool     `yaml:"enabled" json:"enabled"`
}

// Threshold is an optional sliding-window aggregate check attached
// one-to-one to a control.
type Threshold struct {
	Type          ThresholdType `yaml:"type" json:"type"`
	Value         float64       `yaml:"value" json:"value"`
	WindowSeconds int           `yaml:"window_seconds" json:"window_seconds"`
}
