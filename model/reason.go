package model

// EvalReasonKind tags the category of an evaluation reason.
type EvalReasonKind string

const (
	// EvalReasonOff means the flag was off; the off variation (if any) was used.
	EvalReasonOff EvalReasonKind = "OFF"
	// EvalReasonFallthrough means no target or rule matched.
	EvalReasonFallthrough EvalReasonKind = "FALLTHROUGH"
	// EvalReasonTargetMatch means the user key appeared in a target list.
	EvalReasonTargetMatch EvalReasonKind = "TARGET_MATCH"
	// EvalReasonRuleMatch means a rule matched; RuleIndex and RuleID identify it.
	EvalReasonRuleMatch EvalReasonKind = "RULE_MATCH"
	// EvalReasonPrerequisiteFailed means a prerequisite flag was off, missing,
	// or did not evaluate to the required variation.
	EvalReasonPrerequisiteFailed EvalReasonKind = "PREREQUISITE_FAILED"
	// EvalReasonError means evaluation could not complete; see ErrorKind.
	EvalReasonError EvalReasonKind = "ERROR"
)

// EvalErrorKind identifies the failure mode of an ERROR reason.
type EvalErrorKind string

const (
	EvalErrorClientNotReady   EvalErrorKind = "CLIENT_NOT_READY"
	EvalErrorFlagNotFound     EvalErrorKind = "FLAG_NOT_FOUND"
	EvalErrorUserNotSpecified EvalErrorKind = "USER_NOT_SPECIFIED"
	EvalErrorMalformedFlag    EvalErrorKind = "MALFORMED_FLAG"
	EvalErrorWrongType        EvalErrorKind = "WRONG_TYPE"
	EvalErrorException        EvalErrorKind = "EXCEPTION"
)

// EvaluationReason explains why an evaluation produced its value. Kind is
// always set; the remaining fields are populated per kind.
type EvaluationReason struct {
	Kind            EvalReasonKind `json:"kind"`
	RuleIndex       *int           `json:"ruleIndex,omitempty"`
	RuleID          string         `json:"ruleId,omitempty"`
	PrerequisiteKey string         `json:"prerequisiteKey,omitempty"`
	ErrorKind       EvalErrorKind  `json:"errorKind,omitempty"`
}

// NewEvalReasonOff returns an OFF reason.
func NewEvalReasonOff() EvaluationReason {
	return EvaluationReason{Kind: EvalReasonOff}
}

// NewEvalReasonFallthrough returns a FALLTHROUGH reason.
func NewEvalReasonFallthrough() EvaluationReason {
	return EvaluationReason{Kind: EvalReasonFallthrough}
}

// NewEvalReasonTargetMatch returns a TARGET_MATCH reason.
func NewEvalReasonTargetMatch() EvaluationReason {
	return EvaluationReason{Kind: EvalReasonTargetMatch}
}

// NewEvalReasonRuleMatch returns a RULE_MATCH reason for the given rule.
func NewEvalReasonRuleMatch(ruleIndex int, ruleID string) EvaluationReason {
	return EvaluationReason{Kind: EvalReasonRuleMatch, RuleIndex: &ruleIndex, RuleID: ruleID}
}

// NewEvalReasonPrerequisiteFailed returns a PREREQUISITE_FAILED reason.
func NewEvalReasonPrerequisiteFailed(prereqKey string) EvaluationReason {
	return EvaluationReason{Kind: EvalReasonPrerequisiteFailed, PrerequisiteKey: prereqKey}
}

// NewEvalReasonError returns an ERROR reason with the given error kind.
func NewEvalReasonError(errorKind EvalErrorKind) EvaluationReason {
	return EvaluationReason{Kind: EvalReasonError, ErrorKind: errorKind}
}

// EvaluationDetail is the complete result of one evaluation: the value, the
// index of the variation it came from (nil when no variation applied), and
// the reason it was chosen.
type EvaluationDetail struct {
	Value          any              `json:"value"`
	VariationIndex *int             `json:"variationIndex,omitempty"`
	Reason         EvaluationReason `json:"reason"`
}

// NewEvaluationDetail builds a detail for a selected variation index.
func NewEvaluationDetail(value any, variationIndex int, reason EvaluationReason) EvaluationDetail {
	return EvaluationDetail{Value: value, VariationIndex: &variationIndex, Reason: reason}
}

// NewEvaluationError builds a detail for a failed evaluation. The value is
// nil; callers substitute their default.
func NewEvaluationError(errorKind EvalErrorKind) EvaluationDetail {
	return EvaluationDetail{Reason: NewEvalReasonError(errorKind)}
}

// IsError reports whether the detail carries an ERROR reason.
func (d EvaluationDetail) IsError() bool {
	return d.Reason.Kind == EvalReasonError
}
