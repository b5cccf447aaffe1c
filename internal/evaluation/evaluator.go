// Package evaluation implements the flag evaluation engine: a deterministic
// interpreter over flags, prerequisites, targets, rules, clauses, segments,
// and percentage rollouts. For a fixed (flag, user, store snapshot) the
// result is referentially transparent.
package evaluation

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"

	"github.com/matt-riley/lightswitch/events"
	"github.com/matt-riley/lightswitch/internal/logging"
	"github.com/matt-riley/lightswitch/model"
)

// Rule and clause scanning below is strictly loop-based, so flags with many
// thousands of rules or clauses evaluate in constant stack space. Recursion
// happens only across prerequisite flags, bounded by cycle detection.

var (
	errInvalidVariationIndex = errors.New("Invalid variation index in flag")
	errMalformedVariation    = errors.New("Variation/rollout object with no variation or rollout")
)

// DataProvider supplies flag and segment definitions, normally backed by the
// local data store. Nil results mean "not present".
type DataProvider interface {
	GetFeatureFlag(key string) *model.FeatureFlag
	GetSegment(key string) *model.Segment
}

// Evaluator evaluates flags against a DataProvider. It is safe for
// concurrent use.
type Evaluator struct {
	provider DataProvider
	factory  events.Factory
	logger   *slog.Logger
}

// NewEvaluator returns an Evaluator. A nil logger discards log output.
func NewEvaluator(provider DataProvider, factory events.Factory, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Evaluator{provider: provider, factory: factory, logger: logger}
}

// Result bundles the outcome of one evaluation: the detail, the prerequisite
// evaluation events collected along the way, and a non-fatal error
// describing why an ERROR reason was produced (nil otherwise).
type Result struct {
	Detail model.EvaluationDetail
	Events []events.FeatureRequest
	Err    error
}

// Evaluate runs the full off/prerequisite/target/rule/fallthrough algorithm.
// It never panics: internal failures surface as an ERROR{EXCEPTION} detail.
func (e *Evaluator) Evaluate(flag *model.FeatureFlag, user model.User) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic during flag evaluation", "error", fmt.Sprint(r))
			result = Result{
				Detail: model.NewEvaluationError(model.EvalErrorException),
				Events: result.Events,
				Err:    fmt.Errorf("panic during evaluation: %v", r),
			}
		}
	}()

	if flag == nil {
		return Result{Detail: model.NewEvaluationError(model.EvalErrorFlagNotFound)}
	}
	if user.Key == "" {
		return Result{Detail: model.NewEvaluationError(model.EvalErrorUserNotSpecified)}
	}

	state := &evalState{evaluator: e, user: user}
	detail, err := state.flagValue(flag, nil)
	return Result{Detail: detail, Events: state.events, Err: err}
}

type evalState struct {
	evaluator *Evaluator
	user      model.User
	events    []events.FeatureRequest
}

func (s *evalState) flagValue(flag *model.FeatureFlag, prereqChain []string) (model.EvaluationDetail, error) {
	if slices.Contains(prereqChain, flag.Key) {
		return model.NewEvaluationError(model.EvalErrorMalformedFlag),
			fmt.Errorf("prerequisite cycle involving flag %q", flag.Key)
	}

	if !flag.On {
		return s.offValue(flag, model.NewEvalReasonOff())
	}

	for _, prereq := range flag.Prerequisites {
		prereqFlag := s.evaluator.provider.GetFeatureFlag(prereq.Key)
		reason := model.NewEvalReasonPrerequisiteFailed(prereq.Key)
		if prereqFlag == nil {
			// No event is recorded for a prerequisite that does not exist.
			return s.offValue(flag, reason)
		}

		prereqDetail, prereqErr := s.flagValue(prereqFlag, append(prereqChain, flag.Key))
		s.events = append(s.events,
			s.evaluator.factory.NewFeatureRequest(prereqFlag, s.user, prereqDetail, nil, flag.Key))

		if prereqErr != nil {
			detail, _ := s.offValue(flag, reason)
			return detail, prereqErr
		}
		satisfied := prereqFlag.On &&
			prereqDetail.VariationIndex != nil &&
			*prereqDetail.VariationIndex == prereq.Variation
		if !satisfied {
			return s.offValue(flag, reason)
		}
	}

	for _, target := range flag.Targets {
		for _, value := range target.Values {
			if value == s.user.Key {
				return s.variationValue(flag, target.Variation, model.NewEvalReasonTargetMatch())
			}
		}
	}

	for i := range flag.Rules {
		rule := &flag.Rules[i]
		if s.ruleMatches(rule) {
			return s.variationOrRolloutValue(flag, rule.VariationOrRollout,
				model.NewEvalReasonRuleMatch(i, rule.ID))
		}
	}

	return s.variationOrRolloutValue(flag, flag.Fallthrough, model.NewEvalReasonFallthrough())
}

// offValue resolves the flag's off variation. A flag with no off variation
// legitimately yields a nil value and index.
func (s *evalState) offValue(flag *model.FeatureFlag, reason model.EvaluationReason) (model.EvaluationDetail, error) {
	if flag.OffVariation == nil {
		return model.EvaluationDetail{Reason: reason}, nil
	}
	return s.variationValue(flag, *flag.OffVariation, reason)
}

func (s *evalState) variationValue(flag *model.FeatureFlag, index int, reason model.EvaluationReason) (model.EvaluationDetail, error) {
	if index < 0 || index >= len(flag.Variations) {
		return model.NewEvaluationError(model.EvalErrorMalformedFlag), errInvalidVariationIndex
	}
	return model.NewEvaluationDetail(flag.Variations[index], index, reason), nil
}

func (s *evalState) variationOrRolloutValue(flag *model.FeatureFlag, vr model.VariationOrRollout, reason model.EvaluationReason) (model.EvaluationDetail, error) {
	index, err := s.variationIndexFor(flag, vr)
	if err != nil {
		return model.NewEvaluationError(model.EvalErrorMalformedFlag), err
	}
	return s.variationValue(flag, index, reason)
}

// variationIndexFor resolves a fixed variation or walks a rollout's weight
// table. Rounding in malformed weight tables never errors: a bucket past the
// final cumulative weight lands in the last variation.
func (s *evalState) variationIndexFor(flag *model.FeatureFlag, vr model.VariationOrRollout) (int, error) {
	if vr.Variation != nil {
		return *vr.Variation, nil
	}
	if vr.Rollout != nil && len(vr.Rollout.Variations) > 0 {
		bucketBy := vr.Rollout.BucketBy
		if bucketBy == "" {
			bucketBy = "key"
		}
		bucket := Bucket(s.user, flag.Key, bucketBy, flag.Salt)
		sum := 0.0
		for _, wv := range vr.Rollout.Variations {
			sum += float64(wv.Weight) / 100000.0
			if bucket < sum {
				return wv.Variation, nil
			}
		}
		return vr.Rollout.Variations[len(vr.Rollout.Variations)-1].Variation, nil
	}
	return 0, errMalformedVariation
}

// ruleMatches reports whether every clause of a rule matches. A rule with no
// clauses matches nothing.
func (s *evalState) ruleMatches(rule *model.FlagRule) bool {
	if len(rule.Clauses) == 0 {
		return false
	}
	for i := range rule.Clauses {
		if !s.clauseMatches(&rule.Clauses[i], true) {
			return false
		}
	}
	return true
}

func (s *evalState) clauseMatches(clause *model.Clause, allowSegments bool) bool {
	if clause.Op == model.OperatorSegmentMatch {
		matched := false
		if allowSegments {
			for _, value := range clause.Values {
				segmentKey, ok := value.(string)
				if !ok {
					continue
				}
				if segment := s.evaluator.provider.GetSegment(segmentKey); segment != nil && s.segmentMatches(segment) {
					matched = true
					break
				}
			}
		}
		return maybeNegate(clause, matched)
	}

	userValue, ok := s.user.GetAttribute(clause.Attribute)
	if !ok {
		return maybeNegate(clause, false)
	}

	if values := reflect.ValueOf(userValue); values.Kind() == reflect.Slice || values.Kind() == reflect.Array {
		for i := 0; i < values.Len(); i++ {
			if matchAnyClauseValue(clause, values.Index(i).Interface()) {
				return maybeNegate(clause, true)
			}
		}
		return maybeNegate(clause, false)
	}
	return maybeNegate(clause, matchAnyClauseValue(clause, userValue))
}

func matchAnyClauseValue(clause *model.Clause, userValue any) bool {
	fn := operatorFn(clause.Op)
	for _, clauseValue := range clause.Values {
		if fn(userValue, clauseValue) {
			return true
		}
	}
	return false
}

func maybeNegate(clause *model.Clause, matched bool) bool {
	if clause.Negate {
		return !matched
	}
	return matched
}

// segmentMatches applies segment semantics: explicit inclusion wins, then
// explicit exclusion, then rules in order. Segment rule clauses may not nest
// segmentMatch.
func (s *evalState) segmentMatches(segment *model.Segment) bool {
	if slices.Contains(segment.Included, s.user.Key) {
		return true
	}
	if slices.Contains(segment.Excluded, s.user.Key) {
		return false
	}
	for i := range segment.Rules {
		if s.segmentRuleMatches(segment, &segment.Rules[i]) {
			return true
		}
	}
	return false
}

func (s *evalState) segmentRuleMatches(segment *model.Segment, rule *model.SegmentRule) bool {
	for i := range rule.Clauses {
		if !s.clauseMatches(&rule.Clauses[i], false) {
			return false
		}
	}
	if rule.Weight == nil {
		return true
	}
	bucketBy := rule.BucketBy
	if bucketBy == "" {
		bucketBy = "key"
	}
	bucket := Bucket(s.user, segment.Key, bucketBy, segment.Salt)
	return bucket < float64(*rule.Weight)/100000.0
}
