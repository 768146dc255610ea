package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/chatforge/convoflow/pkg/convoflow/models"
)

// Condition kinds understood by the built-in evaluator. Anything else falls
// back to keyword containment against the spec string.
const (
	ConditionVariable        = "variable"
	ConditionMessageContains = "message_contains"
	ConditionAffirmative     = "affirmative"
	ConditionNegative        = "negative"
	ConditionExpression      = "expression"
	ConditionDelegate        = "delegate"
)

// Evaluator turns free text into a boolean (condition) or a label (intent).
// Production wiring picks the concrete strategy; tests inject deterministic stubs.
type Evaluator interface {
	EvaluateCondition(ctx context.Context, kind string, spec string, userText string, variables map[string]any) bool
	EvaluateIntent(ctx context.Context, userText string, catalog []models.IntentOption, variables map[string]any) string
}

var affirmativeWords = []string{"yes", "yeah", "yep", "sure", "ok", "okay", "si", "sí", "claro", "dale", "confirmo", "perfecto", "definitely", "absolutely"}
var negativeWords = []string{"no", "nope", "nah", "never", "not now", "later", "cancel", "stop", "tampoco", "nunca"}

// RuleEvaluator is the built-in condition/intent evaluator. Deterministic
// strategies run first; the optional classifier delegate handles the rest.
// Compiled expression programs are cached and shared across goroutines.
type RuleEvaluator struct {
	classifier Classifier

	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func NewRuleEvaluator(classifier Classifier) *RuleEvaluator {
	return &RuleEvaluator{
		classifier: classifier,
		cache:      make(map[string]*vm.Program),
	}
}

func (e *RuleEvaluator) EvaluateCondition(ctx context.Context, kind string, spec string, userText string, variables map[string]any) bool {
	switch kind {
	case ConditionVariable:
		return evaluateVariableSpec(spec, variables)
	case ConditionMessageContains, "":
		return containsAnyKeyword(userText, strings.Split(spec, ","))
	case ConditionAffirmative:
		return containsAnyKeyword(userText, affirmativeWords)
	case ConditionNegative:
		return containsAnyKeyword(userText, negativeWords)
	case ConditionExpression:
		out, err := e.evaluateExpression(spec, expressionEnv(userText, variables))
		if err != nil {
			slog.WarnContext(ctx, "Condition expression failed, defaulting to false", "spec", spec, "error", err)
			return false
		}
		b, ok := out.(bool)
		return ok && b
	case ConditionDelegate:
		return e.delegateCondition(ctx, spec, userText)
	default:
		slog.WarnContext(ctx, "Unknown condition kind, falling back to keyword containment", "kind", kind)
		return containsAnyKeyword(userText, strings.Split(spec, ","))
	}
}

// EvaluateIntent resolves the user text to an intent id from the catalog.
// Keyword matching runs before the delegate since it is cheaper and
// deterministic; the delegate's output is constrained to the catalog ids.
func (e *RuleEvaluator) EvaluateIntent(ctx context.Context, userText string, catalog []models.IntentOption, variables map[string]any) string {
	if len(catalog) == 0 {
		return ""
	}

	for _, opt := range catalog {
		if containsAnyKeyword(userText, opt.Keywords) {
			return opt.ID
		}
	}

	labels := make([]string, 0, len(catalog))
	for _, opt := range catalog {
		labels = append(labels, opt.ID)
	}

	if e.classifier != nil {
		out, err := e.classifier(ctx, userText, labels)
		if err != nil {
			slog.WarnContext(ctx, "Intent classifier failed, using default intent", "error", err)
			return defaultIntent(catalog)
		}
		for _, label := range labels {
			if strings.EqualFold(out, label) {
				return label
			}
		}
		slog.WarnContext(ctx, "Intent classifier returned label outside catalog", "label", out)
		return labels[0]
	}

	return defaultIntent(catalog)
}

func (e *RuleEvaluator) delegateCondition(ctx context.Context, spec string, userText string) bool {
	if e.classifier == nil {
		return false
	}
	question := spec
	if question == "" {
		question = userText
	}
	out, err := e.classifier(ctx, userText, []string{"true", "false"})
	if err != nil {
		slog.WarnContext(ctx, "Condition classifier failed, using first label", "spec", question, "error", err)
		return true
	}
	if strings.EqualFold(out, "false") {
		return false
	}
	// anything outside the label set maps to the first label
	return true
}

// evaluateVariableSpec parses "name OP literal" with OP in {==, !=, contains}.
func evaluateVariableSpec(spec string, variables map[string]any) bool {
	for _, op := range []string{"==", "!=", "contains"} {
		idx := strings.Index(spec, op)
		if idx < 0 {
			continue
		}
		name := strings.TrimSpace(spec[:idx])
		literal := strings.Trim(strings.TrimSpace(spec[idx+len(op):]), `"'`)
		value := fmt.Sprintf("%v", variables[name])
		switch op {
		case "==":
			return strings.EqualFold(value, literal)
		case "!=":
			return !strings.EqualFold(value, literal)
		case "contains":
			return strings.Contains(strings.ToLower(value), strings.ToLower(literal))
		}
	}
	return false
}

func containsAnyKeyword(text string, keywords []string) bool {
	lowered := strings.ToLower(text)
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

func defaultIntent(catalog []models.IntentOption) string {
	for _, opt := range catalog {
		if opt.Default {
			return opt.ID
		}
	}
	return catalog[0].ID
}

func expressionEnv(userText string, variables map[string]any) map[string]any {
	env := make(map[string]any, len(variables)+1)
	for k, v := range variables {
		env[k] = v
	}
	env["text"] = strings.ToLower(userText)
	return env
}

// evaluateExpression compiles (or fetches from cache) an expr program and runs
// it against the environment.
func (e *RuleEvaluator) evaluateExpression(expression string, env map[string]any) (any, error) {
	if expression == "" {
		return nil, fmt.Errorf("empty expression")
	}

	prg, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}
	out, err := vm.Run(prg, env)
	if err != nil {
		return nil, fmt.Errorf("expression %q failed: %w", expression, err)
	}
	return out, nil
}

func (e *RuleEvaluator) getOrCompile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("expression %q does not compile: %w", expression, err)
	}
	e.cache[expression] = prg
	return prg, nil
}

var _ Evaluator = (*RuleEvaluator)(nil)
