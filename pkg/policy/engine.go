package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"github.com/openfroyo/installengine/pkg/engine"
)

// Engine evaluates install policies against resolved packages.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a new policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}

	ctx := context.Background()
	builtins := BuiltinPolicies()
	for i := range builtins {
		cp, err := compile(ctx, &builtins[i])
		if err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
		e.policies[builtins[i].Name] = cp
	}

	e.logger.Debug().Int("count", len(builtins)).Msg("Built-in policies loaded")
	return e, nil
}

// Check evaluates every enabled policy against input.
func (e *Engine) Check(ctx context.Context, input *Input) (*Result, error) {
	start := time.Now()

	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{Allowed: true, EvaluatedPolicies: []string{}}

	for _, name := range e.namesLocked() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		violations, err := evaluate(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).Str("policy", name).Msg("Policy evaluation failed")
			result.Warnings = append(result.Warnings, Violation{
				Policy:   name,
				Message:  fmt.Sprintf("policy evaluation failed: %v", err),
				Severity: SeverityWarning,
			})
			continue
		}

		for _, v := range violations {
			if v.Severity.Blocking() {
				result.Allowed = false
				result.Violations = append(result.Violations, v)
			} else {
				result.Warnings = append(result.Warnings, v)
			}
		}
	}

	result.Duration = time.Since(start)
	e.logger.Debug().
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Dur("duration", result.Duration).
		Msg("Policy evaluation completed")

	return result, nil
}

// Validate checks pkg against the enabled policies. Non-blocking violations
// are logged; blocking ones are returned as a *ViolationError.
func (e *Engine) Validate(ctx context.Context, pkg *engine.Package) error {
	result, err := e.Check(ctx, NewInput(pkg))
	if err != nil {
		return err
	}

	for _, w := range result.Warnings {
		e.logger.Warn().
			Str("policy", w.Policy).
			Str("subject", w.Subject).
			Str("severity", string(w.Severity)).
			Msg(w.Message)
	}
	if result.Allowed {
		return nil
	}
	for _, v := range result.Violations {
		e.logger.Error().
			Str("policy", v.Policy).
			Str("subject", v.Subject).
			Msg(v.Message)
	}
	return &ViolationError{Violations: result.Violations}
}

// ViolationError is returned by Validate when a blocking policy is violated.
type ViolationError struct {
	Violations []Violation
}

func (e *ViolationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Policy + ": " + v.Message
	}
	return "policy violations: " + strings.Join(msgs, "; ")
}

// LoadPolicies loads policy files and adds them to the engine.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := NewLoader(e.logger).LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return e.Replace(ctx, policies)
}

// Replace swaps every non-built-in policy for policies. Nothing changes if
// any of them fails to compile.
func (e *Engine) Replace(ctx context.Context, policies []Policy) error {
	compiled := make(map[string]*compiledPolicy, len(policies))
	for i := range policies {
		p := policies[i]
		if _, dup := compiled[p.Name]; dup {
			return fmt.Errorf("duplicate policy: %s", p.Name)
		}
		cp, err := compile(ctx, &p)
		if err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
		}
		compiled[p.Name] = cp
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for name := range compiled {
		if existing, ok := e.policies[name]; ok && existing.policy.Builtin {
			return fmt.Errorf("policy %s shadows a built-in policy", name)
		}
	}
	for name, cp := range e.policies {
		if !cp.policy.Builtin {
			delete(e.policies, name)
		}
	}
	for name, cp := range compiled {
		e.policies[name] = cp
	}

	e.logger.Info().Int("count", len(compiled)).Msg("Policies loaded")
	return nil
}

// Watch reloads the policies under paths whenever they change, until ctx is done.
func (e *Engine) Watch(ctx context.Context, paths []string) (*Loader, error) {
	loader := NewLoader(e.logger)
	if err := loader.Watch(ctx, paths, e.Replace); err != nil {
		return nil, err
	}
	return loader, nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	p := *cp.policy
	return &p, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.namesLocked() {
		policies = append(policies, *e.policies[name].policy)
	}
	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}

func (e *Engine) namesLocked() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// compile parses policy and prepares its deny query.
func compile(ctx context.Context, policy *Policy) (*compiledPolicy, error) {
	if policy.Name == "" {
		return nil, fmt.Errorf("policy has no name")
	}
	module, err := ast.ParseModule(policy.Name+".rego", policy.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	if policy.Severity == "" {
		policy.Severity = SeverityWarning
	}

	query, err := rego.New(
		rego.Module(policy.Name+".rego", policy.Rego),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}

	return &compiledPolicy{policy: policy, query: query, compiled: time.Now()}, nil
}

// evaluate runs one policy's deny query.
func evaluate(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, newViolation(cp.policy, d))
		}
	}

	sort.Slice(violations, func(i, j int) bool {
		if violations[i].Subject != violations[j].Subject {
			return violations[i].Subject < violations[j].Subject
		}
		return violations[i].Message < violations[j].Message
	})
	return violations, nil
}

// newViolation builds a Violation from one deny entry, which is either a
// message string or an object with message, subject and severity keys.
func newViolation(policy *Policy, entry interface{}) Violation {
	v := Violation{Policy: policy.Name, Severity: policy.Severity}

	switch d := entry.(type) {
	case string:
		v.Message = d
	case map[string]interface{}:
		if msg, ok := d["message"].(string); ok {
			v.Message = msg
		}
		if subject, ok := d["subject"].(string); ok {
			v.Subject = subject
		}
		if sev, ok := d["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
	default:
		v.Message = fmt.Sprintf("%v", entry)
	}
	return v
}
