package anomaly

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/emberwatch/emberwatch/internal/models"
)

// MuteRule suppresses publishing for decisions matching a boolean expression.
// The history record still accumulates; only the downstream hand-off is
// skipped. Expressions use the expr language with built-in string operators,
// e.g. `level == "WARNING" && count < 20` or `message contains "deprecated"`.
type MuteRule struct {
	Name string `yaml:"name"`
	Expr string `yaml:"expr"`

	program *vm.Program
}

// Compile type-checks and compiles the rule's expression.
func (r *MuteRule) Compile() error {
	if r.Name == "" {
		return fmt.Errorf("mute rule name is required")
	}
	if r.Expr == "" {
		return fmt.Errorf("mute rule %q: expression is required", r.Name)
	}

	program, err := expr.Compile(r.Expr,
		expr.Env(muteSampleEnv()),
		expr.AsBool(),
	)
	if err != nil {
		return fmt.Errorf("mute rule %q: compile expression: %w", r.Name, err)
	}

	r.program = program
	return nil
}

// Matches evaluates the rule against a decision.
func (r *MuteRule) Matches(decision *models.AlertDecision) (bool, error) {
	if r.program == nil {
		if err := r.Compile(); err != nil {
			return false, err
		}
	}

	result, err := expr.Run(r.program, muteEnv(decision))
	if err != nil {
		return false, fmt.Errorf("mute rule %q: evaluate expression: %w", r.Name, err)
	}

	matched, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("mute rule %q: expression did not return bool: got %T", r.Name, result)
	}

	return matched, nil
}

// muteSampleEnv is the typed environment used for compile-time checking.
func muteSampleEnv() map[string]any {
	return map[string]any{
		"level":     "",
		"message":   "",
		"signature": "",
		"count":     int64(0),
		"reason":    "",
		"baseline":  float64(0),
	}
}

// muteEnv builds the evaluation environment from a decision.
func muteEnv(d *models.AlertDecision) map[string]any {
	return map[string]any{
		"level":     string(d.Signature.Level),
		"message":   d.Signature.Message,
		"signature": d.Signature.String(),
		"count":     d.OccurrenceCount,
		"reason":    string(d.Reason),
		"baseline":  d.BaselineRate,
	}
}
