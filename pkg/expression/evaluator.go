// Package expression evaluates boolean expressions used by trigger conditions
// and CONDITION steps.
package expression

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Evaluator compiles expressions once and caches the programs.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewEvaluator creates an evaluator with an empty program cache.
func NewEvaluator() *Evaluator {
	return &Evaluator{cache: make(map[string]*vm.Program)}
}

// Compile checks that expression is a valid boolean expression. Unknown
// variables are allowed since the environment is only known at run time.
func (e *Evaluator) Compile(expression string) error {
	_, err := e.program(expression)

	return err
}

// Evaluate runs expression against env and returns its boolean result.
func (e *Evaluator) Evaluate(expression string, env map[string]any) (bool, error) {
	program, err := e.program(expression)
	if err != nil {
		return false, err
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate '%s': %w", expression, err)
	}

	value, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression '%s' did not evaluate to a boolean, got %T", expression, result)
	}

	return value, nil
}

func (e *Evaluator) program(expression string) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.cache[expression]
	e.mu.RUnlock()

	if ok {
		return program, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if program, ok = e.cache[expression]; ok {
		return program, nil
	}

	program, err := expr.Compile(expression, expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("invalid expression '%s': %w", expression, err)
	}

	e.cache[expression] = program

	return program, nil
}
