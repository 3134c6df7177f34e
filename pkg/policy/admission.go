// Package policy evaluates operator-supplied CEL rules that gate agent
// registration.
//
// A rule sees three variables:
//
//	authority        string  hex public key of the registering caller
//	capabilities_uri string  NFC-normalized capability reference
//	disclosure       int     disclosure level, 0..255
//
// and must evaluate to a bool. For example:
//
//	capabilities_uri.startsWith("ipfs://") && disclosure <= 3
package policy

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/Mindburn-Labs/agent-registry/pkg/agent"
)

// Admission is a compiled registration rule. The zero expression admits
// everything.
type Admission struct {
	expression string
	prg        cel.Program
}

// NewAdmission compiles expression. An empty expression yields an
// Admission that allows every registration.
func NewAdmission(expression string) (*Admission, error) {
	a := &Admission{expression: expression}
	if expression == "" {
		return a, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("authority", cel.StringType),
		cel.Variable("capabilities_uri", cel.StringType),
		cel.Variable("disclosure", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compile error: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("admission rule must evaluate to bool, got %s", ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("CEL program error: %w", err)
	}
	a.prg = prg
	return a, nil
}

// Expression returns the source rule.
func (a *Admission) Expression() string {
	return a.expression
}

// Admit evaluates the rule for one registration. A false result or an
// evaluation error both deny, wrapping agent.ErrAdmissionDenied.
func (a *Admission) Admit(ctx context.Context, caller agent.PublicKey, md agent.Metadata) error {
	if a.prg == nil {
		return nil
	}

	out, _, err := a.prg.ContextEval(ctx, map[string]any{
		"authority":        caller.String(),
		"capabilities_uri": md.URI(),
		"disclosure":       int64(md.Disclosure),
	})
	if err != nil {
		return fmt.Errorf("%w: CEL eval error: %v", agent.ErrAdmissionDenied, err)
	}

	allowed, ok := out.Value().(bool)
	if !ok {
		return fmt.Errorf("%w: result not boolean", agent.ErrAdmissionDenied)
	}
	if !allowed {
		return agent.ErrAdmissionDenied
	}
	return nil
}
