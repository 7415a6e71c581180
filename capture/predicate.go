// Package capture implements the leader-only periodic controller that
// converts sustained packet loss into ownership transfer.
package capture

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// OverloadThreshold is the packet-loss ratio at or above which a target
// counts as overloaded.
const (
	OverloadThreshold = 0.20
)

// overloadPredicate wraps a compiled CEL program evaluating
// "packet_loss >= threshold". The expression text is fixed in
// newOverloadPredicate and the threshold is OverloadThreshold, so
// changing either one takes a rebuild.
type overloadPredicate struct {
	prg cel.Program
}

func newOverloadPredicate() (*overloadPredicate, error) {
	env, err := cel.NewEnv(
		cel.Variable("packet_loss", cel.DoubleType),
		cel.Variable("threshold", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("capture: cel env: %w", err)
	}

	ast, iss := env.Compile(`packet_loss >= threshold`)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("capture: cel compile: %w", iss.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("capture: cel program: %w", err)
	}

	return &overloadPredicate{prg: prg}, nil
}

// Overloaded reports whether loss meets or exceeds threshold.
func (p *overloadPredicate) Overloaded(loss float32, threshold float64) bool {
	out, _, err := p.prg.Eval(map[string]interface{}{
		"packet_loss": float64(loss),
		"threshold":   threshold,
	})
	if err != nil {
		// A predicate evaluation failure is conservative: treat as
		// not-overloaded rather than capturing on a broken expression.
		return false
	}
	result, ok := out.Value().(bool)
	return ok && result
}
