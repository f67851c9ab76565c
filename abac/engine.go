/*
engine.go - Policy evaluation and combining algorithms

PURPOSE:
  Evaluates each policy independently, then combines the votes.

COMBINING ALGORITHMS:
  deny-overrides    any deny vote wins, then any permit vote (default)
  permit-overrides  any permit vote wins, then any deny vote
  first-applicable  first vote in policy order
  priority-based    vote of the highest-priority matching policy
                    (ties go to the earlier policy)

  No votes: the default effect. The trace always lists every policy in
  the order it was given, whether or not evaluation ran in parallel.

USAGE:
  engine := abac.NewEngine(abac.EffectDeny)
  engine.Parallel = true
  result, err := engine.Evaluate(ctx, policies, req)
*/
package abac

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
)

// Algorithm names a combining algorithm.
type Algorithm string

const (
	DenyOverrides   Algorithm = "deny-overrides"
	PermitOverrides Algorithm = "permit-overrides"
	FirstApplicable Algorithm = "first-applicable"
	PriorityBased   Algorithm = "priority-based"
)

func (a Algorithm) Valid() bool {
	switch a {
	case DenyOverrides, PermitOverrides, FirstApplicable, PriorityBased:
		return true
	}
	return false
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine holds evaluation settings. The zero value is deny-overrides,
// deny by default, DefaultMaxDepth, sequential.
type Engine struct {
	DefaultEffect Effect
	Algorithm     Algorithm
	MaxDepth      int
	Parallel      bool
}

// NewEngine returns a deny-overrides engine with the given default effect.
func NewEngine(defaultEffect Effect) *Engine {
	return &Engine{
		DefaultEffect: defaultEffect,
		Algorithm:     DenyOverrides,
		MaxDepth:      DefaultMaxDepth,
	}
}

// EvaluatePolicy evaluates one policy. A policy that is disabled or outside
// its effective window abstains.
func (e *Engine) EvaluatePolicy(p Policy, req Request) PolicyTrace {
	tr := PolicyTrace{
		PolicyID:   p.ID,
		PolicyName: p.Name,
		Effect:     p.Effect,
		Priority:   p.Priority,
	}

	at := req.At
	if at.IsZero() {
		at = time.Now()
	}
	switch {
	case !p.Enabled:
		tr.Reason = "policy disabled"
		return tr
	case p.EffectiveFrom != nil && at.Before(*p.EffectiveFrom):
		tr.Reason = "policy not yet effective"
		return tr
	case p.EffectiveTo != nil && at.After(*p.EffectiveTo):
		tr.Reason = "policy expired"
		return tr
	case !p.Effect.Valid():
		tr.Reason = fmt.Sprintf("unknown effect %q", p.Effect)
		return tr
	}

	if EvaluateRuleDepth(p.Rule, req.Attributes, e.MaxDepth) {
		tr.Matched = true
		tr.Reason = "rule matched"
	} else {
		tr.Reason = "rule did not match"
	}
	return tr
}

// Evaluate runs every policy and combines the votes. The only error is
// ctx being cancelled during parallel evaluation.
func (e *Engine) Evaluate(ctx context.Context, policies []Policy, req Request) (EvaluationResult, error) {
	trace := make([]PolicyTrace, len(policies))

	if e.Parallel && len(policies) > 1 {
		g, ctx := errgroup.WithContext(ctx)
		g.SetLimit(runtime.GOMAXPROCS(0))
		for i := range policies {
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				trace[i] = e.EvaluatePolicy(policies[i], req)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return EvaluationResult{}, err
		}
	} else {
		for i, p := range policies {
			trace[i] = e.EvaluatePolicy(p, req)
		}
	}

	return e.combine(trace), nil
}

// EvaluateAll evaluates sequentially with deny-overrides.
func EvaluateAll(policies []Policy, req Request, defaultEffect Effect) EvaluationResult {
	res, _ := NewEngine(defaultEffect).Evaluate(context.Background(), policies, req)
	return res
}

// EvaluatePolicy evaluates one policy with DefaultMaxDepth.
func EvaluatePolicy(p Policy, req Request) PolicyTrace {
	return NewEngine(EffectDeny).EvaluatePolicy(p, req)
}

// =============================================================================
// COMBINING
// =============================================================================

func (e *Engine) combine(trace []PolicyTrace) EvaluationResult {
	alg := e.Algorithm
	if alg == "" {
		alg = DenyOverrides
	}
	res := EvaluationResult{Algorithm: alg, Trace: trace}

	var decided *PolicyTrace
	switch alg {
	case DenyOverrides:
		decided = firstVote(trace, EffectDeny)
		if decided == nil {
			decided = firstVote(trace, EffectPermit)
		}
	case PermitOverrides:
		decided = firstVote(trace, EffectPermit)
		if decided == nil {
			decided = firstVote(trace, EffectDeny)
		}
	case FirstApplicable:
		decided = firstVote(trace, "")
	case PriorityBased:
		for i := range trace {
			if trace[i].Matched && (decided == nil || trace[i].Priority > decided.Priority) {
				decided = &trace[i]
			}
		}
	default:
		res.FinalEffect = e.defaultEffect()
		res.Reason = fmt.Sprintf("unknown combining algorithm %q, default %s", alg, res.FinalEffect)
		res.Allowed = res.FinalEffect == EffectPermit
		return res
	}

	if decided == nil {
		res.FinalEffect = e.defaultEffect()
		res.Reason = fmt.Sprintf("no applicable policy, default %s", res.FinalEffect)
	} else {
		res.FinalEffect = decided.Effect
		res.DecidingPolicy = decided.PolicyID
		res.Reason = fmt.Sprintf("%s by policy %s (%s)", verb(decided.Effect), decided.PolicyID, alg)
	}
	res.Allowed = res.FinalEffect == EffectPermit
	return res
}

// firstVote returns the first matched trace with effect, or with any
// effect when effect is empty.
func firstVote(trace []PolicyTrace, effect Effect) *PolicyTrace {
	for i := range trace {
		if trace[i].Matched && (effect == "" || trace[i].Effect == effect) {
			return &trace[i]
		}
	}
	return nil
}

func (e *Engine) defaultEffect() Effect {
	if e.DefaultEffect == EffectPermit {
		return EffectPermit
	}
	return EffectDeny
}

func verb(eff Effect) string {
	if eff == EffectPermit {
		return "permitted"
	}
	return "denied"
}
