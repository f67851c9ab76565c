/*
store.go - Persistence interfaces for policies and decisions

KEY INTERFACES:
  PolicyStore: CRUD for policy definitions
  DecisionLog: Append-only audit trail of evaluations, with counts

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go
  - store/memory/memory.go
*/
package abac

import (
	"context"
	"time"
)

// PolicyStore persists policies.
type PolicyStore interface {
	SavePolicy(ctx context.Context, p Policy) error
	// GetPolicy returns ErrPolicyNotFound when id is unknown.
	GetPolicy(ctx context.Context, id string) (Policy, error)
	// ListPolicies returns policies in ascending ID order.
	ListPolicies(ctx context.Context) ([]Policy, error)
	// DeletePolicy returns ErrPolicyNotFound when id is unknown.
	DeletePolicy(ctx context.Context, id string) error
}

// DecisionRecord is one evaluation as kept in the audit trail.
type DecisionRecord struct {
	ID             string
	At             time.Time
	Action         string
	SubjectID      string
	ResourceID     string
	FinalEffect    Effect
	Algorithm      Algorithm
	DecidingPolicy string
	Reason         string
	PoliciesRun    int
	Duration       time.Duration
}

// DecisionStats summarises the audit trail.
type DecisionStats struct {
	Total           int
	Permits         int
	Denies          int
	AverageDuration time.Duration
}

// DecisionLog stores evaluations. Append-only.
type DecisionLog interface {
	AppendDecision(ctx context.Context, d DecisionRecord) error
	// RecentDecisions returns up to limit records, newest first.
	RecentDecisions(ctx context.Context, limit int) ([]DecisionRecord, error)
	DecisionStats(ctx context.Context) (DecisionStats, error)
}

// RecordFor builds the audit record for a finished evaluation.
func RecordFor(req Request, res EvaluationResult, took time.Duration) DecisionRecord {
	action, _ := Resolve(req.Attributes, "action.name")
	subject, _ := Resolve(req.Attributes, "subject.userId")
	resource, _ := Resolve(req.Attributes, "resource.resourceId")
	at := req.At
	if at.IsZero() {
		at = time.Now()
	}
	return DecisionRecord{
		At:             at,
		Action:         str(action),
		SubjectID:      str(subject),
		ResourceID:     str(resource),
		FinalEffect:    res.FinalEffect,
		Algorithm:      res.Algorithm,
		DecidingPolicy: res.DecidingPolicy,
		Reason:         res.Reason,
		PoliciesRun:    len(res.Trace),
		Duration:       took,
	}
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
