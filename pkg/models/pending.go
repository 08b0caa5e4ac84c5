package models

import (
	"fmt"
	"strings"
	"time"
)

// Candidate is an existing Title proposed as the same work as an incoming record.
type Candidate struct {
	TitleID         string  `json:"titleId"`
	Title           string  `json:"title"`
	SimilarityScore float64 `json:"similarityScore"`
}

type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
	DecisionMerged   Decision = "merged"
)

func ParseDecision(s string) (Decision, error) {
	d := Decision(strings.ToLower(strings.TrimSpace(s)))
	switch d {
	case DecisionApproved, DecisionRejected, DecisionMerged:
		return d, nil
	}
	return "", fmt.Errorf("invalid decision %q", s)
}

// PendingMatch is an uncertain reconciliation awaiting an admin decision.
type PendingMatch struct {
	ID              string          `json:"id"`
	ContentType     ContentType     `json:"content_type"`
	Provider        Provider        `json:"provider"`
	ExternalID      int64           `json:"external_id"`
	Record          CanonicalRecord `json:"record"`
	Candidates      []Candidate     `json:"candidates"`
	ConfidenceScore float64         `json:"confidence_score"`
	Decision        *Decision       `json:"admin_decision,omitempty"`
	TargetTitleID   *string         `json:"target_title_id,omitempty"`
	ResolvedTitleID *string         `json:"resolved_title_id,omitempty"`
	DecidedBy       string          `json:"decided_by,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	DecidedAt       *time.Time      `json:"decided_at,omitempty"`
}

func (p PendingMatch) Open() bool { return p.Decision == nil }
