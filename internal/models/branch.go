package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	BranchStateCreating = "creating"
	BranchStateReady    = "ready"
	BranchStateDeleting = "deleting"
)

// Branch is a copy-on-write view of a project's data, derived from a source
// branch at its current head or, when SourceTime is set, at a past instant.
type Branch struct {
	ID           uuid.UUID  `json:"id"`
	BranchID     string     `json:"branch_id"`
	Project      string     `json:"project"`
	SourceBranch string     `json:"source_branch,omitempty"`
	SourceTime   *time.Time `json:"source_time,omitempty"`
	TTLSeconds   int64      `json:"ttl_seconds,omitempty"`
	Default      bool       `json:"default"`
	State        string     `json:"state"` // 'creating', 'ready', 'deleting'
	CreatedAt    time.Time  `json:"created_at"`
}

func (b *Branch) Prepare() {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.State == "" {
		b.State = BranchStateCreating
	}
}

type CreateBranchRequest struct {
	BranchID     string     `json:"branch_id" binding:"required"`
	SourceBranch string     `json:"source_branch"`
	SourceTime   *time.Time `json:"source_time,omitempty"`
	TTLSeconds   int64      `json:"ttl_seconds,omitempty"`
}
