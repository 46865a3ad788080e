package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ProjectStateCreating = "creating"
	ProjectStateActive   = "active"
	ProjectStateDeleted  = "deleted"
)

type Project struct {
	Name      string    `json:"name"`
	UID       uuid.UUID `json:"uid"`
	State     string    `json:"state"` // 'creating', 'active', 'deleted'
	PGVersion int       `json:"pg_version"`
	CreatedAt time.Time `json:"created_at"`
}

func (p *Project) Prepare() {
	if p.UID == uuid.Nil {
		p.UID = uuid.New()
	}
	if p.State == "" {
		p.State = ProjectStateCreating
	}
	if p.PGVersion == 0 {
		p.PGVersion = 17
	}
}

// CreateProjectRequest carries the autoscaling compute settings the service
// applies to the project's default endpoint.
type CreateProjectRequest struct {
	Name                  string  `json:"name" binding:"required"`
	PGVersion             int     `json:"pg_version,omitempty"`
	MinCU                 float64 `json:"autoscaling_limit_min_cu,omitempty"`
	MaxCU                 float64 `json:"autoscaling_limit_max_cu,omitempty"`
	SuspendTimeoutSeconds int64   `json:"suspend_timeout_seconds,omitempty"`
}
