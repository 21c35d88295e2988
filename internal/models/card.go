package models

import "time"

// Origin tags who performed a write. It is passed explicitly down the mutation path
type Origin string

const (
	OriginUser        Origin = "user"
	OriginSync        Origin = "sync"
	OriginIntegration Origin = "integration"
)

// IsSystem reports writes produced by the sync engine itself (loop prevention)
func (o Origin) IsSystem() bool {
	return o == OriginSync || o == OriginIntegration
}

// Terminal card statuses that produce won/lost events
const (
	CardStatusOpen = "open"
	CardStatusWon  = "won"
	CardStatusLost = "lost"
)

// Card is the slice of the deal entity observed by change capture
type Card struct {
	ID            string         `db:"id" json:"id"`
	Title         string         `db:"title" json:"title"`
	PipelineID    string         `db:"pipeline_id" json:"pipeline_id"`
	StageID       string         `db:"stage_id" json:"stage_id"`
	OwnerID       string         `db:"owner_id" json:"owner_id"`
	Status        string         `db:"status" json:"status"`
	IntegrationID string         `db:"integration_id" json:"integration_id,omitempty"`
	ExternalID    string         `db:"external_id" json:"external_id,omitempty"`
	Fields        map[string]any `db:"fields" json:"fields,omitempty"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// Linked reports whether the card is bound to an external system record
func (c Card) Linked() bool {
	return c.IntegrationID != "" && c.ExternalID != ""
}

// Snapshot returns the current values carried by outbound payloads
func (c Card) Snapshot() map[string]any {
	snap := map[string]any{
		"title":       c.Title,
		"pipeline_id": c.PipelineID,
		"stage_id":    c.StageID,
		"owner_id":    c.OwnerID,
		"status":      c.Status,
	}
	for k, v := range c.Fields {
		snap[k] = v
	}
	return snap
}

// Party is a person referenced by a sale (payer or travel agent)
type Party struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Surname  string `json:"surname,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Document string `json:"document,omitempty"`
}
