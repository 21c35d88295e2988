package models

import (
	"encoding/json"
	"time"
)

// ArtifactKind names the source tables a sale item can be built from
type ArtifactKind string

const (
	ArtifactProposalItem   ArtifactKind = "proposal_item"
	ArtifactProposalFlight ArtifactKind = "proposal_flight"
	ArtifactFinancialItem  ArtifactKind = "financial_item"
)

func (k ArtifactKind) Valid() bool {
	switch k {
	case ArtifactProposalItem, ArtifactProposalFlight, ArtifactFinancialItem:
		return true
	}
	return false
}

// ArtifactRef identifies one source artifact
type ArtifactRef struct {
	Kind ArtifactKind `json:"kind"`
	ID   string       `json:"id"`
}

// Artifact is the resolved source data used to build a sale item
type Artifact struct {
	Ref         ArtifactRef
	ItemType    string
	Title       string
	Description string
	Supplier    string
	Price       float64
	Metadata    map[string]any
}

// Sale is an outbound ERP transaction
type Sale struct {
	ID               string          `db:"id" json:"id"`
	CardID           string          `db:"card_id" json:"card_id"`
	ProposalID       string          `db:"proposal_id" json:"proposal_id,omitempty"`
	SaleDate         string          `db:"sale_date" json:"sale_date"`
	TravelStartDate  string          `db:"travel_start_date" json:"travel_start_date,omitempty"`
	TravelEndDate    string          `db:"travel_end_date" json:"travel_end_date,omitempty"`
	TotalValue       float64         `db:"total_value" json:"total_value"`
	IdempotencyKey   string          `db:"idempotency_key" json:"idempotency_key"`
	Status           Status          `db:"status" json:"status"`
	Attempts         int             `db:"attempts" json:"attempts"`
	MaxAttempts      int             `db:"max_attempts" json:"max_attempts"`
	NextRetryAt      *time.Time      `db:"next_retry_at" json:"next_retry_at,omitempty"`
	AttemptsLog      AttemptLog      `db:"attempts_log" json:"attempts_log"`
	ErrorMessage     string          `db:"error_message" json:"error_message,omitempty"`
	ExternalSaleID   string          `db:"external_sale_id" json:"external_sale_id,omitempty"`
	ExternalNumber   string          `db:"external_sale_number" json:"external_sale_number,omitempty"`
	ExternalResponse json.RawMessage `db:"external_response" json:"external_response,omitempty"`
	CreatedBy        string          `db:"created_by" json:"created_by,omitempty"`
	SentAt           *time.Time      `db:"sent_at" json:"sent_at,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	Items            []SaleItem      `db:"-" json:"items,omitempty"`
}

// SaleItem is one line of a sale, linked to at most one artifact
type SaleItem struct {
	ID          string         `db:"id" json:"id"`
	SaleID      string         `db:"sale_id" json:"sale_id"`
	Artifact    *ArtifactRef   `db:"-" json:"artifact,omitempty"`
	ItemType    string         `db:"item_type" json:"item_type"`
	Title       string         `db:"title" json:"title"`
	Description string         `db:"description" json:"description,omitempty"`
	Supplier    string         `db:"supplier" json:"supplier,omitempty"`
	UnitPrice   float64        `db:"unit_price" json:"unit_price"`
	Quantity    int            `db:"quantity" json:"quantity"`
	TotalPrice  float64        `db:"total_price" json:"total_price"`
	Metadata    map[string]any `db:"item_metadata" json:"item_metadata,omitempty"`
}

// SaleBundle is a sale loaded with everything needed to build the ERP request
type SaleBundle struct {
	Sale   Sale
	Items  []SaleItem
	Card   Card
	Payer  *Party
	Agent  *Party
}

// Total sums item totals
func Total(items []SaleItem) float64 {
	var sum float64
	for _, it := range items {
		sum += it.TotalPrice
	}
	return sum
}
