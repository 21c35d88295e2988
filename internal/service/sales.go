package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Guizzs26/go-crm-sync/internal/models"
	"github.com/google/uuid"
)

var ErrInvalidSale = errors.New("invalid sale")

// ConflictError lists artifacts that already belong to a sent sale
type ConflictError struct {
	Artifacts []SoldArtifact
}

type SoldArtifact struct {
	Ref   models.ArtifactRef `json:"ref"`
	Label string             `json:"label"`
}

func (e *ConflictError) Error() string {
	labels := make([]string, 0, len(e.Artifacts))
	for _, a := range e.Artifacts {
		labels = append(labels, a.Label)
	}
	return "artifacts already sold: " + strings.Join(labels, ", ")
}

// SaleStore is the transaction-bound persistence of sale creation
type SaleStore interface {
	LockCardSales(ctx context.Context, cardID string) error
	GetCard(ctx context.Context, id string) (models.Card, error)
	LoadArtifacts(ctx context.Context, cardID string, refs []models.ArtifactRef) (map[models.ArtifactRef]models.Artifact, error)
	SoldArtifacts(ctx context.Context, refs []models.ArtifactRef) ([]models.ArtifactRef, error)
	InsertSale(ctx context.Context, sale *models.Sale) error
}

type CreateSaleInput struct {
	CardID          string            `json:"card_id"`
	ProposalID      string            `json:"proposal_id,omitempty"`
	SaleDate        string            `json:"sale_date"`
	TravelStartDate string            `json:"travel_start_date,omitempty"`
	TravelEndDate   string            `json:"travel_end_date,omitempty"`
	CreatedBy       string            `json:"created_by,omitempty"`
	Items           []CreateSaleItem `json:"items"`
}

// CreateSaleItem must name exactly one source artifact
type CreateSaleItem struct {
	ProposalItemID   string         `json:"proposal_item_id,omitempty"`
	ProposalFlightID string         `json:"proposal_flight_id,omitempty"`
	FinancialItemID  string         `json:"financial_item_id,omitempty"`
	ItemType         string         `json:"item_type,omitempty"`
	Title            string         `json:"title,omitempty"`
	Description      string         `json:"description,omitempty"`
	Supplier         string         `json:"supplier,omitempty"`
	UnitPrice        *float64       `json:"unit_price,omitempty"`
	Quantity         int            `json:"quantity,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// Ref returns the single artifact named by the item
func (i CreateSaleItem) Ref() (models.ArtifactRef, error) {
	var refs []models.ArtifactRef
	if i.ProposalItemID != "" {
		refs = append(refs, models.ArtifactRef{Kind: models.ArtifactProposalItem, ID: i.ProposalItemID})
	}
	if i.ProposalFlightID != "" {
		refs = append(refs, models.ArtifactRef{Kind: models.ArtifactProposalFlight, ID: i.ProposalFlightID})
	}
	if i.FinancialItemID != "" {
		refs = append(refs, models.ArtifactRef{Kind: models.ArtifactFinancialItem, ID: i.FinancialItemID})
	}
	if len(refs) != 1 {
		return models.ArtifactRef{}, fmt.Errorf("%w: each item must reference exactly one artifact", ErrInvalidSale)
	}
	return refs[0], nil
}

// SalesService creates ERP sales guarded against re-selling artifacts
type SalesService struct {
	tx          TxRunner[SaleStore]
	maxAttempts int
	logger      *slog.Logger
}

func NewSalesService(tx TxRunner[SaleStore], maxAttempts int, l *slog.Logger) *SalesService {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &SalesService{tx: tx, maxAttempts: maxAttempts, logger: l}
}

// Create validates the input and persists a pending sale, or returns a
// *ConflictError naming every artifact already on a sent sale.
func (s *SalesService) Create(ctx context.Context, in CreateSaleInput) (*models.Sale, error) {
	refs, err := validateSale(in)
	if err != nil {
		return nil, err
	}

	var sale *models.Sale
	err = s.tx(ctx, func(store SaleStore) error {
		if err := store.LockCardSales(ctx, in.CardID); err != nil {
			return err
		}
		if _, err := store.GetCard(ctx, in.CardID); err != nil {
			return fmt.Errorf("load card %s: %w", in.CardID, err)
		}

		artifacts, err := store.LoadArtifacts(ctx, in.CardID, refs)
		if err != nil {
			return err
		}
		for _, r := range refs {
			if _, ok := artifacts[r]; !ok {
				return fmt.Errorf("%w: %s %s not found on card", ErrInvalidSale, r.Kind, r.ID)
			}
		}

		sold, err := store.SoldArtifacts(ctx, refs)
		if err != nil {
			return err
		}
		if len(sold) > 0 {
			conflict := &ConflictError{}
			for _, r := range sold {
				label := artifacts[r].Title
				if label == "" {
					label = r.ID
				}
				conflict.Artifacts = append(conflict.Artifacts, SoldArtifact{Ref: r, Label: label})
			}
			return conflict
		}

		sale = s.newSale(in, refs, artifacts)
		return store.InsertSale(ctx, sale)
	})
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			s.logger.Warn("Sale rejected: artifacts already sold", "card_id", in.CardID, "count", len(conflict.Artifacts))
		}
		return nil, err
	}

	s.logger.Info("Sale created", "sale_id", sale.ID, "card_id", sale.CardID, "items", len(sale.Items), "total", sale.TotalValue)
	return sale, nil
}

func (s *SalesService) newSale(in CreateSaleInput, refs []models.ArtifactRef, artifacts map[models.ArtifactRef]models.Artifact) *models.Sale {
	now := time.Now().UTC()
	sale := &models.Sale{
		ID:              uuid.NewString(),
		CardID:          in.CardID,
		ProposalID:      in.ProposalID,
		SaleDate:        in.SaleDate,
		TravelStartDate: in.TravelStartDate,
		TravelEndDate:   in.TravelEndDate,
		IdempotencyKey:  uuid.NewString(),
		Status:          models.StatusPending,
		MaxAttempts:     s.maxAttempts,
		AttemptsLog:     models.AttemptLog{},
		CreatedBy:       in.CreatedBy,
		CreatedAt:       now,
	}

	for i, it := range in.Items {
		ref := refs[i]
		a := artifacts[ref]

		qty := it.Quantity
		if qty <= 0 {
			qty = 1
		}
		price := a.Price
		if it.UnitPrice != nil {
			price = *it.UnitPrice
		}
		meta := a.Metadata
		if it.Metadata != nil {
			meta = it.Metadata
		}

		sale.Items = append(sale.Items, models.SaleItem{
			ID:          uuid.NewString(),
			SaleID:      sale.ID,
			Artifact:    &ref,
			ItemType:    firstNonEmpty(it.ItemType, a.ItemType),
			Title:       firstNonEmpty(it.Title, a.Title),
			Description: firstNonEmpty(it.Description, a.Description),
			Supplier:    firstNonEmpty(it.Supplier, a.Supplier),
			UnitPrice:   price,
			Quantity:    qty,
			TotalPrice:  price * float64(qty),
			Metadata:    meta,
		})
	}
	sale.TotalValue = models.Total(sale.Items)
	return sale
}

func validateSale(in CreateSaleInput) ([]models.ArtifactRef, error) {
	if in.CardID == "" {
		return nil, fmt.Errorf("%w: card_id is required", ErrInvalidSale)
	}
	dates := []struct {
		name, value string
		required    bool
	}{
		{"sale_date", in.SaleDate, true},
		{"travel_start_date", in.TravelStartDate, false},
		{"travel_end_date", in.TravelEndDate, false},
	}
	for _, d := range dates {
		if d.value == "" && !d.required {
			continue
		}
		if _, err := time.Parse(time.DateOnly, d.value); err != nil {
			return nil, fmt.Errorf("%w: %s must be YYYY-MM-DD", ErrInvalidSale, d.name)
		}
	}
	if len(in.Items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrInvalidSale)
	}

	refs := make([]models.ArtifactRef, 0, len(in.Items))
	seen := map[models.ArtifactRef]bool{}
	for _, it := range in.Items {
		ref, err := it.Ref()
		if err != nil {
			return nil, err
		}
		if seen[ref] {
			return nil, fmt.Errorf("%w: artifact %s listed twice", ErrInvalidSale, ref.ID)
		}
		if it.UnitPrice != nil && *it.UnitPrice < 0 {
			return nil, fmt.Errorf("%w: unit_price must not be negative", ErrInvalidSale)
		}
		seen[ref] = true
		refs = append(refs, ref)
	}
	return refs, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
