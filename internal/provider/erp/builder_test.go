package erp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/Guizzs26/go-crm-sync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func saleJob(items ...models.SaleItem) models.Job {
	return models.Job{
		ID:   "sale-1",
		Kind: models.JobSale,
		Sale: &models.SaleBundle{
			Sale: models.Sale{
				ID:              "sale-1",
				CardID:          "0f3c2a9e-1111-2222-3333-444455556666",
				SaleDate:        "2026-04-01",
				TravelStartDate: "2026-06-10",
			},
			Items: items,
			Payer: &models.Party{ID: "c1", Name: "Ana", Surname: "Souza", Document: "123.456.789-00", Phone: "+55 (11) 98765-4321"},
			Agent: &models.Party{ID: "u1", Name: "Bruno"},
		},
	}
}

func newBuilder() *Builder {
	return NewBuilder("12.345.678/0001-90", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestBuild_Header(t *testing.T) {
	req, err := newBuilder().Build(context.Background(), saleJob(models.SaleItem{ItemType: "hotel", TotalPrice: 900}))
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/sales", req.Path)

	p := req.Body.(SalePayload)
	assert.Equal(t, "12345678000190", p.CompanyIdentifier)
	assert.Equal(t, "WC-0f3c2a9e", p.OperationID)
	assert.Equal(t, "Ana Souza", p.Payer.Name)
	assert.Equal(t, "12345678900", p.Payer.CPFCNPJ)
	assert.Equal(t, "5511987654321", p.Payer.MobileNumber)
	assert.Equal(t, "Bruno", p.TravelAgent.Name)
	assert.Equal(t, "u1", p.TravelAgent.ExternalID)
}

func TestBuild_BucketsAndDateFallbacks(t *testing.T) {
	job := saleJob(
		models.SaleItem{ID: "1", ItemType: "hotel", Supplier: "Hotel Sol", TotalPrice: 900, Metadata: map[string]any{"check_in": "2026-06-11", "city": "Lisbon"}},
		models.SaleItem{ID: "2", ItemType: "aereo", TotalPrice: 1500, Metadata: map[string]any{"departure_datetime": "2026-06-10T08:00:00Z", "origin_airport": "GRU", "destination_airport": "LIS"}},
		models.SaleItem{ID: "3", ItemType: "seguro", TotalPrice: 120},
		models.SaleItem{ID: "4", ItemType: "transfer", TotalPrice: 80},
		models.SaleItem{ID: "5", ItemType: "experiencia", Title: "Wine tour", TotalPrice: 200},
		models.SaleItem{ID: "6", ItemType: "spaceship", TotalPrice: 1},
	)

	req, err := newBuilder().Build(context.Background(), job)
	require.NoError(t, err)
	p := req.Body.(SalePayload)

	require.Len(t, p.Hotels, 1)
	assert.Equal(t, "2026-06-11", p.Hotels[0].CheckIn)
	assert.Equal(t, "2026-06-10", p.Hotels[0].CheckOut)
	assert.Equal(t, 1, p.Hotels[0].Rooms)

	require.Len(t, p.AirlineTickets, 1)
	assert.Equal(t, "2026-06-10", p.AirlineTickets[0].DepartureDate)
	assert.Equal(t, "GRU", p.AirlineTickets[0].Origin)
	assert.Equal(t, notInformed, p.AirlineTickets[0].SupplierName)

	require.Len(t, p.Insurances, 1)
	assert.Equal(t, "2026-06-10", p.Insurances[0].StartDate)
	require.Len(t, p.GroundTransportations, 1)
	require.Len(t, p.TravelPackages, 1)
	assert.Equal(t, "Wine tour", p.TravelPackages[0].Description)

	// the unknown kind is skipped, not fatal
	assert.Equal(t, 5, p.products())

	raw, err := json.Marshal(p)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "cruises")
}

func TestBuild_SaleDateFallback(t *testing.T) {
	job := saleJob(models.SaleItem{ItemType: "cruise", TotalPrice: 10})
	job.Sale.Sale.TravelStartDate = ""

	req, err := newBuilder().Build(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, "2026-04-01", req.Body.(SalePayload).Cruises[0].DepartureDate)
}

func TestBuild_NoItems(t *testing.T) {
	_, err := newBuilder().Build(context.Background(), saleJob())
	require.ErrorIs(t, err, ErrNoItems)

	_, err = newBuilder().Build(context.Background(), saleJob(models.SaleItem{ItemType: "spaceship"}))
	require.ErrorIs(t, err, ErrNoItems)

	_, err = newBuilder().Build(context.Background(), models.Job{})
	require.ErrorIs(t, err, ErrNoSale)
}

func TestBuild_MissingParties(t *testing.T) {
	job := saleJob(models.SaleItem{ItemType: "hotel"})
	job.Sale.Payer = nil
	job.Sale.Agent = nil

	req, err := newBuilder().Build(context.Background(), job)
	require.NoError(t, err)
	p := req.Body.(SalePayload)
	assert.Equal(t, "Payer not informed", p.Payer.Name)
	assert.Equal(t, "Agent not informed", p.TravelAgent.Name)
}

func TestReference(t *testing.T) {
	id, num := newBuilder().Reference([]byte(`{"sale_id":"abc","sale_number":1001}`))
	assert.Equal(t, "abc", id)
	assert.Equal(t, "1001", num)

	id, _ = newBuilder().Reference([]byte(`{"id":77}`))
	assert.Equal(t, "77", id)
}
