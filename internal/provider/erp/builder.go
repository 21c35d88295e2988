package erp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/Guizzs26/go-crm-sync/internal/models"
	"github.com/Guizzs26/go-crm-sync/internal/provider"
)

const notInformed = "Not informed"

var (
	ErrNoSale  = errors.New("job carries no sale")
	ErrNoItems = errors.New("sale has no items")
)

var nonDigits = regexp.MustCompile(`\D`)

// Digits strips everything but 0-9
func Digits(s string) string {
	return nonDigits.ReplaceAllString(s, "")
}

type TravelAgent struct {
	ExternalID string `json:"external_id,omitempty"`
	Name       string `json:"name"`
}

type Payer struct {
	PersonKind   string `json:"person_kind"`
	ExternalID   string `json:"external_id,omitempty"`
	Name         string `json:"name"`
	CPFCNPJ      string `json:"cpf_cnpj,omitempty"`
	Email        string `json:"email,omitempty"`
	MobileNumber string `json:"mobile_number,omitempty"`
}

type Hotel struct {
	CheckIn      string  `json:"check_in"`
	CheckOut     string  `json:"check_out"`
	SupplierName string  `json:"supplier_name"`
	City         string  `json:"city,omitempty"`
	Rooms        int     `json:"rooms,omitempty"`
	Value        float64 `json:"value"`
}

type AirlineTicket struct {
	DepartureDate string  `json:"departure_date"`
	ArrivalDate   string  `json:"arrival_date,omitempty"`
	Origin        string  `json:"origin"`
	Destination   string  `json:"destination"`
	Locator       string  `json:"locator,omitempty"`
	SupplierName  string  `json:"supplier_name"`
	Value         float64 `json:"value"`
}

type GroundTransportation struct {
	Date         string  `json:"date"`
	Origin       string  `json:"origin,omitempty"`
	Destination  string  `json:"destination,omitempty"`
	SupplierName string  `json:"supplier_name,omitempty"`
	Value        float64 `json:"value"`
}

type Insurance struct {
	StartDate    string  `json:"start_date"`
	EndDate      string  `json:"end_date,omitempty"`
	SupplierName string  `json:"supplier_name,omitempty"`
	Value        float64 `json:"value"`
}

type Cruise struct {
	DepartureDate string  `json:"departure_date"`
	ArrivalDate   string  `json:"arrival_date,omitempty"`
	SupplierName  string  `json:"supplier_name"`
	Value         float64 `json:"value"`
}

type TrainTicket struct {
	DepartureDate string  `json:"departure_date"`
	Origin        string  `json:"origin"`
	Destination   string  `json:"destination"`
	SupplierName  string  `json:"supplier_name,omitempty"`
	Value         float64 `json:"value"`
}

type CarRental struct {
	PickupDate     string  `json:"pickup_date"`
	ReturnDate     string  `json:"return_date,omitempty"`
	PickupLocation string  `json:"pickup_location,omitempty"`
	ReturnLocation string  `json:"return_location,omitempty"`
	SupplierName   string  `json:"supplier_name"`
	Value          float64 `json:"value"`
}

type TravelPackage struct {
	StartDate    string  `json:"start_date"`
	EndDate      string  `json:"end_date,omitempty"`
	SupplierName string  `json:"supplier_name"`
	Description  string  `json:"description,omitempty"`
	Value        float64 `json:"value"`
}

// SalePayload is the body of POST /sales
type SalePayload struct {
	CompanyIdentifier     string                 `json:"company_identifier"`
	SaleDate              string                 `json:"sale_date"`
	OperationID           string                 `json:"operation_id,omitempty"`
	TravelAgent           TravelAgent            `json:"travel_agent"`
	Payer                 Payer                  `json:"payer"`
	Hotels                []Hotel                `json:"hotels,omitempty"`
	AirlineTickets        []AirlineTicket        `json:"airline_tickets,omitempty"`
	GroundTransportations []GroundTransportation `json:"ground_transportations,omitempty"`
	Insurances            []Insurance            `json:"insurances,omitempty"`
	Cruises               []Cruise               `json:"cruises,omitempty"`
	TrainTickets          []TrainTicket          `json:"train_tickets,omitempty"`
	CarRentals            []CarRental            `json:"car_rentals,omitempty"`
	TravelPackages        []TravelPackage        `json:"travel_packages,omitempty"`
}

func (p SalePayload) products() int {
	return len(p.Hotels) + len(p.AirlineTickets) + len(p.GroundTransportations) +
		len(p.Insurances) + len(p.Cruises) + len(p.TrainTickets) +
		len(p.CarRentals) + len(p.TravelPackages)
}

// Builder turns sale bundles into ERP sale requests
type Builder struct {
	companyID string
	logger    *slog.Logger
}

func NewBuilder(companyID string, l *slog.Logger) *Builder {
	return &Builder{companyID: Digits(companyID), logger: l}
}

func (b *Builder) Build(_ context.Context, job models.Job) (provider.Request, error) {
	if job.Sale == nil {
		return provider.Request{}, ErrNoSale
	}
	bundle := job.Sale
	if len(bundle.Items) == 0 {
		return provider.Request{}, ErrNoItems
	}

	p := b.header(bundle)
	dates := newDates(bundle.Sale)

	for _, it := range bundle.Items {
		if !b.addItem(&p, it, dates) {
			b.logger.Warn("Unknown item kind skipped", "sale_id", bundle.Sale.ID, "item_id", it.ID, "item_type", it.ItemType)
		}
	}
	if p.products() == 0 {
		return provider.Request{}, fmt.Errorf("%w: no item kind is recognized", ErrNoItems)
	}

	return provider.Request{Method: http.MethodPost, Path: "/sales", Body: p}, nil
}

func (b *Builder) header(bundle *models.SaleBundle) SalePayload {
	p := SalePayload{
		CompanyIdentifier: b.companyID,
		SaleDate:          bundle.Sale.SaleDate,
		OperationID:       "WC-" + prefix(bundle.Sale.CardID, 8),
		TravelAgent:       TravelAgent{Name: "Agent not informed"},
		Payer:             Payer{PersonKind: "individual", Name: "Payer not informed"},
	}
	if a := bundle.Agent; a != nil {
		p.TravelAgent = TravelAgent{ExternalID: a.ID, Name: orDefault(a.Name, p.TravelAgent.Name)}
	}
	if c := bundle.Payer; c != nil {
		name := strings.TrimSpace(strings.Join([]string{c.Name, c.Surname}, " "))
		p.Payer = Payer{
			PersonKind:   "individual",
			ExternalID:   c.ID,
			Name:         orDefault(name, p.Payer.Name),
			CPFCNPJ:      Digits(c.Document),
			Email:        c.Email,
			MobileNumber: Digits(c.Phone),
		}
	}
	return p
}

// dates resolves per-item dates: item metadata, then travel dates, then sale date
type dates struct {
	start, end string
}

func newDates(s models.Sale) dates {
	start := orDefault(s.TravelStartDate, s.SaleDate)
	return dates{start: start, end: orDefault(s.TravelEndDate, start)}
}

// addItem reports false for kinds that have no bucket
func (b *Builder) addItem(p *SalePayload, it models.SaleItem, d dates) bool {
	m := meta(it.Metadata)
	supplier := orDefault(it.Supplier, notInformed)

	switch Kind(it.ItemType) {
	case KindHotel:
		rooms := m.number("rooms")
		if rooms == 0 {
			rooms = 1
		}
		p.Hotels = append(p.Hotels, Hotel{
			CheckIn:      orDefault(m.str("check_in"), d.start),
			CheckOut:     orDefault(m.str("check_out"), d.end),
			SupplierName: supplier,
			City:         orDefault(m.str("city"), m.str("destination")),
			Rooms:        rooms,
			Value:        it.TotalPrice,
		})
	case KindFlight:
		p.AirlineTickets = append(p.AirlineTickets, AirlineTicket{
			DepartureDate: orDefault(prefix(m.str("departure_datetime"), 10), d.start),
			ArrivalDate:   prefix(m.str("arrival_datetime"), 10),
			Origin:        orDefault(m.str("origin_airport"), orDefault(m.str("origin"), "N/A")),
			Destination:   orDefault(m.str("destination_airport"), orDefault(m.str("destination"), "N/A")),
			Locator:       orDefault(m.str("flight_number"), m.str("locator")),
			SupplierName:  supplier,
			Value:         it.TotalPrice,
		})
	case KindGround:
		p.GroundTransportations = append(p.GroundTransportations, GroundTransportation{
			Date:         orDefault(m.str("date"), d.start),
			Origin:       m.str("origin"),
			Destination:  m.str("destination"),
			SupplierName: it.Supplier,
			Value:        it.TotalPrice,
		})
	case KindInsurance:
		p.Insurances = append(p.Insurances, Insurance{
			StartDate:    orDefault(m.str("start_date"), d.start),
			EndDate:      orDefault(m.str("end_date"), d.end),
			SupplierName: it.Supplier,
			Value:        it.TotalPrice,
		})
	case KindCruise:
		p.Cruises = append(p.Cruises, Cruise{
			DepartureDate: orDefault(m.str("departure_date"), d.start),
			ArrivalDate:   orDefault(m.str("arrival_date"), d.end),
			SupplierName:  supplier,
			Value:         it.TotalPrice,
		})
	case KindTrain:
		p.TrainTickets = append(p.TrainTickets, TrainTicket{
			DepartureDate: orDefault(m.str("departure_date"), d.start),
			Origin:        orDefault(m.str("origin"), "N/A"),
			Destination:   orDefault(m.str("destination"), "N/A"),
			SupplierName:  it.Supplier,
			Value:         it.TotalPrice,
		})
	case KindCarRental:
		p.CarRentals = append(p.CarRentals, CarRental{
			PickupDate:     orDefault(m.str("pickup_date"), d.start),
			ReturnDate:     orDefault(m.str("return_date"), d.end),
			PickupLocation: m.str("pickup_location"),
			ReturnLocation: m.str("return_location"),
			SupplierName:   supplier,
			Value:          it.TotalPrice,
		})
	case KindPackage:
		p.TravelPackages = append(p.TravelPackages, TravelPackage{
			StartDate:    orDefault(m.str("start_date"), d.start),
			EndDate:      orDefault(m.str("end_date"), d.end),
			SupplierName: supplier,
			Description:  orDefault(it.Description, it.Title),
			Value:        it.TotalPrice,
		})
	default:
		return false
	}
	return true
}

// Reference reads sale_id (or id) and sale_number from the ERP answer
func (b *Builder) Reference(body []byte) (string, string) {
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return "", ""
	}
	id := scalar(out["sale_id"])
	if id == "" {
		id = scalar(out["id"])
	}
	return id, scalar(out["sale_number"])
}

func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return fmt.Sprintf("%.0f", t)
	default:
		return fmt.Sprint(t)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func prefix(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

type meta map[string]any

func (m meta) str(key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func (m meta) number(key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
