package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Guizzs26/go-crm-sync/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// LockCardSales serializes sale creation per card until the transaction ends
func (s *Store) LockCardSales(ctx context.Context, cardID string) error {
	if _, err := s.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, cardID); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	return nil
}

// LoadArtifacts resolves the referenced artifacts that belong to the card
func (s *Store) LoadArtifacts(ctx context.Context, cardID string, refs []models.ArtifactRef) (map[models.ArtifactRef]models.Artifact, error) {
	byKind := groupRefs(refs)
	out := make(map[models.ArtifactRef]models.Artifact, len(refs))

	queries := map[models.ArtifactKind]string{
		models.ArtifactProposalItem: `
			SELECT id::text, item_type, title, description, supplier, price::float8, metadata
			FROM proposal_items WHERE card_id = $1 AND id::text = ANY($2)`,
		models.ArtifactProposalFlight: `
			SELECT id::text, 'flight', title, airline, airline, price::float8, metadata
			FROM proposal_flights WHERE card_id = $1 AND id::text = ANY($2)`,
		models.ArtifactFinancialItem: `
			SELECT id::text, item_type, description, description, supplier, value::float8, '{}'::jsonb
			FROM financial_items WHERE card_id = $1 AND id::text = ANY($2)`,
	}

	for kind, ids := range byKind {
		rows, err := s.q.Query(ctx, queries[kind], cardID, ids)
		if err != nil {
			return nil, fmt.Errorf("load %s artifacts: %w", kind, err)
		}
		for rows.Next() {
			var (
				a    models.Artifact
				meta []byte
			)
			a.Ref.Kind = kind
			if err := rows.Scan(&a.Ref.ID, &a.ItemType, &a.Title, &a.Description, &a.Supplier, &a.Price, &meta); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan %s artifact: %w", kind, err)
			}
			if len(meta) > 0 {
				if err := json.Unmarshal(meta, &a.Metadata); err != nil {
					rows.Close()
					return nil, fmt.Errorf("decode artifact metadata: %w", err)
				}
			}
			out[a.Ref] = a
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SoldArtifacts returns the refs already attached to an item of a sent sale
func (s *Store) SoldArtifacts(ctx context.Context, refs []models.ArtifactRef) ([]models.ArtifactRef, error) {
	byKind := groupRefs(refs)
	rows, err := s.q.Query(ctx, `
		SELECT 'proposal_item', si.proposal_item_id::text
		FROM sale_items si JOIN sales s ON s.id = si.sale_id
		WHERE s.status = 'sent' AND si.proposal_item_id::text = ANY($1)
		UNION
		SELECT 'proposal_flight', si.proposal_flight_id::text
		FROM sale_items si JOIN sales s ON s.id = si.sale_id
		WHERE s.status = 'sent' AND si.proposal_flight_id::text = ANY($2)
		UNION
		SELECT 'financial_item', si.financial_item_id::text
		FROM sale_items si JOIN sales s ON s.id = si.sale_id
		WHERE s.status = 'sent' AND si.financial_item_id::text = ANY($3)
	`, nonNil(byKind[models.ArtifactProposalItem]), nonNil(byKind[models.ArtifactProposalFlight]), nonNil(byKind[models.ArtifactFinancialItem]))
	if err != nil {
		return nil, fmt.Errorf("query sold artifacts: %w", err)
	}
	defer rows.Close()

	var out []models.ArtifactRef
	for rows.Next() {
		var kind, id string
		if err := rows.Scan(&kind, &id); err != nil {
			return nil, err
		}
		out = append(out, models.ArtifactRef{Kind: models.ArtifactKind(kind), ID: id})
	}
	return out, rows.Err()
}

// InsertSale persists a sale and its items
func (s *Store) InsertSale(ctx context.Context, sale *models.Sale) error {
	log, _ := json.Marshal(sale.AttemptsLog)
	_, err := s.q.Exec(ctx, `
		INSERT INTO sales (id, card_id, proposal_id, sale_date, travel_start_date, travel_end_date, total_value,
			idempotency_key, status, attempts, max_attempts, attempts_log, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4::date, NULLIF($5, '')::date, NULLIF($6, '')::date, $7, $8, $9, 0, $10, $11, $12, $13, $13)
	`, sale.ID, sale.CardID, sale.ProposalID, sale.SaleDate, sale.TravelStartDate, sale.TravelEndDate, sale.TotalValue,
		sale.IdempotencyKey, string(sale.Status), sale.MaxAttempts, log, sale.CreatedBy, sale.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert sale: %w", err)
	}

	for _, it := range sale.Items {
		var itemID, flightID, financialID *string
		if a := it.Artifact; a != nil {
			id := a.ID
			switch a.Kind {
			case models.ArtifactProposalItem:
				itemID = &id
			case models.ArtifactProposalFlight:
				flightID = &id
			case models.ArtifactFinancialItem:
				financialID = &id
			}
		}
		meta, err := json.Marshal(it.Metadata)
		if err != nil {
			return fmt.Errorf("encode item metadata: %w", err)
		}
		if it.Metadata == nil {
			meta = []byte("{}")
		}
		_, err = s.q.Exec(ctx, `
			INSERT INTO sale_items (id, sale_id, proposal_item_id, proposal_flight_id, financial_item_id, item_type,
				title, description, supplier, unit_price, quantity, total_price, item_metadata)
			VALUES ($1, $2, $3::uuid, $4::uuid, $5::uuid, $6, $7, $8, $9, $10, $11, $12, $13)
		`, it.ID, sale.ID, itemID, flightID, financialID, it.ItemType, it.Title, it.Description, it.Supplier,
			it.UnitPrice, it.Quantity, it.TotalPrice, meta)
		if err != nil {
			return fmt.Errorf("insert sale item: %w", err)
		}
	}
	return nil
}

// SaleItems loads the items of a sale
func (s *Store) SaleItems(ctx context.Context, saleID string) ([]models.SaleItem, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id::text, sale_id::text, proposal_item_id::text, proposal_flight_id::text, financial_item_id::text,
		       item_type, title, description, supplier, unit_price::float8, quantity, total_price::float8, item_metadata
		FROM sale_items WHERE sale_id::text = $1
		ORDER BY id
	`, saleID)
	if err != nil {
		return nil, fmt.Errorf("query sale items: %w", err)
	}
	defer rows.Close()

	var out []models.SaleItem
	for rows.Next() {
		var (
			it          models.SaleItem
			itemID      *string
			flightID    *string
			financialID *string
			meta        []byte
		)
		err := rows.Scan(&it.ID, &it.SaleID, &itemID, &flightID, &financialID, &it.ItemType, &it.Title,
			&it.Description, &it.Supplier, &it.UnitPrice, &it.Quantity, &it.TotalPrice, &meta)
		if err != nil {
			return nil, fmt.Errorf("scan sale item: %w", err)
		}
		switch {
		case itemID != nil:
			it.Artifact = &models.ArtifactRef{Kind: models.ArtifactProposalItem, ID: *itemID}
		case flightID != nil:
			it.Artifact = &models.ArtifactRef{Kind: models.ArtifactProposalFlight, ID: *flightID}
		case financialID != nil:
			it.Artifact = &models.ArtifactRef{Kind: models.ArtifactFinancialItem, ID: *financialID}
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &it.Metadata); err != nil {
				return nil, fmt.Errorf("decode item metadata: %w", err)
			}
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func groupRefs(refs []models.ArtifactRef) map[models.ArtifactKind][]string {
	out := map[models.ArtifactKind][]string{}
	for _, r := range refs {
		out[r.Kind] = append(out[r.Kind], r.ID)
	}
	return out
}

// nonNil keeps ANY($n) from receiving a NULL array
func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

// SaleQueue serves sales to the dispatch worker
type SaleQueue struct {
	queueTable
}

func NewSaleQueue(r *PostgresRepository) *SaleQueue {
	return &SaleQueue{queueTable{repo: r, table: "sales", kind: models.JobSale}}
}

const saleColumns = `id::text, card_id, proposal_id, sale_date::text, COALESCE(travel_start_date::text, ''),
	COALESCE(travel_end_date::text, ''), total_value::float8, idempotency_key::text, status, attempts, max_attempts,
	next_retry_at, attempts_log, error_message, external_sale_id, external_sale_number, external_response,
	created_by, sent_at, created_at`

func scanSale(row pgx.Row) (models.Sale, error) {
	var (
		s        models.Sale
		status   string
		log      []byte
		response []byte
	)
	err := row.Scan(
		&s.ID,
		&s.CardID,
		&s.ProposalID,
		&s.SaleDate,
		&s.TravelStartDate,
		&s.TravelEndDate,
		&s.TotalValue,
		&s.IdempotencyKey,
		&status,
		&s.Attempts,
		&s.MaxAttempts,
		&s.NextRetryAt,
		&log,
		&s.ErrorMessage,
		&s.ExternalSaleID,
		&s.ExternalNumber,
		&response,
		&s.CreatedBy,
		&s.SentAt,
		&s.CreatedAt,
	)
	if err != nil {
		return s, err
	}
	s.Status = models.Status(status)
	s.ExternalResponse = response
	if len(log) > 0 {
		if err := json.Unmarshal(log, &s.AttemptsLog); err != nil {
			return s, fmt.Errorf("decode attempts log: %w", err)
		}
	}
	return s, nil
}

// ClaimDue atomically moves up to limit due sales to processing and loads their bundles.
// Sales whose bundle could not be loaded because of a store error go back to
// pending; only missing data reaches the worker as a job without a bundle.
func (q *SaleQueue) ClaimDue(ctx context.Context, now time.Time, limit int) ([]models.Job, error) {
	claimID := uuid.NewString()
	rows, err := q.repo.pool.Query(ctx, q.claimWhere()+` RETURNING `+saleColumns, now, limit, claimID)
	if err != nil {
		return nil, fmt.Errorf("claim sales: %w", err)
	}
	var sales []models.Sale
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan sale: %w", err)
		}
		sales = append(sales, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.SortFunc(sales, func(a, b models.Sale) int { return a.CreatedAt.Compare(b.CreatedAt) })

	store := q.repo.Store()
	jobs, release, loadErr := assembleSaleJobs(sales, claimID, func(s models.Sale) (*models.SaleBundle, error) {
		return q.bundle(ctx, store, s)
	})
	if len(release) == 0 {
		return jobs, nil
	}

	q.repo.logger.Warn("Releasing sales whose bundle failed to load", "count", len(release), "error", loadErr)
	if err := q.Release(context.WithoutCancel(ctx), claimID, release); err != nil {
		// the janitor returns them to pending once the claim goes stale
		q.repo.logger.Error("Failed to release unloaded sales", "error", err, "count", len(release))
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("load sale bundles: %w", loadErr)
	}
	return jobs, nil
}

// assembleSaleJobs pairs claimed sales with their bundles. A bundle that is
// missing data (ErrNotFound) still yields a job, which fails at build time.
// Any other load error puts the sale id in release.
func assembleSaleJobs(sales []models.Sale, claimID string, load func(models.Sale) (*models.SaleBundle, error)) (jobs []models.Job, release []string, err error) {
	var errs []error
	jobs = make([]models.Job, 0, len(sales))
	for _, s := range sales {
		bundle, loadErr := load(s)
		if loadErr != nil && !errors.Is(loadErr, ErrNotFound) {
			release = append(release, s.ID)
			errs = append(errs, fmt.Errorf("sale %s: %w", s.ID, loadErr))
			continue
		}
		jobs = append(jobs, models.Job{
			ID:             s.ID,
			Kind:           models.JobSale,
			ClaimID:        claimID,
			IdempotencyKey: s.IdempotencyKey,
			Attempts:       s.Attempts,
			MaxAttempts:    s.MaxAttempts,
			Log:            s.AttemptsLog,
			Sale:           bundle,
		})
	}
	return jobs, release, errors.Join(errs...)
}

func (q *SaleQueue) bundle(ctx context.Context, store *Store, s models.Sale) (*models.SaleBundle, error) {
	items, err := store.SaleItems(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	card, err := store.GetCard(ctx, s.CardID)
	if err != nil {
		return nil, fmt.Errorf("load card: %w", err)
	}
	payer, agent, err := store.CardParties(ctx, s.CardID)
	if err != nil {
		return nil, fmt.Errorf("load parties: %w", err)
	}
	s.Items = items
	return &models.SaleBundle{Sale: s, Items: items, Card: card, Payer: payer, Agent: agent}, nil
}

// Finish records the outcome of one attempt
func (q *SaleQueue) Finish(ctx context.Context, job models.Job, t models.Transition) error {
	log, err := json.Marshal(t.Log)
	if err != nil {
		return fmt.Errorf("encode attempts log: %w", err)
	}
	tag, err := q.repo.pool.Exec(ctx, `
		UPDATE sales
		SET status = $2, attempts = $3, next_retry_at = $4, attempts_log = $5, error_message = $6,
		    external_sale_id = COALESCE(NULLIF($7, ''), external_sale_id),
		    external_sale_number = COALESCE(NULLIF($8, ''), external_sale_number),
		    external_response = COALESCE($9, external_response),
		    sent_at = COALESCE($10, sent_at), claim_id = NULL, updated_at = now()
		WHERE id::text = $1 AND status = 'processing' AND claim_id::text = $11
	`, job.ID, string(t.Status), t.Attempts, t.NextRetryAt, log, t.ErrorMessage, t.ExternalRef, t.ExternalNumber,
		nullJSON(t.Response), t.SentAt, job.ClaimID)
	if err != nil {
		return fmt.Errorf("finish sale: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotClaimed
	}
	return nil
}

// List returns sales filtered by status ("" for any), newest first
func (q *SaleQueue) List(ctx context.Context, status models.Status, limit int) ([]models.Sale, error) {
	rows, err := q.repo.pool.Query(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE $1 = '' OR status = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}
	defer rows.Close()

	var out []models.Sale
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sale: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Get loads a sale with its items
func (q *SaleQueue) Get(ctx context.Context, id string) (models.Sale, error) {
	s, err := scanSale(q.repo.pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id::text = $1`, id))
	if err != nil {
		return s, notFound(err)
	}
	s.Items, err = q.repo.Store().SaleItems(ctx, id)
	return s, err
}
