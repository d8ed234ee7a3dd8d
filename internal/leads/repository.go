package leads

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the Postgres directory over the leads and campaign_leads tables.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) GetContact(ctx context.Context, leadID string) (Contact, error) {
	var c Contact
	var email, phone, businessType, source *string
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, email, phone, business_type, source, created_at
		FROM leads
		WHERE id = $1
	`, leadID).Scan(&c.LeadID, &c.Name, &email, &phone, &businessType, &source, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, ErrNotFound
	}
	if err != nil {
		return Contact{}, fmt.Errorf("get lead contact: %w", err)
	}
	c.Email = deref(email)
	c.Phone = deref(phone)
	c.BusinessType = deref(businessType)
	c.Source = deref(source)
	return c, nil
}

func (r *Repository) CountLeadsForCampaign(ctx context.Context, campaignID string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM campaign_leads WHERE campaign_id = $1
	`, campaignID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count campaign leads: %w", err)
	}
	return n, nil
}

func (r *Repository) ListLeadIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM leads ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	return ids, nil
}

func (r *Repository) UpsertContact(ctx context.Context, c Contact) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO leads (id, name, email, phone, business_type, source)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''))
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			business_type = EXCLUDED.business_type,
			source = EXCLUDED.source
	`, c.LeadID, c.Name, c.Email, c.Phone, c.BusinessType, c.Source)
	if err != nil {
		return fmt.Errorf("upsert lead: %w", err)
	}
	return nil
}

func (r *Repository) AddToCampaign(ctx context.Context, campaignID, leadID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO campaign_leads (campaign_id, lead_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, campaignID, leadID)
	if err != nil {
		return fmt.Errorf("add lead to campaign: %w", err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
