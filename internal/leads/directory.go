// Package leads is the lead directory the engine reads contact details and
// campaign membership from. Lead records are owned by the directory, never
// created by the engine services.
package leads

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("lead not found")

// Contact is the directory view of a lead.
type Contact struct {
	LeadID       string    `json:"leadId" yaml:"id"`
	Name         string    `json:"name" yaml:"name"`
	Email        string    `json:"email,omitempty" yaml:"email"`
	Phone        string    `json:"phone,omitempty" yaml:"phone"`
	BusinessType string    `json:"businessType,omitempty" yaml:"businessType"`
	Source       string    `json:"source,omitempty" yaml:"source"`
	CreatedAt    time.Time `json:"createdAt" yaml:"-"`
}

// Directory is the read side used by the engine.
type Directory interface {
	GetContact(ctx context.Context, leadID string) (Contact, error)
	CountLeadsForCampaign(ctx context.Context, campaignID string) (int, error)
	ListLeadIDs(ctx context.Context) ([]string, error)
}

// Writer seeds the directory from the operator CLI and tests.
type Writer interface {
	UpsertContact(ctx context.Context, c Contact) error
	AddToCampaign(ctx context.Context, campaignID, leadID string) error
}

// Registry is a directory that can also be written.
type Registry interface {
	Directory
	Writer
}
