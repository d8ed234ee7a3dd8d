package leads

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryDirectory is an in-process directory for single-node runs and tests.
type MemoryDirectory struct {
	mu        sync.RWMutex
	contacts  map[string]Contact
	campaigns map[string]map[string]struct{}
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		contacts:  make(map[string]Contact),
		campaigns: make(map[string]map[string]struct{}),
	}
}

func (d *MemoryDirectory) GetContact(_ context.Context, leadID string) (Contact, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.contacts[leadID]
	if !ok {
		return Contact{}, ErrNotFound
	}
	return c, nil
}

func (d *MemoryDirectory) CountLeadsForCampaign(_ context.Context, campaignID string) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.campaigns[campaignID]), nil
}

func (d *MemoryDirectory) ListLeadIDs(_ context.Context) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.contacts))
	for id := range d.contacts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (d *MemoryDirectory) UpsertContact(_ context.Context, c Contact) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.contacts[c.LeadID]; ok {
		c.CreatedAt = existing.CreatedAt
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	d.contacts[c.LeadID] = c
	return nil
}

// AddToCampaign records membership. Unlike the Postgres directory it does not
// require the lead to exist.
func (d *MemoryDirectory) AddToCampaign(_ context.Context, campaignID, leadID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	members, ok := d.campaigns[campaignID]
	if !ok {
		members = make(map[string]struct{})
		d.campaigns[campaignID] = members
	}
	members[leadID] = struct{}{}
	return nil
}
