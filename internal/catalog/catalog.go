// Package catalog loads the seed catalog (message templates, sequences,
// automation rules and directory leads) from YAML and applies it to the
// running services.
package catalog

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"leadflow_backend/internal/automation"
	"leadflow_backend/internal/channel"
	"leadflow_backend/internal/leads"
	"leadflow_backend/internal/sequences"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"

	"gopkg.in/yaml.v3"
)

// File is the YAML document layout.
type File struct {
	Templates []channel.Template            `yaml:"templates"`
	Sequences []sequences.CreateParams      `yaml:"sequences"`
	Rules     []automation.CreateRuleParams `yaml:"rules"`
	Leads     []leads.Contact               `yaml:"leads"`
	// Campaigns maps a campaign id to its member lead ids.
	Campaigns map[string][]string `yaml:"campaigns"`
}

// Load decodes a catalog document. An empty document is valid.
func Load(r io.Reader) (File, error) {
	var f File
	if err := yaml.NewDecoder(r).Decode(&f); err != nil && err != io.EOF {
		return File{}, fmt.Errorf("decode catalog: %w", err)
	}
	return f, nil
}

// LoadFile reads a catalog from path.
func LoadFile(path string) (File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return File{}, fmt.Errorf("open catalog: %w", err)
	}
	defer fh.Close()
	return Load(fh)
}

// SequenceStore is the slice of the sequence manager seeding needs.
type SequenceStore interface {
	GetSequence(ctx context.Context, id string) (sequences.Sequence, error)
	CreateSequence(ctx context.Context, p sequences.CreateParams) (sequences.Sequence, error)
}

// RuleStore is the slice of the automation engine seeding needs.
type RuleStore interface {
	GetRule(ctx context.Context, id string) (automation.Rule, error)
	CreateRule(ctx context.Context, p automation.CreateRuleParams) (automation.Rule, error)
}

// Targets receive the catalog entries. Nil targets are skipped.
type Targets struct {
	Templates *channel.TemplateSet
	Sequences SequenceStore
	Rules     RuleStore
	Leads     leads.Writer
}

// Result counts what Apply created. Entries whose id already exists are skipped.
type Result struct {
	Templates int `json:"templates"`
	Sequences int `json:"sequences"`
	Rules     int `json:"rules"`
	Leads     int `json:"leads"`
	Skipped   int `json:"skipped"`
}

// Apply seeds the targets from f. It stops at the first invalid entry, so
// running it again after a fix picks up where it left off.
func Apply(ctx context.Context, f File, t Targets, log *logger.Logger) (Result, error) {
	var res Result

	if t.Templates != nil {
		for _, tpl := range f.Templates {
			if err := t.Templates.Add(tpl); err != nil {
				return res, fmt.Errorf("template %q: %w", tpl.ID, err)
			}
			res.Templates++
		}
	}

	if t.Leads != nil {
		for _, c := range f.Leads {
			if err := t.Leads.UpsertContact(ctx, c); err != nil {
				return res, fmt.Errorf("lead %q: %w", c.LeadID, err)
			}
			res.Leads++
		}
		campaigns := make([]string, 0, len(f.Campaigns))
		for id := range f.Campaigns {
			campaigns = append(campaigns, id)
		}
		sort.Strings(campaigns)
		for _, campaignID := range campaigns {
			for _, leadID := range f.Campaigns[campaignID] {
				if err := t.Leads.AddToCampaign(ctx, campaignID, leadID); err != nil {
					return res, fmt.Errorf("campaign %q lead %q: %w", campaignID, leadID, err)
				}
			}
		}
	}

	if t.Sequences != nil {
		for _, p := range f.Sequences {
			exists, err := exists(p.ID, func() error {
				_, err := t.Sequences.GetSequence(ctx, p.ID)
				return err
			})
			if err != nil {
				return res, err
			}
			if exists {
				res.Skipped++
				continue
			}
			if _, err := t.Sequences.CreateSequence(ctx, p); err != nil {
				return res, fmt.Errorf("sequence %q: %w", p.Name, err)
			}
			res.Sequences++
		}
	}

	if t.Rules != nil {
		for _, p := range f.Rules {
			exists, err := exists(p.ID, func() error {
				_, err := t.Rules.GetRule(ctx, p.ID)
				return err
			})
			if err != nil {
				return res, err
			}
			if exists {
				res.Skipped++
				continue
			}
			if _, err := t.Rules.CreateRule(ctx, p); err != nil {
				return res, fmt.Errorf("rule %q: %w", p.Name, err)
			}
			res.Rules++
		}
	}

	log.Info("catalog applied", "templates", res.Templates, "sequences", res.Sequences,
		"rules", res.Rules, "leads", res.Leads, "skipped", res.Skipped)
	return res, nil
}

func exists(id string, get func() error) (bool, error) {
	if id == "" {
		return false, nil
	}
	err := get()
	switch {
	case err == nil:
		return true, nil
	case apperr.Is(err, apperr.KindNotFound):
		return false, nil
	default:
		return false, err
	}
}
