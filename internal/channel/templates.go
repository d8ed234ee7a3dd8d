package channel

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Template is one catalog entry. Subject is ignored for SMS.
type Template struct {
	ID      string `yaml:"id" json:"id"`
	Channel Kind   `yaml:"channel" json:"channel"`
	Subject string `yaml:"subject" json:"subject"`
	Body    string `yaml:"body" json:"body"`
}

type compiled struct {
	channel Kind
	subject *template.Template
	body    *template.Template
}

// TemplateSet renders catalog templates with text/template.
type TemplateSet struct {
	mu        sync.RWMutex
	templates map[string]compiled
}

func NewTemplateSet() *TemplateSet {
	return &TemplateSet{templates: make(map[string]compiled)}
}

// LoadTemplates parses a YAML document of the form `templates: [...]`.
func LoadTemplates(r io.Reader) (*TemplateSet, error) {
	var doc struct {
		Templates []Template `yaml:"templates"`
	}
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode templates: %w", err)
	}
	set := NewTemplateSet()
	for _, t := range doc.Templates {
		if err := set.Add(t); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// Add compiles t and replaces any template with the same id.
func (s *TemplateSet) Add(t Template) error {
	id := strings.TrimSpace(t.ID)
	if id == "" {
		return fmt.Errorf("template id is required")
	}
	if !t.Channel.Valid() {
		return fmt.Errorf("template %s: unknown channel %q", id, t.Channel)
	}
	subject, err := template.New(id + ".subject").Option("missingkey=zero").Parse(t.Subject)
	if err != nil {
		return fmt.Errorf("template %s subject: %w", id, err)
	}
	body, err := template.New(id + ".body").Option("missingkey=zero").Parse(t.Body)
	if err != nil {
		return fmt.Errorf("template %s body: %w", id, err)
	}
	s.mu.Lock()
	s.templates[id] = compiled{channel: t.Channel, subject: subject, body: body}
	s.mu.Unlock()
	return nil
}

// Has reports whether id is in the set.
func (s *TemplateSet) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.templates[id]
	return ok
}

// Render executes template id against data.
func (s *TemplateSet) Render(id string, data map[string]any) (subject, body string, err error) {
	s.mu.RLock()
	tpl, ok := s.templates[id]
	s.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownTemplate, id)
	}
	var sb, bb bytes.Buffer
	if err := tpl.subject.Execute(&sb, data); err != nil {
		return "", "", fmt.Errorf("render %s subject: %w", id, err)
	}
	if err := tpl.body.Execute(&bb, data); err != nil {
		return "", "", fmt.Errorf("render %s body: %w", id, err)
	}
	return strings.TrimSpace(sb.String()), strings.TrimSpace(bb.String()), nil
}
