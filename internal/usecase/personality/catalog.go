// Package personality holds the built-in agent pairings and the task phrasing
// each pairing uses when prompting a turn.
package personality

import (
	"fmt"
	"sort"
	"strings"
	"text/template"

	"chatsim/internal/domain"
)

// Built-in personality ids.
const (
	SarcasticNetizen = "SARCASTIC_NETIZEN"
	RapBattle        = "RAP_BATTLE"
	ProfessionalTech = "PROFESSIONAL_TECH"
)

// Template is one agent's persona, rendered for a scenario.
type Template struct {
	Role      string
	Goal      string
	Backstory string
}

// Style generates the task text for a pairing.
type Style struct {
	base           *template.Template
	opening        *template.Template
	continuation   *template.Template
	ExpectedOutput string
	MaxSentences   int
}

type taskData struct {
	Scenario     string
	History      string
	MaxSentences int
}

// Task renders the turn task: the base task over the scenario and recent
// history, followed by the opening phrasing on the first turn of a
// conversation and the continuation phrasing otherwise.
func (s Style) Task(scenario string, recent []domain.TurnRecord, isFirstTurn bool) (string, error) {
	data := taskData{Scenario: scenario, History: FormatHistory(recent), MaxSentences: s.MaxSentences}

	phrasing := s.continuation
	if isFirstTurn {
		phrasing = s.opening
	}
	var b strings.Builder
	for _, t := range []*template.Template{s.base, phrasing} {
		if err := t.Execute(&b, data); err != nil {
			return "", fmt.Errorf("render %s task: %w", t.Name(), err)
		}
	}
	return b.String(), nil
}

// FormatHistory renders records as "Agent X: message" lines.
func FormatHistory(recent []domain.TurnRecord) string {
	lines := make([]string, len(recent))
	for i, r := range recent {
		lines[i] = r.String()
	}
	return strings.Join(lines, "\n")
}

// Pair is a resolved personality: both agent personas plus the shared style.
type Pair struct {
	ID    string
	A, B  Template
	Style Style
}

type personaSpec struct {
	role      string
	goal      *template.Template
	backstory *template.Template
}

func (p personaSpec) render(scenario string) (Template, error) {
	data := taskData{Scenario: scenario}
	var goal, backstory strings.Builder
	if err := p.goal.Execute(&goal, data); err != nil {
		return Template{}, fmt.Errorf("render %s goal: %w", p.role, err)
	}
	if err := p.backstory.Execute(&backstory, data); err != nil {
		return Template{}, fmt.Errorf("render %s backstory: %w", p.role, err)
	}
	return Template{Role: p.role, Goal: goal.String(), Backstory: backstory.String()}, nil
}

// Personality is a catalogue entry.
type Personality struct {
	ID          string
	Name        string
	Description string
	a, b        personaSpec
	style       Style
}

// Catalog is the immutable set of personalities.
type Catalog struct {
	byID      map[string]Personality
	defaultID string
}

// NewCatalog builds the built-in catalogue. An empty or unknown defaultID
// falls back to SARCASTIC_NETIZEN.
func NewCatalog(defaultID string) (*Catalog, error) {
	return newCatalog(defaultID, builtins())
}

func newCatalog(defaultID string, entries []Personality) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]Personality, len(entries))}
	for _, p := range entries {
		if err := p.check(); err != nil {
			return nil, fmt.Errorf("personality %s: %w", p.ID, err)
		}
		c.byID[p.ID] = p
	}
	if _, ok := c.byID[defaultID]; !ok {
		defaultID = SarcasticNetizen
	}
	c.defaultID = defaultID
	return c, nil
}

// check renders every template once with sample data.
func (p Personality) check() error {
	const scenario = "a sample scenario"
	for _, spec := range []personaSpec{p.a, p.b} {
		if _, err := spec.render(scenario); err != nil {
			return err
		}
	}
	history := []domain.TurnRecord{{Round: 1, Agent: domain.AgentLabel(0), Message: "hello"}}
	for _, first := range []bool{true, false} {
		if _, err := p.style.Task(scenario, history, first); err != nil {
			return err
		}
	}
	return nil
}

// Resolve returns the pairing for id rendered for scenario. Unknown and
// empty ids resolve to the default personality.
func (c *Catalog) Resolve(id, scenario string) (Pair, error) {
	p, ok := c.byID[id]
	if !ok {
		p = c.byID[c.defaultID]
	}
	a, err := p.a.render(scenario)
	if err != nil {
		return Pair{}, err
	}
	b, err := p.b.render(scenario)
	if err != nil {
		return Pair{}, err
	}
	return Pair{ID: p.ID, A: a, B: b, Style: p.style}, nil
}

// Default returns the default personality id.
func (c *Catalog) Default() string { return c.defaultID }

// List returns the catalogue ids in sorted order.
func (c *Catalog) List() []string {
	ids := make([]string, 0, len(c.byID))
	for id := range c.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Get returns the catalogue entry for id.
func (c *Catalog) Get(id string) (Personality, bool) {
	p, ok := c.byID[id]
	return p, ok
}

// Describe lists the client-facing summary of every entry, sorted by id.
func (c *Catalog) Describe() []domain.PersonalityInfo {
	ids := c.List()
	out := make([]domain.PersonalityInfo, 0, len(ids))
	for _, id := range ids {
		p, _ := c.Get(id)
		out = append(out, domain.PersonalityInfo{ID: p.ID, Name: p.Name, Description: p.Description})
	}
	return out
}

func builtins() []Personality {
	return []Personality{
		sarcasticNetizen(),
		rapBattle(),
		professionalTech(),
	}
}

func tmpl(name, text string) *template.Template {
	return template.Must(template.New(name).Parse(text))
}
