package research

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

const (
	DefaultMaxIterations       = 5
	DefaultQueriesPerIteration = 4
)

// ErrNoQuestion is returned when a request carries no user text to research.
var ErrNoQuestion = errors.New("no user question in request")

// Part is one segment of a chat message. Only text parts carry the question.
type Part struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type Message struct {
	ID    string `json:"id,omitempty"`
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// ExtractUserQuery returns the text of the last user message, with its text
// parts joined by a single space.
func ExtractUserQuery(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != "user" {
			continue
		}
		var texts []string
		for _, p := range messages[i].Parts {
			if p.Type == "text" {
				texts = append(texts, p.Text)
			}
		}
		return strings.Join(texts, " ")
	}
	return ""
}

// Request is the immutable input of one research run.
type Request struct {
	Question           string
	LanguagePreference string
}

// NewRequest builds a Request from a chat history.
func NewRequest(messages []Message, languagePreference string) (Request, error) {
	question := ExtractUserQuery(messages)
	if strings.TrimSpace(question) == "" {
		return Request{}, ErrNoQuestion
	}
	return Request{Question: question, LanguagePreference: languagePreference}, nil
}

type PlannedQuery struct {
	Query   string `json:"query"`
	Purpose string `json:"purpose"`
}

// QueryPlan is the orchestrator's output for one iteration.
type QueryPlan struct {
	Reasoning           string         `json:"reasoning"`
	ExpectedInformation []string       `json:"expectedInformation"`
	Queries             []PlannedQuery `json:"queries"`
	IsComplete          bool           `json:"isComplete"`
	CompletionRationale string         `json:"completionRationale,omitempty"`

	maxQueries int
}

// Validate enforces the per-iteration query cap for providers that do not
// apply the schema's maxItems themselves.
func (p QueryPlan) Validate() error {
	if p.maxQueries > 0 && len(p.Queries) > p.maxQueries {
		return fmt.Errorf("plan has %d queries, at most %d allowed", len(p.Queries), p.maxQueries)
	}
	return nil
}

// SearchResult is the attributed text gathered for one planned query.
type SearchResult struct {
	Query   string
	Text    string
	Sources []Source
}

type Finding struct {
	Fact           string `json:"fact"`
	Source         string `json:"source"`
	RelevanceScore int    `json:"relevanceScore"`
}

// AggregatedResult is one iteration's knowledge increment.
type AggregatedResult struct {
	KeyFindings []Finding `json:"keyFindings"`
	Summary     string    `json:"summary"`
	Gaps        []string  `json:"gaps"`
}

func (a AggregatedResult) Validate() error {
	for i, f := range a.KeyFindings {
		if f.RelevanceScore < 1 || f.RelevanceScore > 10 {
			return fmt.Errorf("finding %d has relevance %d, want 1-10", i, f.RelevanceScore)
		}
	}
	return nil
}

func (a AggregatedResult) clone() AggregatedResult {
	a.KeyFindings = slices.Clone(a.KeyFindings)
	a.Gaps = slices.Clone(a.Gaps)
	return a
}

type Source struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

type Phase string

const (
	PhasePlanning     Phase = "planning"
	PhaseSearching    Phase = "searching"
	PhaseAggregating  Phase = "aggregating"
	PhaseSynthesizing Phase = "synthesizing"
	PhaseDone         Phase = "done"
)

// State is owned by a single Engine.Run call. Iteration is the zero-based
// index of the current planning round.
type State struct {
	Question      string             `json:"question"`
	Iteration     int                `json:"iteration"`
	MaxIterations int                `json:"maxIterations"`
	Phase         Phase              `json:"phase"`
	Plan          *QueryPlan         `json:"plan,omitempty"`
	Knowledge     []AggregatedResult `json:"knowledge"`
	Sources       []Source           `json:"sources"`
}

// Snapshot returns a deep copy safe to hand to observers.
func (s State) Snapshot() State {
	out := s
	if s.Plan != nil {
		plan := *s.Plan
		plan.ExpectedInformation = slices.Clone(plan.ExpectedInformation)
		plan.Queries = slices.Clone(plan.Queries)
		out.Plan = &plan
	}
	out.Knowledge = make([]AggregatedResult, len(s.Knowledge))
	for i, k := range s.Knowledge {
		out.Knowledge[i] = k.clone()
	}
	out.Sources = slices.Clone(s.Sources)
	return out
}

// addSources records typed tool sources first, then findings whose source
// looks like a URL. Duplicate URLs keep their first title.
func (s *State) addSources(results []SearchResult, agg AggregatedResult) {
	seen := make(map[string]bool, len(s.Sources))
	for _, src := range s.Sources {
		seen[src.URL] = true
	}
	add := func(src Source) {
		if src.URL == "" || seen[src.URL] {
			return
		}
		seen[src.URL] = true
		s.Sources = append(s.Sources, src)
	}

	for _, r := range results {
		for _, src := range r.Sources {
			add(src)
		}
	}
	for _, f := range agg.KeyFindings {
		if strings.HasPrefix(f.Source, "http") {
			add(Source{URL: f.Source, Title: truncateRunes(f.Fact, 50)})
		}
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
