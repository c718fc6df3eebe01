package persona

import (
	"sort"
	"strings"
)

// Mode determines how many personas join a debate and how they are chosen.
type Mode string

const (
	ModeBoardroom    Mode = "boardroom"
	ModeExpertPanel  Mode = "expert-panel"
	ModeQuickConsult Mode = "quick-consult"
	ModeCustom       Mode = "custom"
)

// ValidMode reports whether m names a known debate mode.
func ValidMode(m Mode) bool {
	switch m {
	case ModeBoardroom, ModeExpertPanel, ModeQuickConsult, ModeCustom:
		return true
	}
	return false
}

// Selector chooses debate participants for a topic.
type Selector struct {
	registry *Registry
}

// NewSelector builds a Selector over the given registry.
func NewSelector(registry *Registry) *Selector {
	return &Selector{registry: registry}
}

// SelectPersonas resolves the participant list for a topic and mode.
// For custom mode the caller-supplied names are matched against the
// registry; unmatched names are dropped silently. A zero-relevance result
// is valid: the requested count is still taken from score-descending
// (registry-stable) order.
func (s *Selector) SelectPersonas(topic string, mode Mode, custom []string) []Persona {
	switch mode {
	case ModeBoardroom:
		return s.registry.All()
	case ModeQuickConsult:
		return s.topByRelevance(topic, 1)
	case ModeExpertPanel:
		return s.topByRelevance(topic, 3)
	case ModeCustom:
		return s.resolveCustom(custom)
	default:
		return s.registry.All()
	}
}

func (s *Selector) topByRelevance(topic string, n int) []Persona {
	all := s.registry.All()
	type scored struct {
		persona Persona
		score   int
		index   int
	}
	ranked := make([]scored, 0, len(all))
	for i, p := range all {
		ranked = append(ranked, scored{persona: p, score: Relevance(p, topic), index: i})
	}
	// Stable sort keeps registry order on ties.
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	if n > len(ranked) {
		n = len(ranked)
	}
	out := make([]Persona, 0, n)
	for _, r := range ranked[:n] {
		out = append(out, r.persona)
	}
	return out
}

func (s *Selector) resolveCustom(names []string) []Persona {
	out := make([]Persona, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		p, ok := s.registry.FindByName(name)
		if !ok || seen[p.Name] {
			continue
		}
		seen[p.Name] = true
		out = append(out, p)
	}
	return out
}

// Relevance scores a persona against a topic: two points per expertise term
// found as a case-insensitive substring of the topic, plus one point if any
// single word of the persona description appears in the topic.
func Relevance(p Persona, topic string) int {
	lowered := strings.ToLower(topic)
	score := 0
	for _, term := range p.Expertise {
		if term != "" && strings.Contains(lowered, strings.ToLower(term)) {
			score += 2
		}
	}
	for _, word := range strings.Fields(strings.ToLower(p.Description)) {
		if strings.Contains(lowered, word) {
			score++
			break
		}
	}
	return score
}
