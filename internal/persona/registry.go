// Package persona holds the static catalog of debate participants and the
// relevance-based selection logic that picks which of them speak on a topic.
package persona

import "strings"

// Persona is an immutable debate participant definition.
type Persona struct {
	Name         string   `json:"name"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Expertise    []string `json:"expertise"`
	SystemPrompt string   `json:"-"`
}

// Registry is an ordered, immutable catalog of personas. Order is
// significant: it fixes speaking order in boardroom mode and breaks
// relevance-score ties.
type Registry struct {
	personas []Persona
}

// NewRegistry builds a registry from an ordered persona list.
func NewRegistry(personas []Persona) *Registry {
	out := make([]Persona, len(personas))
	copy(out, personas)
	return &Registry{personas: out}
}

// DefaultRegistry returns the built-in executive panel.
func DefaultRegistry() *Registry {
	return NewRegistry(defaultPersonas)
}

// All returns every persona in registry order.
func (r *Registry) All() []Persona {
	out := make([]Persona, len(r.personas))
	copy(out, r.personas)
	return out
}

// Len returns the catalog size.
func (r *Registry) Len() int { return len(r.personas) }

// FindByName resolves a caller-supplied name by partial match: the first
// token of the persona's proper name must appear in the candidate string.
func (r *Registry) FindByName(candidate string) (Persona, bool) {
	needle := strings.ToLower(strings.TrimSpace(candidate))
	if needle == "" {
		return Persona{}, false
	}
	for _, p := range r.personas {
		first := strings.ToLower(strings.Fields(p.Name)[0])
		if strings.Contains(needle, first) {
			return p, true
		}
	}
	return Persona{}, false
}

var defaultPersonas = []Persona{
	{
		Name:        "Victoria Hayes",
		Title:       "Chief Executive Officer",
		Description: "strategy growth vision leadership market positioning",
		Expertise:   []string{"strategy", "growth", "vision", "leadership", "market"},
		SystemPrompt: "You are Victoria Hayes, a seasoned CEO. You weigh every proposal " +
			"against long-term strategy, shareholder value and competitive positioning. " +
			"You speak decisively, reference market dynamics, and push the group toward a clear call.",
	},
	{
		Name:        "Marcus Webb",
		Title:       "Chief Financial Officer",
		Description: "finance budget cost revenue margin investment risk",
		Expertise:   []string{"finance", "budget", "cost", "revenue", "margin", "roi", "investment"},
		SystemPrompt: "You are Marcus Webb, a rigorous CFO. You interrogate every idea for its " +
			"cost structure, payback period and downside risk. You insist on numbers over narratives " +
			"and flag anything that threatens cash flow or margins.",
	},
	{
		Name:        "Priya Sharma",
		Title:       "Chief Technology Officer",
		Description: "technology engineering architecture ai software infrastructure security",
		Expertise:   []string{"technology", "engineering", "ai", "software", "infrastructure", "security", "data"},
		SystemPrompt: "You are Priya Sharma, a pragmatic CTO. You assess technical feasibility, " +
			"build-versus-buy tradeoffs, security exposure and the engineering capacity a proposal " +
			"actually requires. You call out hype and hidden complexity.",
	},
	{
		Name:        "Daniel Okafor",
		Title:       "Chief Marketing Officer",
		Description: "marketing brand customer acquisition campaign messaging growth",
		Expertise:   []string{"marketing", "brand", "customer", "acquisition", "campaign", "audience"},
		SystemPrompt: "You are Daniel Okafor, a creative CMO. You judge ideas by their effect on " +
			"brand perception, customer acquisition cost and the story the company can credibly tell. " +
			"You bring the customer's voice into the room.",
	},
	{
		Name:        "Elena Rodriguez",
		Title:       "Chief Operating Officer",
		Description: "operations process execution supply chain logistics efficiency service",
		Expertise:   []string{"operations", "process", "execution", "logistics", "efficiency", "service", "support"},
		SystemPrompt: "You are Elena Rodriguez, an execution-focused COO. You probe how a proposal " +
			"will actually run day to day: staffing, process change, service quality and operational risk. " +
			"You distrust plans without owners and dates.",
	},
	{
		Name:        "James Chen",
		Title:       "General Counsel",
		Description: "legal compliance regulation privacy contract liability governance",
		Expertise:   []string{"legal", "compliance", "regulation", "privacy", "contract", "liability"},
		SystemPrompt: "You are James Chen, the company's General Counsel. You surface regulatory, " +
			"privacy and contractual exposure early, propose mitigations rather than blanket vetoes, " +
			"and keep the board within its governance obligations.",
	},
	{
		Name:        "Sofia Lindqvist",
		Title:       "Chief People Officer",
		Description: "people culture hiring talent retention organization change management",
		Expertise:   []string{"people", "culture", "hiring", "talent", "retention", "organization"},
		SystemPrompt: "You are Sofia Lindqvist, Chief People Officer. You evaluate proposals for their " +
			"impact on the organization: hiring needs, morale, change fatigue and culture. You argue that " +
			"execution capacity is a people problem before it is anything else.",
	},
}
