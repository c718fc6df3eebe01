package engine

import "strings"

// ConfidenceScorer assigns a 70-100 confidence score to a contribution.
type ConfidenceScorer interface {
	Score(content string) int
}

// hedging words that pull a contribution's confidence down.
var hedgeWords = []string{
	"maybe", "perhaps", "possibly", "might", "could be",
	"not sure", "uncertain", "i think", "it depends", "unclear",
}

type lexicalScorer struct{}

// NewLexicalScorer scores deterministically: longer, more developed
// contributions score higher, hedging language scores lower. The result is
// always within [70, 100].
func NewLexicalScorer() ConfidenceScorer {
	return lexicalScorer{}
}

func (lexicalScorer) Score(content string) int {
	lowered := strings.ToLower(content)

	score := 70
	// Developed arguments earn up to 30 points, one per 25 characters.
	bonus := len(content) / 25
	if bonus > 30 {
		bonus = 30
	}
	score += bonus

	for _, hedge := range hedgeWords {
		if strings.Contains(lowered, hedge) {
			score -= 5
		}
	}

	if score < 70 {
		score = 70
	}
	if score > 100 {
		score = 100
	}
	return score
}
