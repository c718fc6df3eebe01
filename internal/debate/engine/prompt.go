package engine

import (
	"fmt"
	"strings"

	"github.com/boardroomhq/boardroom/internal/completion"
	debatedomain "github.com/boardroomhq/boardroom/internal/debate/domain"
	"github.com/boardroomhq/boardroom/internal/persona"
)

// buildTurnRequest assembles the completion request for one turn: the
// persona's system prompt, the topic, every prior completed turn in
// (round, turn) order, and a round-specific rubric.
func buildTurnRequest(p persona.Persona, state *debatedomain.State, round int) completion.Request {
	msgs := make([]completion.Message, 0, len(state.Messages)+2)
	msgs = append(msgs, completion.Message{
		Role:    "user",
		Content: fmt.Sprintf("The boardroom is debating: %s", state.Topic),
	})

	for _, turn := range state.Messages {
		msgs = append(msgs, completion.Message{
			Role:    "user",
			Name:    turn.Persona.Name,
			Content: fmt.Sprintf("%s (%s): %s", turn.Persona.Name, turn.Persona.Title, turn.Content),
		})
	}

	msgs = append(msgs, completion.Message{
		Role:    "user",
		Content: turnRubric(p, round),
	})

	return completion.Request{
		SystemPrompt: p.SystemPrompt,
		Messages:     msgs,
	}
}

func turnRubric(p persona.Persona, round int) string {
	if round == 1 {
		return fmt.Sprintf(
			"%s, give your opening position on the topic. Speak in first person, stay in character, and keep it under 150 words.",
			p.Name,
		)
	}
	return fmt.Sprintf(
		"%s, this is round %d. Respond to the points raised so far: rebut what you disagree with, concede what you must, and advance your position. Keep it under 150 words.",
		p.Name, round,
	)
}

// keyPoints extracts up to three sentence-leading fragments as talking
// points for the event payload.
func keyPoints(content string) []string {
	var points []string
	for _, sentence := range strings.FieldsFunc(content, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	}) {
		sentence = strings.TrimSpace(sentence)
		if len(sentence) < 20 {
			continue
		}
		points = append(points, sentence)
		if len(points) == 3 {
			break
		}
	}
	return points
}
