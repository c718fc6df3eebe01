package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/boardroomhq/boardroom/internal/completion"
	debatedomain "github.com/boardroomhq/boardroom/internal/debate/domain"
)

// Summarizer synthesizes a finished debate. A provider failure yields a
// degraded empty summary, never an error surfaced to the stream.
type Summarizer struct {
	provider completion.Provider
	model    string
}

func NewSummarizer(provider completion.Provider, model string) *Summarizer {
	return &Summarizer{provider: provider, model: model}
}

const summarySystemPrompt = "You are an executive assistant condensing a boardroom debate. " +
	"Answer with exactly these five sections, each on its own lines:\n" +
	"SUMMARY:\nCONSENSUS:\nDISAGREEMENTS:\nRECOMMENDATIONS:\nNEXT STEPS:\n" +
	"Under every section except SUMMARY, write one bullet per line starting with '- '."

// Summarize is a pure function of the final debate state.
func (s *Summarizer) Summarize(ctx context.Context, state debatedomain.State) debatedomain.Summary {
	if len(state.Messages) == 0 {
		return debatedomain.Summary{}
	}

	var transcript strings.Builder
	fmt.Fprintf(&transcript, "Topic: %s\n\n", state.Topic)
	for _, turn := range state.Messages {
		fmt.Fprintf(&transcript, "[round %d] %s (%s): %s\n", turn.Round, turn.Persona.Name, turn.Persona.Title, turn.Content)
	}

	resp, err := s.provider.Complete(ctx, completion.Request{
		SystemPrompt: summarySystemPrompt,
		Messages: []completion.Message{
			{Role: "user", Content: transcript.String()},
		},
		Model: s.model,
	})
	if err != nil {
		return debatedomain.Summary{}
	}

	return parseSummary(resp.Content)
}

// parseSummary splits the model output on the section headers. Unrecognized
// text before the first header is folded into the summary.
func parseSummary(content string) debatedomain.Summary {
	out := debatedomain.Summary{}

	section := "SUMMARY"
	var summaryLines []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		upper := strings.ToUpper(trimmed)
		switch {
		case strings.HasPrefix(upper, "SUMMARY:"):
			section = "SUMMARY"
			if rest := strings.TrimSpace(trimmed[len("SUMMARY:"):]); rest != "" {
				summaryLines = append(summaryLines, rest)
			}
			continue
		case strings.HasPrefix(upper, "CONSENSUS:"):
			section = "CONSENSUS"
			continue
		case strings.HasPrefix(upper, "DISAGREEMENTS:"):
			section = "DISAGREEMENTS"
			continue
		case strings.HasPrefix(upper, "RECOMMENDATIONS:"):
			section = "RECOMMENDATIONS"
			continue
		case strings.HasPrefix(upper, "NEXT STEPS:"):
			section = "NEXT_STEPS"
			continue
		}

		bullet := strings.TrimSpace(strings.TrimPrefix(trimmed, "- "))
		switch section {
		case "SUMMARY":
			summaryLines = append(summaryLines, trimmed)
		case "CONSENSUS":
			out.KeyConsensusPoints = append(out.KeyConsensusPoints, bullet)
		case "DISAGREEMENTS":
			out.MajorDisagreements = append(out.MajorDisagreements, bullet)
		case "RECOMMENDATIONS":
			out.Recommendations = append(out.Recommendations, bullet)
		case "NEXT_STEPS":
			out.NextSteps = append(out.NextSteps, bullet)
		}
	}
	out.Summary = strings.Join(summaryLines, " ")
	return out
}
