package relay

import (
	"mootbot/internal/domain"
)

// buildMessages assembles the model request for one conversation turn:
// the stage's system prompt, the captured case material, the stored
// history for that stage, and finally the current message.
func (l *Loop) buildMessages(user *domain.User, stage domain.State, history []domain.MessageRecord, current string) []domain.Message {
	var messages []domain.Message

	switch stage {
	case domain.StateStageOne:
		messages = append(messages,
			domain.Message{Role: "system", Content: l.prompts.StageOne},
			domain.Message{Role: "user", Content: user.CaseText},
		)
	case domain.StateStageTwo:
		messages = append(messages,
			domain.Message{Role: "system", Content: l.prompts.StageTwo},
			domain.Message{Role: "user", Content: user.CaseText},
			domain.Message{Role: "user", Content: user.IssuesText},
		)
	case domain.StateStageThree:
		messages = append(messages,
			domain.Message{Role: "system", Content: l.prompts.StageThree},
			domain.Message{Role: "user", Content: user.CaseText},
			domain.Message{Role: "user", Content: user.IssuesText},
			domain.Message{Role: "user", Content: user.AspectsText},
		)
	default:
		messages = append(messages, domain.Message{Role: "system", Content: l.prompts.General})
	}

	for _, rec := range history {
		messages = append(messages, domain.Message{Role: rec.Role, Content: rec.Content})
	}

	return append(messages, domain.Message{Role: "user", Content: current})
}
