package agent

import (
	"context"
	"strings"

	"github.com/sweetpotato0/policyqa/evidence"
	"github.com/sweetpotato0/policyqa/message"
	"github.com/sweetpotato0/policyqa/prompt"
)

const maxSuggestions = 2

// SuggestFollowUp asks the model for up to two follow-up replies the
// user could pose next, given the conversation so far. Suggestion
// failures are not worth surfacing; any error yields an empty list.
func (l *Loop) SuggestFollowUp(ctx context.Context, policies []string) []string {
	user, err := l.prompts.Render(prompt.SuggestTemplate, map[string]any{
		"policies": "- " + strings.Join(policies, "\n- "),
	})
	if err != nil {
		return nil
	}

	msgs := make([]*message.Message, 0, len(l.history)+1)
	msgs = append(msgs, l.history...)
	msgs = append(msgs, message.NewMessage(message.RoleUser, user))

	result, err := l.client.Chat(ctx, msgs)
	if err != nil {
		l.logger.Warn("follow-up suggestion failed", "error", err)
		return nil
	}

	items, err := evidence.ParseLooseList(result.Text)
	if err != nil {
		return nil
	}
	suggestions := make([]string, 0, maxSuggestions)
	for _, item := range items {
		s, ok := item.(string)
		if !ok || s == "" {
			continue
		}
		suggestions = append(suggestions, s)
		if len(suggestions) == maxSuggestions {
			break
		}
	}
	return suggestions
}
