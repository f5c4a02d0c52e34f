package conversation

import (
	"strings"

	"github.com/vango-go/vai-converse/pkg/core"
	"github.com/vango-go/vai-converse/pkg/core/types"
)

const basePrompt = "You are a helpful AI assistant engaging in conversation with a user."

// SystemPrompt personalises the base prompt with the user's analysed profile.
func SystemPrompt(u *types.User) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	if !u.HasProfile() {
		return b.String()
	}
	b.WriteString(" The user's conversation style is ")
	b.WriteString(string(u.Profile.Complexity))
	b.WriteString(" level, and they typically discuss topics like: ")
	b.WriteString(strings.Join(u.Profile.Topics, ", "))
	b.WriteString(".")
	if len(u.Suggestions) > 0 {
		b.WriteString(" Based on their conversation history, consider these coaching suggestions: ")
		b.WriteString(strings.Join(u.Suggestions, "; "))
		b.WriteString(".")
	}
	return b.String()
}

func (s *Service) completionRequest(sess *types.Session, u *types.User, text string) *core.CompletionRequest {
	return &core.CompletionRequest{
		System:      SystemPrompt(u),
		History:     sess.Recent(s.opts.ContextMessages),
		UserText:    text,
		MaxTokens:   s.opts.MaxTokens,
		Temperature: s.opts.Temperature,
	}
}
