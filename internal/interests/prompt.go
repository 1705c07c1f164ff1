package interests

import (
	"fmt"
	"strings"

	"github.com/kalambet/emobot/internal/engine"
	"github.com/kalambet/emobot/internal/profile"
)

const systemPrompt = `You analyze chat messages written by one community member and extract the member's interests. Only include interests that are clearly expressed or demonstrated. Your output must be ONLY a single valid JSON object with the keys "games", "artists" and "interests", each an array of strings. Do not include any other text, prose, or markdown.

Categories:
- games: video games, board games, mobile games
- artists: musicians, bands, singers (not fictional characters)
- interests: hobbies, activities, topics they are passionate about

Rules:
- Only extract NEW interests not already in the existing profile.
- Be conservative: include clear interests, not casual mentions.
- Focus on things the member actively enjoys or engages with.
- Exclude temporary topics and complaints.
- At most 3 new items per category. Use an empty array when nothing qualifies.`

// BuildPrompt constructs the chat messages for interest extraction from the
// most recent fragments and a summary of the existing profile.
func BuildPrompt(fragments []string, existing *profile.Profile) []engine.Message {
	if len(fragments) > MaxFragments {
		fragments = fragments[len(fragments)-MaxFragments:]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[Existing profile]\n%s\n\n[Messages]\n", profile.Summary(existing))
	for _, f := range fragments {
		sb.WriteString(strings.TrimSpace(f))
		sb.WriteByte('\n')
	}

	return []engine.Message{
		{Role: engine.RoleSystem, Content: systemPrompt},
		{Role: engine.RoleUser, Content: strings.TrimRight(sb.String(), "\n")},
	}
}

func interestSchema() *engine.Schema {
	list := func(desc string) engine.SchemaProperty {
		return engine.SchemaProperty{
			Type:        "array",
			Description: desc,
			Items:       &engine.SchemaProperty{Type: "string"},
		}
	}
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"games":     list("Games the member plays or enjoys"),
			"artists":   list("Musicians, bands or singers the member enjoys"),
			"interests": list("Hobbies, activities or topics the member is passionate about"),
		},
		Required: []string{"games", "artists", "interests"},
	}
}
