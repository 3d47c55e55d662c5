package services

import (
	"fmt"
	"strings"

	"leadflow/internal/models"
)

// FarewellMarker is the phrase the assistant appends when it closes a chat.
const FarewellMarker = "Chat finalizado."

// PromptInput is everything the system prompt depends on.
type PromptInput struct {
	Language       string
	Knowledge      *models.Knowledge
	Categories     []models.TicketCategory
	IsFirstMessage bool
}

// BuildSystemPrompt renders the system prompt. Equal inputs always produce
// the same text.
func BuildSystemPrompt(in PromptInput) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Reply in language ISO code = %s; honor mid-conversation switches: if the user asks to change language, switch and keep replying in the new one.\n", userLanguage(in.Language))

	name := ""
	if in.Knowledge != nil {
		name = in.Knowledge.CompanyName
	}
	fmt.Fprintf(&b, "You are the virtual assistant of %s.\n", name)

	if in.Knowledge != nil {
		for _, s := range in.Knowledge.Sections {
			fmt.Fprintf(&b, "\n### %s ###\n%s\n", strings.TrimSpace(s.Title), strings.TrimSpace(s.Content))
		}
	}

	b.WriteString("\nAvailable categories:\n")
	if len(in.Categories) == 0 {
		b.WriteString("No categories available.\n")
	}
	for _, c := range in.Categories {
		if c.Description != "" {
			fmt.Fprintf(&b, "- %s: %s\n", c.Name, c.Description)
		} else {
			fmt.Fprintf(&b, "- %s\n", c.Name)
		}
	}

	b.WriteString("\nRules:\n")
	fmt.Fprintf(&b, "a) On the first message of a conversation, greet the user, introduce yourself as the assistant of %s and list the available categories (say there are none when the list is empty).\n", name)
	b.WriteString("b) Be concise.\n")
	b.WriteString("c) When the user wants to be contacted, collect their name, preferred contact channel and query, then ask whether they want to continue or close the chat.\n")
	fmt.Fprintf(&b, "d) When the user says goodbye, end your reply with \"%s\"\n", FarewellMarker)
	b.WriteString("e) Use emoji sparingly.\n")

	if in.IsFirstMessage {
		b.WriteString("\nThis is the first message of the conversation.\n")
	}
	return b.String()
}
