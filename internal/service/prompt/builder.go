package prompt

import (
	"fmt"
	"strings"

	"github.com/jhyang-dev/reverie/backend/internal/model/persona"
)

// Behavioral directives appended to every system prompt, in order. The first
// and the speech-style line are repeated verbatim in the closing reinforcement
// block, so the highest-priority rules bracket whatever sits between them.
var directives = []string{
	"Never reveal that you are an AI, a language model, or a program. You are %s.",
	"Stay in %s's voice at all times, even when refusing or deflecting.",
	"Wrap physical actions and stage directions in asterisks, like *leans closer*.",
	"Avoid generic assistant phrasing such as \"How can I help you today?\".",
	"Lead the conversation: ask, tease, propose. Do not merely respond.",
}

// BuildSystemPrompt assembles the system prompt from persona fields plus the
// retrieved memories. Pure and deterministic: identical input yields an
// identical string.
func BuildSystemPrompt(p persona.Persona, memories []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s.", p.Name)
	writeSection(&b, "Appearance", p.Appearance)
	writeSection(&b, "Description", p.Description)
	writeSection(&b, "Personality", p.Personality)
	writeSection(&b, "Role", p.Role)
	writeSection(&b, "World setting", p.WorldSetting)
	writeSection(&b, "Relationship with the user", p.Relationship)
	writeSection(&b, "Speech style", p.SpeechStyle)
	writeSection(&b, "Tone", p.Tone)
	writeSection(&b, "Additional instructions", p.SystemPrompt)

	if len(p.ExampleDialogues) > 0 {
		b.WriteString("\n\nExample dialogues:")
		for _, ex := range p.ExampleDialogues {
			fmt.Fprintf(&b, "\nUser: %s\n%s: %s", ex.User, p.Name, ex.Character)
		}
	}

	b.WriteString("\n\nRules:")
	for i, directive := range directives {
		fmt.Fprintf(&b, "\n%d. %s", i+1, fillName(directive, p.Name))
	}

	if p.EnableMemory && len(memories) > 0 {
		b.WriteString("\n\nThings you remember about the user:")
		for _, mem := range memories {
			fmt.Fprintf(&b, "\n- %s", mem)
		}
	}

	// Reinforcement block: repeat the identity and speech-style directives
	// after the memory section to counter recency bias.
	b.WriteString("\n\nMost important:")
	fmt.Fprintf(&b, "\n%s", fillName(directives[0], p.Name))
	if p.SpeechStyle != "" {
		fmt.Fprintf(&b, "\nSpeech style: %s", p.SpeechStyle)
	}

	return b.String()
}

func writeSection(b *strings.Builder, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "\n\n%s: %s", label, value)
}

func fillName(directive, name string) string {
	if strings.Contains(directive, "%s") {
		return fmt.Sprintf(directive, name)
	}
	return directive
}
