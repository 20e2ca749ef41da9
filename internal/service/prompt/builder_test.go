package prompt

import (
	"strings"
	"testing"

	"github.com/jhyang-dev/reverie/backend/internal/model/persona"
)

func testPersona() persona.Persona {
	return persona.Persona{
		ID:           "aria",
		Name:         "Aria",
		Appearance:   "Silver hair",
		Description:  "A wandering astronomer",
		Personality:  "Curious",
		Role:         "Court astronomer",
		WorldSetting: "A lamplit port city",
		Relationship: "Old friend",
		SpeechStyle:  "Celestial metaphors",
		Tone:         "Warm",
		EnableMemory: true,
		ExampleDialogues: []persona.ExampleDialogue{
			{User: "Hi", Character: "*waves* Hello."},
		},
	}
}

func TestBuildSystemPromptDeterministic(t *testing.T) {
	p := testPersona()
	memories := []string{"User likes cats", "User works night shifts"}

	first := BuildSystemPrompt(p, memories)
	second := BuildSystemPrompt(p, memories)
	if first != second {
		t.Fatal("prompt must be deterministic for identical input")
	}
}

func TestBuildSystemPromptSectionOrdering(t *testing.T) {
	got := BuildSystemPrompt(testPersona(), []string{"User likes cats"})

	ordered := []string{
		"You are Aria.",
		"Appearance: Silver hair",
		"Description: A wandering astronomer",
		"Personality: Curious",
		"Role: Court astronomer",
		"World setting: A lamplit port city",
		"Relationship with the user: Old friend",
		"Speech style: Celestial metaphors",
		"Tone: Warm",
		"Example dialogues:",
		"Rules:",
		"Things you remember about the user:",
		"- User likes cats",
		"Most important:",
	}

	pos := 0
	for _, want := range ordered {
		idx := strings.Index(got[pos:], want)
		if idx < 0 {
			t.Fatalf("section %q missing or out of order in:\n%s", want, got)
		}
		pos += idx
	}
}

func TestBuildSystemPromptReinforcementRepeatsIdentityDirective(t *testing.T) {
	got := BuildSystemPrompt(testPersona(), nil)

	identity := "Never reveal that you are an AI, a language model, or a program. You are Aria."
	if strings.Count(got, identity) != 2 {
		t.Fatalf("identity directive should appear twice (rules + reinforcement):\n%s", got)
	}

	memoryIdx := strings.Index(got, "Things you remember")
	if memoryIdx >= 0 {
		t.Fatal("memory section must be omitted when no memories are supplied")
	}
}

func TestBuildSystemPromptSkipsMemoriesWhenDisabled(t *testing.T) {
	p := testPersona()
	p.EnableMemory = false

	got := BuildSystemPrompt(p, []string{"User likes cats"})
	if strings.Contains(got, "User likes cats") {
		t.Fatal("memories must not leak into the prompt when memory is disabled")
	}
}

func TestBuildSystemPromptOmitsEmptySections(t *testing.T) {
	p := persona.Persona{ID: "min", Name: "Min"}
	got := BuildSystemPrompt(p, nil)

	if strings.Contains(got, "Appearance:") {
		t.Fatal("empty sections must be omitted")
	}
	if !strings.HasPrefix(got, "You are Min.") {
		t.Fatalf("identity declaration must lead the prompt:\n%s", got)
	}
}
