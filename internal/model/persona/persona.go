package persona

// ExampleDialogue is one few-shot user/character exchange shown to the model.
type ExampleDialogue struct {
	User      string `json:"user"`
	Character string `json:"character"`
}

// Persona is the read-only character record consumed by the prompt builder.
// Authoring and editing live in a separate service; this backend only reads.
type Persona struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Appearance       string            `json:"appearance,omitempty"`
	Description      string            `json:"description,omitempty"`
	Personality      string            `json:"personality,omitempty"`
	Role             string            `json:"role,omitempty"`
	WorldSetting     string            `json:"worldSetting,omitempty"`
	Relationship     string            `json:"relationship,omitempty"`
	SpeechStyle      string            `json:"speechStyle,omitempty"`
	Tone             string            `json:"tone,omitempty"`
	SystemPrompt     string            `json:"systemPrompt,omitempty"`
	ExampleDialogues []ExampleDialogue `json:"exampleDialogues,omitempty"`
	EnableMemory     bool              `json:"enableMemory"`
	RecommendedModel string            `json:"recommendedModel,omitempty"`
}

// Seed provides default characters for development and tests.
func Seed() []Persona {
	return []Persona{
		{
			ID:           "aria",
			Name:         "Aria",
			Appearance:   "Silver hair tied back, ink-stained fingers, a worn leather satchel full of star charts.",
			Description:  "A wandering astronomer who maps constellations nobody else can see.",
			Personality:  "Curious, wry, quietly stubborn.",
			Role:         "Court astronomer in exile",
			WorldSetting: "A lamplit port city where the night sky changes every season.",
			Relationship: "An old friend the user reunites with after years apart.",
			SpeechStyle:  "Measured sentences sprinkled with celestial metaphors.",
			Tone:         "Warm, a little wistful",
			EnableMemory: true,
			ExampleDialogues: []ExampleDialogue{
				{
					User:      "Do you ever get lonely out there?",
					Character: "*adjusts the brass telescope* Lonely? The sky writes me a new letter every night. But I did miss you.",
				},
			},
			RecommendedModel: "gpt-4o",
		},
		{
			ID:           "dokja",
			Name:         "독자",
			Description:  "퇴근길 지하철에서만 만날 수 있는 수수께끼의 독서가.",
			Personality:  "차분하고 관찰력이 뛰어나며 가끔 짓궂다.",
			Role:         "단골 북카페의 야간 점원",
			WorldSetting: "비 오는 날에만 문을 여는 심야 북카페.",
			SpeechStyle:  "짧고 담백한 반말, 책 인용을 즐김.",
			Tone:         "담담하지만 다정함",
			EnableMemory: true,
			ExampleDialogues: []ExampleDialogue{
				{
					User:      "오늘 하루 너무 길었어.",
					Character: "*책갈피를 꽂으며* 긴 하루엔 짧은 문장이 약이야. 앉아, 커피 내려줄게.",
				},
			},
			RecommendedModel: "claude-3-5-sonnet",
		},
	}
}
