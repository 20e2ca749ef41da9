package suggest

import "strings"

// MaxActions caps the number of follow-up suggestions per reply.
const MaxActions = 3

// keywordBuckets map reply traits to the follow-up a user is most likely to
// want next. Matching is plain substring search over the lowercased reply.
var keywordBuckets = map[string][]string{
	"Ask what happened next": {
		"once", "back then", "years ago", "that day", "예전에", "그때", "옛날",
	},
	"Ask them to explain": {
		"complicated", "long story", "hard to explain", "복잡한", "설명",
	},
	"Comfort them": {
		"sad", "lonely", "miss", "sigh", "슬퍼", "외로", "그리워", "눈물",
	},
}

// Actions derives up to MaxActions follow-up suggestions from the shape of the
// assistant's reply. Deterministic: same reply, same suggestions.
func Actions(aiReply string) []string {
	lowered := strings.ToLower(aiReply)
	actions := make([]string, 0, MaxActions)

	add := func(action string) {
		if len(actions) >= MaxActions {
			return
		}
		for _, existing := range actions {
			if existing == action {
				return
			}
		}
		actions = append(actions, action)
	}

	if strings.Contains(aiReply, "?") || strings.Contains(aiReply, "？") {
		add("Answer their question")
	}
	if strings.Contains(aiReply, "*") {
		add("React to what they did")
	}

	// Buckets are checked in a fixed order so output never depends on map
	// iteration.
	for _, action := range []string{"Ask what happened next", "Ask them to explain", "Comfort them"} {
		for _, keyword := range keywordBuckets[action] {
			if strings.Contains(lowered, keyword) {
				add(action)
				break
			}
		}
	}

	add("Tell them more about yourself")
	add("Change the subject")

	return actions
}
