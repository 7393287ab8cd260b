package splitter

import "github.com/nexuscore/nexus/engine/domain"

func fixtureConversation() domain.Conversation {
	return domain.Conversation{
		ID: "conv-1",
		Mapping: map[string]domain.ConversationNode{
			"root": {
				Children: []string{"a"},
			},
			"a": {
				Parent:   "root",
				Children: []string{"c"},
				Message: &domain.Message{
					ID:          "m1",
					Role:        "user",
					ContentType: "text",
					Parts:       []any{"Alpha beta gamma."},
				},
			},
			"c": {
				Parent: "a",
				Message: &domain.Message{
					ID:          "m2",
					Role:        "assistant",
					ContentType: "text",
					Parts:       []any{"Delta epsilon."},
				},
			},
		},
	}
}

func fixtureWithDanglingParent() domain.Conversation {
	return domain.Conversation{
		ID: "conv-bad",
		Mapping: map[string]domain.ConversationNode{
			"a": {Parent: "ghost"},
		},
	}
}
