package splitter

import "testing"

func TestSplitLinearConversation(t *testing.T) {
	conv := fixtureConversation()

	runs, err := Split(conv)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run for a linear conversation, got %d", len(runs))
	}
	run := runs[0]
	if len(run.RawContent.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(run.RawContent.Messages))
	}
	if run.RawContent.Messages[0].Content != "Alpha beta gamma." {
		t.Fatalf("unexpected first message content: %q", run.RawContent.Messages[0].Content)
	}
	if run.LastProcessedIndex != -1 {
		t.Fatalf("expected fresh run to start at -1, got %d", run.LastProcessedIndex)
	}
}

func TestSplitBranchingConversationProducesOneRunPerLeaf(t *testing.T) {
	conv := fixtureConversation()
	root := conv.Mapping["root"]
	root.Children = []string{"a", "b"}
	conv.Mapping["root"] = root
	conv.Mapping["b"] = conv.Mapping["a"]

	runs, err := Split(conv)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs for a 2-leaf branch, got %d", len(runs))
	}
	if runs[0].ID == runs[1].ID {
		t.Fatalf("expected distinct stable run ids per path")
	}
}

func TestSplitRejectsMalformedShape(t *testing.T) {
	_, err := Split(fixtureWithDanglingParent())
	if err == nil {
		t.Fatalf("expected an error for a dangling parent reference")
	}
}

func TestSplitRichIngestStampsProvenancePathID(t *testing.T) {
	t.Setenv(richIngestEnv, "true")

	conv := fixtureConversation()
	runs, err := Split(conv)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	run := runs[0]
	for _, msg := range run.RawContent.Messages {
		if msg.Provenance.PathID != run.ID {
			t.Fatalf("expected provenance.path_id %q to equal the run id %q", msg.Provenance.PathID, run.ID)
		}
		if msg.Provenance.ConversationID != conv.ID {
			t.Fatalf("expected provenance.conversation_id %q to equal %q", msg.Provenance.ConversationID, conv.ID)
		}
	}
}
