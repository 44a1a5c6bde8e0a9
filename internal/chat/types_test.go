package chat

import "testing"

func TestSeqRef(t *testing.T) {
	p := Pending()
	if p.Committed() {
		t.Error("Pending().Committed() = true")
	}
	if seq, ok := p.Seq(); ok || seq != 0 {
		t.Errorf("Pending().Seq() = %d, %v", seq, ok)
	}

	c := Committed(7)
	if seq, ok := c.Seq(); !ok || seq != 7 {
		t.Errorf("Committed(7).Seq() = %d, %v", seq, ok)
	}
	if c.String() != "seq=7" {
		t.Errorf("String() = %q", c.String())
	}
}

func TestCommittedRejectsZero(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Committed(0) should panic")
		}
	}()
	_ = Committed(0)
}

func TestConversationCloneIsDeep(t *testing.T) {
	c := Conversation{
		ID:           "c1",
		Participants: []string{"a", "b"},
		Messages:     []Message{{ID: "m1", DeliveredTo: []string{"b"}}},
	}
	cp := c.Clone()
	cp.Participants[0] = "x"
	cp.Messages[0].ID = "changed"
	cp.Messages[0].DeliveredTo[0] = "z"

	if c.Participants[0] != "a" || c.Messages[0].ID != "m1" || c.Messages[0].DeliveredTo[0] != "b" {
		t.Errorf("clone shares state with original: %+v", c)
	}
}

func TestHasParticipant(t *testing.T) {
	c := Conversation{Participants: []string{"alice", "bob", "carol"}}
	if !c.HasParticipant("bob") {
		t.Error("bob should be a participant")
	}
	if c.HasParticipant("dave") {
		t.Error("dave should not be a participant")
	}
}

func TestValidators(t *testing.T) {
	if !Away.Valid() || Presence("busy").Valid() {
		t.Error("presence validation mismatch")
	}
	if !Document.Valid() || MessageType("sticker").Valid() {
		t.Error("message type validation mismatch")
	}
}

func TestLastCommitted(t *testing.T) {
	var c Conversation
	if c.LastCommitted() != nil || c.Last() != nil {
		t.Fatal("empty log should have no tail")
	}
	c.Messages = []Message{
		{ID: "a", Ref: Committed(1)},
		{ID: "b", Ref: Committed(4)},
		{ID: "p", Ref: Pending()},
	}
	if got := c.LastCommitted(); got == nil || got.ID != "b" {
		t.Errorf("LastCommitted() = %+v, want b", got)
	}
	if got := c.Last(); got.ID != "p" {
		t.Errorf("Last() = %s, want pending tail p", got.ID)
	}
}
