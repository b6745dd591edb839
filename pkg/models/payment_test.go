package models

import "testing"

func TestPaymentStatusTerminal(t *testing.T) {
	for _, s := range []PaymentStatus{PaymentConfirmed, PaymentFailed, PaymentArchived} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []PaymentStatus{PaymentCreated, PaymentSubmitted} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}

func TestPaymentStatusTransitions(t *testing.T) {
	allowed := []struct{ from, to PaymentStatus }{
		{PaymentCreated, PaymentSubmitted},
		{PaymentCreated, PaymentFailed},
		{PaymentSubmitted, PaymentConfirmed},
		{PaymentSubmitted, PaymentFailed},
		{PaymentConfirmed, PaymentArchived},
		{PaymentFailed, PaymentArchived},
	}
	for _, c := range allowed {
		if !c.from.CanTransition(c.to) {
			t.Fatalf("%s -> %s should be allowed", c.from, c.to)
		}
	}
	denied := []struct{ from, to PaymentStatus }{
		{PaymentCreated, PaymentConfirmed},
		{PaymentConfirmed, PaymentFailed},
		{PaymentFailed, PaymentConfirmed},
		{PaymentArchived, PaymentConfirmed},
		{PaymentArchived, PaymentSubmitted},
		{PaymentSubmitted, PaymentCreated},
	}
	for _, c := range denied {
		if c.from.CanTransition(c.to) {
			t.Fatalf("%s -> %s must be rejected", c.from, c.to)
		}
	}
}

func TestDisappearingConfigActive(t *testing.T) {
	if (DisappearingMessagesConfiguration{Enabled: true}).Active() {
		t.Fatalf("enabled with zero timer must not be active")
	}
	if (DisappearingMessagesConfiguration{TimerSeconds: 60}).Active() {
		t.Fatalf("disabled config must not be active")
	}
	if !(DisappearingMessagesConfiguration{Enabled: true, TimerSeconds: 60}).Active() {
		t.Fatalf("enabled config with timer must be active")
	}
}

func TestThreadValidate(t *testing.T) {
	th := &Thread{ID: "th_1", Kind: ThreadDirect, Participants: []string{"alice"}}
	if err := th.Validate(); err != nil {
		t.Fatalf("valid direct thread rejected: %v", err)
	}
	th.Participants = []string{"alice", "bob"}
	if err := th.Validate(); err == nil {
		t.Fatalf("direct thread with two participants must be rejected")
	}
	g := &Thread{ID: "th_2", Kind: ThreadGroup, GroupID: "g1"}
	if err := g.Validate(); err == nil {
		t.Fatalf("group thread without participants must be rejected")
	}
	g.Participants = []string{"alice", "bob"}
	if err := g.Validate(); err != nil {
		t.Fatalf("valid group thread rejected: %v", err)
	}
}
