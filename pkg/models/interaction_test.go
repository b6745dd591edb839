package models

import "testing"

func TestInteractionValidateExactlyOneVariant(t *testing.T) {
	in := &Interaction{Thread: "th_1", Kind: KindIncoming}
	if err := in.Validate(); err == nil {
		t.Fatalf("expected validation error for missing payload")
	}

	in.Incoming = &IncomingMessage{Sender: "alice"}
	if err := in.Validate(); err != nil {
		t.Fatalf("valid incoming interaction rejected: %v", err)
	}

	in.Payment = &PaymentMessage{Direction: PaymentIncoming, PaymentID: "pay_1"}
	if err := in.Validate(); err == nil {
		t.Fatalf("expected validation error for two payloads")
	}
}

func TestInteractionValidateKindMismatch(t *testing.T) {
	in := &Interaction{
		Thread: "th_1",
		Kind:   KindOutgoing,
		Call:   &CallRecord{Direction: "incoming", Outcome: "missed"},
	}
	if err := in.Validate(); err == nil {
		t.Fatalf("expected validation error for payload not matching kind")
	}
}

func TestInteractionValidateRequiresThread(t *testing.T) {
	in := &Interaction{Kind: KindIncoming, Incoming: &IncomingMessage{Sender: "alice"}}
	if err := in.Validate(); err == nil {
		t.Fatalf("expected validation error for missing thread")
	}
}

func TestReceiptsCapability(t *testing.T) {
	cases := []struct {
		in  Interaction
		has bool
	}{
		{Interaction{Kind: KindIncoming, Incoming: &IncomingMessage{}}, true},
		{Interaction{Kind: KindCall, Call: &CallRecord{}}, true},
		{Interaction{Kind: KindGroupCall, GroupCall: &GroupCallRecord{}}, true},
		{Interaction{Kind: KindInfo, Info: &InfoEvent{}}, true},
		{Interaction{Kind: KindError, Error: &ErrorEvent{}}, true},
		{Interaction{Kind: KindPayment, Payment: &PaymentMessage{}}, true},
		{Interaction{Kind: KindOutgoing, Outgoing: &OutgoingMessage{}}, false},
		{Interaction{Kind: KindVerificationChange, Verification: &VerificationChange{}}, false},
		{Interaction{Kind: KindDisappearingUpdate, DisappearingChange: &DisappearingUpdate{}}, false},
	}
	for _, c := range cases {
		if _, ok := c.in.Receipts(); ok != c.has {
			t.Fatalf("kind %s: Receipts() = %v, want %v", c.in.Kind, ok, c.has)
		}
	}
}

func TestExpirableCapability(t *testing.T) {
	expirable := []Interaction{
		{Kind: KindIncoming, Incoming: &IncomingMessage{}},
		{Kind: KindOutgoing, Outgoing: &OutgoingMessage{}},
		{Kind: KindPayment, Payment: &PaymentMessage{}},
	}
	for _, in := range expirable {
		if !in.Expirable() {
			t.Fatalf("kind %s should be expirable", in.Kind)
		}
	}
	fixed := []Interaction{
		{Kind: KindVerificationChange, Verification: &VerificationChange{}},
		{Kind: KindDisappearingUpdate, DisappearingChange: &DisappearingUpdate{}},
		{Kind: KindInfo, Info: &InfoEvent{}},
	}
	for _, in := range fixed {
		if in.Expirable() {
			t.Fatalf("kind %s must never expire", in.Kind)
		}
	}
}

func TestExpiredPredicate(t *testing.T) {
	if Expired(100, 0) {
		t.Fatalf("zero deadline must never expire")
	}
	if Expired(99, 100) {
		t.Fatalf("deadline in the future reported expired")
	}
	if !Expired(100, 100) {
		t.Fatalf("deadline reached must be expired")
	}
	if !Expired(101, 100) {
		t.Fatalf("past deadline must be expired")
	}
}

func TestReadTrackingRead(t *testing.T) {
	rt := ReadTracking{}
	if rt.Read() {
		t.Fatalf("zero ReadAt reported read")
	}
	rt.ReadAt = 42
	if !rt.Read() {
		t.Fatalf("non-zero ReadAt reported unread")
	}
}
