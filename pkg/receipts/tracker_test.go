package receipts

import (
	"errors"
	"testing"

	"chatkit/pkg/errs"
	"chatkit/pkg/interactions"
	"chatkit/pkg/models"
	"chatkit/pkg/store"
	"chatkit/pkg/threads"
)

func openTestStore(t *testing.T) {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
}

func setup(t *testing.T) (*Tracker, *interactions.Store, *threads.Registry, *models.Thread) {
	t.Helper()
	openTestStore(t)
	reg := threads.NewRegistry(threads.Defaults{})
	ints := interactions.NewStore()
	tr := NewTracker(ints, reg)
	th, err := reg.ResolveDirect("alice")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	return tr, ints, reg, th
}

func appendIncoming(t *testing.T, ints *interactions.Store, threadID string) string {
	t.Helper()
	id, err := ints.Append(threadID, &models.Interaction{
		Kind:     models.KindIncoming,
		Incoming: &models.IncomingMessage{Sender: "alice", Body: "hi"},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	return id
}

func TestMarkReadMonotonic(t *testing.T) {
	tr, ints, _, th := setup(t)
	id := appendIncoming(t, ints, th.ID)

	if err := tr.MarkRead(id, 1000); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	// earlier receipt is a no-op, not an error
	if err := tr.MarkRead(id, 500); err != nil {
		t.Fatalf("stale mark read: %v", err)
	}
	in, err := ints.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	rt, _ := in.Receipts()
	if rt.ReadAt != 1000 {
		t.Fatalf("read at = %d, want 1000", rt.ReadAt)
	}

	if err := tr.MarkRead(id, 2000); err != nil {
		t.Fatalf("advance: %v", err)
	}
	in, _ = ints.Get(id)
	rt, _ = in.Receipts()
	if rt.ReadAt != 2000 {
		t.Fatalf("read at = %d, want 2000", rt.ReadAt)
	}
}

func TestMarkViewedImpliesRead(t *testing.T) {
	tr, ints, _, th := setup(t)
	id := appendIncoming(t, ints, th.ID)

	if err := tr.MarkViewed(id, 1500); err != nil {
		t.Fatalf("mark viewed: %v", err)
	}
	in, _ := ints.Get(id)
	rt, _ := in.Receipts()
	if rt.ViewedAt != 1500 {
		t.Fatalf("viewed at = %d, want 1500", rt.ViewedAt)
	}
	if rt.ReadAt == 0 || rt.ReadAt > rt.ViewedAt {
		t.Fatalf("viewed must imply read: %+v", rt)
	}
}

func TestMarkViewedNeverRewindsRead(t *testing.T) {
	tr, ints, _, th := setup(t)
	id := appendIncoming(t, ints, th.ID)

	if err := tr.MarkRead(id, 1000); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	// a viewed receipt with an earlier timestamp keeps the later read
	if err := tr.MarkViewed(id, 500); err != nil {
		t.Fatalf("mark viewed: %v", err)
	}
	in, _ := ints.Get(id)
	rt, _ := in.Receipts()
	if rt.ReadAt != 1000 {
		t.Fatalf("read at = %d, want 1000 (viewed_at=%d)", rt.ReadAt, rt.ViewedAt)
	}
	if rt.ViewedAt != 500 {
		t.Fatalf("viewed at = %d, want 500", rt.ViewedAt)
	}
}

func TestMarkReadRejectsUntrackedKinds(t *testing.T) {
	tr, ints, _, th := setup(t)
	id, err := ints.Append(th.ID, &models.Interaction{
		Kind:     models.KindOutgoing,
		Outgoing: &models.OutgoingMessage{Body: "sent"},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := tr.MarkRead(id, 1000); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestMarkReadDecrementsUnread(t *testing.T) {
	tr, ints, reg, th := setup(t)
	id1 := appendIncoming(t, ints, th.ID)
	id2 := appendIncoming(t, ints, th.ID)

	got, _ := reg.Get(th.ID)
	if got.UnreadCount != 2 {
		t.Fatalf("unread = %d, want 2", got.UnreadCount)
	}

	if err := tr.MarkRead(id1, 1000); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	// marking the same interaction again must not double-decrement
	if err := tr.MarkRead(id1, 2000); err != nil {
		t.Fatalf("advance: %v", err)
	}
	got, _ = reg.Get(th.ID)
	if got.UnreadCount != 1 {
		t.Fatalf("unread = %d, want 1", got.UnreadCount)
	}

	if err := tr.MarkRead(id2, 1000); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	got, _ = reg.Get(th.ID)
	if got.UnreadCount != 0 {
		t.Fatalf("unread = %d, want 0", got.UnreadCount)
	}
}

func TestMarkDeliveredPerRecipient(t *testing.T) {
	tr, ints, _, th := setup(t)
	id, err := ints.Append(th.ID, &models.Interaction{
		Kind:     models.KindOutgoing,
		Outgoing: &models.OutgoingMessage{Body: "sent"},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := tr.MarkDelivered(id, "bob", 1000); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	if err := tr.MarkDelivered(id, "bob", 400); err != nil {
		t.Fatalf("stale delivery: %v", err)
	}
	if err := tr.MarkDelivered(id, "carol", 900); err != nil {
		t.Fatalf("second recipient: %v", err)
	}

	in, _ := ints.Get(id)
	if in.Outgoing.Recipients["bob"].DeliveredAt != 1000 {
		t.Fatalf("bob delivered at = %d", in.Outgoing.Recipients["bob"].DeliveredAt)
	}
	if in.Outgoing.Recipients["carol"].DeliveredAt != 900 {
		t.Fatalf("carol delivered at = %d", in.Outgoing.Recipients["carol"].DeliveredAt)
	}
}

func TestVerificationDefaultsWhenAbsent(t *testing.T) {
	tr, _, _, _ := setup(t)
	cv, err := tr.Verification("alice")
	if err != nil {
		t.Fatalf("verification: %v", err)
	}
	if cv.State != models.VerificationDefault || cv.Counter != 0 {
		t.Fatalf("unexpected default: %+v", cv)
	}
}

func TestSetVerificationRecordsHistory(t *testing.T) {
	tr, ints, _, th := setup(t)

	if err := tr.SetVerification(th.ID, "alice", models.VerificationVerified, 1, true); err != nil {
		t.Fatalf("set: %v", err)
	}
	cv, _ := tr.Verification("alice")
	if cv.State != models.VerificationVerified || cv.Counter != 1 {
		t.Fatalf("record = %+v", cv)
	}

	list, err := ints.List(th.ID, interactions.ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Kind != models.KindVerificationChange {
		t.Fatalf("history interaction missing: %+v", list)
	}
	if v := list[0].Verification; v.Contact != "alice" || !v.Local {
		t.Fatalf("history payload = %+v", v)
	}
}

func TestSetVerificationDiscardsStaleCounter(t *testing.T) {
	tr, ints, _, th := setup(t)

	if err := tr.SetVerification(th.ID, "alice", models.VerificationVerified, 5, false); err != nil {
		t.Fatalf("set: %v", err)
	}
	// stale: lower counter must not regress the state or add history
	if err := tr.SetVerification(th.ID, "alice", models.VerificationNoLongerVerified, 3, false); err != nil {
		t.Fatalf("stale set: %v", err)
	}
	cv, _ := tr.Verification("alice")
	if cv.State != models.VerificationVerified || cv.Counter != 5 {
		t.Fatalf("stale notification applied: %+v", cv)
	}
	list, _ := ints.List(th.ID, interactions.ListOptions{})
	if len(list) != 1 {
		t.Fatalf("stale notification recorded history: %d entries", len(list))
	}

	// newer counter applies
	if err := tr.SetVerification(th.ID, "alice", models.VerificationNoLongerVerified, 6, false); err != nil {
		t.Fatalf("newer set: %v", err)
	}
	cv, _ = tr.Verification("alice")
	if cv.State != models.VerificationNoLongerVerified {
		t.Fatalf("newer notification ignored: %+v", cv)
	}
}

func TestSetVerificationRejectsUnknownState(t *testing.T) {
	tr, _, _, th := setup(t)
	if err := tr.SetVerification(th.ID, "alice", "sideways", 1, true); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}
