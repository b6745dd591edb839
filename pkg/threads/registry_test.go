package threads

import (
	"errors"
	"sync"
	"testing"

	"chatkit/pkg/errs"
	"chatkit/pkg/interactions"
	"chatkit/pkg/models"
	"chatkit/pkg/store"
)

func openTestStore(t *testing.T) {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
}

func testRegistry() *Registry {
	return NewRegistry(Defaults{})
}

func TestResolveDirectIdempotent(t *testing.T) {
	openTestStore(t)
	r := testRegistry()

	th1, err := r.ResolveDirect("alice")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	th2, err := r.ResolveDirect("alice")
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if th1.ID != th2.ID {
		t.Fatalf("resolution created a duplicate: %s vs %s", th1.ID, th2.ID)
	}
	if th1.Kind != models.ThreadDirect || len(th1.Participants) != 1 {
		t.Fatalf("unexpected thread shape: %+v", th1)
	}
}

func TestResolveConcurrentNoDuplicates(t *testing.T) {
	openTestStore(t)
	r := testRegistry()

	const n = 16
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			th, err := r.ResolveGroup("g1", []string{"alice", "bob"})
			if err != nil {
				t.Errorf("resolve: %v", err)
				return
			}
			ids[i] = th.ID
		}(i)
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("concurrent resolution diverged: %s vs %s", ids[i], ids[0])
		}
	}
}

func TestResolveValidation(t *testing.T) {
	openTestStore(t)
	r := testRegistry()

	if _, err := r.ResolveDirect(""); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("empty contact: err = %v, want ErrValidation", err)
	}
	if _, err := r.ResolveGroup("", nil); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("empty group id: err = %v, want ErrValidation", err)
	}
	if _, err := r.ResolveStory("", ""); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("empty story id: err = %v, want ErrValidation", err)
	}
}

func TestDefaultsStampedOnCreation(t *testing.T) {
	openTestStore(t)
	r := NewRegistry(Defaults{
		Disappearing: models.DisappearingMessagesConfiguration{Enabled: true, TimerSeconds: 60, Version: 1},
	})
	th, err := r.ResolveDirect("alice")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !th.Disappearing.Active() || th.Disappearing.TimerSeconds != 60 {
		t.Fatalf("defaults not stamped: %+v", th.Disappearing)
	}
}

func TestApplyDisappearingVersionRace(t *testing.T) {
	openTestStore(t)
	r := testRegistry()
	th, err := r.ResolveDirect("alice")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	v2 := models.DisappearingMessagesConfiguration{Enabled: true, TimerSeconds: 300, Version: 2}
	if _, applied, err := r.ApplyDisappearing(th.ID, v2, 1000); err != nil || !applied {
		t.Fatalf("v2 apply failed: applied=%v err=%v", applied, err)
	}

	// lower version loses regardless of timestamp
	v1 := models.DisappearingMessagesConfiguration{Enabled: true, TimerSeconds: 30, Version: 1}
	winner, applied, err := r.ApplyDisappearing(th.ID, v1, 2000)
	if err != nil {
		t.Fatalf("v1 apply: %v", err)
	}
	if applied || winner.TimerSeconds != 300 {
		t.Fatalf("stale version won: applied=%v winner=%+v", applied, winner)
	}

	// same version, earlier timestamp loses
	tie := models.DisappearingMessagesConfiguration{Enabled: true, TimerSeconds: 60, Version: 2}
	if _, applied, _ := r.ApplyDisappearing(th.ID, tie, 500); applied {
		t.Fatalf("version tie with earlier timestamp must keep current config")
	}
	// same version, later timestamp wins
	if _, applied, _ := r.ApplyDisappearing(th.ID, tie, 5000); !applied {
		t.Fatalf("version tie with later timestamp must apply")
	}

	got, err := r.Get(th.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Disappearing.TimerSeconds != 60 {
		t.Fatalf("persisted config = %+v, want timer 60", got.Disappearing)
	}
}

func TestApplyDisappearingTieSurvivesThreadActivity(t *testing.T) {
	openTestStore(t)
	r := testRegistry()
	th, err := r.ResolveDirect("alice")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	week := models.DisappearingMessagesConfiguration{Enabled: true, TimerSeconds: 604800, Version: 1}
	if _, applied, err := r.ApplyDisappearing(th.ID, week, 100); err != nil || !applied {
		t.Fatalf("first apply: applied=%v err=%v", applied, err)
	}

	// unrelated thread activity between the two tied updates must not
	// shadow the later one
	ints := interactions.NewStore()
	if _, err := ints.Append(th.ID, &models.Interaction{
		Kind:     models.KindIncoming,
		Incoming: &models.IncomingMessage{Sender: "alice", Body: "hi"},
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	tied := models.DisappearingMessagesConfiguration{Enabled: true, TimerSeconds: 60, Version: 1}
	winner, applied, err := r.ApplyDisappearing(th.ID, tied, 200)
	if err != nil {
		t.Fatalf("tied apply: %v", err)
	}
	if !applied || winner.TimerSeconds != 60 {
		t.Fatalf("later wall-clock tie lost: applied=%v winner=%+v", applied, winner)
	}
}

func TestSetFlags(t *testing.T) {
	openTestStore(t)
	r := testRegistry()
	th, _ := r.ResolveDirect("alice")

	if err := r.SetFlags(th.ID, true, true); err != nil {
		t.Fatalf("set flags: %v", err)
	}
	got, err := r.Get(th.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Muted || !got.Archived {
		t.Fatalf("flags not persisted: %+v", got)
	}
}

func TestDeleteMissingThread(t *testing.T) {
	openTestStore(t)
	r := testRegistry()
	if err := r.Delete("th_absent"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteCascadeRemovesIdentityIndex(t *testing.T) {
	openTestStore(t)
	r := testRegistry()

	th, err := r.ResolveDirect("alice")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	var notified string
	r.OnDelete(func(id string) { notified = id })

	if err := r.Delete(th.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if notified != th.ID {
		t.Fatalf("observer not notified, got %q", notified)
	}
	if _, err := r.Get(th.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("thread record survived deletion: err = %v", err)
	}

	// identity freed: resolving again creates a fresh thread
	th2, err := r.ResolveDirect("alice")
	if err != nil {
		t.Fatalf("re-resolve: %v", err)
	}
	if th2.ID == th.ID {
		t.Fatalf("identity index not cleared on delete")
	}
}
