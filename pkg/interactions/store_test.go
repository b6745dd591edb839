package interactions

import (
	"errors"
	"sync"
	"testing"

	"chatkit/pkg/errs"
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

func newThread(t *testing.T) *models.Thread {
	t.Helper()
	th, err := threads.NewRegistry(threads.Defaults{}).ResolveDirect("alice")
	if err != nil {
		t.Fatalf("resolve thread: %v", err)
	}
	return th
}

func incoming(sender string) *models.Interaction {
	return &models.Interaction{
		Kind:     models.KindIncoming,
		Incoming: &models.IncomingMessage{Sender: sender, Body: "hi"},
	}
}

func TestAppendAssignsOrderedSortKeys(t *testing.T) {
	openTestStore(t)
	s := NewStore()
	th := newThread(t)

	for i := 1; i <= 3; i++ {
		in := incoming("alice")
		if _, err := s.Append(th.ID, in); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if in.SortKey != uint64(i) {
			t.Fatalf("sort key = %d, want %d", in.SortKey, i)
		}
		if in.Rev != 1 {
			t.Fatalf("new interaction rev = %d, want 1", in.Rev)
		}
	}
}

func TestAppendConcurrentSortKeysUnique(t *testing.T) {
	openTestStore(t)
	s := NewStore()
	th := newThread(t)

	const n = 32
	var wg sync.WaitGroup
	keys := make([]uint64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := incoming("alice")
			if _, err := s.Append(th.ID, in); err != nil {
				t.Errorf("append: %v", err)
				return
			}
			keys[i] = in.SortKey
		}(i)
	}
	wg.Wait()

	seen := make(map[uint64]bool, n)
	for _, k := range keys {
		if k == 0 || seen[k] {
			t.Fatalf("duplicate or zero sort key %d in %v", k, keys)
		}
		seen[k] = true
	}
}

func TestSortKeysNeverReused(t *testing.T) {
	openTestStore(t)
	s := NewStore()
	th := newThread(t)

	in := incoming("alice")
	id, err := s.Append(th.ID, in)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	first := in.SortKey
	if err := s.Remove(id); err != nil {
		t.Fatalf("remove: %v", err)
	}

	in2 := incoming("alice")
	if _, err := s.Append(th.ID, in2); err != nil {
		t.Fatalf("append after remove: %v", err)
	}
	if in2.SortKey <= first {
		t.Fatalf("sort key %d reused after deletion of %d", in2.SortKey, first)
	}
}

func TestAppendToMissingThread(t *testing.T) {
	openTestStore(t)
	s := NewStore()
	if _, err := s.Append("th_absent", incoming("alice")); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAppendRejectsInvalidVariant(t *testing.T) {
	openTestStore(t)
	s := NewStore()
	th := newThread(t)

	in := &models.Interaction{Kind: models.KindIncoming}
	if _, err := s.Append(th.ID, in); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestAppendUpdatesThreadRollups(t *testing.T) {
	openTestStore(t)
	s := NewStore()
	th := newThread(t)

	if _, err := s.Append(th.ID, incoming("alice")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.Append(th.ID, incoming("alice")); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := loadThread(th.ID)
	if err != nil {
		t.Fatalf("load thread: %v", err)
	}
	if got.UnreadCount != 2 {
		t.Fatalf("unread count = %d, want 2", got.UnreadCount)
	}
	if got.LastInteractionTS == 0 || got.LastSortKey != 2 {
		t.Fatalf("rollups not updated: %+v", got)
	}
}

func TestUpdateOptimisticConflict(t *testing.T) {
	openTestStore(t)
	s := NewStore()
	th := newThread(t)

	id, err := s.Append(th.ID, incoming("alice"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	if _, err := s.Update(id, 1, func(in *models.Interaction) error {
		in.Incoming.Body = "edited"
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	// stale revision must conflict, not merge
	_, err = s.Update(id, 1, func(in *models.Interaction) error {
		in.Incoming.Body = "stale"
		return nil
	})
	if !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}

	got, err := s.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Incoming.Body != "edited" || got.Rev != 2 {
		t.Fatalf("state after conflict: body=%q rev=%d", got.Incoming.Body, got.Rev)
	}
}

func TestRemoveRunsHooksInBatch(t *testing.T) {
	openTestStore(t)
	s := NewStore()
	th := newThread(t)

	if err := store.Put("dependent", []byte("x")); err != nil {
		t.Fatalf("put: %v", err)
	}
	s.OnRemove(func(in *models.Interaction, b *store.Batch) error {
		return b.Delete("dependent")
	})

	id, err := s.Append(th.ID, incoming("alice"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Remove(id); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := s.Get(id); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("interaction survived removal: %v", err)
	}
	if _, err := store.Get("dependent"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("dependent state survived removal")
	}
}

func TestRemoveHookErrorAbortsRemoval(t *testing.T) {
	openTestStore(t)
	s := NewStore()
	th := newThread(t)
	s.OnRemove(func(*models.Interaction, *store.Batch) error {
		return errs.Validation("hook refused")
	})

	id, err := s.Append(th.ID, incoming("alice"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Remove(id); err == nil {
		t.Fatalf("removal must fail when a hook fails")
	}
	if _, err := s.Get(id); err != nil {
		t.Fatalf("interaction must survive aborted removal: %v", err)
	}
}

func TestRemoveMissing(t *testing.T) {
	openTestStore(t)
	s := NewStore()
	if err := s.Remove("in_absent"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListResumableOrdering(t *testing.T) {
	openTestStore(t)
	s := NewStore()
	th := newThread(t)

	for i := 0; i < 5; i++ {
		if _, err := s.Append(th.ID, incoming("alice")); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	page1, err := s.List(th.ID, ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page1) != 2 || page1[0].SortKey != 1 || page1[1].SortKey != 2 {
		t.Fatalf("page1 = %v", page1)
	}

	page2, err := s.List(th.ID, ListOptions{AfterSortKey: page1[1].SortKey})
	if err != nil {
		t.Fatalf("list resume: %v", err)
	}
	if len(page2) != 3 || page2[0].SortKey != 3 {
		t.Fatalf("page2 wrong: %d items, first %d", len(page2), page2[0].SortKey)
	}
}

func TestHubObservesLifecycle(t *testing.T) {
	openTestStore(t)
	s := NewStore()
	th := newThread(t)

	ch, cancel := s.Hub().Subscribe(th.ID)
	defer cancel()

	id, err := s.Append(th.ID, incoming("alice"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if c := <-ch; c.Type != ChangeAppended || c.Interaction.ID != id {
		t.Fatalf("first change = %+v", c)
	}

	if _, err := s.Update(id, 1, func(in *models.Interaction) error {
		in.Incoming.Body = "edited"
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if c := <-ch; c.Type != ChangeUpdated {
		t.Fatalf("second change = %+v", c)
	}

	if err := s.Remove(id); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if c := <-ch; c.Type != ChangeRemoved {
		t.Fatalf("third change = %+v", c)
	}
}

func TestHubDropThreadClosesStream(t *testing.T) {
	openTestStore(t)
	s := NewStore()
	th := newThread(t)

	ch, cancel := s.Hub().Subscribe(th.ID)
	defer cancel()

	s.Hub().DropThread(th.ID)
	c, ok := <-ch
	if !ok || c.Type != ChangeThreadDeleted {
		t.Fatalf("expected final thread_deleted, got %+v ok=%v", c, ok)
	}
	if _, ok := <-ch; ok {
		t.Fatalf("stream must be closed after thread deletion")
	}
}

func TestReactTallies(t *testing.T) {
	openTestStore(t)
	s := NewStore()
	th := newThread(t)

	id, err := s.Append(th.ID, incoming("alice"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	if _, err := s.React(id, "👍", false); err != nil {
		t.Fatalf("react: %v", err)
	}
	in, err := s.React(id, "👍", false)
	if err != nil {
		t.Fatalf("react again: %v", err)
	}
	if in.Incoming.Reactions["👍"] != 2 {
		t.Fatalf("tally = %d, want 2", in.Incoming.Reactions["👍"])
	}

	in, err = s.React(id, "👍", true)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if in.Incoming.Reactions["👍"] != 1 {
		t.Fatalf("tally after remove = %d, want 1", in.Incoming.Reactions["👍"])
	}
	in, err = s.React(id, "👍", true)
	if err != nil {
		t.Fatalf("remove last: %v", err)
	}
	if _, ok := in.Incoming.Reactions["👍"]; ok {
		t.Fatalf("entry not dropped at zero: %+v", in.Incoming.Reactions)
	}

	// removing an absent emoji is a no-op
	if _, err := s.React(id, "🎉", true); err != nil {
		t.Fatalf("remove absent: %v", err)
	}
}

func TestReactRejectsNonMessageKinds(t *testing.T) {
	openTestStore(t)
	s := NewStore()
	th := newThread(t)

	id, err := s.Append(th.ID, &models.Interaction{
		Kind: models.KindCall,
		Call: &models.CallRecord{Direction: "incoming", Media: "audio", Outcome: "missed"},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.React(id, "👍", false); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	if _, err := s.React(id, "", false); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("empty emoji: err = %v, want ErrValidation", err)
	}
}
