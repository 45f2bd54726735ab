package tracker

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestAcquireSyncStampsLastSyncTime(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	lease, acquired, err := env.store.AcquireSync(ctx, env.userID, testNow, testNow.Add(-DefaultStaleAfter))
	if err != nil || !acquired {
		t.Fatalf("expected lock (acquired=%v): %v", acquired, err)
	}
	if lease.StartedAtSeconds != testNow.Unix() {
		t.Fatalf("expected lease at %d, got %+v", testNow.Unix(), lease)
	}
	state := env.syncState(t)
	if state.Status != SyncStatusSyncing || state.LastSyncAtSeconds != testNow.Unix() {
		t.Fatalf("expected syncing state stamped with the start, got %+v", state)
	}
}

func TestStaleOwnerReleaseKeepsNewOwnerLock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, acquired, err := env.store.AcquireSync(ctx, env.userID, testNow, testNow.Add(-DefaultStaleAfter))
	if err != nil || !acquired {
		t.Fatalf("expected first lock (acquired=%v): %v", acquired, err)
	}

	takeoverAt := testNow.Add(20 * time.Minute)
	second, acquired, err := env.store.AcquireSync(ctx, env.userID, takeoverAt, takeoverAt.Add(-DefaultStaleAfter))
	if err != nil || !acquired {
		t.Fatalf("expected stale takeover (acquired=%v): %v", acquired, err)
	}

	released, err := env.store.CompleteSync(ctx, first, takeoverAt.Add(time.Minute))
	if err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if released {
		t.Fatalf("expected the stale owner's release to be ignored")
	}
	if state := env.syncState(t); state.Status != SyncStatusSyncing || state.StartedAtSeconds != second.StartedAtSeconds {
		t.Fatalf("expected the new owner to keep the lock, got %+v", state)
	}
	if _, acquired, _ := env.store.AcquireSync(ctx, env.userID, takeoverAt.Add(2*time.Minute), takeoverAt.Add(2*time.Minute).Add(-DefaultStaleAfter)); acquired {
		t.Fatalf("expected a third run to be refused while the new owner runs")
	}

	released, err = env.store.FailSync(ctx, second, takeoverAt.Add(3*time.Minute), "boom")
	if err != nil || !released {
		t.Fatalf("expected the owner to release (released=%v): %v", released, err)
	}
	if state := env.syncState(t); state.Status != SyncStatusError || state.LastError != "boom" {
		t.Fatalf("expected error state, got %+v", state)
	}
}

func TestFailSyncTruncatesOnRuneBoundary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	lease, _, err := env.store.AcquireSync(ctx, env.userID, testNow, testNow.Add(-DefaultStaleAfter))
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	message := strings.Repeat("ü", maxErrorMessageLength+10)
	if _, err := env.store.FailSync(ctx, lease, testNow, message); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	stored := env.syncState(t).LastError
	if !utf8.ValidString(stored) {
		t.Fatalf("expected valid UTF-8 after truncation")
	}
	if count := utf8.RuneCountInString(stored); count != maxErrorMessageLength {
		t.Fatalf("expected %d runes, got %d", maxErrorMessageLength, count)
	}
}
