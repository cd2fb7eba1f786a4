// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tapwire/gateway/internal/domain/session"
	"go.uber.org/goleak"
)

func TestSessionStore_CreateAndGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()

	sess := &session.Session{
		ID:            "sess-1",
		TransportType: session.TransportStdio,
		State:         session.StatePending,
		CreatedAt:     time.Now().UTC(),
		LastActivity:  time.Now().UTC(),
	}

	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	got, err := store.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}

	if got.ID != "sess-1" {
		t.Errorf("ID = %q, want %q", got.ID, "sess-1")
	}
	if got.TransportType != session.TransportStdio {
		t.Errorf("TransportType = %q, want %q", got.TransportType, session.TransportStdio)
	}
}

func TestSessionStore_GetNonExistent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()

	_, err := store.Get(ctx, "nonexistent")
	if !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Get() error = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionStore_Update(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()

	sess := &session.Session{
		ID:           "sess-update",
		State:        session.StatePending,
		LastActivity: time.Now().UTC().Add(-10 * time.Minute),
	}

	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	sess.LastActivity = time.Now().UTC()
	sess.ProtocolVersion = "2025-06-18"
	if err := store.Update(ctx, sess); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	got, err := store.Get(ctx, "sess-update")
	if err != nil {
		t.Fatalf("Get() after update error: %v", err)
	}
	if got.ProtocolVersion != "2025-06-18" {
		t.Errorf("ProtocolVersion = %q, want %q", got.ProtocolVersion, "2025-06-18")
	}
}

func TestSessionStore_UpdateNonExistent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()

	sess := &session.Session{ID: "nonexistent"}

	err := store.Update(ctx, sess)
	if !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Update() error = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionStore_Delete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()

	sess := &session.Session{ID: "sess-delete"}

	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if err := store.Delete(ctx, "sess-delete"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	_, err := store.Get(ctx, "sess-delete")
	if !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Get() after Delete() should return ErrSessionNotFound, got %v", err)
	}
}

func TestSessionStore_DeleteNonExistent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()

	if err := store.Delete(ctx, "nonexistent"); err != nil {
		t.Errorf("Delete() on non-existent session should not error, got %v", err)
	}
}

func TestSessionStore_List(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()

	for _, id := range []string{"a", "b", "c"} {
		if err := store.Create(ctx, &session.Session{ID: id}); err != nil {
			t.Fatalf("Create() error: %v", err)
		}
	}

	got, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("List() len = %d, want 3", len(got))
	}
}

func TestSessionStore_CopyOnReturn(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()

	sess := &session.Session{
		ID:           "sess-copy-test",
		Capabilities: map[string]interface{}{"tools": true},
	}

	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	got1, err := store.Get(ctx, "sess-copy-test")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	got1.Capabilities["tools"] = false
	got1.FrameLog = append(got1.FrameLog, session.FrameRef{FrameID: 1})

	got2, err := store.Get(ctx, "sess-copy-test")
	if err != nil {
		t.Fatalf("Get() second call error: %v", err)
	}

	if got2.Capabilities["tools"] != true {
		t.Error("Store returned reference instead of copy (Capabilities was modified)")
	}
	if len(got2.FrameLog) != 0 {
		t.Errorf("Store returned reference instead of copy (FrameLog length = %d, want 0)", len(got2.FrameLog))
	}
}

func TestSessionStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()

	for i := 0; i < 10; i++ {
		sess := &session.Session{ID: "sess-concurrent-" + string(rune('0'+i))}
		if err := store.Create(ctx, sess); err != nil {
			t.Fatalf("Create() error: %v", err)
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 400)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			sessID := "sess-concurrent-" + string(rune('0'+(idx%10)))
			_, err := store.Get(ctx, sessID)
			if err != nil && !errors.Is(err, session.ErrSessionNotFound) {
				errCh <- err
			}
		}(i)
	}

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			sessID := "sess-concurrent-" + string(rune('0'+(idx%10)))
			sess := &session.Session{ID: sessID, ProtocolVersion: "2025-06-18"}
			_ = store.Update(ctx, sess)
		}(i)
	}

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			sess := &session.Session{ID: "sess-new-" + string(rune('a'+idx))}
			if err := store.Create(ctx, sess); err != nil {
				errCh <- err
			}
		}(i)
	}

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			sessID := "sess-concurrent-" + string(rune('0'+(idx%10)))
			if err := store.Delete(ctx, sessID); err != nil {
				errCh <- err
			}
		}(i)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("Concurrent access error: %v", err)
	}
}

// TestSessionStoreCleanup verifies that idle sessions are removed by the
// background sweep.
func TestSessionStoreCleanup(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewSessionStoreWithConfig(50*time.Millisecond, 100*time.Millisecond)
	store.StartCleanup(ctx)
	defer store.Stop()

	sess := &session.Session{
		ID:           "sess-cleanup-test",
		CreatedAt:    time.Now().UTC(),
		LastActivity: time.Now().UTC(),
	}

	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	_, err := store.Get(ctx, "sess-cleanup-test")
	if err != nil {
		t.Fatalf("Get() should succeed initially: %v", err)
	}

	if store.Size() != 1 {
		t.Errorf("Size() = %d, want 1", store.Size())
	}

	time.Sleep(300 * time.Millisecond)

	_, err = store.Get(ctx, "sess-cleanup-test")
	if !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Get() after cleanup should return ErrSessionNotFound, got %v", err)
	}

	if store.Size() != 0 {
		t.Errorf("Size() after cleanup = %d, want 0", store.Size())
	}
}

// TestSessionStoreNoGoroutineLeak verifies that cleanup goroutine exits properly.
func TestSessionStoreNoGoroutineLeak(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())

	store := NewSessionStoreWithConfig(50*time.Millisecond, session.DefaultIdleTimeout)
	store.StartCleanup(ctx)

	for i := 0; i < 5; i++ {
		sess := &session.Session{ID: "sess-leak-test-" + string(rune('0'+i))}
		_ = store.Create(ctx, sess)
		_, _ = store.Get(ctx, sess.ID)
	}

	time.Sleep(100 * time.Millisecond)

	cancel()
	store.Stop()
}

// TestSessionStoreConcurrentAccessDuringCleanup verifies no races during cleanup.
func TestSessionStoreConcurrentAccessDuringCleanup(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewSessionStoreWithConfig(10*time.Millisecond, 50*time.Millisecond)
	store.StartCleanup(ctx)
	defer store.Stop()

	var wg sync.WaitGroup
	done := make(chan struct{})

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			bgCtx := context.Background()
			counter := 0
			for {
				select {
				case <-done:
					return
				default:
					sessID := "sess-concurrent-cleanup-" + string(rune('a'+idx)) + "-" + string(rune('0'+counter%10))
					sess := &session.Session{ID: sessID, LastActivity: time.Now().UTC()}
					_ = store.Create(bgCtx, sess)
					_, _ = store.Get(bgCtx, sessID)
					_ = store.Delete(bgCtx, sessID)
					counter++
				}
			}
		}(i)
	}

	time.Sleep(500 * time.Millisecond)
	close(done)
	wg.Wait()
}

// TestSessionStoreStopMultipleCalls verifies Stop() can be called multiple times safely.
func TestSessionStoreStopMultipleCalls(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewSessionStoreWithConfig(50*time.Millisecond, session.DefaultIdleTimeout)
	store.StartCleanup(ctx)

	store.Stop()
	store.Stop()
	store.Stop()
}

func TestSessionStoreLongRunning(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping long-running test in short mode")
	}
	defer goleak.VerifyNone(t)

	store := NewSessionStoreWithConfig(100*time.Millisecond, 200*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer store.Stop()

	store.StartCleanup(ctx)

	sessionCount := 0
	start := time.Now()
	for time.Since(start) < 3*time.Second {
		sess := &session.Session{
			ID:           "sess-" + string(rune('0'+sessionCount/1000)) + string(rune('0'+(sessionCount/100)%10)) + string(rune('0'+(sessionCount/10)%10)) + string(rune('0'+sessionCount%10)),
			CreatedAt:    time.Now(),
			LastActivity: time.Now(),
		}
		_ = store.Create(context.Background(), sess)
		sessionCount++
		time.Sleep(time.Millisecond)
	}

	time.Sleep(500 * time.Millisecond)

	size := store.Size()
	t.Logf("Created %d sessions, map size after cleanup: %d", sessionCount, size)

	if size > sessionCount/4 {
		t.Errorf("Map size %d is too large (created %d sessions), cleanup not working", size, sessionCount)
	}
}
