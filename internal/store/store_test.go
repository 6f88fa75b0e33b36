package store

import (
	"testing"
	"time"

	"github.com/seesee/jottery/internal/apperr"
)

func TestOpenInitializesNewStore(t *testing.T) {
	s, err := OpenInMemory(t.TempDir(), "correct horse battery staple")
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	defer s.Close()

	if s.IsLocked() {
		t.Error("freshly opened store reports locked")
	}
}

func TestReopenWithCorrectPasswordUnlocks(t *testing.T) {
	dir := t.TempDir()

	s1, err := OpenInMemory(dir, "hunter2hunter2")
	if err != nil {
		t.Fatalf("first open error = %v", err)
	}
	if err := s1.Notes.Create(Note{ID: "n1", Content: "hello"}); err != nil {
		t.Fatalf("create note error = %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("close error = %v", err)
	}

	s2, err := OpenInMemory(dir, "hunter2hunter2")
	if err != nil {
		t.Fatalf("second open error = %v", err)
	}
	defer s2.Close()

	n, err := s2.Notes.Get("n1")
	if err != nil {
		t.Fatalf("get note error = %v", err)
	}
	if n.Content != "hello" {
		t.Errorf("Content = %q, want %q", n.Content, "hello")
	}
}

func TestReopenWithWrongPasswordFails(t *testing.T) {
	dir := t.TempDir()

	s1, err := OpenInMemory(dir, "the-right-password")
	if err != nil {
		t.Fatalf("first open error = %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("close error = %v", err)
	}

	_, err = OpenInMemory(dir, "the-wrong-password")
	if !apperr.Is(err, apperr.KindAuthenticationFailed) {
		t.Fatalf("OpenInMemory() error = %v, want KindAuthenticationFailed", err)
	}
}

func TestLockThenUnlockRoundtrips(t *testing.T) {
	s, err := OpenInMemory(t.TempDir(), "swordfish-swordfish")
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	defer s.Close()

	if err := s.Notes.Create(Note{ID: "n1", Content: "secret"}); err != nil {
		t.Fatalf("create note error = %v", err)
	}

	if err := s.Lock(); err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	if !s.IsLocked() {
		t.Error("IsLocked() = false after Lock()")
	}

	if _, err := s.Notes.Get("n1"); !apperr.Is(err, apperr.KindKeyRequired) {
		t.Errorf("Get() on locked store error = %v, want KindKeyRequired", err)
	}

	if err := s.Unlock("swordfish-swordfish"); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	if s.IsLocked() {
		t.Error("IsLocked() = true after Unlock()")
	}

	n, err := s.Notes.Get("n1")
	if err != nil {
		t.Fatalf("get note after unlock error = %v", err)
	}
	if n.Content != "secret" {
		t.Errorf("Content = %q, want %q", n.Content, "secret")
	}
}

func TestUnlockWithWrongPasswordFails(t *testing.T) {
	s, err := OpenInMemory(t.TempDir(), "original-password")
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	defer s.Close()

	if err := s.Lock(); err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	if err := s.Unlock("wrong-password"); !apperr.Is(err, apperr.KindAuthenticationFailed) {
		t.Errorf("Unlock() error = %v, want KindAuthenticationFailed", err)
	}
}

func TestReplaceSaltThenUnlockCompletesSwap(t *testing.T) {
	dir := t.TempDir()
	password := "bootstrap-password"

	s, err := OpenInMemory(dir, password)
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}

	if err := s.Sync.SetCredentials("api-key-123", "client-abc"); err != nil {
		t.Fatalf("SetCredentials() error = %v", err)
	}

	peerSalt := make([]byte, 32)
	for i := range peerSalt {
		peerSalt[i] = byte(i)
	}
	if err := s.ReplaceSalt(peerSalt); err != nil {
		t.Fatalf("ReplaceSalt() error = %v", err)
	}
	if !s.IsLocked() {
		t.Fatal("store should be locked after ReplaceSalt()")
	}

	if err := s.Unlock(password); err != nil {
		t.Fatalf("Unlock() after salt swap error = %v", err)
	}

	meta, err := s.Sync.GetMetadata()
	if err != nil {
		t.Fatalf("GetMetadata() error = %v", err)
	}
	if meta.APIKey != "api-key-123" {
		t.Errorf("APIKey after salt swap = %q, want %q", meta.APIKey, "api-key-123")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestAutoLockExpiryClearsKeyAndReseals(t *testing.T) {
	s, err := OpenInMemory(t.TempDir(), "auto-lock-password")
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	defer s.Close()

	if err := s.Notes.Create(Note{ID: "n1", Content: "secret"}); err != nil {
		t.Fatalf("create note error = %v", err)
	}

	s.keys.mu.Lock()
	s.keys.autoLockDuration = 20 * time.Millisecond
	s.keys.lastActivity = time.Now()
	s.keys.armTimerLocked()
	s.keys.mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for !s.IsLocked() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !s.IsLocked() {
		t.Fatal("store not locked after auto-lock window elapsed")
	}

	// onAutoLock reseals the working copy, just as an explicit Lock()
	// would, so re-unlocking still works.
	if err := s.Unlock("auto-lock-password"); err != nil {
		t.Fatalf("Unlock() after auto-lock error = %v", err)
	}
	n, err := s.Notes.Get("n1")
	if err != nil {
		t.Fatalf("get note after auto-lock unlock error = %v", err)
	}
	if n.Content != "secret" {
		t.Errorf("Content = %q, want %q", n.Content, "secret")
	}
}

func TestShouldAutoLockReflectsExpiry(t *testing.T) {
	s, err := OpenInMemory(t.TempDir(), "should-lock-password")
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	defer s.Close()

	if s.ShouldAutoLock() {
		t.Error("ShouldAutoLock() = true with auto-lock disabled")
	}

	s.keys.mu.Lock()
	s.keys.autoLockDuration = time.Hour
	s.keys.lastActivity = time.Now().Add(-2 * time.Hour)
	s.keys.mu.Unlock()

	if !s.ShouldAutoLock() {
		t.Error("ShouldAutoLock() = false past the auto-lock window")
	}
}

func TestVacuumAndFileSize(t *testing.T) {
	s, err := OpenInMemory(t.TempDir(), "vacuum-password")
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	defer s.Close()

	for i := 0; i < 5; i++ {
		if err := s.Notes.Create(Note{ID: string(rune('a' + i)), Content: "note body"}); err != nil {
			t.Fatalf("create note error = %v", err)
		}
	}
	if err := s.Vacuum(); err != nil {
		t.Fatalf("Vacuum() error = %v", err)
	}

	size, err := s.FileSize()
	if err != nil {
		t.Fatalf("FileSize() error = %v", err)
	}
	if size <= 0 {
		t.Errorf("FileSize() = %d, want > 0", size)
	}
}
