package session

import (
	"context"
	"testing"

	"github.com/llmspell-go/kernel/internal/storage/memorybackend"
)

func TestIdenticalBytesDedupeToOneArtifact(t *testing.T) {
	ctx := context.Background()
	s := New(memorybackend.New())

	sess, err := s.CreateSession(ctx, CreateOptions{Owner: "tester"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	data := []byte("identical payload")
	a1, err := s.StoreArtifact(ctx, sess.ID, "text/plain", "first.txt", data, nil)
	if err != nil {
		t.Fatalf("StoreArtifact 1: %v", err)
	}
	a2, err := s.StoreArtifact(ctx, sess.ID, "text/plain", "second.txt", data, nil)
	if err != nil {
		t.Fatalf("StoreArtifact 2: %v", err)
	}

	if a1.ID != a2.ID {
		t.Fatalf("expected identical artifact IDs, got %s and %s", a1.ID, a2.ID)
	}
	if a2.RefCount != 2 {
		t.Fatalf("expected refcount 2 after second store, got %d", a2.RefCount)
	}
}

func TestArtifactAccessIsPermissionMediated(t *testing.T) {
	ctx := context.Background()
	s := New(memorybackend.New())

	owner, _ := s.CreateSession(ctx, CreateOptions{Owner: "owner"})
	other, _ := s.CreateSession(ctx, CreateOptions{Owner: "other"})

	art, err := s.StoreArtifact(ctx, owner.ID, "text/plain", "shared.txt", []byte("payload"), nil)
	if err != nil {
		t.Fatalf("StoreArtifact: %v", err)
	}

	if _, _, err := s.GetArtifactFor(ctx, owner.ID, art.ID); err != nil {
		t.Fatalf("owner read: %v", err)
	}
	if _, _, err := s.GetArtifactFor(ctx, other.ID, art.ID); err == nil {
		t.Fatal("other session should not read without a grant")
	}

	if err := s.GrantAccess(ctx, owner.ID, other.ID, art.ID); err != nil {
		t.Fatalf("GrantAccess: %v", err)
	}
	if _, data, err := s.GetArtifactFor(ctx, other.ID, art.ID); err != nil || string(data) != "payload" {
		t.Fatalf("granted read: %v (%q)", err, data)
	}

	if err := s.RevokeAccess(ctx, other.ID, art.ID); err != nil {
		t.Fatalf("RevokeAccess: %v", err)
	}
	if _, _, err := s.GetArtifactFor(ctx, other.ID, art.ID); err == nil {
		t.Fatal("revoked session should not read")
	}

	if err := s.GrantAccess(ctx, other.ID, owner.ID, art.ID); err == nil {
		t.Fatal("a session that does not hold the artifact cannot grant it")
	}
}

func TestSessionTransitions(t *testing.T) {
	ctx := context.Background()
	s := New(memorybackend.New())

	sess, _ := s.CreateSession(ctx, CreateOptions{})
	if _, err := s.Suspend(ctx, sess.ID); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	if _, err := s.Resume(ctx, sess.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if _, err := s.Terminate(ctx, sess.ID, false); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if _, err := s.Resume(ctx, sess.ID); err == nil {
		t.Fatal("expected resuming a completed session to fail")
	}
}
