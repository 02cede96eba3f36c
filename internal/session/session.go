// Package session implements session lifecycle management and
// content-addressed artifact storage over a storage.Backend. Artifact
// bytes are deduplicated by hash and refcounted; per-session grants
// mediate cross-session reads.
package session

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/llmspell-go/kernel/internal/domain"
	"github.com/llmspell-go/kernel/internal/events"
	"github.com/llmspell-go/kernel/internal/storage"
)

// CompressionPolicy decides whether an artifact of the given type should
// be gzip-compressed transparently on store.
type CompressionPolicy func(artifactType string) bool

// DefaultCompressionPolicy compresses everything except already-compressed
// media types.
func DefaultCompressionPolicy(artifactType string) bool {
	switch artifactType {
	case "image/png", "image/jpeg", "audio/mpeg", "video/mp4":
		return false
	default:
		return true
	}
}

// Store is the shared handle for session lifecycle and artifact
// storage.
type Store struct {
	backend    storage.Backend
	bus        *events.Bus
	compressor CompressionPolicy
}

// Option configures a Store at construction.
type Option func(*Store)

func WithBus(bus *events.Bus) Option                       { return func(s *Store) { s.bus = bus } }
func WithCompressionPolicy(p CompressionPolicy) Option      { return func(s *Store) { s.compressor = p } }

func New(backend storage.Backend, opts ...Option) *Store {
	s := &Store{backend: backend, compressor: DefaultCompressionPolicy}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sessionScope() domain.Scope { return domain.CustomScope("sessions") }

func sessionKey(id string) string  { return "session:" + id }
func artifactKey(id string) string { return "artifact:" + id }
func refcountKey(id string) string { return "artifact:" + id + ":refcount" }

func grantKey(artifactID, granteeID string) string {
	return "artifact:" + artifactID + ":grant:" + granteeID
}

// CreateOptions configures a new session.
type CreateOptions struct {
	Owner    string
	Metadata map[string]string
}

// CreateSession starts a new Active session.
func (s *Store) CreateSession(ctx context.Context, opts CreateOptions) (*domain.Session, error) {
	sess := &domain.Session{
		ID:        ulid.Make().String(),
		Status:    domain.SessionActive,
		CreatedAt: time.Now().UTC(),
		Owner:     opts.Owner,
		Metadata:  opts.Metadata,
		Artifacts: map[string]bool{},
	}
	if err := s.putSession(ctx, sess); err != nil {
		return nil, err
	}
	s.publish(ctx, "session.created", sess.ID)
	return sess, nil
}

func (s *Store) putSession(ctx context.Context, sess *domain.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	return s.backend.Set(ctx, sessionScope(), sessionKey(sess.ID), raw)
}

// GetSession loads a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	raw, err := s.backend.Get(ctx, sessionScope(), sessionKey(id))
	if err != nil {
		return nil, err
	}
	var sess domain.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("session: decode: %w", err)
	}
	return &sess, nil
}

// transition validates and applies a status change.
func (s *Store) transition(ctx context.Context, id string, to domain.SessionStatus) (*domain.Session, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(sess.Status, to) {
		return nil, fmt.Errorf("session: invalid transition %s -> %s for %s", sess.Status, to, id)
	}
	sess.Status = to
	if err := s.putSession(ctx, sess); err != nil {
		return nil, err
	}
	s.publish(ctx, "session."+string(to), id)
	return sess, nil
}

func (s *Store) Suspend(ctx context.Context, id string) (*domain.Session, error) {
	return s.transition(ctx, id, domain.SessionSuspended)
}

func (s *Store) Resume(ctx context.Context, id string) (*domain.Session, error) {
	return s.transition(ctx, id, domain.SessionActive)
}

func (s *Store) Terminate(ctx context.Context, id string, failed bool) (*domain.Session, error) {
	target := domain.SessionCompleted
	if failed {
		target = domain.SessionFailed
	}
	return s.transition(ctx, id, target)
}

// SaveState and LoadState snapshot/restore a session's own row; actual
// agent/workflow state lives in the state manager under the session's
// own Scope and is
// handled by the state manager directly (Session here only owns
// lifecycle + artifacts).
func (s *Store) SaveState(ctx context.Context, id string) (*domain.Session, error) {
	return s.GetSession(ctx, id)
}

func (s *Store) LoadState(ctx context.Context, id string) (*domain.Session, error) {
	return s.GetSession(ctx, id)
}

// StoreArtifact content-addresses bytes by their SHA-256 hash: identical
// bytes always dedupe to one physical row, and deletion is refcounted.
func (s *Store) StoreArtifact(ctx context.Context, sessionID, artifactType, name string, data []byte, tags map[string]string) (*domain.Artifact, error) {
	sum := sha256.Sum256(data)
	id := hex.EncodeToString(sum[:])

	stored := data
	compressed := false
	if s.compressor != nil && s.compressor(artifactType) {
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		if _, err := gw.Write(data); err == nil && gw.Close() == nil {
			stored = buf.Bytes()
			compressed = true
		}
	}

	existing, err := s.getArtifactRecord(ctx, id)
	if err == nil {
		existing.RefCount++
		if err := s.putArtifactRecord(ctx, existing); err != nil {
			return nil, err
		}
		if err := s.linkToSession(ctx, sessionID, id); err != nil {
			return nil, err
		}
		return existing, nil
	}

	art := &domain.Artifact{
		ID: id, SessionID: sessionID, Type: artifactType, Name: name,
		SizeBytes: int64(len(data)), CreatedAt: time.Now().UTC(), Tags: tags, RefCount: 1,
	}
	if compressed {
		art.CompressedSizeBytes = int64(len(stored))
	} else {
		art.CompressedSizeBytes = int64(len(data))
	}

	if err := s.backend.Set(ctx, sessionScope(), artifactKey(id)+":bytes", stored); err != nil {
		return nil, err
	}
	if err := s.putArtifactRecord(ctx, art); err != nil {
		return nil, err
	}
	if err := s.linkToSession(ctx, sessionID, id); err != nil {
		return nil, err
	}
	s.publish(ctx, "artifact.stored", id)
	return art, nil
}

func (s *Store) linkToSession(ctx context.Context, sessionID, artifactID string) error {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Artifacts == nil {
		sess.Artifacts = map[string]bool{}
	}
	sess.Artifacts[artifactID] = true
	return s.putSession(ctx, sess)
}

func (s *Store) getArtifactRecord(ctx context.Context, id string) (*domain.Artifact, error) {
	raw, err := s.backend.Get(ctx, sessionScope(), artifactKey(id))
	if err != nil {
		return nil, err
	}
	var art domain.Artifact
	if err := json.Unmarshal(raw, &art); err != nil {
		return nil, err
	}
	return &art, nil
}

func (s *Store) putArtifactRecord(ctx context.Context, art *domain.Artifact) error {
	raw, err := json.Marshal(art)
	if err != nil {
		return err
	}
	return s.backend.Set(ctx, sessionScope(), artifactKey(art.ID), raw)
}

// GetArtifact returns the artifact's metadata and decompressed bytes.
func (s *Store) GetArtifact(ctx context.Context, id string) (*domain.Artifact, []byte, error) {
	art, err := s.getArtifactRecord(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	stored, err := s.backend.Get(ctx, sessionScope(), artifactKey(id)+":bytes")
	if err != nil {
		return nil, nil, err
	}
	if art.CompressedSizeBytes != art.SizeBytes {
		gr, err := gzip.NewReader(bytes.NewReader(stored))
		if err != nil {
			return art, stored, nil
		}
		defer gr.Close()
		data, err := io.ReadAll(gr)
		if err != nil {
			return art, stored, nil
		}
		return art, data, nil
	}
	return art, stored, nil
}

// GrantAccess lets granteeSessionID read an artifact owned by
// ownerSessionID. The owner must actually hold the artifact.
func (s *Store) GrantAccess(ctx context.Context, ownerSessionID, granteeSessionID, artifactID string) error {
	owner, err := s.GetSession(ctx, ownerSessionID)
	if err != nil {
		return err
	}
	if !owner.Artifacts[artifactID] {
		return fmt.Errorf("session: %s does not hold artifact %s", ownerSessionID, artifactID)
	}
	return s.backend.Set(ctx, sessionScope(), grantKey(artifactID, granteeSessionID), []byte(ownerSessionID))
}

// RevokeAccess removes a previously-issued grant.
func (s *Store) RevokeAccess(ctx context.Context, granteeSessionID, artifactID string) error {
	return s.backend.Delete(ctx, sessionScope(), grantKey(artifactID, granteeSessionID))
}

// CheckAccess reports whether sessionID may read the artifact: its own
// session holds it, or another session granted it. An empty sessionID
// is the kernel's own unmediated access.
func (s *Store) CheckAccess(ctx context.Context, sessionID, artifactID string) (bool, error) {
	if sessionID == "" {
		return true, nil
	}
	if sess, err := s.GetSession(ctx, sessionID); err == nil && sess.Artifacts[artifactID] {
		return true, nil
	}
	ok, err := s.backend.Exists(ctx, sessionScope(), grantKey(artifactID, sessionID))
	if err != nil {
		return false, err
	}
	return ok, nil
}

// GetArtifactFor is the permission-mediated read used by the script
// bridge: the requesting session must hold the artifact or have been
// granted access.
func (s *Store) GetArtifactFor(ctx context.Context, sessionID, id string) (*domain.Artifact, []byte, error) {
	ok, err := s.CheckAccess(ctx, sessionID, id)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("session: %s has no access to artifact %s", sessionID, id)
	}
	return s.GetArtifact(ctx, id)
}

// DeleteArtifact decrements the artifact's refcount, physically removing
// the bytes only when the count reaches zero.
func (s *Store) DeleteArtifact(ctx context.Context, sessionID, id string) error {
	art, err := s.getArtifactRecord(ctx, id)
	if err != nil {
		return err
	}
	art.RefCount--
	if art.RefCount > 0 {
		if err := s.putArtifactRecord(ctx, art); err != nil {
			return err
		}
	} else {
		if err := s.backend.Delete(ctx, sessionScope(), artifactKey(id)+":bytes"); err != nil {
			return err
		}
		if err := s.backend.Delete(ctx, sessionScope(), artifactKey(id)); err != nil {
			return err
		}
	}
	if sess, err := s.GetSession(ctx, sessionID); err == nil {
		delete(sess.Artifacts, id)
		_ = s.putSession(ctx, sess)
	}
	return nil
}

func (s *Store) publish(ctx context.Context, name, payload string) {
	if s.bus == nil {
		return
	}
	_ = s.bus.Publish(ctx, events.Event{Name: name, Payload: payload, Language: events.LangNative})
}
