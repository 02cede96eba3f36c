package globals

import (
	"context"

	"github.com/llmspell-go/kernel/internal/domain"
	"github.com/llmspell-go/kernel/internal/session"
)

// SessionGlobal exposes the session lifecycle to the running script,
// scoped to the session the current execution belongs to.
type SessionGlobal struct {
	store     *session.Store
	sessionID string
}

func (g *SessionGlobal) ID() string { return g.sessionID }

func (g *SessionGlobal) Get(ctx context.Context) (*domain.Session, error) {
	return g.store.GetSession(ctx, g.sessionID)
}

func (g *SessionGlobal) Suspend(ctx context.Context) (*domain.Session, error) {
	return g.store.Suspend(ctx, g.sessionID)
}

func (g *SessionGlobal) SaveState(ctx context.Context) (*domain.Session, error) {
	return g.store.SaveState(ctx, g.sessionID)
}

// ArtifactGlobal exposes the content-addressed artifact store.
type ArtifactGlobal struct {
	store     *session.Store
	sessionID string
}

func (g *ArtifactGlobal) Store(ctx context.Context, artifactType, name string, data []byte, tags map[string]string) (*domain.Artifact, error) {
	return g.store.StoreArtifact(ctx, g.sessionID, artifactType, name, data, tags)
}

func (g *ArtifactGlobal) Get(ctx context.Context, id string) (*domain.Artifact, []byte, error) {
	return g.store.GetArtifactFor(ctx, g.sessionID, id)
}

func (g *ArtifactGlobal) Delete(ctx context.Context, id string) error {
	return g.store.DeleteArtifact(ctx, g.sessionID, id)
}

// Grant lets another session read an artifact this session holds.
func (g *ArtifactGlobal) Grant(ctx context.Context, granteeSessionID, id string) error {
	return g.store.GrantAccess(ctx, g.sessionID, granteeSessionID, id)
}

// Revoke withdraws a grant issued by Grant.
func (g *ArtifactGlobal) Revoke(ctx context.Context, granteeSessionID, id string) error {
	return g.store.RevokeAccess(ctx, granteeSessionID, id)
}
