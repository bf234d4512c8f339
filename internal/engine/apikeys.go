package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"refurbline/internal/domain"
	"refurbline/internal/engine/auth"
	"refurbline/internal/events"
	"refurbline/internal/repo"
)

// CreateAPIKey issues a key for an actor with the given roles. The plaintext
// key is returned once; only its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, p auth.Principal, actorID, name string, roles []string) (string, domain.APIKey, error) {
	if err := auth.Require(p, auth.PermAPIKeyManage); err != nil {
		return "", domain.APIKey{}, err
	}
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return "", domain.APIKey{}, ValidationError{Field: "actor_id", Message: "is required"}
	}
	for _, r := range roles {
		if _, ok := auth.RolePermissions[r]; !ok && r != auth.RoleAdmin {
			return "", domain.APIKey{}, ValidationError{Field: "roles", Message: "unknown role " + r}
		}
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", domain.APIKey{}, err
	}
	plain := "rfl_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        newID(),
		ActorID:   actorID,
		Name:      strings.TrimSpace(name),
		Roles:     roles,
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.stamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", domain.APIKey{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return "", domain.APIKey{}, err
	}
	if err := e.appendEvent(ctx, tx, "apikey.created", "api_key", key.ID, p.ActorID, events.EventPayload{
		"actor_id": actorID, "roles": roles,
	}); err != nil {
		return "", domain.APIKey{}, err
	}
	if err := tx.Commit(); err != nil {
		return "", domain.APIKey{}, err
	}
	return plain, key, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, p auth.Principal, actorID string) ([]domain.APIKey, error) {
	if err := auth.Require(p, auth.PermAPIKeyManage); err != nil {
		return nil, err
	}
	return e.Repo.ListAPIKeys(ctx, actorID)
}

func (e Engine) RevokeAPIKey(ctx context.Context, p auth.Principal, id string) error {
	if err := auth.Require(p, auth.PermAPIKeyManage); err != nil {
		return err
	}
	return e.Repo.DeleteAPIKey(ctx, id)
}
