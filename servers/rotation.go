package servers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/oar-cd/moor/domain"
	"github.com/oar-cd/moor/encryption"
	"github.com/oar-cd/moor/repository"
)

type RotationResult struct {
	Rotated int `json:"rotated"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// KeyRotator re-encrypts stored server credentials under a new master key
type KeyRotator struct {
	repo repository.ServerRepository
}

func NewKeyRotator(repo repository.ServerRepository) *KeyRotator {
	return &KeyRotator{repo: repo}
}

// RotateServerCredentials moves every server's credentials from oldKey to newKey. A server that
// fails is counted and left untouched; the others are still rotated.
func (r *KeyRotator) RotateServerCredentials(ctx context.Context, oldKey, newKey string) (RotationResult, error) {
	const op = "rotate_keys"
	if oldKey == "" || newKey == "" {
		return RotationResult{}, domain.Validation(op, "both the old and the new key are required")
	}
	if oldKey == newKey {
		return RotationResult{}, domain.Validation(op, "the new key must differ from the old key")
	}

	oldVault, err := encryption.NewVault(oldKey, true)
	if err != nil {
		return RotationResult{}, err
	}
	newVault, err := encryption.NewVault(newKey, true)
	if err != nil {
		return RotationResult{}, err
	}

	servers, err := r.repo.List()
	if err != nil {
		return RotationResult{}, err
	}

	var result RotationResult
	for _, server := range servers {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		rotated, err := rotateServer(server, oldVault, newVault)
		if err == nil && rotated {
			err = r.repo.Update(server)
		}
		switch {
		case err != nil:
			result.Failed++
			slog.Error("Failed to rotate server credentials",
				"layer", "service",
				"operation", op,
				"server_id", server.ID,
				"error", err)
		case rotated:
			result.Rotated++
		default:
			result.Skipped++
		}
	}

	slog.Info("Server credential rotation finished",
		"layer", "service",
		"operation", op,
		"rotated", result.Rotated,
		"failed", result.Failed,
		"skipped", result.Skipped)
	return result, nil
}

func rotateServer(server *domain.Server, oldVault, newVault *encryption.Vault) (bool, error) {
	rotated := false
	for _, field := range []*string{server.PrivateKey, server.Password} {
		if field == nil || !encryption.IsEncrypted(*field) {
			continue
		}
		out, err := encryption.RotateSecret(*field, oldVault, newVault)
		if err != nil {
			return false, fmt.Errorf("credential did not decrypt with the old key: %w", err)
		}
		*field = out
		rotated = true
	}
	return rotated, nil
}
