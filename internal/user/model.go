// Package user maintains the local mirror of identity-provider users. The
// core only needs contact details, the role and the referring parent.
package user

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/sudo-init-do/tradiehub/internal/domain"
	"github.com/sudo-init-do/tradiehub/internal/store"
)

type SyncRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Role     string `json:"role"`
	ParentID string `json:"parent_id"`
}

func (r SyncRequest) toUser(id string) domain.User {
	return domain.User{
		ID:       strings.TrimSpace(id),
		Email:    strings.TrimSpace(r.Email),
		Name:     strings.TrimSpace(r.Name),
		Phone:    strings.TrimSpace(r.Phone),
		Role:     domain.Role(strings.ToLower(strings.TrimSpace(r.Role))),
		ParentID: strings.TrimSpace(r.ParentID),
	}
}

// Sync validates u and writes it to the mirror. A parent must already be
// mirrored as a tradie.
func Sync(ctx context.Context, m store.UserMirror, u domain.User) (domain.User, error) {
	if u.ID == "" {
		return domain.User{}, domain.ErrInvalidInput.With("field", "id")
	}
	if _, err := mail.ParseAddress(u.Email); err != nil {
		return domain.User{}, domain.ErrInvalidInput.With("field", "email")
	}
	switch u.Role {
	case domain.RoleOwner, domain.RoleTradie, domain.RoleAdmin:
	default:
		return domain.User{}, domain.ErrInvalidInput.With("field", "role")
	}
	if u.ParentID != "" {
		if u.ParentID == u.ID || u.Role != domain.RoleTradie {
			return domain.User{}, domain.ErrInvalidInput.With("field", "parent_id")
		}
		parent, err := m.GetUser(ctx, u.ParentID)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.User{}, domain.ErrInvalidInput.With("field", "parent_id")
		}
		if err != nil {
			return domain.User{}, fmt.Errorf("sync user: %w", err)
		}
		if parent.Role != domain.RoleTradie {
			return domain.User{}, domain.ErrInvalidInput.With("field", "parent_id")
		}
	}
	if err := m.UpsertUser(ctx, u); err != nil {
		return domain.User{}, fmt.Errorf("sync user: %w", err)
	}
	return u, nil
}
