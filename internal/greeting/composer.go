// Package greeting derives the personalized opening line for a new
// conversation from whatever profile data exists for the user.
package greeting

import (
	"context"
	"fmt"
	"strings"

	"github.com/taskchat/taskchat/internal/models"
)

// Fallback is used when no profile data resolves to a name.
const Fallback = "Hi there! Welcome back."

// ProfileStore is the lookup the composer needs. A missing user is
// (nil, nil).
type ProfileStore interface {
	GetProfile(ctx context.Context, id string) (*models.Profile, error)
}

type Composer struct {
	profiles ProfileStore
}

func NewComposer(profiles ProfileStore) *Composer {
	return &Composer{profiles: profiles}
}

// Compose resolves a display name as first+last, then the generic name
// field, then the local part of the email. Lookup failures degrade to the
// fixed fallback; a greeting must never fail a turn.
func (c *Composer) Compose(ctx context.Context, ownerID string) string {
	profile, err := c.profiles.GetProfile(ctx, ownerID)
	if err != nil || profile == nil {
		return Fallback
	}

	name := displayName(profile)
	if name == "" {
		return Fallback
	}
	if profile.Email != "" {
		return fmt.Sprintf("Hi %s (%s)", name, profile.Email)
	}
	return fmt.Sprintf("Hi %s", name)
}

func displayName(p *models.Profile) string {
	var parts []string
	if p.FirstName != "" {
		parts = append(parts, p.FirstName)
	}
	if p.LastName != "" {
		parts = append(parts, p.LastName)
	}
	if len(parts) > 0 {
		return strings.Join(parts, " ")
	}
	if p.Name != "" {
		return p.Name
	}
	if at := strings.Index(p.Email, "@"); at > 0 {
		return p.Email[:at]
	}
	return ""
}
