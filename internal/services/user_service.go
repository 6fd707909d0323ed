// Package services – UserService
//
// UserService reads and updates the application-side user profile and its
// free-form preferences document. It also serves as the profile loader used
// by the authentication middleware.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/bookshelvz-backend/internal/apperr"
	"github.com/tbourn/bookshelvz-backend/internal/domain"
	"github.com/tbourn/bookshelvz-backend/internal/repo"
)

// ProfilePatch holds the user-editable profile fields; nil means unchanged.
// Role and email are not editable here.
type ProfilePatch struct {
	FullName  *string
	AvatarURL *string
	Bio       *string
	Phone     *string
}

// UserService implements profile and preference use-cases.
type UserService struct {
	DB *gorm.DB
}

// LoadProfile returns the profile for id, or (nil, nil) when none exists.
func (s *UserService) LoadProfile(ctx context.Context, id string) (*domain.UserProfile, error) {
	p, err := repo.GetProfile(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	return p, err
}

// Profile returns the caller's profile. A caller authenticated by the
// platform but without a local row gets one created from the token.
func (s *UserService) Profile(ctx context.Context, pr *domain.Principal) (*domain.UserProfile, error) {
	if pr == nil {
		return nil, apperr.Authentication("")
	}
	if pr.Profile != nil {
		return pr.Profile, nil
	}
	return s.ensure(ctx, pr)
}

// UpdateProfile applies p to the caller's profile.
func (s *UserService) UpdateProfile(ctx context.Context, pr *domain.Principal, p ProfilePatch) (*domain.UserProfile, error) {
	if _, err := s.Profile(ctx, pr); err != nil {
		return nil, err
	}
	updates := map[string]any{}
	if p.FullName != nil {
		updates["full_name"] = strings.TrimSpace(*p.FullName)
	}
	if p.AvatarURL != nil {
		updates["avatar_url"] = strings.TrimSpace(*p.AvatarURL)
	}
	if p.Bio != nil {
		updates["bio"] = *p.Bio
	}
	if p.Phone != nil {
		updates["phone"] = strings.TrimSpace(*p.Phone)
	}
	if len(updates) == 0 {
		return s.get(ctx, pr.ID)
	}
	out, err := repo.UpdateProfile(ctx, s.DB, pr.ID, updates)
	if err != nil {
		return nil, dbErr(err, "Profile")
	}
	return out, nil
}

// Preferences returns the caller's preferences as a JSON object; an unset
// document is an empty object.
func (s *UserService) Preferences(ctx context.Context, pr *domain.Principal) (map[string]any, error) {
	p, err := s.Profile(ctx, pr)
	if err != nil {
		return nil, err
	}
	return decodePrefs(p.Preferences)
}

// UpdatePreferences merges patch into the stored preferences. Top-level keys
// in patch replace stored ones; a null value removes the key.
func (s *UserService) UpdatePreferences(ctx context.Context, pr *domain.Principal, patch map[string]any) (map[string]any, error) {
	p, err := s.Profile(ctx, pr)
	if err != nil {
		return nil, err
	}
	prefs, err := decodePrefs(p.Preferences)
	if err != nil {
		return nil, err
	}
	for k, v := range patch {
		if v == nil {
			delete(prefs, k)
			continue
		}
		prefs[k] = v
	}
	raw, err := json.Marshal(prefs)
	if err != nil {
		return nil, apperr.Wrap(err)
	}
	if _, err := repo.UpdateProfile(ctx, s.DB, pr.ID, map[string]any{"preferences": datatypes.JSON(raw)}); err != nil {
		return nil, dbErr(err, "Profile")
	}
	return prefs, nil
}

func (s *UserService) get(ctx context.Context, id string) (*domain.UserProfile, error) {
	p, err := repo.GetProfile(ctx, s.DB, id)
	if err != nil {
		return nil, dbErr(err, "Profile")
	}
	return p, nil
}

func (s *UserService) ensure(ctx context.Context, pr *domain.Principal) (*domain.UserProfile, error) {
	p, err := s.LoadProfile(ctx, pr.ID)
	if err != nil {
		return nil, dbErr(err, "Profile")
	}
	if p != nil {
		return p, nil
	}
	p = &domain.UserProfile{ID: pr.ID, Email: normalizeEmail(pr.Email), Role: string(domain.RoleUser)}
	if err := repo.CreateProfile(ctx, s.DB, p); err != nil {
		if apperr.IsUniqueViolation(err) {
			return s.get(ctx, pr.ID)
		}
		return nil, dbErr(err, "Profile")
	}
	return p, nil
}

func decodePrefs(raw datatypes.JSON) (map[string]any, error) {
	prefs := map[string]any{}
	if len(raw) == 0 || string(raw) == "null" {
		return prefs, nil
	}
	if err := json.Unmarshal(raw, &prefs); err != nil {
		return nil, apperr.Wrap(err)
	}
	return prefs, nil
}
