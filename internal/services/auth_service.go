// Package services – AuthService
//
// AuthService implements email/password registration, sign-in, and refresh
// on top of the identity.Provider token port. Password hashes are stored in
// the credentials table with bcrypt; the user profile is created in the same
// transaction as the credential so the two never diverge.
package services

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/tbourn/bookshelvz-backend/internal/apperr"
	"github.com/tbourn/bookshelvz-backend/internal/domain"
	"github.com/tbourn/bookshelvz-backend/internal/identity"
	"github.com/tbourn/bookshelvz-backend/internal/repo"
)

const msgInvalidCredentials = "Invalid email or password"

// Session is the response to a successful sign-in, registration, or refresh.
type Session struct {
	identity.TokenPair
	User *domain.UserProfile `json:"user"`
}

// AuthService owns credentials and token issuance.
type AuthService struct {
	DB     *gorm.DB
	Tokens identity.Provider
	// Cost is the bcrypt work factor.
	Cost int

	dummyOnce sync.Once
	dummy     []byte
}

// NewAuthService constructs an AuthService with bcrypt's default cost.
func NewAuthService(db *gorm.DB, tokens identity.Provider) *AuthService {
	return &AuthService{DB: db, Tokens: tokens, Cost: bcrypt.DefaultCost}
}

// Register creates a credential and a profile with the user role, then signs
// the new user in.
func (s *AuthService) Register(ctx context.Context, email, password, fullName string) (*Session, error) {
	tr := otel.Tracer("services/AuthService")
	ctx, span := tr.Start(ctx, "Register")
	defer span.End()

	email = normalizeEmail(email)
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost())
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, apperr.Validation([]apperr.FieldError{{Field: "password", Message: "password must be at most 72 bytes long"}})
		}
		return nil, apperr.Wrap(err)
	}

	profile := &domain.UserProfile{
		ID:       uuid.NewString(),
		Email:    email,
		FullName: strings.TrimSpace(fullName),
		Role:     string(domain.RoleUser),
	}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cred := &domain.Credential{UserID: profile.ID, Email: email, PasswordHash: string(hash)}
		if err := repo.CreateCredential(ctx, tx, cred); err != nil {
			return err
		}
		return repo.CreateProfile(ctx, tx, profile)
	})
	if err != nil {
		if apperr.IsUniqueViolation(err) {
			return nil, apperr.Conflict("Email already registered").WithCause(ErrEmailTaken)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "register failed")
		return nil, dbErr(err, "User")
	}
	span.SetAttributes(attribute.String("user.id", profile.ID))
	return s.issue(ctx, profile)
}

// Login verifies email and password. Every failure yields the same 401 so
// callers cannot tell which emails exist.
func (s *AuthService) Login(ctx context.Context, email, password string) (*Session, error) {
	tr := otel.Tracer("services/AuthService")
	ctx, span := tr.Start(ctx, "Login")
	defer span.End()

	cred, err := repo.GetCredentialByEmail(ctx, s.DB, normalizeEmail(email))
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, dbErr(err, "User")
		}
		// Burn the same time as a real comparison.
		_ = bcrypt.CompareHashAndPassword(s.dummyHash(), []byte(password))
		return nil, apperr.Authentication(msgInvalidCredentials).WithCause(ErrInvalidCredentials)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return nil, apperr.Authentication(msgInvalidCredentials).WithCause(ErrInvalidCredentials)
	}
	span.SetAttributes(attribute.String("user.id", cred.UserID))

	profile, err := repo.GetProfile(ctx, s.DB, cred.UserID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, dbErr(err, "Profile")
		}
		profile = &domain.UserProfile{ID: cred.UserID, Email: cred.Email, Role: string(domain.RoleUser)}
	}
	return s.issue(ctx, profile)
}

// Refresh exchanges a refresh token for a new pair. The role is re-read from
// the profile so demotions take effect on the next refresh.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	tr := otel.Tracer("services/AuthService")
	ctx, span := tr.Start(ctx, "Refresh")
	defer span.End()

	claims, err := s.Tokens.VerifyRefresh(ctx, refreshToken)
	if err != nil {
		return nil, apperr.Authentication("Invalid or expired token").WithCause(err)
	}
	span.SetAttributes(attribute.String("user.id", claims.UserID()))

	profile, err := repo.GetProfile(ctx, s.DB, claims.UserID())
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, dbErr(err, "Profile")
		}
		profile = &domain.UserProfile{ID: claims.UserID(), Email: claims.Email, Role: string(domain.ParseRole(claims.Role))}
	}
	return s.issue(ctx, profile)
}

func (s *AuthService) issue(ctx context.Context, p *domain.UserProfile) (*Session, error) {
	pair, err := s.Tokens.Issue(ctx, identity.Identity{ID: p.ID, Email: p.Email, Role: p.Role})
	if err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
		return nil, apperr.Internal("Could not issue token", err)
	}
	return &Session{TokenPair: pair, User: p}, nil
}

func (s *AuthService) cost() int {
	if s.Cost < bcrypt.MinCost {
		return bcrypt.DefaultCost
	}
	return s.Cost
}

func (s *AuthService) dummyHash() []byte {
	s.dummyOnce.Do(func() {
		s.dummy, _ = bcrypt.GenerateFromPassword([]byte("bookshelvz-dummy-password"), s.cost())
	})
	return s.dummy
}

func normalizeEmail(e string) string { return strings.ToLower(strings.TrimSpace(e)) }
