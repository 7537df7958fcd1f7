package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/dayfeel/auth/internal/hash"
	"github.com/dayfeel/auth/internal/logging"
	"github.com/dayfeel/auth/internal/models"
	"github.com/dayfeel/auth/internal/repo"
	"github.com/dayfeel/auth/internal/tokens"
)

// EventPublisher pushes auth events to the event stream. Best-effort:
// a failed publish is logged and never fails the request.
type EventPublisher interface {
	PublishEvent(ctx context.Context, key string, event any) error
}

// AuditRecorder writes one audit document per auth operation.
// Best-effort, same as EventPublisher.
type AuditRecorder interface {
	Record(ctx context.Context, event string, fields map[string]any) error
}

type AuthService struct {
	Repo   *repo.GormRepo
	Codec  *tokens.Codec
	Events EventPublisher
	Audit  AuditRecorder
}

// TokenPair is what Login and Refresh hand back to the transport layer.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	User         *models.User
}

func (s *AuthService) now() time.Time {
	if s.Codec != nil && s.Codec.Now != nil {
		return s.Codec.Now()
	}
	return time.Now().UTC()
}

func (s *AuthService) Register(ctx context.Context, email, password, name string) (*models.User, error) {
	l := logging.FromContext(ctx).With("svc", "auth.register")

	pwHash, err := hash.HashPassword(password)
	if err != nil {
		l.Error("register_failed", "reason", "cannot hash password", "error", err)
		return nil, err
	}

	user := &models.User{
		Email:        email,
		PasswordHash: pwHash,
		Name:         name,
		Role:         models.RoleUser,
	}
	if err := s.Repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repo.ErrAlreadyExists) {
			l.Warn("register_failed", "status", 409, "reason", "email already registered")
		} else {
			l.Error("register_failed", "error", err)
		}
		return nil, err
	}

	s.publish(ctx, user.Email, map[string]any{"type": "user_registered", "user_id": user.ID, "email": user.Email})
	s.record(ctx, "user_registered", map[string]any{"user_id": user.ID, "email": user.Email})

	l.Info("register_successful", "user_id", user.ID)
	return user, nil
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	l := logging.FromContext(ctx).With("svc", "auth.login")

	var pair *TokenPair
	err := s.Repo.Transaction(ctx, func(tx *repo.GormRepo) error {
		user, err := tx.GetUserByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				// Same failure as a bad password so the response does
				// not reveal whether the email exists.
				return invalidCredentials()
			}
			return err
		}

		if !hash.CheckPassword(user.PasswordHash, password) {
			return invalidCredentials()
		}

		now := s.now()
		if err := tx.UpdateLastLogin(ctx, user.ID, now); err != nil {
			return err
		}
		user.LastLogin = &now

		pair, err = s.issuePair(ctx, tx, user)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			l.Warn("login_failed", "status", 401, "reason", "invalid credentials")
		} else {
			l.Error("login_failed", "error", err)
		}
		return nil, err
	}

	s.publish(ctx, pair.User.Email, map[string]any{"type": "user_login", "user_id": pair.User.ID})
	s.record(ctx, "user_login", map[string]any{"user_id": pair.User.ID, "email": pair.User.Email})

	l.Info("login_successful", "user_id", pair.User.ID)
	return pair, nil
}

// Refresh consumes the presented refresh token and issues a new pair.
// Refresh tokens are single-use: the presented session is revoked before
// the new one is created, inside the same transaction.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	l := logging.FromContext(ctx).With("svc", "auth.refresh")

	claims, err := s.Codec.DecodeRefresh(refreshToken)
	if err != nil {
		l.Warn("refresh_failed", "status", 401, "reason", "invalid token", "error", err)
		return nil, unauthorized("invalid refresh token")
	}

	userID, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil {
		l.Warn("refresh_failed", "status", 401, "reason", "malformed subject")
		return nil, unauthorized("invalid refresh token")
	}

	var pair *TokenPair
	err = s.Repo.Transaction(ctx, func(tx *repo.GormRepo) error {
		session, err := tx.FindSessionByJTI(ctx, claims.ID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return unauthorized("refresh token not recognized")
			}
			return err
		}

		if session.Revoked {
			return unauthorized("refresh token revoked")
		}
		if !s.now().Before(session.ExpiresAt) {
			return unauthorized("refresh token expired")
		}

		consumed, err := tx.ConsumeSession(ctx, claims.ID)
		if err != nil {
			return err
		}
		if !consumed {
			// Lost the race to a concurrent refresh of the same token.
			return unauthorized("refresh token revoked")
		}

		user, err := tx.GetUserByID(ctx, uint(userID))
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return unauthorized("user not found")
			}
			return err
		}

		pair, err = s.issuePair(ctx, tx, user)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			l.Warn("refresh_failed", "status", 401, "reason", err.Error())
		} else {
			l.Error("refresh_failed", "error", err)
		}
		return nil, err
	}

	s.record(ctx, "token_refreshed", map[string]any{"user_id": pair.User.ID})

	l.Info("refresh_successful", "user_id", pair.User.ID)
	return pair, nil
}

// PurgeExpiredSessions is the maintenance sweep an external scheduler
// triggers through the admin surface.
func (s *AuthService) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	l := logging.FromContext(ctx).With("svc", "auth.purge_sessions")

	deleted, err := s.Repo.PurgeExpired(ctx, s.now())
	if err != nil {
		l.Error("purge_failed", "error", err)
		return 0, err
	}

	l.Info("purge_successful", "deleted", deleted)
	return deleted, nil
}

func (s *AuthService) issuePair(ctx context.Context, tx *repo.GormRepo, user *models.User) (*TokenPair, error) {
	accessToken, _, err := s.Codec.IssueAccess(user)
	if err != nil {
		return nil, err
	}

	refreshToken, refreshClaims, err := s.Codec.IssueRefresh(user.ID)
	if err != nil {
		return nil, err
	}

	session := &models.AuthSession{
		UserID:    user.ID,
		JTI:       refreshClaims.ID,
		ExpiresAt: refreshClaims.ExpiresAt.Time,
	}
	if err := tx.InsertSession(ctx, session); err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.Codec.AccessTTL.Seconds()),
		User:         user,
	}, nil
}

func (s *AuthService) publish(ctx context.Context, key string, event map[string]any) {
	if s.Events == nil {
		return
	}
	if err := s.Events.PublishEvent(ctx, key, event); err != nil {
		logging.FromContext(ctx).Warn("event_publish_failed", "error", err)
	}
}

func (s *AuthService) record(ctx context.Context, event string, fields map[string]any) {
	if s.Audit == nil {
		return
	}
	if err := s.Audit.Record(ctx, event, fields); err != nil {
		logging.FromContext(ctx).Warn("audit_record_failed", "error", err)
	}
}
