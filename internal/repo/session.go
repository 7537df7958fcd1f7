package repo

import (
	"context"
	"time"

	"github.com/dayfeel/auth/internal/models"
)

func (r *GormRepo) InsertSession(ctx context.Context, s *models.AuthSession) error {
	if err := r.DB.WithContext(ctx).Create(s).Error; err != nil {
		return wrap(err, ErrConflict)
	}
	return nil
}

func (r *GormRepo) FindSessionByJTI(ctx context.Context, jti string) (*models.AuthSession, error) {
	var session models.AuthSession
	if err := r.DB.WithContext(ctx).Where("jti = ?", jti).First(&session).Error; err != nil {
		return nil, wrap(err, ErrUnavailable)
	}
	return &session, nil
}

// RevokeSession flips the revoked flag. Idempotent, no-op when the jti
// is unknown.
func (r *GormRepo) RevokeSession(ctx context.Context, jti string) error {
	err := r.DB.WithContext(ctx).Model(&models.AuthSession{}).
		Where("jti = ?", jti).
		Update("revoked", true).Error
	return wrap(err, ErrUnavailable)
}

// ConsumeSession revokes the session only if it is still live. The
// revoked = false guard makes concurrent consumers of the same jti
// serialize on the row: exactly one caller sees true.
func (r *GormRepo) ConsumeSession(ctx context.Context, jti string) (bool, error) {
	res := r.DB.WithContext(ctx).Model(&models.AuthSession{}).
		Where("jti = ? AND revoked = ?", jti, false).
		Update("revoked", true)
	if res.Error != nil {
		return false, wrap(res.Error, ErrUnavailable)
	}
	return res.RowsAffected > 0, nil
}

// PurgeExpired deletes sessions past their expiry and reports how many
// went. Maintenance path only, never called during Login/Refresh.
func (r *GormRepo) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.DB.WithContext(ctx).
		Where("expires_at < ?", now).
		Delete(&models.AuthSession{})
	if res.Error != nil {
		return 0, wrap(res.Error, ErrUnavailable)
	}
	return res.RowsAffected, nil
}
