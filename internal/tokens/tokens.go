// Package tokens issues and validates the signed JWTs the auth protocol
// hands out. One symmetric secret, HS256 only.
package tokens

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dayfeel/auth/internal/models"
)

// ErrInvalidToken covers every decode failure: bad signature, wrong issuer,
// missing required claims, expiry. Callers never see the underlying reason
// beyond the wrapped message.
var ErrInvalidToken = errors.New("invalid token")

const expiryLeeway = 5 * time.Second

type AccessClaims struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

type RefreshClaims struct {
	jwt.RegisteredClaims
}

type Codec struct {
	Secret     []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Now overrides the clock in tests.
	Now func() time.Time
}

func (c *Codec) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}

// NewJTI returns a fresh token id. uuid v4 draws 122 bits from crypto/rand,
// which is what makes the jti safe to use as the sole revocation key.
func NewJTI() string { return uuid.NewString() }

func (c *Codec) IssueAccess(u *models.User) (string, *AccessClaims, error) {
	now := c.now()
	claims := &AccessClaims{
		Name:  u.Name,
		Email: u.Email,
		Role:  u.Role.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.Issuer,
			Subject:   strconv.FormatUint(uint64(u.ID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.AccessTTL)),
			ID:        NewJTI(),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.Secret)
	if err != nil {
		return "", nil, err
	}
	return token, claims, nil
}

func (c *Codec) IssueRefresh(userID uint) (string, *RefreshClaims, error) {
	now := c.now()
	claims := &RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.Issuer,
			Subject:   strconv.FormatUint(uint64(userID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.RefreshTTL)),
			ID:        NewJTI(),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.Secret)
	if err != nil {
		return "", nil, err
	}
	return token, claims, nil
}

func (c *Codec) DecodeAccess(tokenStr string) (*AccessClaims, error) {
	var claims AccessClaims
	if err := c.decode(tokenStr, &claims); err != nil {
		return nil, err
	}
	if err := requireClaims(&claims.RegisteredClaims); err != nil {
		return nil, err
	}
	return &claims, nil
}

func (c *Codec) DecodeRefresh(tokenStr string) (*RefreshClaims, error) {
	var claims RefreshClaims
	if err := c.decode(tokenStr, &claims); err != nil {
		return nil, err
	}
	if err := requireClaims(&claims.RegisteredClaims); err != nil {
		return nil, err
	}
	return &claims, nil
}

func (c *Codec) decode(tokenStr string, claims jwt.Claims) error {
	tkn, err := jwt.ParseWithClaims(tokenStr, claims,
		func(t *jwt.Token) (any, error) { return c.Secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.Issuer),
		jwt.WithLeeway(expiryLeeway),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidToken, err)
	}
	if !tkn.Valid {
		return ErrInvalidToken
	}
	return nil
}

// requireClaims enforces presence of exp, iat, jti and a non-empty sub;
// the parser only validates the time claims it finds.
func requireClaims(rc *jwt.RegisteredClaims) error {
	switch {
	case rc.ExpiresAt == nil:
		return fmt.Errorf("%w: missing exp claim", ErrInvalidToken)
	case rc.IssuedAt == nil:
		return fmt.Errorf("%w: missing iat claim", ErrInvalidToken)
	case rc.ID == "":
		return fmt.Errorf("%w: missing jti claim", ErrInvalidToken)
	case rc.Subject == "":
		return fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}
	return nil
}
