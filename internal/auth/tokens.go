package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	accessTTL   = time.Hour
	refreshTTL  = 7 * 24 * time.Hour
	tokenIssuer = "kb-search-platform"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenRevoked = errors.New("token revoked or expired")
)

// TokenPair is an access/refresh token set as returned to clients.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	AccessExp    time.Time `json:"access_exp"`
	RefreshExp   time.Time `json:"refresh_exp"`
}

// Claims carries the authenticated identity through a request. TenantID
// scopes every downstream read and write to the caller's knowledge base.
type Claims struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

var (
	secretsOnce   sync.Once
	accessSecret  []byte
	refreshSecret []byte
	secretsErr    error
)

// secrets loads the signing keys once per process. Failing here disables
// every auth endpoint, which beats running with weak keys.
func secrets() (access, refresh []byte, err error) {
	secretsOnce.Do(func() {
		a := os.Getenv("ACCESS_SECRET")
		r := os.Getenv("REFRESH_SECRET")
		if len(a) < 32 || len(r) < 32 {
			secretsErr = fmt.Errorf("ACCESS_SECRET and REFRESH_SECRET must be configured and at least 32 characters")
			return
		}
		accessSecret = []byte(a)
		refreshSecret = []byte(r)
	})
	return accessSecret, refreshSecret, secretsErr
}

// IssueTokenPair mints an access/refresh pair and registers both JTIs in
// Redis. A token whose JTI is gone from Redis is dead even if its
// signature still verifies, which is what logout relies on.
func IssueTokenPair(ctx context.Context, userID, tenantID, role string, rdb *redis.Client) (*TokenPair, error) {
	access, refresh, err := secrets()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	pair := &TokenPair{
		AccessExp:  now.Add(accessTTL),
		RefreshExp: now.Add(refreshTTL),
	}

	accessClaims := newClaims(userID, tenantID, role, now, pair.AccessExp)
	refreshClaims := newClaims(userID, tenantID, role, now, pair.RefreshExp)

	if pair.AccessToken, err = sign(accessClaims, access); err != nil {
		return nil, err
	}
	if pair.RefreshToken, err = sign(refreshClaims, refresh); err != nil {
		return nil, err
	}

	pipe := rdb.Pipeline()
	pipe.Set(ctx, "access:"+accessClaims.ID, userID, accessTTL)
	pipe.Set(ctx, "refresh:"+refreshClaims.ID, userID, refreshTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	return pair, nil
}

func newClaims(userID, tenantID, role string, now, exp time.Time) Claims {
	return Claims{
		UserID:   userID,
		TenantID: tenantID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
	}
}

func sign(claims Claims, secret []byte) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ValidateAccessToken checks signature, expiry and revocation.
func ValidateAccessToken(ctx context.Context, tokenString string, rdb *redis.Client) (*Claims, error) {
	access, _, err := secrets()
	if err != nil {
		return nil, err
	}
	return validate(ctx, tokenString, access, "access:", rdb)
}

// ValidateRefreshToken checks signature, expiry and revocation.
func ValidateRefreshToken(ctx context.Context, tokenString string, rdb *redis.Client) (*Claims, error) {
	_, refresh, err := secrets()
	if err != nil {
		return nil, err
	}
	return validate(ctx, tokenString, refresh, "refresh:", rdb)
}

func validate(ctx context.Context, tokenString string, secret []byte, prefix string, rdb *redis.Client) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		// Reject anything but HMAC to rule out algorithm confusion.
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	exists, err := rdb.Exists(ctx, prefix+claims.ID).Result()
	if err != nil || exists != 1 {
		return nil, ErrTokenRevoked
	}

	return claims, nil
}

// RevokeToken drops one JTI, killing that token immediately.
func RevokeToken(ctx context.Context, jti string, isRefresh bool, rdb *redis.Client) error {
	prefix := "access:"
	if isRefresh {
		prefix = "refresh:"
	}
	return rdb.Del(ctx, prefix+jti).Err()
}

// RevokeAllUserTokens walks both keyspaces and drops every token owned
// by the user. Used when an account is disabled.
func RevokeAllUserTokens(ctx context.Context, userID string, rdb *redis.Client) error {
	pipe := rdb.Pipeline()

	for _, pattern := range []string{"access:*", "refresh:*"} {
		iter := rdb.Scan(ctx, 0, pattern, 0).Iterator()
		for iter.Next(ctx) {
			key := iter.Val()
			if owner, _ := rdb.Get(ctx, key).Result(); owner == userID {
				pipe.Del(ctx, key)
			}
		}
		if err := iter.Err(); err != nil {
			return err
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}
