package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// RoomTokenManager mints and verifies the short-lived tokens the media
// engine requires on channel join. A token binds one media uid to one
// channel; it is requested right before the join, never cached across
// rounds.

type RoomTokenManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

func NewRoomTokenManager(secret, issuer string, ttl time.Duration) (*RoomTokenManager, error) {
	if secret == "" {
		return nil, errors.New("auth: token secret is required")
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RoomTokenManager{secret: []byte(secret), issuer: issuer, ttl: ttl}, nil
}

// RoomClaims carries the identity the media engine authorizes.
type RoomClaims struct {
	UID     string `json:"uid"`
	Channel string `json:"channel"`
	jwt.RegisteredClaims
}

func (m *RoomTokenManager) Issue(now time.Time, uid, channel string) (string, error) {
	if uid == "" || channel == "" {
		return "", errors.New("auth: uid and channel are required")
	}
	claims := RoomClaims{
		UID:     uid,
		Channel: channel,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    m.issuer,
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

func (m *RoomTokenManager) Verify(tokenString string, now time.Time) (RoomClaims, error) {
	var claims RoomClaims

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	token, err := parser.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil {
		return RoomClaims{}, fmt.Errorf("auth: token invalid: %w", err)
	}
	if !token.Valid {
		return RoomClaims{}, errors.New("auth: token invalid")
	}
	if m.issuer != "" && claims.Issuer != m.issuer {
		return RoomClaims{}, errors.New("auth: unexpected issuer")
	}
	if claims.UID == "" || claims.Channel == "" {
		return RoomClaims{}, errors.New("auth: incomplete claims")
	}
	return claims, nil
}
