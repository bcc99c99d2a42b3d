package livekit

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
)

var ErrTokenExpired = errors.New("livekit token expired")

// TokenInfo is what the recorder reads from an access token without
// verifying it. The server does the verification.
type TokenInfo struct {
	Identity  string
	Room      string
	ExpiresAt time.Time
}

func InspectToken(token string, now time.Time) (TokenInfo, error) {
	claims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(token, claims); err != nil {
		return TokenInfo{}, fmt.Errorf("parse token: %w", err)
	}

	var info TokenInfo
	if sub, ok := claims["sub"].(string); ok {
		info.Identity = sub
	}
	if video, ok := claims["video"].(map[string]any); ok {
		if room, ok := video["room"].(string); ok {
			info.Room = room
		}
	}
	if exp, ok := claims["exp"].(float64); ok {
		info.ExpiresAt = time.Unix(int64(exp), 0)
		if !now.Before(info.ExpiresAt) {
			return info, fmt.Errorf("%w at %s", ErrTokenExpired, info.ExpiresAt.UTC().Format(time.RFC3339))
		}
	}
	return info, nil
}

// Signer выпускает HS256 токены доступа для записи.
type Signer struct {
	apiKey    string
	apiSecret string
	ttl       time.Duration
	clockSkew time.Duration
}

func NewSigner(apiKey, apiSecret string, ttl, clockSkew time.Duration) *Signer {
	return &Signer{apiKey: apiKey, apiSecret: apiSecret, ttl: ttl, clockSkew: clockSkew}
}

type videoGrant struct {
	Room           string `json:"room"`
	RoomJoin       bool   `json:"roomJoin"`
	CanPublish     bool   `json:"canPublish"`
	CanSubscribe   bool   `json:"canSubscribe"`
	CanPublishData bool   `json:"canPublishData"`
	Hidden         bool   `json:"hidden"`
	Recorder       bool   `json:"recorder"`
}

type accessClaims struct {
	jwt.StandardClaims
	Name  string     `json:"name,omitempty"`
	Video videoGrant `json:"video"`
}

// Sign issues a subscribe-only token. The recorder joins hidden so room
// clients never list it.
func (s *Signer) Sign(room, identity string, now time.Time) (string, error) {
	claims := accessClaims{
		StandardClaims: jwt.StandardClaims{
			Subject:   identity,
			Issuer:    s.apiKey,
			NotBefore: now.Add(-s.clockSkew).Unix(),
			ExpiresAt: now.Add(s.ttl).Unix(),
		},
		Name: identity,
		Video: videoGrant{
			Room:         room,
			RoomJoin:     true,
			CanSubscribe: true,
			Hidden:       true,
			Recorder:     true,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.apiSecret))
}
