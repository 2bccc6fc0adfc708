package feed

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/debridrelay/debridrelay/internal/errors"
)

const tokenIssuer = "debridrelay"

// Claims identify the chat whose events a feed connection receives.
type Claims struct {
	ChatID int64 `json:"chat_id"`
	jwt.RegisteredClaims
}

// Tokens issues and validates feed tokens.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokens(secret string, ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a signed token for chatID and its expiry.
func (t *Tokens) Issue(chatID int64) (string, time.Time, error) {
	now := t.now()
	expires := now.Add(t.ttl)
	claims := &Claims{
		ChatID: chatID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(chatID, 10),
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, apperrors.InternalError("failed to sign feed token").WithCause(err)
	}
	return signed, expires, nil
}

// Validate returns the claims of a valid token, TOKEN_EXPIRED for an
// expired one and UNAUTHORIZED otherwise.
func (t *Tokens) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return t.secret, nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperrors.TokenExpired()
		}
		return nil, apperrors.Unauthorized("invalid feed token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apperrors.Unauthorized("invalid feed token")
	}
	return claims, nil
}
