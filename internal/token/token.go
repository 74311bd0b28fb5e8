// Package token mints and parses the stateless access and refresh tokens.
package token

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/taskhub-app/apiserver/config"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrMissingCookie = errors.New("missing refresh token cookie")
)

// Claims carries the account id under "_id" alongside the registered claims.
type Claims struct {
	AccountID string `json:"_id"`
	jwt.RegisteredClaims
}

// Issuer signs access and refresh tokens with separate HS256 secrets.
// Tokens are not persisted; logout only clears the client cookie.
type Issuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	cookieName    string
	cookiePath    string
	cookieSecure  bool
	now           func() time.Time
}

func NewIssuer(cfg config.AuthConfig) *Issuer {
	return &Issuer{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		cookieName:    cfg.RefreshCookieName,
		cookiePath:    cfg.RefreshCookiePath,
		cookieSecure:  cfg.CookieSecure,
		now:           time.Now,
	}
}

func (i *Issuer) CreateAccessToken(accountID string) (string, error) {
	return i.sign(accountID, i.accessSecret, i.accessTTL)
}

func (i *Issuer) CreateRefreshToken(accountID string) (string, error) {
	return i.sign(accountID, i.refreshSecret, i.refreshTTL)
}

func (i *Issuer) ParseAccessToken(tokenString string) (string, error) {
	return i.parse(tokenString, i.accessSecret)
}

func (i *Issuer) ParseRefreshToken(tokenString string) (string, error) {
	return i.parse(tokenString, i.refreshSecret)
}

// SetRefreshCookie writes the refresh token as an HTTP-only cookie scoped
// to the refresh path.
func (i *Issuer) SetRefreshCookie(w http.ResponseWriter, tokenString string) {
	http.SetCookie(w, &http.Cookie{
		Name:     i.cookieName,
		Value:    tokenString,
		Path:     i.cookiePath,
		MaxAge:   int(i.refreshTTL / time.Second),
		HttpOnly: true,
		Secure:   i.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearRefreshCookie expires the refresh cookie on the same path it was set.
func (i *Issuer) ClearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     i.cookieName,
		Value:    "",
		Path:     i.cookiePath,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   i.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// RefreshTokenFromRequest reads the refresh cookie.
func (i *Issuer) RefreshTokenFromRequest(r *http.Request) (string, error) {
	cookie, err := r.Cookie(i.cookieName)
	if err != nil || strings.TrimSpace(cookie.Value) == "" {
		return "", ErrMissingCookie
	}
	return cookie.Value, nil
}

func (i *Issuer) sign(accountID string, secret []byte, ttl time.Duration) (string, error) {
	now := i.now()
	claims := Claims{
		AccountID: accountID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func (i *Issuer) parse(tokenString string, secret []byte) (string, error) {
	claims := Claims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return secret, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}
	if strings.TrimSpace(claims.AccountID) == "" {
		return "", ErrInvalidToken
	}
	return claims.AccountID, nil
}
