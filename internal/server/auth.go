package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	logx "github.com/Chative-whatsapp-agent/server/pkg/logger"
)

const tokenIssuer = "whatsapp-agent"

type contextKey string

const principalKey contextKey = "principal"

// Claims are carried by admin API tokens.
type Claims struct {
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// NewAccessToken signs a token for subject valid for expiration.
func NewAccessToken(subject, secret string, expiration time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Permissions: []string{"admin"},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiration)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func parseAccessToken(tokenString, secret string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// PrincipalFromContext returns who authenticated the request.
func PrincipalFromContext(ctx context.Context) (string, bool) {
	p, ok := ctx.Value(principalKey).(string)
	return p, ok
}

// matchAPIKey compares in constant time and returns the key's index.
func matchAPIKey(keys []string, candidate string) (int, bool) {
	if candidate == "" {
		return -1, false
	}
	for i, k := range keys {
		if k != "" && subtle.ConstantTimeCompare([]byte(k), []byte(candidate)) == 1 {
			return i, true
		}
	}
	return -1, false
}

// authMiddleware accepts a configured API key (Bearer or X-API-Key) or a JWT
// signed with the configured secret.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sec := s.cfg.Security
		if len(sec.APIKeys) == 0 && sec.JWTSecret == "" {
			respondMessage(w, http.StatusUnauthorized, "API authentication is not configured")
			return
		}

		credential := strings.TrimSpace(r.Header.Get("X-API-Key"))
		if credential == "" {
			scheme, value, ok := strings.Cut(r.Header.Get("Authorization"), " ")
			if !ok || !strings.EqualFold(scheme, "bearer") {
				respondMessage(w, http.StatusUnauthorized, "Authorization header required")
				return
			}
			credential = strings.TrimSpace(value)
		}

		if i, ok := matchAPIKey(sec.APIKeys, credential); ok {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, fmt.Sprintf("api-key:%d", i))))
			return
		}

		if sec.JWTSecret != "" {
			claims, err := parseAccessToken(credential, sec.JWTSecret)
			if err == nil {
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, claims.Subject)))
				return
			}
			logx.Debug().Err(err).Msg("Token rejected")
			if errors.Is(err, jwt.ErrTokenExpired) {
				respondMessage(w, http.StatusUnauthorized, "Token has expired")
				return
			}
		}
		respondMessage(w, http.StatusUnauthorized, "Invalid credentials")
	})
}

type tokenRequest struct {
	APIKey string `json:"api_key"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	sec := s.cfg.Security
	if sec.JWTSecret == "" {
		respondMessage(w, http.StatusNotImplemented, "token issuance is not configured")
		return
	}

	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	i, ok := matchAPIKey(sec.APIKeys, strings.TrimSpace(req.APIKey))
	if !ok {
		respondMessage(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token, err := NewAccessToken(fmt.Sprintf("api-key:%d", i), sec.JWTSecret, sec.JWTExpiration)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(sec.JWTExpiration.Seconds()),
	})
}

// verifySignature checks an HMAC-SHA256 hex digest of body, with or without a "sha256=" prefix.
func verifySignature(body []byte, header, secret string) bool {
	header = strings.TrimSpace(header)
	if header == "" || secret == "" {
		return false
	}
	if algo, sig, ok := strings.Cut(header, "="); ok {
		if !strings.EqualFold(algo, "sha256") {
			return false
		}
		header = sig
	}
	got, err := hex.DecodeString(header)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
