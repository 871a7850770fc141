// Package auth verifies the bearer tokens presented on the approval
// endpoint. Approval is a production mutation by a human; the verified
// subject becomes the approver on the ApprovalRecord.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type Verifier struct {
	secret        []byte
	requiredScope string
}

func NewVerifier(hmacSecret string, requiredScope string) (*Verifier, error) {
	if hmacSecret == "" {
		return nil, fmt.Errorf("approval hmac secret required")
	}
	return &Verifier{secret: []byte(hmacSecret), requiredScope: requiredScope}, nil
}

// VerifyRequest validates the Authorization bearer token and returns the
// subject claim as the approver identity.
func (v *Verifier) VerifyRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", errors.New("authentication required: bearer token")
	}
	return v.VerifyToken(strings.TrimPrefix(authHeader, "Bearer "))
}

func (v *Verifier) VerifyToken(tokenStr string) (string, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("token parse error: %w", err)
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}
	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return "", errors.New("token missing subject")
	}

	if v.requiredScope != "" {
		if !hasScope(claims, v.requiredScope) {
			return "", fmt.Errorf("missing required scope %q", v.requiredScope)
		}
	}
	return subject, nil
}

func hasScope(claims jwt.MapClaims, scope string) bool {
	if s, ok := claims["scope"].(string); ok {
		for _, part := range strings.Fields(s) {
			if part == scope {
				return true
			}
		}
	}
	if roles, ok := claims["roles"].([]interface{}); ok {
		for _, r := range roles {
			if s, ok := r.(string); ok && s == scope {
				return true
			}
		}
	}
	return false
}
