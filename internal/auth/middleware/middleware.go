package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mind-engage/mindengage-checkpoint/internal/rbac"
)

type AuthService struct {
	hmac   []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewAuthService(secret, issuer string) *AuthService {
	return &AuthService{hmac: []byte(secret), issuer: issuer, ttl: 8 * time.Hour, now: time.Now}
}

type Claims struct {
	Sub  string `json:"sub"`
	Role string `json:"role"` // learner|mentor|operator|admin
	jwt.RegisteredClaims
}

func (a *AuthService) IssueJWT(sub, role string) (string, error) {
	now := a.now()
	claims := &Claims{
		Sub:  sub,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(a.hmac)
}

func (a *AuthService) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return a.hmac, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, err
	}
	c, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || c.Sub == "" {
		return nil, errors.New("invalid claims")
	}
	return c, nil
}

// Verifier checks a learner's identity proof.
type Verifier interface {
	Verify(ctx context.Context, userID, proof string) (bool, error)
}

// LoginHandler exchanges a learner PIN for a token.
// POST /auth/login {"user_id": "...", "pin": "..."}
// With dev logins enabled any role may be requested without a PIN.
func LoginHandler(a *AuthService, v Verifier, allowDev bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID string `json:"user_id"`
			PIN    string `json:"pin"`
			Role   string `json:"role"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		role := rbac.RoleLearner
		switch {
		case allowDev && req.PIN == "":
			if req.Role != "" {
				role = req.Role
			}
		default:
			ok, err := v.Verify(r.Context(), req.UserID, req.PIN)
			if err != nil {
				http.Error(w, "verify", http.StatusInternalServerError)
				return
			}
			if !ok {
				http.Error(w, "invalid credentials", http.StatusUnauthorized)
				return
			}
		}
		tok, err := a.IssueJWT(req.UserID, role)
		if err != nil {
			http.Error(w, "issue token", 500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": tok, "role": role})
	}
}

// JWTMiddleware puts the token subject and role in the request context.
// With allowDev, requests without a bearer token may name themselves with
// X-User-ID and X-User-Role.
func JWTMiddleware(a *AuthService, allowDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if !strings.HasPrefix(h, "Bearer ") {
				if sub := r.Header.Get("X-User-ID"); allowDev && sub != "" {
					role := r.Header.Get("X-User-Role")
					if role == "" {
						role = rbac.RoleLearner
					}
					next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), sub, role)))
					return
				}
				http.Error(w, "missing bearer", http.StatusUnauthorized)
				return
			}
			c, err := a.Parse(strings.TrimPrefix(h, "Bearer "))
			if err != nil {
				http.Error(w, "bad token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), c.Sub, c.Role)))
		})
	}
}

type subjectKey struct{}

func withIdentity(ctx context.Context, sub, role string) context.Context {
	return rbac.WithRole(context.WithValue(ctx, subjectKey{}, sub), role)
}

// SubjectFromContext returns the verified user id, or "" when anonymous.
func SubjectFromContext(ctx context.Context) string {
	sub, _ := ctx.Value(subjectKey{}).(string)
	return sub
}
