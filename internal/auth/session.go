package auth

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rotisserie/eris"
)

// SessionIssuer is the iss claim of session tokens.
const SessionIssuer = "shield"

// SessionClaims are the claims carried by a session token.
type SessionClaims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Session verifies HS256 session tokens whose subject is the caller's
// identity. Roles come from the token's roles claim and from configuration.
type Session struct {
	secret []byte
	roles  Roles

	mu      sync.RWMutex
	granted map[string][]string
}

// NewSession returns a session provider signing with secret.
func NewSession(secret string, roles Roles) (*Session, error) {
	if secret == "" {
		return nil, eris.New("session: secret is required")
	}
	return &Session{secret: []byte(secret), roles: roles, granted: make(map[string][]string)}, nil
}

// Issue signs a token for identity that expires after ttl.
func (s *Session) Issue(identity string, roles []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			Issuer:    SessionIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	return signed, eris.Wrap(err, "session: sign token")
}

// Parse validates a token and returns its claims.
func (s *Session) Parse(token string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, eris.Errorf("session: unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(SessionIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, eris.Wrap(ErrInvalidCredential, err.Error())
	}
	return claims, nil
}

func (s *Session) VerifyCaller(_ context.Context, cred Credential) (string, error) {
	if cred.Token == "" {
		return "", eris.Wrap(ErrInvalidCredential, "session: missing token")
	}
	claims, err := s.Parse(cred.Token)
	if err != nil {
		return "", nil
	}
	if claims.Subject == "" || claims.Subject != cred.Identity {
		return "", nil
	}
	s.mu.Lock()
	s.granted[claims.Subject] = claims.Roles
	s.mu.Unlock()
	return claims.Subject, nil
}

func (s *Session) Permission(_ context.Context, identity string, a Action) bool {
	if s.roles.Allows(identity, a) {
		return true
	}
	s.mu.RLock()
	roles, ok := s.granted[identity]
	s.mu.RUnlock()
	return ok && allowsRoles(roles, a)
}
