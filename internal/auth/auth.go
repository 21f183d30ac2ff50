// Package auth verifies callers and answers permission questions for the
// engine. Three providers share one role model: wallet signatures, session
// tokens and a trusted local mode for the CLI.
package auth

import (
	"context"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
)

// Action is a permission the engine asks about.
type Action string

const (
	// ActionUse covers policyholder, voter and capital provider operations.
	ActionUse Action = "use"
	// ActionAdmin covers program, product and maintenance operations.
	ActionAdmin Action = "admin"
	// ActionArbitrate covers deciding arbitrated and disputed claims.
	ActionArbitrate Action = "arbitrate"
)

// Role names accepted in tokens and configuration.
const (
	RoleAdmin      = "admin"
	RoleArbitrator = "arbitrator"
)

// ErrInvalidCredential is returned when a credential is malformed.
var ErrInvalidCredential = eris.New("auth: invalid credential")

// Credential is what a caller presents with a request.
type Credential struct {
	Identity  string `json:"identity"`
	Signature string `json:"signature,omitempty"`
	Message   string `json:"message,omitempty"`
	Token     string `json:"token,omitempty"`
}

// Provider authenticates callers.
type Provider interface {
	// VerifyCaller returns the identity cred proves, in the provider's
	// canonical form, or "" when it does not verify. Callers must key all
	// state by the returned identity, never by cred.Identity.
	VerifyCaller(ctx context.Context, cred Credential) (string, error)
	// Permission reports whether identity may perform a.
	Permission(ctx context.Context, identity string, a Action) bool
}

// Roles maps identities to elevated roles.
type Roles struct {
	Admins      []string `yaml:"admins" mapstructure:"admins"`
	Arbitrators []string `yaml:"arbitrators" mapstructure:"arbitrators"`
}

func contains(list []string, identity string) bool {
	return slices.ContainsFunc(list, func(s string) bool { return strings.EqualFold(s, identity) })
}

// Allows reports whether identity holds the role a requires.
func (r Roles) Allows(identity string, a Action) bool {
	switch a {
	case ActionUse:
		return identity != ""
	case ActionAdmin:
		return contains(r.Admins, identity)
	case ActionArbitrate:
		return contains(r.Arbitrators, identity) || contains(r.Admins, identity)
	}
	return false
}

// allowsRoles answers a for a caller holding the named roles.
func allowsRoles(roles []string, a Action) bool {
	switch a {
	case ActionUse:
		return true
	case ActionAdmin:
		return slices.Contains(roles, RoleAdmin)
	case ActionArbitrate:
		return slices.Contains(roles, RoleArbitrator) || slices.Contains(roles, RoleAdmin)
	}
	return false
}

// Trusted accepts any non-empty identity. It backs the local CLI, where the
// operator already controls the database.
type Trusted struct {
	Roles Roles
}

// NewTrusted returns a trusted provider with the given roles.
func NewTrusted(roles Roles) *Trusted {
	return &Trusted{Roles: roles}
}

func (p *Trusted) VerifyCaller(_ context.Context, cred Credential) (string, error) {
	return strings.TrimSpace(cred.Identity), nil
}

func (p *Trusted) Permission(_ context.Context, identity string, a Action) bool {
	return p.Roles.Allows(identity, a)
}
