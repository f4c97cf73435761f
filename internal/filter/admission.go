package filter

import (
	"errors"
	"strings"

	"uiroute/internal/event"
)

var (
	ErrMalformed    = errors.New("malformed notification")
	ErrNoPackage    = errors.New("notification has no package")
	ErrTypeDisabled = errors.New("event type disabled")
	ErrNotAllowed   = errors.New("package not in allow list")
)

// Admit checks n against the policy. It returns nil when n may proceed.
// The returned errors are package sentinels; Admit never allocates.
func Admit(p *Policy, n *event.Notification) error {
	if !n.Type.Valid() {
		return ErrMalformed
	}
	if strings.TrimSpace(n.Package) == "" {
		return ErrNoPackage
	}
	if p.Disabled[n.Type] {
		return ErrTypeDisabled
	}
	if !p.Allowed(n.Package) {
		return ErrNotAllowed
	}
	return nil
}
