package domain

import (
	"bytes"
	"fmt"
	"slices"
)

// Capability es un permiso que se concede a identidades concretas.
type Capability string

const (
	CapAdmin     Capability = "ADMIN"
	CapModerator Capability = "MODERATOR"
	CapTreasury  Capability = "TREASURY"
)

// ParseCapability valida el nombre de un permiso.
func ParseCapability(s string) (Capability, error) {
	switch c := Capability(s); c {
	case CapAdmin, CapModerator, CapTreasury:
		return c, nil
	default:
		return "", fmt.Errorf("%w: unknown capability %q", ErrInvalidParams, s)
	}
}

// AccessControl es un conjunto de miembros por permiso.
type AccessControl struct {
	members map[Capability]map[Identity]struct{}
}

// NewAccessControl crea un AccessControl vacío.
func NewAccessControl() *AccessControl {
	return &AccessControl{members: make(map[Capability]map[Identity]struct{})}
}

// Has devuelve true si id tiene el permiso.
func (a *AccessControl) Has(id Identity, c Capability) bool {
	_, ok := a.members[c][id]
	return ok
}

// Require devuelve ErrUnauthorized si id no tiene el permiso.
func (a *AccessControl) Require(id Identity, c Capability) error {
	if !a.Has(id, c) {
		return fmt.Errorf("%w: %s lacks %s", ErrUnauthorized, id.Hex(), c)
	}
	return nil
}

// Grant concede el permiso. Devuelve false si ya lo tenía.
func (a *AccessControl) Grant(id Identity, c Capability) bool {
	set, ok := a.members[c]
	if !ok {
		set = make(map[Identity]struct{})
		a.members[c] = set
	}
	if _, had := set[id]; had {
		return false
	}
	set[id] = struct{}{}
	return true
}

// Revoke retira el permiso. Devuelve false si no lo tenía.
func (a *AccessControl) Revoke(id Identity, c Capability) bool {
	set := a.members[c]
	if _, had := set[id]; !had {
		return false
	}
	delete(set, id)
	return true
}

// Members devuelve los miembros de un permiso en orden estable.
func (a *AccessControl) Members(c Capability) []Identity {
	out := make([]Identity, 0, len(a.members[c]))
	for id := range a.members[c] {
		out = append(out, id)
	}
	slices.SortFunc(out, func(x, y Identity) int { return bytes.Compare(x[:], y[:]) })
	return out
}
