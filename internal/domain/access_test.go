package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessControl_GrantRevoke(t *testing.T) {
	ac := NewAccessControl()
	assert.False(t, ac.Has(alice, CapModerator))
	assert.ErrorIs(t, ac.Require(alice, CapModerator), ErrUnauthorized)

	assert.True(t, ac.Grant(alice, CapModerator))
	assert.False(t, ac.Grant(alice, CapModerator))
	require.NoError(t, ac.Require(alice, CapModerator))
	assert.False(t, ac.Has(alice, CapAdmin))

	assert.True(t, ac.Revoke(alice, CapModerator))
	assert.False(t, ac.Revoke(alice, CapModerator))
	assert.False(t, ac.Has(alice, CapModerator))
}

func TestAccessControl_MembersSorted(t *testing.T) {
	ac := NewAccessControl()
	ac.Grant(carol, CapAdmin)
	ac.Grant(alice, CapAdmin)
	ac.Grant(bob, CapAdmin)
	assert.Equal(t, []Identity{bob, alice, carol}, ac.Members(CapAdmin))
}

func TestParseCapability(t *testing.T) {
	c, err := ParseCapability("MODERATOR")
	require.NoError(t, err)
	assert.Equal(t, CapModerator, c)

	_, err = ParseCapability("root")
	assert.ErrorIs(t, err, ErrInvalidParams)
}
