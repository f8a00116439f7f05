package identity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/iggydv12/hubsim/internal/identity"
)

func TestSequential(t *testing.T) {
	assert.Equal(t, identity.PeerID("u_000"), identity.Sequential(0))
	assert.Equal(t, identity.PeerID("u_042"), identity.Sequential(42))
	assert.Equal(t, identity.PeerID("u_1234"), identity.Sequential(1234))
}

func TestNoneString(t *testing.T) {
	assert.True(t, identity.None.IsNone())
	assert.Equal(t, "none", identity.None.String())
	assert.Equal(t, "u_001", identity.Sequential(1).String())
}
