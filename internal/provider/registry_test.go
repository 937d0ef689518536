package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_SimIsShared(t *testing.T) {
	r := NewRegistry()

	a, err := r.Resolve(context.Background(), "sim", "", "ap-south-1")
	require.NoError(t, err)
	b, err := r.Resolve(context.Background(), "sim", "other-profile", "eu-west-1")
	require.NoError(t, err)

	// One simulator serves every profile/region so deployed stacks are
	// visible to later operations.
	assert.Same(t, a, b)
}

func TestResolve_Unknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve(context.Background(), "azure", "", "")
	assert.ErrorContains(t, err, "unknown provider")
}

func TestSource_BindsName(t *testing.T) {
	r := NewRegistry()
	src := NewSource(r, "sim")

	p, err := src.Provider(context.Background(), "qa", "eu-west-1")
	require.NoError(t, err)
	assert.NotNil(t, p.Stacks())
}
