package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/config"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/errdefs"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/types"
)

func mockPricing() map[string]config.ModelPricing {
	return map[string]config.ModelPricing{
		"mock-large": {InputPerMTok: 3.0, OutputPerMTok: 15.0},
		"mock-small": {InputPerMTok: 0.25, OutputPerMTok: 1.25},
	}
}

func TestMockDeterministicContent(t *testing.T) {
	m := NewMockAdapter("mock", mockPricing())

	req := CallRequest{
		Model:    "mock-large",
		Messages: []types.Message{{Role: "user", Content: "build a todo app"}},
	}

	r1, err := m.Call(context.Background(), req)
	require.NoError(t, err)
	r2, err := m.Call(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, r1.Content, r2.Content)
	assert.Positive(t, r1.InputTokens)
	assert.Positive(t, r1.OutputTokens)
	assert.Len(t, m.Calls(), 2)
}

func TestMockScript(t *testing.T) {
	m := NewMockAdapter("mock", mockPricing())

	m.Enqueue(`{"scripted":1}`, nil)
	m.Enqueue("", errdefs.New(errdefs.KindProviderTransient, "503"))

	r, err := m.Call(context.Background(), CallRequest{Model: "mock-large"})
	require.NoError(t, err)
	assert.Equal(t, `{"scripted":1}`, r.Content)

	_, err = m.Call(context.Background(), CallRequest{Model: "mock-large"})
	require.Error(t, err)
	assert.Equal(t, errdefs.KindProviderTransient, errdefs.KindOf(err))

	// Script exhausted, back to deterministic content.
	r, err = m.Call(context.Background(), CallRequest{Model: "mock-large"})
	require.NoError(t, err)
	assert.Contains(t, r.Content, `"mock":true`)
}

func TestMockCost(t *testing.T) {
	m := NewMockAdapter("mock", mockPricing())

	// 1M input at $3 + 1M output at $15.
	assert.InDelta(t, 18.0, m.Cost("mock-large", 1_000_000, 1_000_000), 1e-9)
	assert.Zero(t, m.Cost("unknown-model", 1000, 1000))
}

func TestMockStream(t *testing.T) {
	m := NewMockAdapter("mock", mockPricing())
	m.Enqueue("chunked content", nil)

	var got string
	r, err := m.Stream(context.Background(), CallRequest{Model: "mock-large"}, func(chunk string) error {
		got += chunk
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "chunked content", got)
	assert.Equal(t, "chunked content", r.Content)
}

func newTestRegistry(t *testing.T) (*Registry, *MockAdapter) {
	t.Helper()
	roles := map[string]config.RoleConfig{
		"clarifier": {Provider: "mock", Model: "mock-large"},
		"code-generator": {
			Provider: "mock",
			Model:    "mock-large",
			Fallbacks: []config.ProviderModel{
				{Provider: "mock", Model: "mock-small"},
			},
		},
		"orphan": {Provider: "missing", Model: "nope"},
	}
	r := NewRegistry(roles)
	m := NewMockAdapter("mock", mockPricing())
	r.Register(m)
	return r, m
}

func TestRegistryValidate(t *testing.T) {
	r, _ := newTestRegistry(t)

	bad := r.Validate()
	assert.Equal(t, []string{"orphan"}, bad)

	assert.True(t, r.RoleResolvable("clarifier"))
	assert.True(t, r.RoleResolvable("code-generator"))
	assert.False(t, r.RoleResolvable("orphan"))
	assert.False(t, r.RoleResolvable("never-configured"))
}

func TestRegistryChain(t *testing.T) {
	r, _ := newTestRegistry(t)

	chain, err := r.Chain("code-generator")
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, "mock-large", chain[0].Model)
	assert.Equal(t, "mock-small", chain[1].Model)

	_, err = r.Chain("orphan")
	require.Error(t, err)
	assert.Equal(t, errdefs.KindProviderUnavailable, errdefs.KindOf(err))

	_, err = r.Chain("never-configured")
	require.Error(t, err)
	assert.Equal(t, errdefs.KindNotFound, errdefs.KindOf(err))
}

func TestRegistryGet(t *testing.T) {
	r, m := newTestRegistry(t)

	got, err := r.Get("mock")
	require.NoError(t, err)
	assert.Same(t, Adapter(m), got)

	_, err = r.Get("missing")
	require.Error(t, err)
	assert.Equal(t, errdefs.KindNotFound, errdefs.KindOf(err))

	assert.Equal(t, []string{"mock"}, r.Names())
}
