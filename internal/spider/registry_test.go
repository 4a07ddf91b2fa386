package spider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry_LoadsEmbeddedCatalogs(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	cfg, ok := reg.Get("sp_sao_paulo")
	require.True(t, ok)
	assert.Equal(t, "city_listing", cfg.SpiderType)
	assert.Equal(t, ScopeCity, cfg.GazetteScope)

	cfg, ok = reg.Get("sp_state")
	require.True(t, ok)
	assert.Equal(t, "state_listing", cfg.SpiderType)
	assert.Equal(t, ScopeState, cfg.GazetteScope)

	_, ok = reg.Get("does-not-exist")
	assert.False(t, ok)
}

func TestRegistry_Resolve_FiltersByTerritoryAndScope(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	cfgs := reg.Resolve([]string{"3550308"}, "")
	require.Len(t, cfgs, 1)
	assert.Equal(t, "sp_sao_paulo", cfgs[0].ID)

	all := reg.Resolve(nil, ScopeState)
	for _, c := range all {
		assert.Equal(t, ScopeState, c.GazetteScope)
	}
	assert.NotEmpty(t, all)
}

func TestNew_UnknownSpiderType(t *testing.T) {
	_, err := New(Config{ID: "x", SpiderType: "does-not-exist"})
	assert.Error(t, err)
}

func TestNew_CityListingRequiresBaseURL(t *testing.T) {
	_, err := New(Config{ID: "x", SpiderType: "city_listing"})
	assert.Error(t, err)
}
