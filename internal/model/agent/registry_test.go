package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedRegistryResolvesBySlashCaseInsensitive(t *testing.T) {
	r := MustSeedRegistry()

	cfg, ok := r.ResolveBySlash("mycarmindato/driver")
	require.True(t, ok)
	assert.Equal(t, "mycarmindato-driver", cfg.ID)
	assert.True(t, cfg.IsSubroute())
	assert.Equal(t, "MyCarMindATO", cfg.TopSegment())
	assert.Equal(t, ProjectMyCarMindATO, cfg.Project())
}

func TestRegistryDoesNotInferHierarchy(t *testing.T) {
	r := MustSeedRegistry()

	_, ok := r.ResolveBySlash("MyCarMindATO/Driver/Extra")
	assert.False(t, ok)
}

func TestResolveFallsBackToDefault(t *testing.T) {
	r := MustSeedRegistry()

	assert.Equal(t, DefaultID, Resolve(r, "").ID)
	assert.Equal(t, DefaultID, Resolve(r, "missing").ID)
	assert.Equal(t, "namc", Resolve(r, "namc").ID)
}

func TestRegistryReturnsCopies(t *testing.T) {
	r := MustSeedRegistry()

	cfg, _ := r.ResolveByID(DefaultID)
	cfg.Tools[0] = "mutated"

	again, _ := r.ResolveByID(DefaultID)
	assert.Equal(t, ToolGetWeather, again.Tools[0])
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry([]Config{{ID: "a", Slash: "A"}, {ID: "a", Slash: "B"}}, "a")
	require.ErrorIs(t, err, ErrDuplicateID)

	_, err = NewRegistry([]Config{{ID: "a", Slash: "A"}, {ID: "b", Slash: "a"}}, "a")
	require.ErrorIs(t, err, ErrDuplicateSlash)

	_, err = NewRegistry([]Config{{ID: "a", Slash: "A"}}, "zzz")
	require.ErrorIs(t, err, ErrNoDefault)
}

func TestLoadCatalogMergesOverSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	content := `
agents:
  - id: namc
    name: Curator
    slash: NAMC
    tools: [createDocument]
  - id: garden
    name: Garden
    slash: Garden
    memory: route
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	r, err := LoadCatalog(path, Seed(), DefaultID)
	require.NoError(t, err)

	namc, ok := r.ResolveByID("namc")
	require.True(t, ok)
	assert.Equal(t, []ToolID{ToolCreateDocument}, namc.Tools)
	assert.Equal(t, WorkflowNone, namc.Workflow)

	garden, ok := r.ResolveBySlash("garden")
	require.True(t, ok)
	assert.Equal(t, MemoryRoute, garden.Memory)
}

func TestProjectMembershipIsExplicit(t *testing.T) {
	assert.Equal(t, ProjectNAMC, ProjectOf("namc-lore"))
	assert.Equal(t, ProjectNone, ProjectOf("brooksbears"))
	assert.Equal(t, "MyCarMindATO", ProjectMyCarMindATO.String())
	assert.Contains(t, FreeSubroutes(), "MyCarMindATO/Driver")
}
