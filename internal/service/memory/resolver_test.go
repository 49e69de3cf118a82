package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/agenthub/backend/internal/model/agent"
	"github.com/zhouzirui/agenthub/backend/internal/model/chat"
	"github.com/zhouzirui/agenthub/backend/internal/model/user"
	"github.com/zhouzirui/agenthub/backend/internal/store"
)

var (
	registry = agent.MustSeedRegistry()
	member   = user.User{ID: "u1", Plan: user.PlanFree}
)

func mustAgent(t *testing.T, id string) agent.Config {
	t.Helper()
	cfg, ok := registry.ResolveByID(id)
	require.True(t, ok, id)
	return cfg
}

func seed(t *testing.T, s *store.MemoryStore, records ...chat.MemoryRecord) {
	t.Helper()
	base := time.Now().UTC().Add(-time.Hour)
	for i, r := range records {
		if r.OwnerID == "" {
			r.OwnerID = member.ID
		}
		r.ApprovedAt = base
		r.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.SaveMemory(context.Background(), r))
	}
}

func TestSelectScopePriority(t *testing.T) {
	assert.Equal(t, ScopeProject, SelectScope(member, mustAgent(t, "mycarmindato-trucker")))
	assert.Equal(t, ScopeRoute, SelectScope(member, mustAgent(t, "brooksbears")))
	assert.Equal(t, ScopeUnscoped, SelectScope(member, mustAgent(t, "namc")))
	assert.Equal(t, ScopeUnscoped, SelectScope(member, mustAgent(t, agent.DefaultID)))
	assert.Equal(t, ScopeNone, SelectScope(member, mustAgent(t, "incognito")))
	assert.Equal(t, ScopeNone, SelectScope(user.User{ID: "g", Plan: user.PlanGuest}, mustAgent(t, "brooksbears")))
}

func TestExactRouteMemoryStaysInRoute(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s,
		chat.MemoryRecord{Route: "BrooksBears", RawText: "kids are Ada and Bo"},
		chat.MemoryRecord{Route: "MyCarMindATO/Driver", ProjectRoute: "MyCarMindATO", RawText: "drives a blue hatchback"},
	)
	r := NewResolver(s, nil, 0)

	bears, ok, err := r.Resolve(context.Background(), member, mustAgent(t, "brooksbears"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, bears.Text, "Ada and Bo")
	assert.NotContains(t, bears.Text, "hatchback")

	trucker, ok, err := r.Resolve(context.Background(), member, mustAgent(t, "mycarmindato-trucker"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, trucker.Text, "hatchback", "project members share memory")
	assert.NotContains(t, trucker.Text, "Ada and Bo")
}

func TestHomeLocationAlwaysUsesCanonicalRoute(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.SaveHomeLocation(ctx, chat.HomeLocation{OwnerID: member.ID, Route: "MyCarMindATO/Trucker", Text: "depot"}))
	r := NewResolver(s, nil, 0)

	_, ok, err := r.Resolve(ctx, member, mustAgent(t, "mycarmindato-trucker"))
	require.NoError(t, err)
	assert.False(t, ok, "subroute home rows are never read")

	require.NoError(t, s.SaveHomeLocation(ctx, chat.HomeLocation{OwnerID: member.ID, Route: "MyCarMindATO", Text: "Portland, ME"}))
	got, ok, err := r.Resolve(ctx, member, mustAgent(t, "mycarmindato-trucker"))
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, got.Home)
	assert.Equal(t, "MyCarMindATO", got.Home.Route)
	assert.Contains(t, got.Text, "## Home location\nPortland, ME")

	other, _, err := r.Resolve(ctx, member, mustAgent(t, "namc"))
	require.NoError(t, err)
	assert.Nil(t, other.Home)
}

func TestResolveEmptyIsNone(t *testing.T) {
	r := NewResolver(store.NewMemoryStore(), nil, 0)
	got, ok, err := r.Resolve(context.Background(), member, mustAgent(t, agent.DefaultID))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, got.Text)
}

type summary struct{}

func (summary) Summary(u user.User) string { return "plan " + string(u.Plan) }

func TestResolveCapsAndJoinsBlocks(t *testing.T) {
	s := store.NewMemoryStore()
	var records []chat.MemoryRecord
	for i := 0; i < 5; i++ {
		records = append(records, chat.MemoryRecord{RawText: fmt.Sprintf("memory-%d", i)})
	}
	seed(t, s, records...)
	r := NewResolver(s, summary{}, 3)

	founder := user.User{ID: member.ID, Plan: user.PlanFounders}
	got, ok, err := r.Resolve(context.Background(), founder, mustAgent(t, agent.DefaultID))
	require.NoError(t, err)
	require.True(t, ok)

	blocks := strings.Split(got.Text, "\n\n")
	require.Len(t, blocks, 2)
	assert.Contains(t, blocks[0], "memory-4")
	assert.NotContains(t, blocks[0], "memory-1")
	assert.Equal(t, "## Entitlement\nplan founders", blocks[1])
}

type failingMemories struct{ *store.MemoryStore }

func (failingMemories) ApprovedMemories(context.Context, store.MemoryQuery) ([]chat.MemoryRecord, error) {
	return nil, errors.New("disk on fire")
}

func TestResolvePropagatesFetchErrors(t *testing.T) {
	r := NewResolver(failingMemories{store.NewMemoryStore()}, nil, 0)
	_, _, err := r.Resolve(context.Background(), member, mustAgent(t, agent.DefaultID))
	require.Error(t, err)
}

func TestFormatMemoriesSkipsBlankRecords(t *testing.T) {
	assert.Empty(t, FormatMemories([]chat.MemoryRecord{{RawText: "  "}}, 0))
}
