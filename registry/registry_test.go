package registry_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tubewatch/db"
	"tubewatch/models"
	"tubewatch/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const channelID = "UCabcdefghijklmnopqrstuv"

var (
	now  = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	text = models.Permissions{Message: []string{models.TextPermission}}
)

type fakeFeeds struct {
	mu      sync.Mutex
	names   map[string]string
	results map[string]models.FeedResult
}

func (f *fakeFeeds) FetchSince(_ context.Context, id string, _ time.Time) models.FeedResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if res, ok := f.results[id]; ok {
		return res
	}
	return models.FeedItems{}
}

func (f *fakeFeeds) ChannelName(_ context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, ok := f.names[id]
	if !ok {
		return "", errors.New("404 not found")
	}
	return name, nil
}

func newRegistry(t *testing.T) (*registry.Registry, *db.DB, *fakeFeeds) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	require.NoError(t, db.Migrate(path))
	store, err := db.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	feeds := &fakeFeeds{
		names:   map[string]string{channelID: "Test Channel"},
		results: map[string]models.FeedResult{},
	}
	reg := registry.New(store, feeds, registry.WithClock(func() time.Time { return now }))
	return reg, store, feeds
}

func installAt(t *testing.T, reg *registry.Registry, loc models.Location, perms models.Permissions) {
	t.Helper()
	require.NoError(t, reg.OnInstall(context.Background(), loc, models.Installation{
		APIGateway:            "http://gateway.test",
		AutonomousPermissions: perms,
	}))
}

func TestSubscribe(t *testing.T) {
	group := models.Scope{Kind: models.ScopeGroup, ID: "G1"}
	readOnly := models.Scope{Kind: models.ScopeGroup, ID: "G2"}
	missing := models.Scope{Kind: models.ScopeGroup, ID: "G3"}

	tests := []struct {
		name     string
		scope    models.Scope
		source   string
		expected registry.SubscribeResult
		err      error
	}{
		{"invalid id", group, "not-a-channel", registry.InvalidSource, registry.ErrInvalidSource},
		{"not installed", missing, channelID, registry.NotInstalled, registry.ErrNotInstalled},
		{"no text permission", readOnly, channelID, registry.NotInstalled, registry.ErrNotInstalled},
		{"unresolvable", group, "UCzzzzzzzzzzzzzzzzzzzzzz", registry.SourceUnresolvable, registry.ErrSourceUnresolvable},
		{"subscribed", group, channelID, registry.Subscribed, nil},
		{"already subscribed", group, channelID, registry.AlreadySubscribed, nil},
	}

	reg, store, _ := newRegistry(t)
	installAt(t, reg, group.Location(), text)
	installAt(t, reg, readOnly.Location(), models.Permissions{})

	// Cases share the registry and run in order
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := reg.Subscribe(context.Background(), tt.scope, tt.source)
			assert.Equal(t, tt.expected, result)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, db.Stats{Installations: 2, Sources: 1, Links: 1}, stats)
}

func TestSubscribeNewSource(t *testing.T) {
	ctx := context.Background()
	reg, _, _ := newRegistry(t)
	g1 := models.Scope{Kind: models.ScopeGroup, ID: "G1"}
	installAt(t, reg, g1.Location(), text)

	result, err := reg.Subscribe(ctx, g1, channelID)
	require.NoError(t, err)
	assert.Equal(t, registry.Subscribed, result)

	sources, err := reg.List(ctx, g1)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, channelID, sources[0].SourceID)
	assert.Equal(t, "Test Channel", sources[0].DisplayName())
	assert.Equal(t, now.UnixMilli(), sources[0].LastUpdated)

	scopes, err := reg.ScopesInterestedIn(ctx, channelID)
	require.NoError(t, err)
	assert.Equal(t, []models.Scope{g1}, scopes)
}

func TestSubscribeExistingSourceKeepsWatermark(t *testing.T) {
	ctx := context.Background()
	reg, _, feeds := newRegistry(t)
	g1 := models.Scope{Kind: models.ScopeGroup, ID: "G1"}
	g2 := models.Scope{Kind: models.ScopeGroup, ID: "G2"}
	installAt(t, reg, g1.Location(), text)
	installAt(t, reg, g2.Location(), text)

	_, err := reg.Subscribe(ctx, g1, channelID)
	require.NoError(t, err)
	later := now.Add(time.Hour)
	_, err = reg.AdvanceWatermark(ctx, channelID, later)
	require.NoError(t, err)

	// A known source needs no name lookup
	delete(feeds.names, channelID)
	result, err := reg.Subscribe(ctx, g2, channelID)
	require.NoError(t, err)
	assert.Equal(t, registry.Subscribed, result)

	sources, err := reg.List(ctx, g2)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, later.UnixMilli(), sources[0].LastUpdated)
}

func TestUnsubscribeLeavesNoOrphans(t *testing.T) {
	ctx := context.Background()
	reg, store, _ := newRegistry(t)
	g1 := models.Scope{Kind: models.ScopeGroup, ID: "G1"}
	installAt(t, reg, g1.Location(), text)

	_, err := reg.Subscribe(ctx, g1, channelID)
	require.NoError(t, err)

	removed, err := reg.Unsubscribe(ctx, g1, channelID)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = reg.Unsubscribe(ctx, g1, channelID)
	require.NoError(t, err)
	assert.False(t, removed)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, db.Stats{Installations: 1}, stats)
}

func TestOnUninstall(t *testing.T) {
	ctx := context.Background()
	reg, store, _ := newRegistry(t)
	community := models.Location{Kind: models.LocationCommunity, ID: "C1"}
	installAt(t, reg, community, text)
	scope := models.Scope{Kind: models.ScopeChannel, ID: "C1", ChannelID: "general"}

	_, err := reg.Subscribe(ctx, scope, channelID)
	require.NoError(t, err)

	n, err := reg.OnUninstall(ctx, community)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	result, err := reg.Subscribe(ctx, scope, channelID)
	assert.ErrorIs(t, err, registry.ErrNotInstalled)
	assert.Equal(t, registry.NotInstalled, result)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, db.Stats{}, stats)

	_, err = reg.OnUninstall(ctx, models.Location{Kind: "planet", ID: "X"})
	assert.Error(t, err)
}

func TestConcurrentSubscribe(t *testing.T) {
	ctx := context.Background()
	reg, store, _ := newRegistry(t)
	group := models.Scope{Kind: models.ScopeGroup, ID: "G1"}
	installAt(t, reg, group.Location(), text)

	const n = 20
	results := make([]registry.SubscribeResult, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = reg.Subscribe(ctx, group, channelID)
		}()
	}
	wg.Wait()

	var subscribed int
	for i := range results {
		require.NoError(t, errs[i])
		if results[i] == registry.Subscribed {
			subscribed++
		} else {
			assert.Equal(t, registry.AlreadySubscribed, results[i])
		}
	}
	assert.Equal(t, 1, subscribed)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, db.Stats{Installations: 1, Sources: 1, Links: 1}, stats)
}

func TestSubscribeRacingUninstall(t *testing.T) {
	ctx := context.Background()
	reg, store, _ := newRegistry(t)
	group := models.Scope{Kind: models.ScopeGroup, ID: "G1"}

	for round := 0; round < 20; round++ {
		installAt(t, reg, group.Location(), text)

		var subErr, uninstallErr error
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, subErr = reg.Subscribe(ctx, group, channelID)
		}()
		go func() {
			defer wg.Done()
			_, uninstallErr = reg.OnUninstall(ctx, group.Location())
		}()
		wg.Wait()

		require.NoError(t, uninstallErr)
		if subErr != nil {
			require.ErrorIs(t, subErr, registry.ErrNotInstalled)
		}

		stats, err := store.Stats(ctx)
		require.NoError(t, err)
		require.Equal(t, db.Stats{}, stats, "round %d", round)
	}
}

func TestDueSourcesLimit(t *testing.T) {
	ctx := context.Background()
	reg, _, _ := newRegistry(t)
	group := models.Scope{Kind: models.ScopeGroup, ID: "G1"}
	installAt(t, reg, group.Location(), text)
	_, err := reg.Subscribe(ctx, group, channelID)
	require.NoError(t, err)

	tests := []struct {
		name     string
		limit    int
		expected int
	}{
		{"negative", -1, 0},
		{"zero", 0, 0},
		{"positive", 10, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			due, err := reg.DueSources(ctx, tt.limit)
			require.NoError(t, err)
			assert.Len(t, due, tt.expected)
		})
	}
}

func TestMostRecent(t *testing.T) {
	ctx := context.Background()
	reg, _, feeds := newRegistry(t)
	scope := models.Scope{Kind: models.ScopeGroup, ID: "G1"}
	empty := "UC0000000000000000000000"
	broken := "UC1111111111111111111111"

	feeds.results[channelID] = models.FeedItems{Items: []models.Item{
		{Title: "older", Link: "https://youtu.be/1", PublishedAt: now.Add(-2 * time.Hour)},
		{Title: "newest", Link: "https://youtu.be/2", PublishedAt: now},
		{Title: "old", Link: "https://youtu.be/3", PublishedAt: now.Add(-time.Hour)},
	}}
	feeds.results[broken] = models.FetchFailed{Err: errors.New("boom")}

	item, err := reg.MostRecent(ctx, scope, channelID)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "newest", item.Title)

	item, err = reg.MostRecent(ctx, scope, empty)
	require.NoError(t, err)
	assert.Nil(t, item)

	_, err = reg.MostRecent(ctx, scope, broken)
	assert.ErrorIs(t, err, registry.ErrSourceUnresolvable)

	_, err = reg.MostRecent(ctx, scope, "nope")
	assert.ErrorIs(t, err, registry.ErrInvalidSource)
}

func TestSubscribeResultString(t *testing.T) {
	assert.Equal(t, "already_subscribed", registry.AlreadySubscribed.String())
	assert.Equal(t, "result(42)", registry.SubscribeResult(42).String())
}
