package pipeline

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hawklight/vulnreport/internal/cache"
	"github.com/hawklight/vulnreport/internal/config"
	"github.com/hawklight/vulnreport/internal/export"
	"github.com/hawklight/vulnreport/internal/models"
	"github.com/hawklight/vulnreport/internal/sampledata"
	"github.com/hawklight/vulnreport/internal/storage"
)

func testSetup(t *testing.T) (*Runner, *storage.SQLiteStore, *httptest.Server) {
	t.Helper()

	records := sampledata.Records(20, 1)
	mock := sampledata.NewMockExportServer(records, 25)
	mock.SetProcessingDelay(0)
	srv := httptest.NewServer(mock.Handler())
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.API.BaseURL = srv.URL
	cfg.API.AccessKey = "ak"
	cfg.API.SecretKey = "sk"
	cfg.Cache.Dir = t.TempDir()
	cfg.KEV.Enabled = false
	// Single attempt keeps failure-path tests from sleeping through
	// real backoff delays.
	cfg.Export.ChunkRetries = 1

	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, store.AutoMigrate())
	t.Cleanup(func() { store.Close() })

	cacheStore, err := cache.NewStore(cfg.Cache.Dir)
	require.NoError(t, err)

	return NewRunner(cfg, store, cacheStore, export.NewClient(cfg)), store, srv
}

func TestRunEndToEnd(t *testing.T) {
	runner, store, _ := testSetup(t)

	result, err := runner.Run(context.Background(), Options{
		Filters: export.DefaultFilters(),
		Persist: true,
	})
	require.NoError(t, err)

	assert.False(t, result.FromCache)
	assert.NotEmpty(t, result.Records)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, len(result.Records), result.Tree.Total)
	assert.Equal(t, len(result.Records), result.Summary.TotalVulns)
	assert.Equal(t, 20, result.Summary.TotalAssets)

	// Every record passed the full classification chain.
	for _, rec := range result.Records {
		assert.NotEmpty(t, rec.DeviceType)
		assert.NotEmpty(t, rec.Vendor)
	}

	// Persistence side effects.
	servers, err := store.GetServers()
	require.NoError(t, err)
	assert.Len(t, servers, 20)

	run, err := store.GetLatestReportRun()
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, result.RunID, run.ID)
	assert.False(t, run.FromCache)
}

func TestSecondRunHitsCache(t *testing.T) {
	runner, _, _ := testSetup(t)

	first, err := runner.Run(context.Background(), Options{Filters: export.DefaultFilters()})
	require.NoError(t, err)
	require.False(t, first.FromCache)

	second, err := runner.Run(context.Background(), Options{Filters: export.DefaultFilters()})
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, len(first.Records), len(second.Records))
}

func TestForceRefreshSkipsCache(t *testing.T) {
	runner, _, _ := testSetup(t)

	_, err := runner.Run(context.Background(), Options{Filters: export.DefaultFilters()})
	require.NoError(t, err)

	result, err := runner.Run(context.Background(), Options{
		Filters:      export.DefaultFilters(),
		ForceRefresh: true,
	})
	require.NoError(t, err)
	assert.False(t, result.FromCache)
}

func TestExportFailureFallsBackToStaleCache(t *testing.T) {
	runner, _, srv := testSetup(t)

	first, err := runner.Run(context.Background(), Options{Filters: export.DefaultFilters()})
	require.NoError(t, err)

	// Age the cache past the ceiling and kill the API.
	runner.cfg.Cache.MaxAgeHours = 0
	srv.Close()

	second, err := runner.Run(context.Background(), Options{Filters: export.DefaultFilters()})
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, len(first.Records), len(second.Records))
}

func TestServersOnlyFilter(t *testing.T) {
	runner, _, _ := testSetup(t)

	all, err := runner.Run(context.Background(), Options{Filters: export.DefaultFilters()})
	require.NoError(t, err)

	serversOnly, err := runner.Run(context.Background(), Options{
		Filters:     export.DefaultFilters(),
		ServersOnly: true,
	})
	require.NoError(t, err)

	assert.LessOrEqual(t, len(serversOnly.Records), len(all.Records))
	for _, rec := range serversOnly.Records {
		assert.Equal(t, models.DeviceServer, rec.DeviceType)
	}
}

func TestRunWithoutPersistLeavesStoreEmpty(t *testing.T) {
	runner, store, _ := testSetup(t)

	_, err := runner.Run(context.Background(), Options{Filters: export.DefaultFilters()})
	require.NoError(t, err)

	servers, err := store.GetServers()
	require.NoError(t, err)
	assert.Empty(t, servers)

	run, err := store.GetLatestReportRun()
	require.NoError(t, err)
	assert.Nil(t, run)
}
