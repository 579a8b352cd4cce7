package rbac_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
	"github.com/platinummonkey/gatehouse/pkg/storage/memory"
)

// recordingAudit keeps every logged event
type recordingAudit struct {
	mu     sync.Mutex
	events []*audit.AuditEvent
}

func (r *recordingAudit) Log(_ context.Context, event *audit.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingAudit) Close() error { return nil }

func (r *recordingAudit) all() []*audit.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*audit.AuditEvent(nil), r.events...)
}

func quietLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

const seedYAML = `
resources:
  - name: Image
    slug: image
    description: Uploaded images
  - name: Article
    slug: article
`

func TestParseSeed(t *testing.T) {
	seed, err := rbac.ParseSeed([]byte(seedYAML))
	require.NoError(t, err)
	require.Len(t, seed.Resources, 2)
	assert.Equal(t, rbac.ResourceInput{Name: "Image", Slug: "image", Description: "Uploaded images"}, seed.Resources[0])

	_, err = rbac.ParseSeed([]byte("resources:\n  - name: X\n    slug: x\n    colour: red\n"))
	assert.Error(t, err, "unknown keys are rejected")

	_, err = rbac.ParseSeed([]byte("resources: [oops"))
	assert.Error(t, err)
}

func TestLoadSeedFile_Missing(t *testing.T) {
	_, err := rbac.LoadSeedFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read seed file")
}

func TestResourceService_Seed(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := rbac.NewResourceService(store)

	_, err := svc.Create(ctx, rbac.ResourceInput{Name: "Legacy", Slug: "legacy"})
	require.NoError(t, err)

	seed, err := rbac.ParseSeed([]byte(seedYAML))
	require.NoError(t, err)

	result, err := svc.Seed(ctx, seed)
	require.NoError(t, err)
	assert.Equal(t, &rbac.SeedResult{Created: 2}, result)

	seed.Resources[1].Description = "Written articles"
	result, err = svc.Seed(ctx, seed)
	require.NoError(t, err)
	assert.Equal(t, &rbac.SeedResult{Updated: 1, Unchanged: 1}, result)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 3, "resources absent from the seed are kept")

	result, err = svc.Seed(ctx, rbac.DefaultSeed())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Created)
	_, err = store.GetResourceBySlug(ctx, rbac.ResourceSlugRole)
	assert.NoError(t, err)

	bad := &rbac.SeedFile{Resources: []rbac.ResourceInput{{Name: "Ok", Slug: "ok"}, {Name: "", Slug: "broken"}}}
	result, err = svc.Seed(ctx, bad)
	assert.ErrorIs(t, err, rbac.ErrValidation)
	assert.Contains(t, err.Error(), "seed resource 1 (broken)")
	assert.Equal(t, 1, result.Created, "earlier entries stay applied")
}

func TestSeedWatcher_Apply(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "resources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o644))

	recorder := &recordingAudit{}
	svc := rbac.NewResourceService(memory.New())
	watcher := rbac.NewSeedWatcher(path, svc, recorder, quietLogger(), 10*time.Millisecond)

	result, err := watcher.Apply(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Created)

	events := recorder.all()
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventTypeResourceSeed, events[0].EventType)
	assert.Equal(t, audit.EventStatusSuccess, events[0].Status)
	assert.Equal(t, 2, events[0].Metadata["created"])
}

func TestSeedWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o644))

	store := memory.New()
	svc := rbac.NewResourceService(store)
	watcher := rbac.NewSeedWatcher(path, svc, nil, quietLogger(), 20*time.Millisecond)
	applied := watcher.Applied()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watcher.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	// Give the watcher time to register before writing
	time.Sleep(100 * time.Millisecond)

	updated := seedYAML + "  - name: Video\n    slug: video\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	select {
	case result := <-applied:
		assert.Equal(t, 3, result.Created)
	case <-time.After(5 * time.Second):
		t.Fatal("seed file change was not applied")
	}

	_, err := store.GetResourceBySlug(context.Background(), "video")
	assert.NoError(t, err)
}
