package rbac

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// fakeRoleReader serves roles from a map and counts loads
type fakeRoleReader struct {
	mu    sync.Mutex
	roles map[string]*RoleView
	err   error
	loads atomic.Int32
	delay time.Duration
}

func (f *fakeRoleReader) GetByID(_ context.Context, id string) (*RoleView, error) {
	f.loads.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	role, ok := f.roles[id]
	if !ok {
		return nil, RoleNotFound(id)
	}
	return role, nil
}

func (f *fakeRoleReader) set(id string, role *RoleView) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[id] = role
}

func editorView(status RoleStatus) *RoleView {
	return &RoleView{
		ID:     "editor-id",
		Slug:   "editor",
		Status: status,
		Grants: []ResolvedGrant{
			{Resource: &Resource{ID: "res-role", Slug: ResourceSlugRole}, Actions: []Action{ActionReadAny, ActionUpdateOwn}},
		},
	}
}

func TestPermissionChecker_Check(t *testing.T) {
	reader := &fakeRoleReader{roles: map[string]*RoleView{
		"editor-id":   editorView(StatusActive),
		"disabled-id": editorView(StatusInactive),
	}}
	checker := NewPermissionChecker(reader, DefaultCheckerConfig())
	checker.SetMetrics(observability.NewMetrics(prometheus.NewRegistry()))

	tests := []struct {
		name        string
		roleID      string
		slug        string
		action      Action
		wantAllowed bool
		wantMatched string
		wantReason  string
	}{
		{"exact grant", "editor-id", ResourceSlugRole, ActionReadAny, true, "read.any", "granted read.any on role by role editor"},
		{"any satisfies own", "editor-id", ResourceSlugRole, ActionReadOwn, true, "read.any", ""},
		{"own grant satisfies own", "editor-id", ResourceSlugRole, ActionUpdateOwn, true, "update.own", ""},
		{"own grant does not satisfy any", "editor-id", ResourceSlugRole, ActionUpdateAny, false, "", "role editor has no update.any grant on role"},
		{"other resource", "editor-id", ResourceSlugResource, ActionReadAny, false, "", ""},
		{"inactive role", "disabled-id", ResourceSlugRole, ActionReadAny, false, "", "role editor is inactive"},
		{"unknown role", "ghost", ResourceSlugRole, ActionReadAny, false, "", "role ghost not found"},
		{"no role", "", ResourceSlugRole, ActionReadAny, false, "", "principal has no role"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := checker.Check(context.Background(), tt.roleID, tt.slug, tt.action)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAllowed, decision.Allowed)
			assert.Equal(t, tt.wantMatched, decision.MatchedAction)
			assert.False(t, decision.CheckedAt.IsZero())
			if tt.wantReason != "" {
				assert.Equal(t, tt.wantReason, decision.Reason)
			}
		})
	}
}

func TestPermissionChecker_LoadError(t *testing.T) {
	reader := &fakeRoleReader{roles: map[string]*RoleView{}, err: errors.New("database is down")}
	checker := NewPermissionChecker(reader, DefaultCheckerConfig())

	decision, err := checker.Check(context.Background(), "editor-id", ResourceSlugRole, ActionReadAny)
	assert.Error(t, err)
	assert.Nil(t, decision)
	assert.Contains(t, err.Error(), "database is down")
}

func TestPermissionChecker_CacheAndInvalidate(t *testing.T) {
	ctx := context.Background()
	reader := &fakeRoleReader{roles: map[string]*RoleView{"editor-id": editorView(StatusActive)}}
	checker := NewPermissionChecker(reader, CheckerConfig{CacheSize: 16, CacheTTL: time.Minute})

	for i := 0; i < 3; i++ {
		decision, err := checker.Check(ctx, "editor-id", ResourceSlugRole, ActionReadAny)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	}
	assert.Equal(t, int32(1), reader.loads.Load())

	reader.set("editor-id", editorView(StatusInactive))
	decision, err := checker.Check(ctx, "editor-id", ResourceSlugRole, ActionReadAny)
	require.NoError(t, err)
	assert.True(t, decision.Allowed, "stale until invalidated")

	checker.Invalidate(ctx, "editor-id")
	decision, err = checker.Check(ctx, "editor-id", ResourceSlugRole, ActionReadAny)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, int32(2), reader.loads.Load())

	checker.Purge()
	_, err = checker.Check(ctx, "editor-id", ResourceSlugRole, ActionReadAny)
	require.NoError(t, err)
	assert.Equal(t, int32(3), reader.loads.Load())
}

func TestPermissionChecker_MissingRoleNotCached(t *testing.T) {
	ctx := context.Background()
	reader := &fakeRoleReader{roles: map[string]*RoleView{}}
	checker := NewPermissionChecker(reader, DefaultCheckerConfig())

	decision, err := checker.Check(ctx, "editor-id", ResourceSlugRole, ActionReadAny)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)

	reader.set("editor-id", editorView(StatusActive))
	decision, err = checker.Check(ctx, "editor-id", ResourceSlugRole, ActionReadAny)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestPermissionChecker_NoCache(t *testing.T) {
	ctx := context.Background()
	reader := &fakeRoleReader{roles: map[string]*RoleView{"editor-id": editorView(StatusActive)}}
	checker := NewPermissionChecker(reader, CheckerConfig{})

	for i := 0; i < 3; i++ {
		_, err := checker.Check(ctx, "editor-id", ResourceSlugRole, ActionReadAny)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), reader.loads.Load())

	checker.Invalidate(ctx, "editor-id")
	checker.Purge()
}

func TestPermissionChecker_ConcurrentMissesShareLoad(t *testing.T) {
	reader := &fakeRoleReader{
		roles: map[string]*RoleView{"editor-id": editorView(StatusActive)},
		delay: 50 * time.Millisecond,
	}
	checker := NewPermissionChecker(reader, DefaultCheckerConfig())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := checker.Check(context.Background(), "editor-id", ResourceSlugRole, ActionReadAny)
			assert.NoError(t, err)
			assert.True(t, decision.Allowed)
		}()
	}
	wg.Wait()

	assert.Less(t, reader.loads.Load(), int32(20))
}

func TestPermissionChecker_ContextCancelled(t *testing.T) {
	reader := &fakeRoleReader{
		roles: map[string]*RoleView{"editor-id": editorView(StatusActive)},
		delay: 200 * time.Millisecond,
	}
	checker := NewPermissionChecker(reader, DefaultCheckerConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := checker.Check(ctx, "editor-id", ResourceSlugRole, ActionReadAny)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// gatedRoleReader reads the role, then holds the first load until release
// is closed
type gatedRoleReader struct {
	*fakeRoleReader
	armed   atomic.Bool
	loaded  chan struct{}
	release chan struct{}
}

func newGatedRoleReader(roles map[string]*RoleView) *gatedRoleReader {
	g := &gatedRoleReader{
		fakeRoleReader: &fakeRoleReader{roles: roles},
		loaded:         make(chan struct{}),
		release:        make(chan struct{}),
	}
	g.armed.Store(true)
	return g
}

func (g *gatedRoleReader) GetByID(ctx context.Context, id string) (*RoleView, error) {
	role, err := g.fakeRoleReader.GetByID(ctx, id)
	if g.armed.CompareAndSwap(true, false) {
		close(g.loaded)
		<-g.release
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	return role, err
}

func deleterView() *RoleView {
	view := editorView(StatusActive)
	view.Grants[0].Actions = append(view.Grants[0].Actions, ActionDeleteAny)
	return view
}

func TestPermissionChecker_InvalidateDuringLoad(t *testing.T) {
	ctx := context.Background()
	reader := newGatedRoleReader(map[string]*RoleView{"editor-id": deleterView()})
	checker := NewPermissionChecker(reader, DefaultCheckerConfig())

	first := make(chan *Decision, 1)
	go func() {
		decision, err := checker.Check(ctx, "editor-id", ResourceSlugRole, ActionDeleteAny)
		assert.NoError(t, err)
		first <- decision
	}()
	<-reader.loaded

	reader.set("editor-id", editorView(StatusActive))
	checker.Invalidate(ctx, "editor-id")
	close(reader.release)

	decision := <-first
	assert.True(t, decision.Allowed, "the in-flight load answers with what it read")

	decision, err := checker.Check(ctx, "editor-id", ResourceSlugRole, ActionDeleteAny)
	require.NoError(t, err)
	assert.False(t, decision.Allowed, "revoked grant must not come back from the cache")
	assert.Equal(t, int32(2), reader.loads.Load())
}

func TestPermissionChecker_PurgeDuringLoad(t *testing.T) {
	ctx := context.Background()
	reader := newGatedRoleReader(map[string]*RoleView{"editor-id": deleterView()})
	checker := NewPermissionChecker(reader, DefaultCheckerConfig())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := checker.Check(ctx, "editor-id", ResourceSlugRole, ActionDeleteAny)
		assert.NoError(t, err)
	}()
	<-reader.loaded

	reader.set("editor-id", editorView(StatusActive))
	checker.Purge()
	close(reader.release)
	<-done

	decision, err := checker.Check(ctx, "editor-id", ResourceSlugRole, ActionDeleteAny)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestPermissionChecker_CancelledCallerDoesNotFailOthers(t *testing.T) {
	reader := newGatedRoleReader(map[string]*RoleView{"editor-id": editorView(StatusActive)})
	checker := NewPermissionChecker(reader, DefaultCheckerConfig())

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := checker.Check(ctxA, "editor-id", ResourceSlugRole, ActionReadAny)
		errA <- err
	}()
	<-reader.loaded

	resultB := make(chan *Decision, 1)
	go func() {
		decision, err := checker.Check(context.Background(), "editor-id", ResourceSlugRole, ActionReadAny)
		assert.NoError(t, err)
		resultB <- decision
	}()
	time.Sleep(50 * time.Millisecond)

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)

	close(reader.release)
	decision := <-resultB
	require.NotNil(t, decision)
	assert.True(t, decision.Allowed)
	assert.Equal(t, int32(1), reader.loads.Load(), "the second caller shared the first load")
}

func TestPermissionChecker_LoadTimeout(t *testing.T) {
	reader := &fakeRoleReader{
		roles: map[string]*RoleView{"editor-id": editorView(StatusActive)},
	}
	slow := &slowRoleReader{fakeRoleReader: reader, delay: 200 * time.Millisecond}
	checker := NewPermissionChecker(slow, CheckerConfig{CacheSize: 16, CacheTTL: time.Minute, LoadTimeout: 20 * time.Millisecond})

	_, err := checker.Check(context.Background(), "editor-id", ResourceSlugRole, ActionReadAny)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// slowRoleReader honours ctx while it waits
type slowRoleReader struct {
	*fakeRoleReader
	delay time.Duration
}

func (s *slowRoleReader) GetByID(ctx context.Context, id string) (*RoleView, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.delay):
	}
	return s.fakeRoleReader.GetByID(ctx, id)
}
