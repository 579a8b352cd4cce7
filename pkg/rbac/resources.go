package rbac

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// ResourceService manages the registry of resources that grants refer to
type ResourceService struct {
	store   ResourceStore
	metrics *observability.Metrics

	mu        sync.RWMutex
	listeners []ChangeListener

	now   func() time.Time
	newID func() string
}

// NewResourceService creates a resource registry service
func NewResourceService(store ResourceStore) *ResourceService {
	return &ResourceService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.NewString() },
	}
}

// SetMetrics enables operation metrics
func (s *ResourceService) SetMetrics(metrics *observability.Metrics) {
	s.metrics = metrics
}

// OnChange registers a listener called with the id of every deleted or
// updated resource
func (s *ResourceService) OnChange(listener ChangeListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, listener)
}

func (s *ResourceService) notify(ctx context.Context, resourceID string) {
	s.mu.RLock()
	listeners := s.listeners
	s.mu.RUnlock()

	for _, l := range listeners {
		l(ctx, resourceID)
	}
}

// List returns every resource ordered by slug
func (s *ResourceService) List(ctx context.Context) (resources []*Resource, err error) {
	defer s.observe("list_resources", time.Now(), &err)
	return s.store.ListResources(ctx)
}

// Get returns one resource
func (s *ResourceService) Get(ctx context.Context, id string) (resource *Resource, err error) {
	defer s.observe("get_resource", time.Now(), &err)
	return s.store.GetResource(ctx, id)
}

// Create validates and registers a new resource
func (s *ResourceService) Create(ctx context.Context, input ResourceInput) (resource *Resource, err error) {
	defer s.observe("create_resource", time.Now(), &err)

	if err := validateInput(input); err != nil {
		return nil, err
	}

	now := s.now()
	resource = &Resource{
		ID:          s.newID(),
		Name:        input.Name,
		Slug:        input.Slug,
		Description: input.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateResource(ctx, resource); err != nil {
		return nil, err
	}
	return resource, nil
}

// Delete removes a resource and returns it. Grants that point at it are
// left in place and resolve to no resource.
func (s *ResourceService) Delete(ctx context.Context, id string) (resource *Resource, err error) {
	defer s.observe("delete_resource", time.Now(), &err)

	resource, err = s.store.GetResource(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.store.DeleteResource(ctx, id); err != nil {
		return nil, err
	}
	s.notify(ctx, id)
	return resource, nil
}

// UpsertResult tells what Upsert did
type UpsertResult string

const (
	UpsertCreated   UpsertResult = "created"
	UpsertUpdated   UpsertResult = "updated"
	UpsertUnchanged UpsertResult = "unchanged"
)

// Upsert creates the resource with input's slug, or updates the name and
// description of the existing one
func (s *ResourceService) Upsert(ctx context.Context, input ResourceInput) (resource *Resource, result UpsertResult, err error) {
	defer s.observe("upsert_resource", time.Now(), &err)

	if err := validateInput(input); err != nil {
		return nil, "", err
	}

	existing, err := s.store.GetResourceBySlug(ctx, input.Slug)
	if errors.Is(err, ErrNotFound) {
		now := s.now()
		resource = &Resource{
			ID:          s.newID(),
			Name:        input.Name,
			Slug:        input.Slug,
			Description: input.Description,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.store.CreateResource(ctx, resource); err != nil {
			return nil, "", err
		}
		return resource, UpsertCreated, nil
	}
	if err != nil {
		return nil, "", err
	}

	if existing.Name == input.Name && existing.Description == input.Description {
		return existing, UpsertUnchanged, nil
	}

	existing.Name = input.Name
	existing.Description = input.Description
	existing.UpdatedAt = s.now()
	if err := s.store.UpdateResource(ctx, existing); err != nil {
		return nil, "", err
	}
	s.notify(ctx, existing.ID)
	return existing, UpsertUpdated, nil
}

func (s *ResourceService) observe(operation string, start time.Time, errp *error) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordRoleOperation(operation, outcome(*errp), time.Since(start))
}
