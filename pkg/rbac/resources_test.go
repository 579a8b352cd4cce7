package rbac_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/rbac"
	"github.com/platinummonkey/gatehouse/pkg/storage/memory"
)

func TestResourceService_CRUD(t *testing.T) {
	ctx := context.Background()
	svc := rbac.NewResourceService(memory.New())

	image, err := svc.Create(ctx, rbac.ResourceInput{Name: "Image", Slug: "image", Description: "Uploaded images"})
	require.NoError(t, err)
	assert.NotEmpty(t, image.ID)
	assert.Equal(t, "Uploaded images", image.Description)

	_, err = svc.Create(ctx, rbac.ResourceInput{Name: "Another", Slug: "image"})
	assert.ErrorIs(t, err, rbac.ErrConflict)

	_, err = svc.Create(ctx, rbac.ResourceInput{Slug: "video"})
	assert.ErrorIs(t, err, rbac.ErrValidation)

	_, err = svc.Create(ctx, rbac.ResourceInput{Name: "Article", Slug: "article"})
	require.NoError(t, err)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "article", list[0].Slug)
	assert.Equal(t, "image", list[1].Slug)

	got, err := svc.Get(ctx, image.ID)
	require.NoError(t, err)
	assert.Equal(t, image, got)

	deleted, err := svc.Delete(ctx, image.ID)
	require.NoError(t, err)
	assert.Equal(t, image.ID, deleted.ID)

	_, err = svc.Get(ctx, image.ID)
	assert.ErrorIs(t, err, rbac.ErrNotFound)
	_, err = svc.Delete(ctx, image.ID)
	assert.ErrorIs(t, err, rbac.ErrNotFound)
}

func TestResourceService_Upsert(t *testing.T) {
	ctx := context.Background()
	svc := rbac.NewResourceService(memory.New())

	created, result, err := svc.Upsert(ctx, rbac.ResourceInput{Name: "Image", Slug: "image"})
	require.NoError(t, err)
	assert.Equal(t, rbac.UpsertCreated, result)

	same, result, err := svc.Upsert(ctx, rbac.ResourceInput{Name: "Image", Slug: "image"})
	require.NoError(t, err)
	assert.Equal(t, rbac.UpsertUnchanged, result)
	assert.Equal(t, created.ID, same.ID)

	changed, result, err := svc.Upsert(ctx, rbac.ResourceInput{Name: "Images", Slug: "image", Description: "All images"})
	require.NoError(t, err)
	assert.Equal(t, rbac.UpsertUpdated, result)
	assert.Equal(t, created.ID, changed.ID, "upsert keeps the id")
	assert.Equal(t, created.CreatedAt, changed.CreatedAt)

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Images", got.Name)
	assert.Equal(t, "All images", got.Description)

	_, _, err = svc.Upsert(ctx, rbac.ResourceInput{Name: "Bad", Slug: "Not A Slug"})
	assert.ErrorIs(t, err, rbac.ErrValidation)
}

func TestResourceService_OnChange(t *testing.T) {
	ctx := context.Background()
	svc := rbac.NewResourceService(memory.New())

	var changed []string
	svc.OnChange(func(_ context.Context, id string) {
		changed = append(changed, id)
	})

	image, err := svc.Create(ctx, rbac.ResourceInput{Name: "Image", Slug: "image"})
	require.NoError(t, err)
	assert.Empty(t, changed, "a new resource has no grants pointing at it")

	_, result, err := svc.Upsert(ctx, rbac.ResourceInput{Name: "Image", Slug: "image"})
	require.NoError(t, err)
	assert.Equal(t, rbac.UpsertUnchanged, result)
	assert.Empty(t, changed)

	_, result, err = svc.Upsert(ctx, rbac.ResourceInput{Name: "Images", Slug: "image"})
	require.NoError(t, err)
	assert.Equal(t, rbac.UpsertUpdated, result)
	assert.Equal(t, []string{image.ID}, changed)

	_, err = svc.Delete(ctx, image.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{image.ID, image.ID}, changed)

	_, err = svc.Delete(ctx, image.ID)
	assert.ErrorIs(t, err, rbac.ErrNotFound)
	assert.Len(t, changed, 2, "failed deletes notify nobody")
}
