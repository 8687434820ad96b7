//go:build integration

package media

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/quill/pkg/config"
)

// setupMinIO starts a MinIO container and returns a store with both buckets created
func setupMinIO(t *testing.T) *S3Store {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     "minioadmin",
				"MINIO_ROOT_PASSWORD": "minioadmin",
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start MinIO container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate MinIO container: %v", err)
		}
	})

	endpoint, err := container.PortEndpoint(ctx, "9000/tcp", "http")
	require.NoError(t, err)

	store, err := NewS3Store(ctx, config.ObjectStoreConfig{
		Endpoint:     endpoint,
		Region:       "us-east-1",
		AccessKey:    "minioadmin",
		SecretKey:    "minioadmin",
		UsePathStyle: true,
	}, string(BucketAvatars), string(BucketImages))
	require.NoError(t, err)
	return store
}

func TestS3Store_Integration(t *testing.T) {
	store := setupMinIO(t)
	ctx := context.Background()

	require.NoError(t, store.HealthCheck(ctx))

	require.NoError(t, store.Put(ctx, "images", "user-1/a.png", []byte("png"), "image/png"))
	ok, err := store.Exists(ctx, "images", "user-1/a.png")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Delete(ctx, "images", "user-1/a.png"))
	ok, err = store.Exists(ctx, "images", "user-1/a.png")
	require.NoError(t, err)
	assert.False(t, ok)

	// deleting twice is fine
	require.NoError(t, store.Delete(ctx, "images", "user-1/a.png"))
}

func TestService_UploadToMinIO(t *testing.T) {
	store := setupMinIO(t)
	svc := NewService(store, "http://cdn.local", nil, nil)
	ctx := context.Background()

	url, err := svc.Upload(ctx, BucketAvatars, "user-1", "me.png", "image/png", bytes.NewReader(smallPNG(t)))
	require.NoError(t, err)

	key, err := svc.KeyFromURL(BucketAvatars, url)
	require.NoError(t, err)
	ok, err := store.Exists(ctx, string(BucketAvatars), key)
	require.NoError(t, err)
	assert.True(t, ok)
}
