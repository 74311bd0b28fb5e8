package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskhub-app/apiserver/config"
)

type memoryBackend struct {
	bucket  string
	objects map[string][]byte
	types   map[string]string
	putErr  error
}

func newMemoryBackend(bucket string) *memoryBackend {
	return &memoryBackend{bucket: bucket, objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memoryBackend) EnsureBucket(context.Context) error { return nil }

func (m *memoryBackend) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) error {
	if m.putErr != nil {
		return m.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func (m *memoryBackend) Delete(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func (m *memoryBackend) Bucket() string { return m.bucket }

func (m *memoryBackend) Close() error { return nil }

func TestPutReturnsPublicURL(t *testing.T) {
	backend := newMemoryBackend("avatars")
	s := NewStorage(backend, "https://cdn.taskhub.local/avatars/")

	url, err := s.Put(context.Background(), "acc-1/avatar.png", bytes.NewReader([]byte("png")), 3, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.taskhub.local/avatars/acc-1/avatar.png", url)
	assert.Equal(t, []byte("png"), backend.objects["acc-1/avatar.png"])
	assert.Equal(t, "image/png", backend.types["acc-1/avatar.png"])
}

func TestPutPropagatesBackendError(t *testing.T) {
	backend := newMemoryBackend("avatars")
	backend.putErr = errors.New("bucket gone")
	s := NewStorage(backend, "")

	_, err := s.Put(context.Background(), "k", bytes.NewReader(nil), 0, "")
	require.ErrorContains(t, err, "bucket gone")
}

func TestURLWithoutPublicBase(t *testing.T) {
	s := NewStorage(newMemoryBackend("avatars"), "")
	assert.Equal(t, "/avatars/acc-1/my%20photo.png", s.URL("/acc-1/my photo.png"))
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), config.StorageConfig{Backend: "ftp"})
	require.ErrorContains(t, err, "unsupported storage backend")
}

func TestNewMinioClientRequiresConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.MinioConfig
		want string
	}{
		{name: "endpoint", cfg: config.MinioConfig{}, want: "endpoint"},
		{name: "keys", cfg: config.MinioConfig{Endpoint: "localhost:9000"}, want: "access key"},
		{name: "bucket", cfg: config.MinioConfig{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b"}, want: "bucket"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMinioClient(tt.cfg)
			require.ErrorContains(t, err, tt.want)
		})
	}
}

func TestNewGCSClientRequiresBucket(t *testing.T) {
	_, err := NewGCSClient(context.Background(), config.GCSConfig{})
	require.ErrorContains(t, err, "bucket")
}
