package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/schoolerp/backend/internal/domain/billing"
	"github.com/schoolerp/backend/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 records path-style requests and serves canned answers
type fakeS3 struct {
	mu       sync.Mutex
	buckets  map[string]bool
	objects  map[string][]byte
	metadata map[string]http.Header
	failPut  bool
}

func newFakeS3(t *testing.T) (*fakeS3, *httptest.Server) {
	f := &fakeS3{buckets: map[string]bool{}, objects: map[string][]byte{}, metadata: map[string]http.Header{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := r.URL.Path[1:]
	bucket, key, _ := cut(p)

	switch {
	case r.Method == http.MethodHead && key == "":
		if !f.buckets[bucket] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
	case r.Method == http.MethodPut && key == "":
		f.buckets[bucket] = true
	case r.Method == http.MethodPut:
		if f.failPut {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, `<Error><Code>InternalError</Code><Message>boom</Message></Error>`)
			return
		}
		body, _ := io.ReadAll(r.Body)
		f.objects[p] = body
		f.metadata[p] = r.Header.Clone()
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func cut(p string) (string, string, bool) {
	for i := 0; i < len(p); i++ {
		if p[i] == '/' {
			return p[:i], p[i+1:], true
		}
	}
	return p, "", false
}

func newTestArchive(t *testing.T, endpoint string) *S3WebhookArchive {
	t.Helper()
	a, err := NewS3WebhookArchive(context.Background(), config.ArchiveConfig{
		Endpoint:     endpoint,
		Region:       "us-east-1",
		Bucket:       "webhooks-audit",
		AccessKey:    "key",
		SecretKey:    "secret",
		UsePathStyle: true,
	}, nil)
	require.NoError(t, err)
	return a
}

func sampleWebhook() *billing.ArchivedWebhook {
	return &billing.ArchivedWebhook{
		Gateway:    "paystack",
		Event:      "charge.success",
		Reference:  "PAY0123456789AB",
		ReceivedAt: time.Date(2025, 2, 3, 4, 5, 6, 7, time.UTC),
		Payload:    []byte(`{"event":"charge.success"}`),
	}
}

func TestObjectKey(t *testing.T) {
	w := sampleWebhook()
	assert.Equal(t,
		"webhooks/paystack/2025/02/03/PAY0123456789AB-charge.success-1738555506000000007.json",
		ObjectKey("webhooks", w))

	w.Reference = "../../etc/passwd"
	w.Gateway = ""
	key := ObjectKey("webhooks", w)
	assert.Contains(t, key, "webhooks/unknown/2025/02/03/")
	assert.NotContains(t, key, "/../")
}

func TestS3WebhookArchive(t *testing.T) {
	ctx := context.Background()
	fake, srv := newFakeS3(t)
	archive := newTestArchive(t, srv.URL)

	t.Run("ensure bucket creates it once", func(t *testing.T) {
		require.NoError(t, archive.EnsureBucket(ctx))
		assert.True(t, fake.buckets["webhooks-audit"])
		require.NoError(t, archive.EnsureBucket(ctx))
	})

	t.Run("archive puts the payload", func(t *testing.T) {
		w := sampleWebhook()
		require.NoError(t, archive.Archive(ctx, w))

		key := "webhooks-audit/" + ObjectKey("webhooks", w)
		assert.Equal(t, w.Payload, fake.objects[key])
		assert.Equal(t, "PAY0123456789AB", fake.metadata[key].Get("X-Amz-Meta-Reference"))
		assert.Equal(t, "application/json", fake.metadata[key].Get("Content-Type"))
	})

	t.Run("put failures are returned", func(t *testing.T) {
		fake.mu.Lock()
		fake.failPut = true
		fake.mu.Unlock()
		err := archive.Archive(ctx, sampleWebhook())
		assert.ErrorContains(t, err, "failed to archive webhook PAY0123456789AB")
	})
}

func TestNewS3WebhookArchive_RequiresBucket(t *testing.T) {
	_, err := NewS3WebhookArchive(context.Background(), config.ArchiveConfig{}, nil)
	assert.Error(t, err)
}

func TestNopArchive(t *testing.T) {
	assert.NoError(t, NopArchive{}.Archive(context.Background(), sampleWebhook()))
}
