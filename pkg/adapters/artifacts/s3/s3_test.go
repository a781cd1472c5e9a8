package s3

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/danielcregg/powerpoint-to-video-old/pkg/adapters/artifacts/artifacttest"
	"github.com/danielcregg/powerpoint-to-video-old/pkg/domain"
	"github.com/danielcregg/powerpoint-to-video-old/pkg/ports"
)

// fakeS3 serves a single path-style bucket.
type fakeS3 struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)
	if parts[0] != f.bucket {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if len(parts) == 1 || parts[1] == "" {
		w.WriteHeader(http.StatusOK)
		return
	}
	key := parts[1]

	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		f.objects[key] = data
		w.WriteHeader(http.StatusOK)
	case http.MethodHead:
		if _, ok := f.objects[key]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			return
		}
		_, _ = w.Write(data)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestStore(t *testing.T, prefix string) (*ArtifactStore, *fakeS3) {
	t.Helper()
	fake := &fakeS3{bucket: "decks", objects: make(map[string][]byte)}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	store, err := New(context.Background(), Config{
		Bucket:          "decks",
		Region:          "us-east-1",
		Endpoint:        server.URL,
		Prefix:          prefix,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		ForcePathStyle:  true,
	}, zap.NewNop())
	require.NoError(t, err)
	return store, fake
}

func TestArtifactStore(t *testing.T) {
	artifacttest.Run(t, func(t *testing.T) ports.ArtifactStore {
		store, _ := newTestStore(t, "")
		return store
	})
}

func TestPrefixAndSpooling(t *testing.T) {
	store, fake := newTestStore(t, "/tenant-a/")
	ctx := context.Background()
	key := domain.SegmentKey("job-9", 1, 3)

	// io.MultiReader is not seekable, forcing the temp-file path.
	body := io.MultiReader(strings.NewReader("seg"), strings.NewReader("ment"))
	require.NoError(t, store.Put(ctx, key, body))

	fake.mu.Lock()
	stored, ok := fake.objects["tenant-a/"+key]
	fake.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, "segment", string(stored))

	exists, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestConfigValidate(t *testing.T) {
	assert.Error(t, Config{}.Validate())
	assert.Error(t, Config{Bucket: "b", AccessKeyID: "only-id"}.Validate())
	assert.NoError(t, Config{Bucket: "b"}.Validate())
}

type apiError struct{ code string }

func (e apiError) Error() string                 { return e.code }
func (e apiError) ErrorCode() string             { return e.code }
func (e apiError) ErrorMessage() string          { return e.code }
func (e apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultServer }

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{apiError{"SlowDown"}, domain.ErrResourceExhausted},
		{apiError{"AccessDenied"}, domain.ErrPermanent},
		{apiError{"NoSuchKey"}, domain.ErrNotFound},
		{apiError{"InternalError"}, domain.ErrTransient},
		{errors.New("connection reset"), domain.ErrTransient},
	}
	for _, tt := range tests {
		assert.ErrorIs(t, classify(tt.err), tt.want, tt.err.Error())
	}
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "video/mp4", contentType("jobs/a/final/v2.mp4"))
	assert.Equal(t, "image/png", contentType("jobs/a/slides/000/image/v1.png"))
	assert.Equal(t, "application/octet-stream", contentType("jobs/a/blob"))
	assert.Equal(t, "text/plain; charset=utf-8", contentType("jobs/a/final/v2.mp4.strategy"))
}
