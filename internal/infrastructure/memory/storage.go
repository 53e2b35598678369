package memory

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/ftu-admissions/admission-api/internal/admission/application"
	"github.com/ftu-admissions/admission-api/internal/media"
)

// StoredBlob is an object held by ObjectStorage.
type StoredBlob struct {
	ContentType string
	Data        []byte
}

// ObjectStorage keeps uploaded objects in memory and serves them under baseURL.
type ObjectStorage struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string]StoredBlob
}

var _ application.ObjectStorage = (*ObjectStorage)(nil)

// NewObjectStorage builds an empty store.
func NewObjectStorage(baseURL string) *ObjectStorage {
	return &ObjectStorage{
		baseURL: strings.TrimRight(baseURL, "/"),
		objects: make(map[string]StoredBlob),
	}
}

// BaseURL is the root every stored object's URL hangs off.
func (s *ObjectStorage) BaseURL() string {
	return s.baseURL
}

func (s *ObjectStorage) Put(ctx context.Context, key, contentType string, body io.Reader, _ int64) (application.StoredObject, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return application.StoredObject{}, fmt.Errorf("read object body: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return application.StoredObject{}, err
	}
	s.mu.Lock()
	s.objects[key] = StoredBlob{ContentType: contentType, Data: data}
	s.mu.Unlock()
	return application.StoredObject{Key: key, URL: s.baseURL + "/" + key}, nil
}

func (s *ObjectStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

// Get returns a stored object.
func (s *ObjectStorage) Get(key string) (StoredBlob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, ok := s.objects[key]
	return blob, ok
}

// Keys lists stored keys.
func (s *ObjectStorage) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		keys = append(keys, key)
	}
	return keys
}

// ServeHTTP serves stored objects by key. Mount it behind http.StripPrefix.
func (s *ObjectStorage) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	blob, ok := s.Get(strings.TrimPrefix(r.URL.Path, "/"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	header := w.Header()
	header.Set("X-Content-Type-Options", "nosniff")
	header.Set("Content-Security-Policy", "default-src 'none'; sandbox")
	if media.IsRaster(blob.ContentType) {
		header.Set("Content-Type", blob.ContentType)
		header.Set("Content-Disposition", "inline")
	} else {
		contentType := blob.ContentType
		if contentType == "" || strings.Contains(strings.ToLower(contentType), "svg") {
			contentType = "application/octet-stream"
		}
		header.Set("Content-Type", contentType)
		header.Set("Content-Disposition", "attachment")
	}
	header.Set("Content-Length", fmt.Sprint(len(blob.Data)))
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(blob.Data)
}
