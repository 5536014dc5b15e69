package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kemonod/pkg/config"
	"kemonod/pkg/download"
	"kemonod/pkg/kemono"
	"kemonod/pkg/logger"
	"kemonod/pkg/registry"
	"kemonod/pkg/scheduler"
)

// mockPlatform serves the platform API plus its file endpoints from
// in-memory fixtures. File requests go through http.ServeContent so
// HEAD probes and Range continuations behave like a real server.
type mockPlatform struct {
	server *httptest.Server

	mu            sync.Mutex
	posts         []kemono.Post
	details       map[string]*kemono.PostDetail
	files         map[string][]byte
	rangeRequests int
	listRequests  int
}

func newMockPlatform(t *testing.T) *mockPlatform {
	t.Helper()

	p := &mockPlatform{
		details: make(map[string]*kemono.PostDetail),
		files:   make(map[string][]byte),
	}
	p.server = httptest.NewServer(http.HandlerFunc(p.handle))
	t.Cleanup(p.server.Close)

	return p
}

func (p *mockPlatform) handle(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	path := r.URL.Path

	switch {
	case strings.HasSuffix(path, "/posts"):
		p.listRequests++
		// Small fixture sets fit on one page.
		_ = json.NewEncoder(w).Encode(p.posts)

	case strings.Contains(path, "/post/"):
		postID := path[strings.LastIndex(path, "/")+1:]
		detail, ok := p.details[postID]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(detail)

	case strings.HasSuffix(path, "/profile"):
		_ = json.NewEncoder(w).Encode(kemono.Profile{ID: "123", Name: "Tester", Service: "patreon"})

	case strings.HasPrefix(path, "/data/"):
		data, ok := p.files[path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Range") != "" {
			p.rangeRequests++
		}
		http.ServeContent(w, r, path, time.Time{}, bytes.NewReader(data))

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// addPost registers a post with its detail record and file payloads.
func (p *mockPlatform) addPost(post kemono.Post, content string, files map[string][]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	detail := &kemono.PostDetail{Post: post}
	detail.Post.Content = content

	for name, data := range files {
		path := "/" + post.ID + "/" + name
		p.files["/data"+path] = data

		ref := kemono.FileRef{Server: p.server.URL, Name: name, Path: path}
		if strings.HasSuffix(name, ".png") {
			detail.Previews = append(detail.Previews, ref)
		} else {
			detail.Attachments = append(detail.Attachments, ref)
		}
	}

	p.posts = append([]kemono.Post{post}, p.posts...) // newest first
	p.details[post.ID] = detail
}

// newStack wires the real client, download engine and orchestrator
// against the mock platform, with all disk writes on an in-memory fs.
func newStack(t *testing.T, p *mockPlatform, fs afero.Fs) (*scheduler.Orchestrator, *registry.Store) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Platform.BaseURL = p.server.URL
	cfg.Download.Directory = "/downloads"
	cfg.Download.RetryDelay = time.Millisecond
	cfg.Download.PacingDelay = 0

	store, err := registry.NewStore(fs, "/state/artists.json")
	require.NoError(t, err)

	log := logger.GetLogger()
	client := kemono.NewClient(p.server.URL, 5*time.Second, log)
	client.SetRateLimit(cfg.Platform.RequestsPerMinute)
	engine := download.NewEngine(fs, client, download.Options{
		MaxAttempts:  3,
		RetryDelay:   time.Millisecond,
		PacingDelay:  0,
		SkipExisting: cfg.Download.SkipExisting,
	}, log)

	return scheduler.New(cfg, store, client, engine, fs, log), store
}

func registerTester(t *testing.T, orch *scheduler.Orchestrator) *registry.Artist {
	t.Helper()

	artist := &registry.Artist{
		Name:            "Tester",
		Service:         "patreon",
		UserID:          "123",
		UseGlobalFilter: true,
	}
	require.NoError(t, orch.Register(artist))
	return artist
}

func TestCheckCycleDownloadsNewPosts(t *testing.T) {
	platform := newMockPlatform(t)
	platform.addPost(
		kemono.Post{ID: "p1", Service: "patreon", Title: "first post", Published: "2026-05-01T12:00:00"},
		"hello from p1",
		map[string][]byte{"a.png": []byte("png bytes for p1")},
	)
	platform.addPost(
		kemono.Post{ID: "p2", Service: "patreon", Title: "second post", Published: "2026-05-02T12:00:00"},
		"",
		map[string][]byte{"archive.zip": []byte("zip payload for p2")},
	)

	fs := afero.NewMemMapFs()
	orch, store := newStack(t, platform, fs)
	artist := registerTester(t, orch)

	stats, err := orch.CheckOnce(context.Background(), artist.ID)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.PostsSeen)
	assert.Equal(t, 2, stats.PostsMatched)
	assert.Equal(t, 2, stats.FilesDownloaded)
	assert.Equal(t, 0, stats.FilesFailed)

	// Images are renamed to their index, attachments keep their name.
	got, err := afero.ReadFile(fs, "/downloads/Tester/[2026.05.01] first post/0.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("png bytes for p1"), got)

	got, err = afero.ReadFile(fs, "/downloads/Tester/[2026.05.02] second post/archive.zip")
	require.NoError(t, err)
	assert.Equal(t, []byte("zip payload for p2"), got)

	content, err := afero.ReadFile(fs, "/downloads/Tester/[2026.05.01] first post/content.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello from p1", string(content))

	// The watermark advanced to the newest processed post.
	updated, ok := store.Get(artist.ID)
	require.True(t, ok)
	assert.Equal(t, "2026-05-02T12:00:00", updated.LastPostDate)
}

func TestSecondCheckIsIdempotent(t *testing.T) {
	platform := newMockPlatform(t)
	platform.addPost(
		kemono.Post{ID: "p1", Service: "patreon", Title: "first post", Published: "2026-05-01T12:00:00"},
		"",
		map[string][]byte{"a.png": []byte("png bytes")},
	)

	fs := afero.NewMemMapFs()
	orch, _ := newStack(t, platform, fs)
	artist := registerTester(t, orch)

	stats, err := orch.CheckOnce(context.Background(), artist.ID)
	require.NoError(t, err)
	require.Equal(t, 1, stats.FilesDownloaded)

	stats, err = orch.CheckOnce(context.Background(), artist.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.PostsSeen, "everything at or below the watermark is old")
	assert.Equal(t, 0, stats.FilesDownloaded)
}

func TestWatermarkSurvivesRestart(t *testing.T) {
	platform := newMockPlatform(t)
	platform.addPost(
		kemono.Post{ID: "p1", Service: "patreon", Title: "first post", Published: "2026-05-01T12:00:00"},
		"",
		map[string][]byte{"a.png": []byte("png bytes")},
	)

	fs := afero.NewMemMapFs()
	orch, _ := newStack(t, platform, fs)
	artist := registerTester(t, orch)

	_, err := orch.CheckOnce(context.Background(), artist.ID)
	require.NoError(t, err)

	// A fresh stack over the same filesystem reloads the registry.
	restarted, store := newStack(t, platform, fs)
	require.Equal(t, 1, store.Len())

	reloaded, ok := store.Find("patreon/123")
	require.True(t, ok)
	assert.Equal(t, "2026-05-01T12:00:00", reloaded.LastPostDate)

	stats, err := restarted.CheckOnce(context.Background(), reloaded.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.PostsSeen)
}

func TestPartialDownloadResumes(t *testing.T) {
	payload := []byte("0123456789abcdefghijklmnopqrstuvwxyz")

	platform := newMockPlatform(t)
	platform.addPost(
		kemono.Post{ID: "p1", Service: "patreon", Title: "first post", Published: "2026-05-01T12:00:00"},
		"",
		map[string][]byte{"big.bin": payload},
	)

	fs := afero.NewMemMapFs()
	orch, _ := newStack(t, platform, fs)
	artist := registerTester(t, orch)

	// A previous interrupted run left half the file behind.
	dest := "/downloads/Tester/[2026.05.01] first post/big.bin"
	require.NoError(t, afero.WriteFile(fs, dest, payload[:18], 0644))

	stats, err := orch.CheckOnce(context.Background(), artist.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesDownloaded)

	got, err := afero.ReadFile(fs, dest)
	require.NoError(t, err)
	assert.Equal(t, payload, got, "resumed file must be byte-identical")

	platform.mu.Lock()
	rangeRequests := platform.rangeRequests
	platform.mu.Unlock()
	assert.GreaterOrEqual(t, rangeRequests, 1, "the transfer continued from the partial")
}

func TestExistingCompleteFileIsSkipped(t *testing.T) {
	payload := []byte("already on disk")

	platform := newMockPlatform(t)
	platform.addPost(
		kemono.Post{ID: "p1", Service: "patreon", Title: "first post", Published: "2026-05-01T12:00:00"},
		"",
		map[string][]byte{"a.png": payload},
	)

	fs := afero.NewMemMapFs()
	orch, _ := newStack(t, platform, fs)
	artist := registerTester(t, orch)

	dest := "/downloads/Tester/[2026.05.01] first post/0.png"
	require.NoError(t, afero.WriteFile(fs, dest, payload, 0644))

	stats, err := orch.CheckOnce(context.Background(), artist.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.FilesDownloaded)
	assert.Equal(t, 1, stats.FilesSkipped)
}
