package kemono

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "kemonod/pkg/errors"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, 5*time.Second, nil), server
}

func makePosts(n int) []Post {
	posts := make([]Post, n)
	for i := 0; i < n; i++ {
		posts[i] = Post{
			ID:        fmt.Sprintf("%d", 1000-i),
			Service:   "patreon",
			Title:     fmt.Sprintf("post %d", i),
			Published: fmt.Sprintf("2026-05-%02dT12:00:00", 28-i%28),
		}
	}
	return posts
}

func TestListPostsPagination(t *testing.T) {
	var gotPaths []string

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPaths = append(gotPaths, r.URL.RequestURI())

		count := PageSize
		if r.URL.Query().Get("o") == strconv.Itoa(PageSize) {
			count = 3 // short last page
		}
		_ = json.NewEncoder(w).Encode(makePosts(count))
	}))

	posts, hasMore, err := client.ListPosts("patreon", "123", 0)
	require.NoError(t, err)
	assert.Len(t, posts, PageSize)
	assert.True(t, hasMore, "a full page implies more may follow")

	posts, hasMore, err = client.ListPosts("patreon", "123", PageSize)
	require.NoError(t, err)
	assert.Len(t, posts, 3)
	assert.False(t, hasMore, "a short page is the end of history")

	// The first page carries no offset parameter.
	require.Len(t, gotPaths, 2)
	assert.Equal(t, "/api/v1/patreon/user/123/posts", gotPaths[0])
	assert.Equal(t, "/api/v1/patreon/user/123/posts?o=50", gotPaths[1])
}

func TestFetchPost(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/patreon/user/123/post/999", r.URL.Path)
		_ = json.NewEncoder(w).Encode(PostDetail{
			Post: Post{ID: "999", Title: "hello", Content: "body text"},
			Previews: []FileRef{
				{Server: "https://n1.kemono.cr", Name: "a.png", Path: "/aa/a.png"},
			},
		})
	}))

	detail, err := client.FetchPost("patreon", "123", "999")
	require.NoError(t, err)
	assert.Equal(t, "hello", detail.Post.Title)
	assert.Equal(t, "body text", detail.Post.Content)

	files := detail.Files()
	require.Len(t, files, 1)
	assert.Equal(t, "https://n1.kemono.cr/data/aa/a.png", files[0].URL)
	assert.Equal(t, CategoryImage, files[0].Category)
}

func TestFetchProfile(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/fanbox/user/42/profile", r.URL.Path)
		_ = json.NewEncoder(w).Encode(Profile{ID: "42", Name: "someone", Service: "fanbox"})
	}))

	profile, err := client.FetchProfile("fanbox", "42")
	require.NoError(t, err)
	assert.Equal(t, "someone", profile.Name)
}

func TestStatusCodeMapping(t *testing.T) {
	tests := []struct {
		status   int
		wantType errs.ErrorType
	}{
		{http.StatusForbidden, errs.ErrorTypeRateLimit},
		{http.StatusTooManyRequests, errs.ErrorTypeRateLimit},
		{http.StatusNotFound, errs.ErrorTypeNotFound},
		{http.StatusUnauthorized, errs.ErrorTypeAuth},
		{http.StatusInternalServerError, errs.ErrorTypeServerError},
		{http.StatusBadGateway, errs.ErrorTypeServerError},
	}

	for _, test := range tests {
		t.Run(strconv.Itoa(test.status), func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(test.status)
			}))

			_, _, err := client.ListPosts("patreon", "123", 0)
			require.Error(t, err)

			var apiErr *errs.Error
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, test.wantType, apiErr.Type)
			assert.Equal(t, test.status, apiErr.Code)
		})
	}
}

// countingLimiter records how often the client consulted it.
type countingLimiter struct {
	waits int
}

func (l *countingLimiter) Allow() bool { l.waits++; return true }
func (l *countingLimiter) Wait()       { l.waits++ }
func (l *countingLimiter) Reset()      {}

func TestRateLimiterGatesEveryRequest(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]Post{})
	}))

	limiter := &countingLimiter{}
	client.SetLimiter(limiter)

	_, _, err := client.ListPosts("patreon", "123", 0)
	require.NoError(t, err)
	_, err = client.FileSize(client.BaseURL() + "/data/aa/a.png")
	require.NoError(t, err)

	assert.Equal(t, 2, limiter.waits, "each request waits on the limiter once")
}

func TestSetRateLimitDisabledByZero(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]Post{})
	}))

	client.SetRateLimit(60)
	client.SetRateLimit(0)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, _, err := client.ListPosts("patreon", "123", 0)
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(start), time.Second, "disabled limit must not throttle")
}

func TestSessionCookieSent(t *testing.T) {
	var gotCookie, gotAgent string

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
		gotAgent = r.Header.Get("User-Agent")
		_ = json.NewEncoder(w).Encode([]Post{})
	}))

	client.SetSessionCookie("session=abc123")
	client.SetUserAgent("custom-agent/1.0")

	_, _, err := client.ListPosts("patreon", "123", 0)
	require.NoError(t, err)
	assert.Equal(t, "session=abc123", gotCookie)
	assert.Equal(t, "custom-agent/1.0", gotAgent)
}

func TestFileSize(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Content-Length", "12345")
	}))

	size, err := client.FileSize(client.BaseURL() + "/data/aa/a.png")
	require.NoError(t, err)
	assert.Equal(t, int64(12345), size)
}

func TestOpenResume(t *testing.T) {
	payload := []byte("0123456789abcdef")

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHeader := r.Header.Get("Range")
		if rangeHeader == "" {
			w.Write(payload)
			return
		}

		var offset int64
		_, err := fmt.Sscanf(rangeHeader, "bytes=%d-", &offset)
		require.NoError(t, err)

		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, len(payload)-1, len(payload)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(payload[offset:])
	}))

	body, _, resumed, err := client.Open(client.BaseURL()+"/data/f", 10)
	require.NoError(t, err)
	defer body.Close()

	assert.True(t, resumed)

	rest, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(rest))
}

func TestOpenRangeIgnoredByServer(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Plain 200 regardless of the Range header.
		w.Write([]byte("full payload"))
	}))

	body, _, resumed, err := client.Open(client.BaseURL()+"/data/f", 10)
	require.NoError(t, err)
	defer body.Close()

	assert.False(t, resumed, "a 200 response means the transfer restarted")
}

func TestParseCreatorURL(t *testing.T) {
	tests := []struct {
		name        string
		url         string
		wantService string
		wantUser    string
		wantErr     bool
	}{
		{"plain", "https://kemono.cr/patreon/user/12345", "patreon", "12345", false},
		{"trailing slash", "https://kemono.cr/fanbox/user/67890/", "fanbox", "67890", false},
		{"with subpage", "https://kemono.cr/patreon/user/12345/posts", "patreon", "12345", false},
		{"missing user segment", "https://kemono.cr/patreon/12345", "", "", true},
		{"not a creator page", "https://kemono.cr/", "", "", true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			service, userID, err := ParseCreatorURL(test.url)
			if test.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.wantService, service)
			assert.Equal(t, test.wantUser, userID)
		})
	}
}

func TestPublishedDay(t *testing.T) {
	p := Post{Published: "2026-05-01T12:00:00"}
	if got := p.PublishedDay(); got != "2026-05-01" {
		t.Errorf("PublishedDay() = %q", got)
	}

	short := Post{Published: "bad"}
	if got := short.PublishedDay(); got != "bad" {
		t.Errorf("PublishedDay() short = %q", got)
	}
}

func TestFilesSkipsUnusableRefs(t *testing.T) {
	detail := &PostDetail{
		Previews: []FileRef{
			{Server: "https://n1.kemono.cr", Name: "ok.png", Path: "/aa/ok.png"},
			{Name: "no-server.png", Path: "/aa/x.png"},
			{Server: "https://n1.kemono.cr", Name: "no-path.png"},
		},
	}

	files := detail.Files()
	if len(files) != 1 {
		t.Fatalf("expected 1 usable file, got %d", len(files))
	}
	if !strings.HasSuffix(files[0].URL, "/data/aa/ok.png") {
		t.Errorf("unexpected URL %q", files[0].URL)
	}
}
