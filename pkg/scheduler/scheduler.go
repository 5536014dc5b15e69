// Package scheduler owns the tracked-creator registry and drives the
// periodic check loop: timer evaluation, crawl, filter, download,
// watermark update.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"

	"kemonod/pkg/config"
	"kemonod/pkg/download"
	"kemonod/pkg/filter"
	"kemonod/pkg/kemono"
	"kemonod/pkg/logger"
	"kemonod/pkg/naming"
	"kemonod/pkg/ratelimit"
	"kemonod/pkg/registry"
	"kemonod/pkg/retry"
	"kemonod/pkg/timer"
)

// ErrBusy is returned when a mutation targets a creator whose check
// cycle is currently running.
var ErrBusy = errors.New("creator check in progress")

// EntityState tracks where a creator is in the check lifecycle.
type EntityState int

const (
	// Idle means waiting for the next due time.
	Idle EntityState = iota
	// Due means the timer fired and the check awaits dispatch.
	Due
	// Checking means the crawl/filter/download cycle is running.
	Checking
)

func (s EntityState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Due:
		return "due"
	case Checking:
		return "checking"
	default:
		return "unknown"
	}
}

// Crawler lists and resolves posts for one creator.
type Crawler interface {
	ListPosts(service, userID string, offset int) ([]kemono.Post, bool, error)
	FetchPost(service, userID, postID string) (*kemono.PostDetail, error)
}

// Downloader drives one file transfer to a terminal state.
type Downloader interface {
	Fetch(ctx context.Context, task *download.Task) download.Result
}

// CycleStats summarizes one creator check cycle.
type CycleStats struct {
	PostsSeen       int
	PostsMatched    int
	FilesDownloaded int
	FilesSkipped    int
	FilesFailed     int
	Bytes           int64
}

// Orchestrator runs the scheduling loop over the registry. Checks run
// sequentially; only registry mutations happen concurrently.
type Orchestrator struct {
	cfg     *config.Config
	store   *registry.Store
	crawler Crawler
	engine  Downloader
	fs      afero.Fs
	log     logger.Logger

	// now is replaceable for tests.
	now func() time.Time

	mu      sync.Mutex
	states  map[string]EntityState
	lastRun map[string]time.Time

	kick chan struct{}

	// Listing pages retry on a flat cadence; post detail fetches back
	// off exponentially and are paced so a burst of new posts does not
	// hammer the API.
	listRetry   *retry.Config
	detailRetry *retry.Config
	detailPacer *ratelimit.Pacer
}

// New creates an orchestrator.
func New(cfg *config.Config, store *registry.Store, crawler Crawler, engine Downloader, fs afero.Fs, log logger.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		store:   store,
		crawler: crawler,
		engine:  engine,
		fs:      fs,
		log:     log,
		now:     time.Now,
		states:  make(map[string]EntityState),
		lastRun: make(map[string]time.Time),
		kick:    make(chan struct{}, 1),
		listRetry: &retry.Config{
			MaxAttempts: 10,
			Backoff:     &retry.ConstantBackoff{Delay: 2 * time.Second},
			RetryIf:     retry.DefaultRetryIf,
			Logger:      log,
		},
		detailRetry: &retry.Config{
			MaxAttempts: 10,
			Backoff: &retry.ExponentialBackoff{
				BaseDelay:  5 * time.Second,
				MaxDelay:   5 * time.Minute,
				Multiplier: 2.0,
			},
			RetryIf: retry.DefaultRetryIf,
			Logger:  log,
		},
		detailPacer: ratelimit.NewPacer(cfg.Download.PacingDelay),
	}
}

// SetClock replaces the wall clock, for tests.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// Run executes the scheduling loop until the context ends. Each tick
// evaluates every creator's timer against the wall clock, so ticks
// missed while the process was suspended are caught up on the next one.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.log.InfoWithFields("scheduler started", map[string]interface{}{
		"tick_interval": o.cfg.Scheduler.TickInterval.String(),
		"creators":      o.store.Len(),
	})

	ticker := time.NewTicker(o.cfg.Scheduler.TickInterval)
	defer ticker.Stop()

	// Evaluate immediately on startup rather than waiting a full tick.
	o.dispatchDue(ctx)

	for {
		select {
		case <-ctx.Done():
			o.log.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			o.dispatchDue(ctx)
		case <-o.kick:
			o.dispatchDue(ctx)
		}
	}
}

// dispatchDue marks due creators and runs their checks sequentially.
func (o *Orchestrator) dispatchDue(ctx context.Context) {
	now := o.now()

	for _, artist := range o.store.All() {
		if ctx.Err() != nil {
			return
		}

		o.mu.Lock()
		state := o.states[artist.ID]
		lastRun := o.lastRun[artist.ID]

		if state == Checking {
			o.mu.Unlock()
			continue
		}

		schedule := o.scheduleFor(artist)
		if state == Idle {
			if !schedule.IsDue(lastRun, now) {
				o.mu.Unlock()
				continue
			}
			o.states[artist.ID] = Due
		}

		// Dispatch: stamp lastRun before the crawl so an overrunning
		// cycle cannot re-fire within the same due window.
		o.states[artist.ID] = Checking
		o.lastRun[artist.ID] = now
		o.mu.Unlock()

		stats, err := o.checkArtist(ctx, artist)

		o.mu.Lock()
		o.states[artist.ID] = Idle
		o.mu.Unlock()

		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			o.log.ErrorWithFields("check cycle failed", map[string]interface{}{
				"artist": artist.DisplayName(),
				"error":  err.Error(),
			})
			continue
		}

		o.log.InfoWithFields("check cycle complete", map[string]interface{}{
			"artist":     artist.DisplayName(),
			"posts_seen": stats.PostsSeen,
			"matched":    stats.PostsMatched,
			"downloaded": stats.FilesDownloaded,
			"skipped":    stats.FilesSkipped,
			"failed":     stats.FilesFailed,
			"bytes":      humanize.Bytes(uint64(stats.Bytes)),
			"next_due":   schedule.NextDue(o.now()).Format(time.RFC3339),
		})
	}
}

// scheduleFor returns the creator's own timer or the global one.
func (o *Orchestrator) scheduleFor(artist *registry.Artist) timer.Schedule {
	if artist.Timer != nil {
		return *artist.Timer
	}
	return o.cfg.Scheduler.GlobalTimer
}

// checkArtist runs one full crawl/filter/download cycle for a creator.
func (o *Orchestrator) checkArtist(ctx context.Context, artist *registry.Artist) (*CycleStats, error) {
	o.log.InfoWithFields("checking creator", map[string]interface{}{
		"artist":    artist.DisplayName(),
		"service":   artist.Service,
		"watermark": artist.LastPostDate,
	})

	newPosts, err := o.crawlNewPosts(ctx, artist)
	if err != nil {
		return nil, fmt.Errorf("crawl failed: %w", err)
	}

	stats := &CycleStats{PostsSeen: len(newPosts)}

	// Oldest first, so the watermark only ever advances past posts
	// whose every file reached a terminal state.
	sort.Slice(newPosts, func(i, j int) bool {
		return newPosts[i].Published < newPosts[j].Published
	})

	for i := range newPosts {
		post := &newPosts[i]

		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		processed, err := o.processPost(ctx, artist, post, stats)
		if err != nil {
			return stats, err
		}
		if !processed {
			// A post left unprocessed blocks the watermark; later posts
			// would be lost as "old" if we advanced past them.
			break
		}

		if err := o.store.UpdateLastPostDate(artist.ID, post.Published); err != nil {
			return stats, fmt.Errorf("failed to persist watermark: %w", err)
		}
		artist.LastPostDate = post.Published
	}

	return stats, nil
}

// crawlNewPosts pages through the listing newest-first until it reaches
// the watermark or the end of history.
func (o *Orchestrator) crawlNewPosts(ctx context.Context, artist *registry.Artist) ([]kemono.Post, error) {
	var collected []kemono.Post
	offset := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		posts, hasMore, err := o.listPage(ctx, artist, offset)
		if err != nil {
			return nil, err
		}

		reachedWatermark := false
		for _, post := range posts {
			if artist.LastPostDate != "" && post.Published <= artist.LastPostDate {
				reachedWatermark = true
				break
			}
			collected = append(collected, post)
		}

		if reachedWatermark || !hasMore {
			return collected, nil
		}
		offset += kemono.PageSize
	}
}

// listPage fetches one listing page with retry.
func (o *Orchestrator) listPage(ctx context.Context, artist *registry.Artist, offset int) ([]kemono.Post, bool, error) {
	type page struct {
		posts   []kemono.Post
		hasMore bool
	}

	retryCfg := *o.listRetry
	retryCfg.Context = ctx

	result, err := retry.DoWithResult(func() (page, error) {
		posts, hasMore, err := o.crawler.ListPosts(artist.Service, artist.UserID, offset)
		return page{posts, hasMore}, err
	}, &retryCfg)
	if err != nil {
		return nil, false, err
	}

	return result.posts, result.hasMore, nil
}

// processPost filters one post and downloads its files. It returns true
// when the post reached a terminal state for every file, so the
// watermark may advance past it.
func (o *Orchestrator) processPost(ctx context.Context, artist *registry.Artist, post *kemono.Post, stats *CycleStats) (bool, error) {
	if err := o.detailPacer.Wait(ctx); err != nil {
		return false, err
	}

	retryCfg := *o.detailRetry
	retryCfg.Context = ctx

	detail, err := retry.DoWithResult(func() (*kemono.PostDetail, error) {
		return o.crawler.FetchPost(artist.Service, artist.UserID, post.ID)
	}, &retryCfg)
	if err != nil {
		return false, fmt.Errorf("failed to fetch post %s: %w", post.ID, err)
	}

	if !filter.ShouldDownload(detail, artist.Filter, &o.cfg.GlobalFilter, artist.UseGlobalFilter) {
		o.log.DebugWithFields("post filtered out", map[string]interface{}{
			"post":  post.ID,
			"title": post.Title,
		})
		return true, nil
	}
	stats.PostsMatched++

	namingCfg := o.namingFor(artist)
	postDir := o.postDir(artist, post, namingCfg)

	if o.cfg.Download.SaveContent && detail.Post.Content != "" {
		if err := o.saveContent(postDir, detail.Post.Content); err != nil {
			o.log.WarnWithFields("failed to save post content", map[string]interface{}{
				"post":  post.ID,
				"error": err.Error(),
			})
		}
	}

	for idx, file := range detail.Files() {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		task := &download.Task{
			URL:      file.URL,
			Dest:     filepath.Join(postDir, naming.FileName(file.Name, idx, namingCfg)),
			Category: string(file.Category),
		}

		result := o.engine.Fetch(ctx, task)
		switch result.State {
		case download.Success:
			if result.Skipped {
				stats.FilesSkipped++
			} else {
				stats.FilesDownloaded++
				stats.Bytes += result.Bytes
			}
		case download.PermanentFailure:
			// Reported, then the cycle moves on. The post still counts
			// as processed; retrying forever would stall the watermark.
			stats.FilesFailed++
			o.log.ErrorWithFields("file failed permanently", map[string]interface{}{
				"post":  post.ID,
				"url":   file.URL,
				"error": result.Err.Error(),
			})
		case download.Canceled:
			return false, result.Err
		}
	}

	return true, nil
}

// namingFor merges per-creator overrides into the global naming config.
func (o *Orchestrator) namingFor(artist *registry.Artist) *config.NamingConfig {
	cfg := o.cfg.Naming
	if ov := artist.Overrides; ov != nil {
		if ov.ArtistFolderFormat != "" {
			cfg.ArtistFolderFormat = ov.ArtistFolderFormat
		}
		if ov.PostFolderFormat != "" {
			cfg.PostFolderFormat = ov.PostFolderFormat
		}
		if ov.FileNameFormat != "" {
			cfg.FileNameFormat = ov.FileNameFormat
		}
	}
	return &cfg
}

// postDir resolves the destination directory for one post.
func (o *Orchestrator) postDir(artist *registry.Artist, post *kemono.Post, namingCfg *config.NamingConfig) string {
	baseDir := o.cfg.Download.Directory
	if artist.Overrides != nil && artist.Overrides.DownloadDir != "" {
		baseDir = artist.Overrides.DownloadDir
	}

	return filepath.Join(
		baseDir,
		naming.ArtistFolder(artist.DisplayName(), artist.Service, artist.UserID, namingCfg),
		naming.PostFolder(post, namingCfg),
	)
}

// saveContent writes the post's text body next to its files.
func (o *Orchestrator) saveContent(postDir, content string) error {
	if err := o.fs.MkdirAll(postDir, 0755); err != nil {
		return err
	}
	return afero.WriteFile(o.fs, filepath.Join(postDir, "content.txt"), []byte(content), 0644)
}
