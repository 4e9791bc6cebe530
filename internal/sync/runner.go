// Package sync drives whole-library runs: authentication, album listing,
// the item-type filters, the consecutive previously-downloaded counter,
// the recently-deleted cleanup pass, and the watch loop. Per-asset work is
// delegated to the download engine.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/icloud-photos-downloader/icloudpd-go/internal/download"
	"github.com/icloud-photos-downloader/icloudpd-go/internal/photos"
)

// Album is one listable container of assets. The command layer adapts
// *photos.Album to it; tests use fakes.
type Album interface {
	Name() string
	Len(ctx context.Context) (int64, error)
	Cursor(ctx context.Context) (Cursor, error)
}

// Cursor pages through an album newest first. Next returns a nil batch
// once the album is exhausted.
type Cursor interface {
	Next(ctx context.Context) ([]download.Media, error)
}

// Processor is the download engine as the runner sees it.
// Implemented by *download.Engine.
type Processor interface {
	Run(ctx context.Context, workers int, produce download.Producer, report download.Reporter) error
	LocalPaths(m download.Media) []string
}

// Config holds the per-run settings the runner itself consumes. Settings
// that only affect individual files live in download.Options.
type Config struct {
	// Album is the container to mirror.
	Album string

	// Recent caps how many of the newest assets are considered. Negative
	// means no cap.
	Recent int64

	// UntilFound stops the run once this many consecutive assets were
	// already on disk. Negative disables the counter.
	UntilFound int64

	SkipVideos bool

	// Workers is the download pool size.
	Workers int

	MaxRetries int
	RetryWait  time.Duration

	// WatchInterval re-runs the pass after sleeping this long. Zero or
	// negative runs once.
	WatchInterval time.Duration

	// AutoDelete mirrors the provider's Recently Deleted album onto the
	// local tree after the download pass.
	AutoDelete bool

	DryRun bool

	// Sizes and Directory are echoed in the run banner. The engine holds
	// the authoritative copies.
	Sizes     []string
	Directory string
}

// Collaborators are the injected session and library operations.
type Collaborators struct {
	// Authenticate establishes the session. force discards cached
	// cookies first.
	Authenticate func(ctx context.Context, force bool) error

	// OpenAlbum resolves an album by name.
	OpenAlbum func(ctx context.Context, name string) (Album, error)

	Engine Processor

	// Observe, when set, receives every processed asset and its outcome
	// after the runner's own bookkeeping. The command layer hangs its
	// progress counter here.
	Observe download.Reporter
}

// Runner executes download passes over one album.
type Runner struct {
	cfg    Config
	logger *slog.Logger

	authenticate func(ctx context.Context, force bool) error
	openAlbum    func(ctx context.Context, name string) (Album, error)
	engine       Processor
	observe      download.Reporter

	sleep func(ctx context.Context, d time.Duration) error
}

func NewRunner(cfg Config, c Collaborators, logger *slog.Logger) *Runner {
	if cfg.Album == "" {
		cfg.Album = photos.AlbumAllPhotos
	}
	if len(cfg.Sizes) == 0 {
		cfg.Sizes = []string{photos.SizeOriginal}
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = download.MaxRetries
	}

	return &Runner{
		cfg:          cfg,
		logger:       logger,
		authenticate: c.Authenticate,
		openAlbum:    c.OpenAlbum,
		engine:       c.Engine,
		observe:      c.Observe,
		sleep:        sleepContext,
	}
}

// Run executes passes until the context ends or, without a watch
// interval, the first pass completes. Per-asset failures do not end a
// pass; errors returned here are fatal.
func (r *Runner) Run(ctx context.Context) error {
	for {
		if err := r.runOnce(ctx); err != nil {
			return err
		}

		if r.cfg.WatchInterval <= 0 {
			return nil
		}

		r.logger.Info(fmt.Sprintf("Waiting for %d sec...", int(r.cfg.WatchInterval.Seconds())))

		if err := r.sleep(ctx, r.cfg.WatchInterval); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}

			return err
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) error {
	if err := r.authenticate(ctx, false); err != nil {
		return err
	}

	album, err := r.openAlbum(ctx, r.cfg.Album)
	if err != nil {
		return err
	}

	r.logger.Debug(lookupMessage(album.Name(), r.cfg.SkipVideos))

	// With until-found the run length is open-ended; otherwise the recent
	// cap or the album size bounds it.
	total := int64(-1)
	switch {
	case r.cfg.UntilFound >= 0:
	case r.cfg.Recent >= 0:
		total = r.cfg.Recent
	default:
		total, err = album.Len(ctx)
		if err != nil {
			return err
		}
	}

	r.logger.Info(summaryMessage(total, r.cfg.Sizes, r.cfg.SkipVideos, r.cfg.Directory))

	counter := &foundCounter{limit: r.cfg.UntilFound}

	report := func(m download.Media, out download.Outcome) {
		if out.AlreadyPresent() {
			counter.increment()
		} else {
			counter.reset()
		}

		if r.observe != nil {
			r.observe(m, out)
		}
	}

	if err := r.engine.Run(ctx, r.cfg.Workers, r.producer(album, counter), report); err != nil {
		return err
	}

	r.logger.Info("All photos have been downloaded")

	if r.cfg.AutoDelete {
		return r.autodelete(ctx)
	}

	return nil
}

// producer enumerates the album into the pool, applying the recent cap,
// the until-found counter, and the item-type filters.
func (r *Runner) producer(album Album, counter *foundCounter) download.Producer {
	return func(ctx context.Context, enqueue func(download.Media) bool) error {
		cur, err := album.Cursor(ctx)
		if err != nil {
			return err
		}

		retry := &listRetrier{r: r}

		var (
			seen  int64
			batch []download.Media
		)

		for {
			if len(batch) == 0 {
				batch, err = cur.Next(ctx)
				if err != nil {
					if rerr := retry.handle(ctx, err); rerr != nil {
						return rerr
					}

					continue
				}

				if batch == nil {
					return nil
				}

				retry.attempts = 0
			}

			a := batch[0]
			batch = batch[1:]

			if r.cfg.Recent >= 0 && seen >= r.cfg.Recent {
				return nil
			}
			seen++

			if counter.reached() {
				r.logger.Info(fmt.Sprintf(
					"Found %d consecutive previously downloaded photos. Exiting", r.cfg.UntilFound))

				return nil
			}

			if r.skipAsset(a) {
				continue
			}

			if !enqueue(a) {
				return nil
			}
		}
	}
}

// skipAsset applies the item-type filters, logging every skip. Videos go
// first so a movie under --skip-videos reports the photos-only reason.
func (r *Runner) skipAsset(a download.Media) bool {
	t := a.ItemType()

	if r.cfg.SkipVideos && t != photos.ItemTypeImage {
		r.logger.Debug(fmt.Sprintf("Skipping %s, only downloading photos.", a.Filename()))

		return true
	}

	if t != photos.ItemTypeImage && t != photos.ItemTypeMovie {
		r.logger.Debug(fmt.Sprintf(
			"Skipping %s, only downloading photos and videos. (Item type was: %s)", a.Filename(), t))

		return true
	}

	return false
}

func lookupMessage(album string, skipVideos bool) string {
	kind := "all photos and videos"
	if skipVideos {
		kind = "all photos"
	}

	return fmt.Sprintf("Looking up %s from album %s...", kind, album)
}

// summaryMessage is the run banner. The count renders as the number of
// assets, "the first" when it is exactly one, or "???" when until-found
// leaves it open-ended (total < 0).
func summaryMessage(total int64, sizes []string, skipVideos bool, dir string) string {
	count := "???"
	plural := "s"
	video := " and videos"

	if total >= 0 {
		count = strconv.FormatInt(total, 10)
		if total == 1 {
			count = "the first"
			plural = ""
			video = " or video"
		}
	}

	if skipVideos {
		video = ""
	}

	return fmt.Sprintf("Downloading %s %s photo%s%s to %s ...",
		count, strings.Join(sizes, ","), plural, video, dir)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
