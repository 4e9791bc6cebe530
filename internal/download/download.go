// Package download brings individual library assets onto the local disk.
// It owns the per-asset pipeline: resolving the dated target path, picking
// the requested version, the skip and dedup decisions against files already
// present, streaming the bytes, restoring the capture timestamp (mtime and
// optionally EXIF), and the post-download delete hook. A fixed-size worker
// pool drains assets from the run's producer.
//
// Network access, EXIF encoding, and re-authentication are collaborator
// interfaces so the pipeline can be exercised hermetically.
package download

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/icloud-photos-downloader/icloudpd-go/internal/photos"
)

const (
	// MaxRetries bounds both download attempts and re-authentication
	// rounds for a single asset.
	MaxRetries = 5

	// RetryWait is the default pause between retry attempts.
	RetryWait = 30 * time.Second

	// DefaultFolderStructure lays files out as YYYY/MM/DD under the
	// library root.
	DefaultFolderStructure = "{:%Y/%m/%d}"

	// copyChunkSize is the unit in which media bodies are streamed to
	// disk.
	copyChunkSize = 64 * 1024

	// logPathWidth bounds the length of paths embedded in log lines.
	logPathWidth = 96
)

// Media is the engine's view of one library asset.
// *photos.Asset satisfies it.
type Media interface {
	ID() string
	Filename() string
	Created() time.Time
	ItemType() string
	Versions() map[string]photos.Version
}

// Remote supplies asset content and performs server-side deletion.
// The production implementation wraps photos.Library.
type Remote interface {
	Download(ctx context.Context, v photos.Version) (io.ReadCloser, error)
	Delete(ctx context.Context, m Media) error
}

// Reauthenticator restores an expired web session. It is invoked from the
// retry loop when the provider reports an invalid global session.
type Reauthenticator interface {
	Reauthenticate(ctx context.Context) error
}

// MetadataWriter reads and writes the embedded capture timestamp of an
// image file. DateTime returns the raw "YYYY:MM:DD HH:MM:SS" tag value, or
// an empty string when the file carries none.
type MetadataWriter interface {
	DateTime(path string) (string, error)
	SetDateTime(path string, t time.Time) error
}

// Outcome classifies the result of processing one asset. For a live photo
// the outcome combines the still and its motion companion.
type Outcome int

const (
	// OutcomeDownloaded: at least one file was fetched (or would have
	// been, in dry-run and print-only modes).
	OutcomeDownloaded Outcome = iota

	// OutcomeWrittenElsewhere: the only fetches landed at dedup-renamed
	// paths because a different file occupied the canonical one.
	OutcomeWrittenElsewhere

	// OutcomeFailed: a fetch was attempted and exhausted its retries or
	// hit a local I/O error.
	OutcomeFailed

	// OutcomeMissingURL: the provider offered no usable URL for the
	// requested size.
	OutcomeMissingURL

	// OutcomeDeduped: every file already existed under a dedup-renamed
	// path.
	OutcomeDeduped

	// OutcomeSkipped: every file already existed at its canonical path.
	OutcomeSkipped
)

// AlreadyPresent reports whether the outcome feeds the consecutive
// previously-downloaded counter: true only when every component of the
// asset was found on disk.
func (o Outcome) AlreadyPresent() bool {
	return o == OutcomeSkipped || o == OutcomeDeduped
}

func (o Outcome) String() string {
	switch o {
	case OutcomeDownloaded:
		return "downloaded"
	case OutcomeWrittenElsewhere:
		return "written elsewhere"
	case OutcomeFailed:
		return "failed"
	case OutcomeMissingURL:
		return "missing url"
	case OutcomeDeduped:
		return "deduped"
	case OutcomeSkipped:
		return "skipped"
	}

	return "unknown"
}

// Options configure one run of the engine. A zero RetryWait retries
// without pausing.
type Options struct {
	// Directory is the local library root.
	Directory string

	// FolderStructure is the dated subdirectory template, for example
	// "{:%Y/%m/%d}". The literal "none" keeps all files in Directory.
	FolderStructure string

	// Sizes are the version tags to download for each asset.
	Sizes []string

	// LivePhotoSize selects the motion companion quality, "original" or
	// "medium".
	LivePhotoSize string

	SkipLivePhotos      bool
	ForceSize           bool
	SetExifDatetime     bool
	KeepUnicode         bool
	DryRun              bool
	OnlyPrintFilenames  bool
	DeleteAfterDownload bool

	MaxRetries int
	RetryWait  time.Duration
}

// Engine executes the per-asset download pipeline. One Engine serves a
// whole run; its methods are safe for concurrent workers.
type Engine struct {
	remote Remote
	meta   MetadataWriter
	reauth Reauthenticator
	logger *slog.Logger
	opts   Options

	stdout io.Writer
	sleep  func(context.Context, time.Duration) error
	now    func() time.Time
	loc    *time.Location

	mu        sync.Mutex
	urlWarned map[string]struct{}
}

// New returns an Engine wired to the given collaborators. meta may be nil
// when Options.SetExifDatetime is false.
func New(remote Remote, meta MetadataWriter, reauth Reauthenticator, opts Options, logger *slog.Logger) *Engine {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = MaxRetries
	}
	if len(opts.Sizes) == 0 {
		opts.Sizes = []string{photos.SizeOriginal}
	}
	if opts.LivePhotoSize == "" {
		opts.LivePhotoSize = photos.SizeOriginal
	}
	if opts.FolderStructure == "" {
		opts.FolderStructure = DefaultFolderStructure
	}

	return &Engine{
		remote: remote,
		meta:   meta,
		reauth: reauth,
		logger: logger,
		opts:   opts,
		stdout: os.Stdout,
		sleep:  sleepContext,
		now:    time.Now,
		loc:    time.Local,
	}
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
