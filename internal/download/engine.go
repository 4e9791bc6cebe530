package download

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/icloud-photos-downloader/icloudpd-go/internal/filename"
	"github.com/icloud-photos-downloader/icloudpd-go/internal/icloud"
	"github.com/icloud-photos-downloader/icloudpd-go/internal/photos"
)

// componentOutcome is the result for a single file of an asset. A live
// photo has two components, the still and the motion companion.
type componentOutcome int

const (
	compSkipped componentOutcome = iota
	compDeduped
	compDownloaded
	compWrittenElsewhere
	compMissingURL
	compFailed
)

// assetState carries the per-asset values shared by all components.
type assetState struct {
	media    Media
	name     string
	dir      string
	created  time.Time
	dateOK   bool
	versions map[string]photos.Version
}

// component is one file to bring onto disk.
type component struct {
	v        photos.Version
	target   string
	legacyOK bool
	exif     bool
}

// Producer feeds assets into the pool. enqueue returns false once the run
// is shutting down and no further items are accepted.
type Producer func(ctx context.Context, enqueue func(Media) bool) error

// Reporter observes the outcome of every processed asset. It is called
// from worker goroutines.
type Reporter func(Media, Outcome)

// Run drains assets produced by produce through a pool of workers. The
// work queue is bounded at twice the worker count, so a slow pool holds
// the producer back. The first fatal error cancels the run.
func (e *Engine) Run(ctx context.Context, workers int, produce Producer, report Reporter) error {
	if workers < 1 {
		workers = 1
	}

	items := make(chan Media, 2*workers)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(items)

		enqueue := func(m Media) bool {
			select {
			case items <- m:
				return true
			case <-ctx.Done():
				return false
			}
		}

		return produce(ctx, enqueue)
	})

	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for m := range items {
				if err := ctx.Err(); err != nil {
					return err
				}

				out, err := e.ProcessAsset(ctx, m)
				if err != nil {
					return err
				}

				if report != nil {
					report(m, out)
				}
			}

			return nil
		})
	}

	return g.Wait()
}

// ProcessAsset runs the full pipeline for one asset: every requested size,
// the live-photo companion, and the post-download delete hook. The
// returned error is reserved for conditions fatal to the whole run;
// per-asset failures are reported through the Outcome.
func (e *Engine) ProcessAsset(ctx context.Context, m Media) (Outcome, error) {
	st := e.newAssetState(m)

	var results []componentOutcome

	for _, size := range e.opts.Sizes {
		res, err := e.processPhoto(ctx, st, size)
		if err != nil {
			return OutcomeFailed, err
		}

		results = append(results, res)
	}

	if !e.opts.SkipLivePhotos {
		if res, err, ok := e.processLive(ctx, st); ok {
			if err != nil {
				return OutcomeFailed, err
			}

			results = append(results, res)
		}
	}

	out := combineOutcomes(results)

	if e.opts.DeleteAfterDownload && !e.opts.OnlyPrintFilenames && deleteEligible(results) {
		if err := e.deleteAsset(ctx, st); err != nil {
			return out, err
		}
	}

	return out, nil
}

// LocalPaths returns the canonical paths this configuration would write
// for the asset: one per requested size plus the live companion. The
// recently-deleted cleanup pass uses it to locate files to remove.
func (e *Engine) LocalPaths(m Media) []string {
	st := e.newAssetState(m)

	var paths []string
	seen := make(map[string]struct{})

	add := func(p string) {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			paths = append(paths, p)
		}
	}

	for _, size := range e.opts.Sizes {
		if v, effective, ok := st.resolveVersion(size, e.opts.ForceSize); ok {
			add(filepath.Join(st.dir, e.componentName(v, effective)))
		}
	}

	if !e.opts.SkipLivePhotos {
		if v, ok := st.versions[e.opts.LivePhotoSize+"Video"]; ok {
			add(filepath.Join(st.dir, e.componentName(v, e.opts.LivePhotoSize)))
		}
	}

	return paths
}

func (e *Engine) newAssetState(m Media) *assetState {
	created := m.Created()
	dateOK := created.Unix() >= 0

	if dateOK {
		created = created.In(e.loc)
	} else {
		e.logger.Error(fmt.Sprintf(
			"Could not convert photo created date to local timezone (%s)",
			created.Format("2006-01-02 15:04:05")))
	}

	return &assetState{
		media:    m,
		name:     filename.Clean(filename.Decode(m.Filename()), e.opts.KeepUnicode),
		dir:      filepath.Join(e.opts.Directory, folderPath(created, e.opts.FolderStructure)),
		created:  created,
		dateOK:   dateOK,
		versions: m.Versions(),
	}
}

// resolveVersion picks the version backing a requested size. Unless the
// size is pinned, a missing size falls back to the original; the second
// return names the size actually chosen.
func (st *assetState) resolveVersion(size string, pinned bool) (photos.Version, string, bool) {
	if v, ok := st.versions[size]; ok {
		return v, size, true
	}

	if pinned {
		return photos.Version{}, size, false
	}

	if v, ok := st.versions[photos.SizeOriginal]; ok {
		return v, photos.SizeOriginal, true
	}

	return photos.Version{}, size, false
}

// componentName is the local filename for one version: the provider name
// decoded and sanitized, with the size marker applied.
func (e *Engine) componentName(v photos.Version, size string) string {
	name := filename.Clean(filename.Decode(v.Filename), e.opts.KeepUnicode)

	return filename.ForSize(name, size)
}

func (e *Engine) processPhoto(ctx context.Context, st *assetState, size string) (componentOutcome, error) {
	v, effective, ok := st.resolveVersion(size, e.opts.ForceSize)
	if !ok {
		if e.opts.ForceSize {
			e.logger.Error(fmt.Sprintf("%s size does not exist for %s. Skipping...", size, st.name))
		} else {
			e.warnMissingURL(st.name, size)
		}

		return compMissingURL, nil
	}

	if v.URL == "" {
		e.warnMissingURL(st.name, effective)
		return compMissingURL, nil
	}

	return e.syncFile(ctx, st, component{
		v:        v,
		target:   filepath.Join(st.dir, e.componentName(v, effective)),
		legacyOK: effective == photos.SizeOriginal,
		exif:     true,
	})
}

// processLive handles the motion companion of a live photo. The third
// return reports whether the asset has one at the configured quality.
func (e *Engine) processLive(ctx context.Context, st *assetState) (componentOutcome, error, bool) {
	tag := e.opts.LivePhotoSize + "Video"

	v, ok := st.versions[tag]
	if !ok {
		return compSkipped, nil, false
	}

	if v.URL == "" {
		e.warnMissingURL(st.name, tag)
		return compMissingURL, nil, true
	}

	res, err := e.syncFile(ctx, st, component{
		v:      v,
		target: filepath.Join(st.dir, e.componentName(v, e.opts.LivePhotoSize)),
	})

	return res, err, true
}

// syncFile brings one component to its local path, applying the skip and
// dedup rules before touching the network.
func (e *Engine) syncFile(ctx context.Context, st *assetState, c component) (componentOutcome, error) {
	target := c.target
	renamed := false

	if fi, err := os.Stat(target); err == nil && !fi.IsDir() {
		if fi.Size() == c.v.Size {
			e.debugPath("%s already exists", target)
			return compSkipped, nil
		}

		target = dedupPath(target, c.v.Size)
		renamed = true
		e.debugPath("%s deduplicated", target)

		if fileExists(target) {
			e.debugPath("%s already exists", target)
			return compDeduped, nil
		}
	} else if c.legacyOK && fileExists(legacyOriginalPath(target)) {
		e.debugPath("%s already exists", target)
		return compSkipped, nil
	}

	if e.opts.OnlyPrintFilenames {
		fmt.Fprintln(e.stdout, target)
		return e.downloadedOutcome(renamed), nil
	}

	e.debugPath("Downloading %s", target)

	if e.opts.DryRun {
		return e.downloadedOutcome(renamed), nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		e.logger.Error(fmt.Sprintf("Could not create folder %s", filepath.Dir(target)))
		return compFailed, nil
	}

	ok, err := e.fetch(ctx, st.name, c.v, target)
	if err != nil {
		return compFailed, err
	}
	if !ok {
		return compFailed, nil
	}

	if c.exif && e.opts.SetExifDatetime && isJPEGName(st.name) {
		e.stampExif(target, st.created)
	}

	if st.dateOK {
		// Restore the capture time; a garbage date leaves the write time.
		_ = os.Chtimes(target, e.now(), st.created)
	}

	return e.downloadedOutcome(renamed), nil
}

func (e *Engine) downloadedOutcome(renamed bool) componentOutcome {
	if renamed {
		return compWrittenElsewhere
	}

	return compDownloaded
}

// fetch streams one version to target under the retry policy: transient
// failures sleep and retry, an invalid session re-authenticates first
// without sleeping. The bool reports success; the error is fatal for the
// run (re-authentication impossible or the run canceled).
func (e *Engine) fetch(ctx context.Context, name string, v photos.Version, target string) (bool, error) {
	for attempt := 0; attempt < e.opts.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		body, err := e.remote.Download(ctx, v)
		if err == nil {
			var disk bool

			disk, err = persist(body, target)
			if err == nil {
				return true, nil
			}

			if disk {
				e.logger.Error(fmt.Sprintf(
					"IOError while writing file to %s. You might have run out of disk space, "+
						"or the file might be too large for your OS. Skipping this file...", target))
				return false, nil
			}
		}

		if icloud.IsSessionError(err) {
			e.logger.Error("Session error, re-authenticating...")

			if attempt > 0 {
				if serr := e.sleep(ctx, e.opts.RetryWait); serr != nil {
					return false, serr
				}
			}

			if aerr := e.reauth.Reauthenticate(ctx); aerr != nil {
				e.logger.Error("iCloud re-authentication failed. Please try again later.")
				return false, aerr
			}

			continue
		}

		e.logger.Error(fmt.Sprintf("Error downloading %s, retrying after %d seconds...",
			name, int(e.opts.RetryWait.Seconds())))

		if serr := e.sleep(ctx, e.opts.RetryWait); serr != nil {
			return false, serr
		}
	}

	e.logger.Error(fmt.Sprintf("Could not download %s. Please try again later.", name))

	return false, nil
}

// persist streams body to target in fixed-size chunks. disk reports
// whether the failure happened on the local write side rather than while
// reading from the remote.
func persist(body io.ReadCloser, target string) (disk bool, err error) {
	defer body.Close()

	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return true, err
	}

	buf := make([]byte, copyChunkSize)

	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				f.Close()
				return true, werr
			}
		}

		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			f.Close()
			return false, rerr
		}
	}

	if cerr := f.Close(); cerr != nil {
		return true, cerr
	}

	return false, nil
}

// deleteAsset soft-deletes the asset server side after a successful local
// sync. Failures are retried like downloads; exhausting the retries keeps
// the local file and the downloaded status.
func (e *Engine) deleteAsset(ctx context.Context, st *assetState) error {
	if e.opts.DryRun {
		e.logger.Info(fmt.Sprintf("[DRY RUN] Would delete %s in iCloud", st.name))
		return nil
	}

	for attempt := 0; attempt < e.opts.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := e.remote.Delete(ctx, st.media)
		if err == nil {
			e.logger.Info(fmt.Sprintf("Deleted %s in iCloud", st.name))
			return nil
		}

		if icloud.IsSessionError(err) {
			e.logger.Error("Session error, re-authenticating...")

			if attempt > 0 {
				if serr := e.sleep(ctx, e.opts.RetryWait); serr != nil {
					return serr
				}
			}

			if aerr := e.reauth.Reauthenticate(ctx); aerr != nil {
				e.logger.Error("iCloud re-authentication failed. Please try again later.")
				return aerr
			}

			continue
		}

		e.logger.Error(fmt.Sprintf("Error deleting %s, retrying after %d seconds...",
			st.name, int(e.opts.RetryWait.Seconds())))

		if serr := e.sleep(ctx, e.opts.RetryWait); serr != nil {
			return serr
		}
	}

	e.logger.Error(fmt.Sprintf("Could not delete %s in iCloud. Please try again later.", st.name))

	return nil
}

// stampExif writes the capture timestamp into a JPEG that does not already
// carry one. Metadata failures never fail the download.
func (e *Engine) stampExif(target string, created time.Time) {
	existing, err := e.meta.DateTime(target)
	if err != nil {
		e.logger.Debug(fmt.Sprintf("Error fetching EXIF data for %s", target))
	}

	if existing != "" {
		return
	}

	e.logger.Debug(fmt.Sprintf("Setting EXIF timestamp for %s: %s",
		target, created.Format("2006-01-02 15:04:05-0700")))

	if err := e.meta.SetDateTime(target, created); err != nil {
		e.logger.Debug(fmt.Sprintf("Error setting EXIF data for %s", target))
	}
}

// warnMissingURL logs a missing download URL once per (filename, size)
// pair for the lifetime of the engine.
func (e *Engine) warnMissingURL(name, size string) {
	key := name + "|" + size

	e.mu.Lock()
	if e.urlWarned == nil {
		e.urlWarned = make(map[string]struct{})
	}
	_, seen := e.urlWarned[key]
	e.urlWarned[key] = struct{}{}
	e.mu.Unlock()

	if seen {
		return
	}

	e.logger.Error(fmt.Sprintf("Could not find URL to download %s for size %s", name, size))
}

func (e *Engine) debugPath(format, p string) {
	e.logger.Debug(fmt.Sprintf(format, filename.TruncateMiddle(p, logPathWidth)))
}

func isJPEGName(name string) bool {
	lower := strings.ToLower(name)

	return strings.HasSuffix(lower, ".jpg") || strings.HasSuffix(lower, ".jpeg")
}

// combineOutcomes folds component results into the asset's outcome. Any
// real download dominates: a live pair with a fresh motion file counts as
// downloaded even when the still was already on disk.
func combineOutcomes(results []componentOutcome) Outcome {
	var downloaded, renamed, failed, missing, deduped bool

	for _, r := range results {
		switch r {
		case compDownloaded:
			downloaded = true
		case compWrittenElsewhere:
			renamed = true
		case compFailed:
			failed = true
		case compMissingURL:
			missing = true
		case compDeduped:
			deduped = true
		}
	}

	switch {
	case downloaded:
		return OutcomeDownloaded
	case renamed:
		return OutcomeWrittenElsewhere
	case failed:
		return OutcomeFailed
	case missing:
		return OutcomeMissingURL
	case deduped:
		return OutcomeDeduped
	default:
		return OutcomeSkipped
	}
}

// deleteEligible requires every component to be on disk, freshly
// downloaded or already present, before the provider copy may go.
func deleteEligible(results []componentOutcome) bool {
	if len(results) == 0 {
		return false
	}

	for _, r := range results {
		if r == compFailed || r == compMissingURL {
			return false
		}
	}

	return true
}
