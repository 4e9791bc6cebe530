package sync

import (
	"context"
	"fmt"
	"os"

	"github.com/icloud-photos-downloader/icloudpd-go/internal/download"
	"github.com/icloud-photos-downloader/icloudpd-go/internal/photos"
)

// autodelete removes the local copies of assets the provider has moved to
// Recently Deleted, so the tree follows deletions made on other devices.
// Paths are derived from the same size selection the download pass uses.
func (r *Runner) autodelete(ctx context.Context) error {
	r.logger.Info("Deleting any files found in 'Recently Deleted'...")

	album, err := r.openAlbum(ctx, photos.AlbumRecentlyDeleted)
	if err != nil {
		return err
	}

	cur, err := album.Cursor(ctx)
	if err != nil {
		return err
	}

	retry := &listRetrier{r: r}

	var batch []download.Media

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

		for _, p := range r.engine.LocalPaths(a) {
			if !fileExists(p) {
				continue
			}

			if r.cfg.DryRun {
				r.logger.Info(fmt.Sprintf("[DRY RUN] Deleting %s!", p))

				continue
			}

			r.logger.Info(fmt.Sprintf("Deleting %s!", p))

			if rerr := os.Remove(p); rerr != nil {
				r.logger.Error(fmt.Sprintf("Could not delete %s", p))
			}
		}
	}
}

func fileExists(p string) bool {
	fi, err := os.Stat(p)

	return err == nil && !fi.IsDir()
}
