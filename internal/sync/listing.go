package sync

import (
	"context"

	"github.com/icloud-photos-downloader/icloudpd-go/internal/icloud"
)

// listRetrier applies the retry budget to listing calls. Attempts
// accumulate across consecutive failures of any kind and reset once a
// page arrives.
type listRetrier struct {
	r        *Runner
	attempts int
}

// handle classifies a listing error and prepares the next attempt. A
// non-nil return ends the run.
func (lr *listRetrier) handle(ctx context.Context, err error) error {
	lr.attempts++

	if icloud.IsSessionError(err) {
		if lr.attempts > lr.r.cfg.MaxRetries {
			lr.r.logger.Error("iCloud re-authentication failed. Please try again later.")

			return err
		}

		lr.r.logger.Error("Session error, re-authenticating...")

		if lr.attempts > 1 {
			if serr := lr.r.sleep(ctx, lr.r.cfg.RetryWait); serr != nil {
				return serr
			}
		}

		return lr.r.authenticate(ctx, true)
	}

	if icloud.IsInternalError(err) {
		if lr.attempts > lr.r.cfg.MaxRetries {
			lr.r.logger.Error("Internal Error at Apple.")

			return err
		}

		lr.r.logger.Error("Internal Error at Apple, retrying...")

		return lr.r.sleep(ctx, lr.r.cfg.RetryWait)
	}

	return err
}
