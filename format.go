package main

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/icloud-photos-downloader/icloudpd-go/internal/download"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// stderrIsTerminal reports whether the in-place progress counter can
// render.
func stderrIsTerminal() bool {
	return isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
}

// progress tallies per-run asset outcomes. Workers report through record
// concurrently; on a terminal it also renders a one-line counter that
// overwrites itself.
type progress struct {
	out   io.Writer
	live  bool
	quiet bool
	sizes []string

	mu         sync.Mutex
	processed  int64
	downloaded int64
	present    int64
	failed     int64
	bytes      uint64
}

func newProgress(sizes []string, live, quiet bool) *progress {
	return &progress{out: os.Stderr, live: live, quiet: quiet, sizes: sizes}
}

// record is a download.Reporter.
func (p *progress) record(m download.Media, out download.Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.processed++

	switch {
	case out == download.OutcomeDownloaded || out == download.OutcomeWrittenElsewhere:
		p.downloaded++
		p.bytes += assetBytes(m, p.sizes)
	case out.AlreadyPresent():
		p.present++
	default:
		p.failed++
	}

	if p.live {
		fmt.Fprintf(p.out, "\r%d assets processed", p.processed)
	}
}

// finish terminates the counter line and prints the run totals.
func (p *progress) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.processed == 0 {
		return
	}

	if p.live {
		fmt.Fprint(p.out, "\n")
	}

	if p.quiet {
		return
	}

	fmt.Fprintf(p.out, "%d assets processed: %d downloaded (%s), %d already present, %d failed\n",
		p.processed, p.downloaded, humanize.Bytes(p.bytes), p.present, p.failed)
}

// assetBytes sums the advertised sizes of the versions the run requested.
// The live companion is not counted; the figure is a summary, not an
// accounting.
func assetBytes(m download.Media, sizes []string) uint64 {
	versions := m.Versions()

	var total uint64

	for _, size := range sizes {
		if v, ok := versions[size]; ok && v.Size > 0 {
			total += uint64(v.Size)
		}
	}

	return total
}
