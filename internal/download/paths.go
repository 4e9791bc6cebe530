package download

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/icloud-photos-downloader/icloudpd-go/internal/filename"
)

// folderPath renders t into the folder template. Templates use the
// "{:%Y/%m/%d}" form with strftime-style fields; unknown fields pass
// through verbatim. The year is not zero-padded, so a garbage capture year
// of 5 produces "5/01/01" rather than "0005/01/01".
func folderPath(t time.Time, structure string) string {
	if structure == "none" {
		return ""
	}

	inner := structure
	if strings.HasPrefix(inner, "{:") && strings.HasSuffix(inner, "}") {
		inner = inner[2 : len(inner)-1]
	}

	var b strings.Builder
	for i := 0; i < len(inner); i++ {
		c := inner[i]
		if c != '%' || i+1 == len(inner) {
			b.WriteByte(c)
			continue
		}

		i++
		switch inner[i] {
		case 'Y':
			b.WriteString(strconv.Itoa(t.Year()))
		case 'y':
			fmt.Fprintf(&b, "%02d", t.Year()%100)
		case 'm':
			fmt.Fprintf(&b, "%02d", int(t.Month()))
		case 'd':
			fmt.Fprintf(&b, "%02d", t.Day())
		case 'H':
			fmt.Fprintf(&b, "%02d", t.Hour())
		case 'M':
			fmt.Fprintf(&b, "%02d", t.Minute())
		case 'S':
			fmt.Fprintf(&b, "%02d", t.Second())
		default:
			b.WriteByte('%')
			b.WriteByte(inner[i])
		}
	}

	return filepath.FromSlash(b.String())
}

// withBaseName applies fn to the last path element.
func withBaseName(p string, fn func(string) string) string {
	return filepath.Join(filepath.Dir(p), fn(filepath.Base(p)))
}

// dedupPath is the rename applied when the canonical path holds a file of a
// different size.
func dedupPath(p string, size int64) string {
	return withBaseName(p, func(name string) string {
		return filename.Deduped(name, size)
	})
}

// legacyOriginalPath is the "-original" variant produced by early releases
// for full-size downloads.
func legacyOriginalPath(p string) string {
	return withBaseName(p, filename.LegacyOriginal)
}

// fileExists reports whether a regular file is present at p.
func fileExists(p string) bool {
	fi, err := os.Stat(p)

	return err == nil && !fi.IsDir()
}
