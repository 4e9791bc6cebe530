// Package filename implements the naming policy for files written into the
// local library: decoding of the provider's transport encoding, sanitization
// of path-hostile characters, unicode handling, and the suffix conventions
// used for alternate sizes and deduplicated downloads.
//
// All functions operate on bare filenames, never on paths. Directory layout
// is owned by the download engine.
package filename

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"encoding/base64"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// invalidChars cannot appear in a local filename on at least one supported
// platform. Each occurrence is replaced with '_'.
const invalidChars = "<>:\"/\\|?*\x00"

// Size tags whose downloads keep the plain provider filename. Every other
// size gets a "-<size>" marker before the extension.
var plainNameSizes = map[string]bool{
	"original":    true,
	"adjusted":    true,
	"alternative": true,
}

// variantSuffix matches the markers appended by earlier runs: the deprecated
// "-original" full-size suffix and the "-<bytes>" dedup suffix.
var variantSuffix = regexp.MustCompile(`-(original|\d+)$`)

// Decode returns the filename carried by a provider record. Filenames travel
// base64-encoded in the records API; some legacy records carry them as plain
// text. A value is treated as encoded when it has base64 shape (length
// divisible by four, standard alphabet) and no extension dot, and decodes to
// printable UTF-8. Anything else is returned unchanged.
func Decode(raw string) string {
	if raw == "" || len(raw)%4 != 0 || strings.ContainsRune(raw, '.') {
		return raw
	}

	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || !utf8.Valid(decoded) {
		return raw
	}

	s := string(decoded)
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return raw
		}
	}

	return s
}

// asciiFold decomposes accented characters, drops the combining marks, and
// removes any rune that still falls outside ASCII. "café" becomes "cafe";
// ideographs disappear entirely.
var asciiFold = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	runes.Remove(runes.Predicate(func(r rune) bool { return r > unicode.MaxASCII })),
	norm.NFC,
)

// Clean normalizes a decoded filename for local storage. The name is
// NFC-normalized, optionally transliterated to ASCII (keepUnicode=false, the
// default), and stripped of characters that cannot appear in a path
// component.
func Clean(name string, keepUnicode bool) string {
	name = norm.NFC.String(name)

	if !keepUnicode {
		if folded, _, err := transform.String(asciiFold, name); err == nil {
			name = folded
		}
	}

	var b strings.Builder
	b.Grow(len(name))

	for _, r := range name {
		if strings.ContainsRune(invalidChars, r) {
			b.WriteRune('_')
		} else {
			b.WriteRune(r)
		}
	}

	return b.String()
}

// WithSuffix inserts suffix before the final extension:
// WithSuffix("IMG_7409.JPG", "-medium") yields "IMG_7409-medium.JPG".
// A name without an extension gets the suffix appended.
func WithSuffix(name, suffix string) string {
	ext := path.Ext(name)
	return name[:len(name)-len(ext)] + suffix + ext
}

// ForSize returns the local filename for a download of the given size tag.
// Full-quality sizes (original, adjusted, alternative) keep the plain name;
// reduced sizes are marked: "IMG_7409-medium.JPG", "IMG_7409-thumb.JPG".
// The same rule names live-photo videos ("IMG_7409-medium.MOV").
func ForSize(name, size string) string {
	if plainNameSizes[size] {
		return name
	}

	return WithSuffix(name, "-"+size)
}

// Deduped returns the rename applied when a same-named file with a different
// size is already on disk: Deduped("IMG_7409.JPG", 1884695) yields
// "IMG_7409-1884695.JPG". The pre-existing file is never touched.
func Deduped(name string, size int64) string {
	return WithSuffix(name, fmt.Sprintf("-%d", size))
}

// LegacyOriginal returns the deprecated "-original" variant that early
// releases produced for full-size downloads. It is still honored when
// checking whether a full-size file is already present.
func LegacyOriginal(name string) string {
	return WithSuffix(name, "-original")
}

// TrimVariant removes a trailing "-original" or "-<bytes>" marker from the
// stem, recovering the base name from a previously written variant.
// Names without a marker are returned unchanged.
func TrimVariant(name string) string {
	ext := path.Ext(name)
	stem := name[:len(name)-len(ext)]

	return variantSuffix.ReplaceAllString(stem, "") + ext
}

// TruncateMiddle shortens s to at most max runes by replacing the middle
// with "...", keeping the head and tail visible. Used to keep long paths
// readable in log lines.
func TruncateMiddle(s string, max int) string {
	const ellipsis = "..."

	r := []rune(s)
	if len(r) <= max {
		return s
	}

	if max <= len(ellipsis) {
		return string(r[:max])
	}

	keep := max - len(ellipsis)
	head := (keep + 1) / 2
	tail := keep - head

	return string(r[:head]) + ellipsis + string(r[len(r)-tail:])
}
