package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys maps each config section to its valid keys.
var knownKeys = map[string]map[string]bool{
	"auth": {
		"username": true, "password": true, "cookie_directory": true, "domain": true,
	},
	"download": {
		"directory": true, "album": true, "sizes": true, "live_photo_size": true,
		"threads": true, "folder_structure": true, "skip_videos": true,
		"skip_live_photos": true, "force_size": true, "set_exif_datetime": true,
		"keep_unicode_in_filenames": true, "dry_run": true, "auto_delete": true,
		"delete_after_download": true,
	},
	"retry": {
		"max_retries": true, "wait_seconds": true,
	},
	"watch": {
		"interval_seconds": true,
	},
	"network": {
		"connect_timeout": true, "data_timeout": true, "user_agent": true,
		"unverified_https": true,
	},
	"logging": {
		"log_level": true,
	},
	"smtp": {
		"host": true, "port": true, "username": true, "password": true,
		"no_tls": true, "notification_email": true, "notification_email_from": true,
		"notification_script": true,
	},
}

// knownSectionsList is the sorted section-name slice for Levenshtein
// matching. Sorted for deterministic suggestions when two candidates have
// the same edit distance.
var knownSectionsList = func() []string {
	sections := make([]string, 0, len(knownKeys))
	for s := range knownKeys {
		sections = append(sections, s)
	}

	sort.Strings(sections)

	return sections
}()

// sectionKeysList returns the sorted key slice of one section.
func sectionKeysList(section string) []string {
	keys := make([]string, 0, len(knownKeys[section]))
	for k := range knownKeys[section] {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key. An
// unknown section is reported once, not once per key inside it.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	badSections := map[string]bool{}

	for _, key := range undecoded {
		keyStr := key.String()

		section := strings.SplitN(keyStr, ".", 2)[0]
		if badSections[section] {
			continue
		}

		if _, known := knownKeys[section]; !known {
			badSections[section] = true
		}

		if err := buildKeyError(keyStr); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// buildKeyError creates a descriptive error for an unknown key, optionally
// suggesting the closest known section or key. Top-level keys outside any
// section are always unknown: every setting lives in a section.
func buildKeyError(keyStr string) error {
	parts := strings.SplitN(keyStr, ".", 2)

	if len(parts) == 1 {
		for _, section := range knownSectionsList {
			if knownKeys[section][parts[0]] {
				return fmt.Errorf("config key %q must be inside the [%s] section", parts[0], section)
			}
		}

		if suggestion := closestMatch(parts[0], knownSectionsList); suggestion != "" {
			return fmt.Errorf("unknown config section %q — did you mean [%s]?", parts[0], suggestion)
		}

		return fmt.Errorf("unknown config key %q", keyStr)
	}

	section, key := parts[0], parts[1]

	keys, ok := knownKeys[section]
	if !ok {
		if suggestion := closestMatch(section, knownSectionsList); suggestion != "" {
			return fmt.Errorf("unknown config section %q — did you mean [%s]?", section, suggestion)
		}

		return fmt.Errorf("unknown config section %q", section)
	}

	if keys[key] {
		return nil
	}

	if suggestion := closestMatch(key, sectionKeysList(section)); suggestion != "" {
		return fmt.Errorf("unknown key %q in [%s] — did you mean %q?", key, section, suggestion)
	}

	return fmt.Errorf("unknown key %q in [%s]", key, section)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Use single-row optimization to avoid allocating a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = minOf(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// minOf returns the minimum of three integers.
func minOf(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}

	if c < m {
		m = c
	}

	return m
}
