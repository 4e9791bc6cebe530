package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_UnknownSection(t *testing.T) {
	path := writeTestConfig(t, `
[downlaod]
directory = "/photos"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config section")
	assert.Contains(t, err.Error(), "[download]")
}

func TestLoad_UnknownKey_InSection(t *testing.T) {
	path := writeTestConfig(t, `
[download]
skip_video = true
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown key "skip_video" in [download]`)
	assert.Contains(t, err.Error(), "skip_videos")
}

func TestLoad_UnknownKey_NoSuggestion(t *testing.T) {
	path := writeTestConfig(t, `
[download]
completely_unrelated_key = true
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown key")
	assert.NotContains(t, err.Error(), "did you mean")
}

func TestLoad_KeyOutsideSection(t *testing.T) {
	path := writeTestConfig(t, `username = "jdoe@example.com"`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be inside the [auth] section")
}

func TestLoad_MultipleUnknownKeys_AllReported(t *testing.T) {
	path := writeTestConfig(t, `
[download]
skip_video = true
thread = 4
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "skip_video")
	assert.Contains(t, err.Error(), "thread")
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b     string
		expected int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"abc", "abc", 0},
		{"abc", "abd", 1},
		{"skip_video", "skip_videos", 1},
		{"downlaod", "download", 2},
		{"completely_different", "xyz", 19},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.expected, levenshtein(tt.a, tt.b))
		})
	}
}

func TestClosestMatch_Found(t *testing.T) {
	known := []string{"skip_videos", "skip_live_photos", "force_size"}
	assert.Equal(t, "skip_videos", closestMatch("skip_video", known))
	assert.Equal(t, "force_size", closestMatch("force_sizes", known))
}

func TestClosestMatch_NotFound(t *testing.T) {
	known := []string{"skip_videos", "force_size"}
	assert.Equal(t, "", closestMatch("completely_unrelated", known))
}
