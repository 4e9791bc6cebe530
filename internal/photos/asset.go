package photos

import (
	"encoding/base64"
	"path"
	"strings"
	"time"
)

// Size tags index the downloadable versions of an asset. The Video variants
// name the motion companion of a live photo.
const (
	SizeOriginal    = "original"
	SizeMedium      = "medium"
	SizeThumb       = "thumb"
	SizeAdjusted    = "adjusted"
	SizeAlternative = "alternative"

	SizeOriginalVideo = "originalVideo"
	SizeMediumVideo   = "mediumVideo"
)

// Item types as reported by ItemType.
const (
	ItemTypeImage = "image"
	ItemTypeMovie = "movie"
)

// photoVersionLookup maps size tags to the master-record field prefixes for
// still assets. The two Video entries resolve the motion part of a live
// photo.
var photoVersionLookup = map[string]string{
	SizeOriginal:      "resOriginal",
	SizeMedium:        "resJPEGMed",
	SizeThumb:         "resJPEGThumb",
	SizeAdjusted:      "resJPEGFull",
	SizeAlternative:   "resOriginalAlt",
	SizeOriginalVideo: "resOriginalVidCompl",
	SizeMediumVideo:   "resVidMed",
}

var videoVersionLookup = map[string]string{
	SizeOriginal: "resOriginal",
	SizeMedium:   "resVidMed",
	SizeThumb:    "resVidSmall",
}

// itemTypes maps the provider's UTI strings to our coarse item types.
var itemTypes = map[string]string{
	"public.heic":               ItemTypeImage,
	"public.jpeg":               ItemTypeImage,
	"public.png":                ItemTypeImage,
	"com.adobe.raw-image":       ItemTypeImage,
	"com.apple.quicktime-movie": ItemTypeMovie,
	"public.mpeg-4":             ItemTypeMovie,
}

// versionExtensions maps a version's UTI to the filename extension its
// content actually has. A raw original shot as JPEG+RAW keeps the .JPG
// master filename, but the resource behind it is a DNG.
var versionExtensions = map[string]string{
	"public.heic":               "HEIC",
	"public.jpeg":               "JPG",
	"public.png":                "PNG",
	"com.adobe.raw-image":       "DNG",
	"com.apple.quicktime-movie": "MOV",
	"public.mpeg-4":             "MP4",
}

// Version is one downloadable rendition of an asset.
type Version struct {
	Filename string
	Size     int64
	URL      string
	Type     string
	Checksum string
}

// Asset is one media item: the CPLMaster record holding the resources and
// the CPLAsset record holding dates and the mutation change tag. Assets are
// plain data; downloading and deleting go through the Library.
type Asset struct {
	master record
	asset  record
}

// ID returns the master record name, stable across listings.
func (a *Asset) ID() string {
	return a.master.RecordName
}

// Filename returns the decoded original filename. The provider transports
// it base64-encoded in filenameEnc; a master without one falls back to the
// record name.
func (a *Asset) Filename() string {
	if enc := a.master.stringField("filenameEnc"); enc != "" {
		if name, err := base64.StdEncoding.DecodeString(enc); err == nil {
			return string(name)
		}
	}

	return a.master.RecordName
}

// Created returns the capture timestamp. It aliases AssetDate, which is
// what the date-based target layout is keyed on.
func (a *Asset) Created() time.Time {
	return a.AssetDate()
}

// AssetDate returns the capture timestamp in UTC. A missing field maps to
// the epoch, matching how the provider fills gaps.
func (a *Asset) AssetDate() time.Time {
	ms, ok := a.asset.int64Field("assetDate")
	if !ok {
		return time.Unix(0, 0).UTC()
	}

	return time.UnixMilli(ms).UTC()
}

// AddedDate returns when the asset was added to the library, in UTC.
func (a *Asset) AddedDate() time.Time {
	ms, ok := a.asset.int64Field("addedDate")
	if !ok {
		return time.Unix(0, 0).UTC()
	}

	return time.UnixMilli(ms).UTC()
}

// IsFavorite reports whether the asset is marked as a favorite.
func (a *Asset) IsFavorite() bool {
	n, ok := a.asset.int64Field("isFavorite")

	return ok && n == 1
}

// ItemType classifies the asset as "image" or "movie". The provider's UTI
// is consulted first, then the original file type, then the filename
// extension. An unrecognized type is returned as-is so callers can report
// what they skipped.
func (a *Asset) ItemType() string {
	raw := a.master.stringField("itemType")
	if raw == "" {
		raw = a.master.stringField("resOriginalFileType")
	}

	if mapped, ok := itemTypes[raw]; ok {
		return mapped
	}

	switch strings.ToLower(path.Ext(a.Filename())) {
	case ".heic", ".png", ".jpg", ".jpeg":
		return ItemTypeImage
	case ".mov", ".mp4", ".m4v":
		return ItemTypeMovie
	}

	return raw
}

// Versions returns the downloadable renditions keyed by size tag. Only
// resources the master actually carries appear; a still without a motion
// companion has no originalVideo entry.
func (a *Asset) Versions() map[string]Version {
	lookup := photoVersionLookup
	if a.ItemType() == ItemTypeMovie {
		lookup = videoVersionLookup
	}

	versions := make(map[string]Version, len(lookup))

	for tag, prefix := range lookup {
		ref, ok := a.master.assetField(prefix + "Res")
		if !ok {
			continue
		}

		fileType := a.master.stringField(prefix + "FileType")

		versions[tag] = Version{
			Filename: versionFilename(a.Filename(), fileType),
			Size:     ref.Size,
			URL:      ref.DownloadURL,
			Type:     fileType,
			Checksum: ref.FileChecksum,
		}
	}

	return versions
}

// versionFilename corrects the extension of name when the resource type
// calls for a different one. The motion companion of IMG_1234.HEIC becomes
// IMG_1234.MOV, and the raw rendition of IMG_1234.JPG becomes
// IMG_1234.DNG. An extension that already matches, in any case, stays
// untouched.
func versionFilename(name, fileType string) string {
	want, ok := versionExtensions[fileType]
	if !ok {
		return name
	}

	ext := strings.TrimPrefix(path.Ext(name), ".")
	if strings.EqualFold(ext, want) {
		return name
	}

	return strings.TrimSuffix(name, path.Ext(name)) + "." + want
}
