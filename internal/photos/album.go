package photos

import (
	"context"
	"fmt"
	"sync"
)

// Built-in album names callers refer to directly.
const (
	AlbumAllPhotos       = "All Photos"
	AlbumRecentlyDeleted = "Recently Deleted"
)

// pageSize is the number of assets per listing page. Each asset occupies
// two records on the wire, so the query asks for twice as many records.
const pageSize = 100

// albumDef describes how to query one album: the record type listed, the
// index its count lives under, and any extra filters.
type albumDef struct {
	name      string
	listType  string
	objType   string
	direction string
	filters   []queryFilter
}

func smartAlbumFilter(value string) []queryFilter {
	return []queryFilter{{
		FieldName:  "smartAlbum",
		Comparator: "EQUALS",
		FieldValue: filterValue{Type: "STRING", Value: value},
	}}
}

// smartFolders lists the provider's built-in views in display order.
var smartFolders = []albumDef{
	{
		name:      AlbumAllPhotos,
		listType:  "CPLAssetAndMasterByAssetDateWithoutHiddenOrDeleted",
		objType:   "CPLAssetByAssetDateWithoutHiddenOrDeleted",
		direction: "ASCENDING",
	},
	{
		name:      "Time-lapse",
		listType:  "CPLAssetAndMasterInSmartAlbumByAssetDate",
		objType:   "CPLAssetInSmartAlbumByAssetDate:Timelapse",
		direction: "ASCENDING",
		filters:   smartAlbumFilter("TIMELAPSE"),
	},
	{
		name:      "Videos",
		listType:  "CPLAssetAndMasterInSmartAlbumByAssetDate",
		objType:   "CPLAssetInSmartAlbumByAssetDate:Video",
		direction: "ASCENDING",
		filters:   smartAlbumFilter("VIDEO"),
	},
	{
		name:      "Slo-mo",
		listType:  "CPLAssetAndMasterInSmartAlbumByAssetDate",
		objType:   "CPLAssetInSmartAlbumByAssetDate:Slomo",
		direction: "ASCENDING",
		filters:   smartAlbumFilter("SLOMO"),
	},
	{
		name:      "Bursts",
		listType:  "CPLBurstStackAssetAndMasterByAssetDate",
		objType:   "CPLAssetBurstStackAssetByAssetDate",
		direction: "ASCENDING",
	},
	{
		name:      "Favorites",
		listType:  "CPLAssetAndMasterInSmartAlbumByAssetDate",
		objType:   "CPLAssetInSmartAlbumByAssetDate:Favorite",
		direction: "ASCENDING",
		filters:   smartAlbumFilter("FAVORITE"),
	},
	{
		name:      "Panoramas",
		listType:  "CPLAssetAndMasterInSmartAlbumByAssetDate",
		objType:   "CPLAssetInSmartAlbumByAssetDate:Panorama",
		direction: "ASCENDING",
		filters:   smartAlbumFilter("PANORAMA"),
	},
	{
		name:      "Screenshots",
		listType:  "CPLAssetAndMasterInSmartAlbumByAssetDate",
		objType:   "CPLAssetInSmartAlbumByAssetDate:Screenshot",
		direction: "ASCENDING",
		filters:   smartAlbumFilter("SCREENSHOT"),
	},
	{
		name:      "Live",
		listType:  "CPLAssetAndMasterInSmartAlbumByAssetDate",
		objType:   "CPLAssetInSmartAlbumByAssetDate:Live",
		direction: "ASCENDING",
		filters:   smartAlbumFilter("LIVE"),
	},
	{
		name:      AlbumRecentlyDeleted,
		listType:  "CPLAssetAndMasterDeletedByExpungedDate",
		objType:   "CPLAssetDeletedByExpungedDate",
		direction: "ASCENDING",
	},
	{
		name:      "Hidden",
		listType:  "CPLAssetAndMasterHiddenByAssetDate",
		objType:   "CPLAssetHiddenByAssetDate",
		direction: "ASCENDING",
	},
}

// Album is one listable view of the library, built-in or user-created.
type Album struct {
	lib *Library
	def albumDef

	mu      sync.Mutex
	total   int64
	counted bool
}

// Name returns the album's display name.
func (a *Album) Name() string {
	return a.def.name
}

// Len returns the number of assets via the index count lookup. The count is
// cached: a listing restarted after re-authentication must keep its cursor
// base instead of re-counting against a library that may have changed.
func (a *Album) Len(ctx context.Context) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.counted {
		return a.total, nil
	}

	body := batchBody{Batch: []batchQuery{{
		ResultsLimit: 1,
		Query: batchSpec{
			FilterBy: queryFilter{
				FieldName:  "indexCountID",
				Comparator: "IN",
				FieldValue: filterValue{Type: "STRING_LIST", Value: []string{a.def.objType}},
			},
			RecordType: "HyperionIndexCountLookup",
		},
		ZoneWide: true,
		ZoneID:   primaryZone,
	}}}

	var out batchResponse
	if err := a.lib.post(ctx, "internal/records/query/batch", nil, body, &out); err != nil {
		return 0, err
	}

	if len(out.Batch) == 0 || len(out.Batch[0].Records) == 0 {
		return 0, fmt.Errorf("photos: empty index count response for %s", a.def.name)
	}

	n, ok := out.Batch[0].Records[0].int64Field("itemCount")
	if !ok {
		return 0, fmt.Errorf("photos: no itemCount in index count response for %s", a.def.name)
	}

	a.total = n
	a.counted = true

	return n, nil
}

// Cursor opens a newest-first listing cursor. The starting rank is the
// index of the newest asset, which requires the album count.
func (a *Album) Cursor(ctx context.Context) (*Cursor, error) {
	total, err := a.Len(ctx)
	if err != nil {
		return nil, err
	}

	return &Cursor{album: a, offset: total - 1}, nil
}

// Cursor pages through an album newest first. A failed Next does not
// advance, so the caller owns retry policy: recover, then call Next again
// for the same page.
type Cursor struct {
	album  *Album
	offset int64
	done   bool
}

// Next returns the next batch of assets. A nil batch with a nil error means
// the listing is exhausted.
func (c *Cursor) Next(ctx context.Context) ([]*Asset, error) {
	if c.done || c.offset < 0 {
		return nil, nil
	}

	assets, assetCount, err := c.album.page(ctx, c.offset)
	if err != nil {
		return nil, err
	}

	if assetCount == 0 {
		c.done = true

		return nil, nil
	}

	c.offset -= int64(assetCount)

	return assets, nil
}

// page fetches one listing page at the given rank and pairs the interleaved
// CPLMaster and CPLAsset records through masterRef, keeping master order.
func (a *Album) page(ctx context.Context, offset int64) ([]*Asset, int, error) {
	filters := []queryFilter{
		{FieldName: "startRank", Comparator: "EQUALS", FieldValue: filterValue{Type: "INT64", Value: offset}},
		{FieldName: "direction", Comparator: "EQUALS", FieldValue: filterValue{Type: "STRING", Value: a.def.direction}},
	}
	filters = append(filters, a.def.filters...)

	body := queryBody{
		Query:        querySpec{FilterBy: filters, RecordType: a.def.listType},
		ResultsLimit: pageSize * 2,
		DesiredKeys:  desiredKeys,
		ZoneID:       primaryZone,
	}

	var out queryResponse
	if err := a.lib.post(ctx, "records/query", nil, body, &out); err != nil {
		return nil, 0, err
	}

	assetByMaster := make(map[string]record)

	var masters []record

	assetCount := 0

	for _, rec := range out.Records {
		switch rec.RecordType {
		case "CPLAsset":
			assetCount++

			if masterID := rec.referenceField("masterRef"); masterID != "" {
				assetByMaster[masterID] = rec
			}
		case "CPLMaster":
			masters = append(masters, rec)
		}
	}

	assets := make([]*Asset, 0, len(masters))

	for _, master := range masters {
		assetRec, ok := assetByMaster[master.RecordName]
		if !ok {
			continue
		}

		assets = append(assets, &Asset{master: master, asset: assetRec})
	}

	return assets, assetCount, nil
}

// desiredKeys is the field set listing pages request, matching the web
// client's query so responses carry every resource variant and date field.
var desiredKeys = []string{
	"resJPEGFullWidth", "resJPEGFullHeight", "resJPEGFullFileType", "resJPEGFullFingerprint", "resJPEGFullRes",
	"resJPEGLargeWidth", "resJPEGLargeHeight", "resJPEGLargeFileType", "resJPEGLargeFingerprint", "resJPEGLargeRes",
	"resJPEGMedWidth", "resJPEGMedHeight", "resJPEGMedFileType", "resJPEGMedFingerprint", "resJPEGMedRes",
	"resJPEGThumbWidth", "resJPEGThumbHeight", "resJPEGThumbFileType", "resJPEGThumbFingerprint", "resJPEGThumbRes",
	"resVidFullWidth", "resVidFullHeight", "resVidFullFileType", "resVidFullFingerprint", "resVidFullRes",
	"resVidMedWidth", "resVidMedHeight", "resVidMedFileType", "resVidMedFingerprint", "resVidMedRes",
	"resVidSmallWidth", "resVidSmallHeight", "resVidSmallFileType", "resVidSmallFingerprint", "resVidSmallRes",
	"resSidecarWidth", "resSidecarHeight", "resSidecarFileType", "resSidecarFingerprint", "resSidecarRes",
	"itemType", "dataClassType", "filenameEnc", "originalOrientation",
	"resOriginalWidth", "resOriginalHeight", "resOriginalFileType", "resOriginalFingerprint", "resOriginalRes",
	"resOriginalAltWidth", "resOriginalAltHeight", "resOriginalAltFileType", "resOriginalAltFingerprint", "resOriginalAltRes",
	"resOriginalVidComplWidth", "resOriginalVidComplHeight", "resOriginalVidComplFileType",
	"resOriginalVidComplFingerprint", "resOriginalVidComplRes",
	"isDeleted", "isExpunged", "dateExpunged", "remappedRef",
	"recordName", "recordType", "recordChangeTag", "masterRef",
	"adjustmentRenderType", "assetDate", "addedDate", "isFavorite", "isHidden", "orientation",
	"duration", "assetSubtype", "assetSubtypeV2", "assetHDRType",
	"burstFlags", "burstFlagsExt", "burstId", "captionEnc",
	"locationEnc", "locationV2Enc", "locationLatitude", "locationLongitude",
	"adjustmentType", "timeZoneOffset", "vidComplDurValue", "vidComplDurScale",
	"vidComplDispValue", "vidComplDispScale", "vidComplVisibilityState", "customRenderedValue",
	"containerId", "itemId", "position", "isKeyAsset",
}
