package photos

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icloud-photos-downloader/icloudpd-go/internal/icloud"
)

func newTestLibrary(t *testing.T, srvURL string) *Library {
	t.Helper()

	s, err := icloud.NewSession(nil, nil, "", "", slog.Default())
	require.NoError(t, err)

	params := url.Values{}
	params.Set("clientId", "TEST-CLIENT")
	params.Set("dsid", "12345678")

	return &Library{
		session: s,
		logger:  slog.Default(),
		root:    srvURL + databasePath,
		params:  params,
	}
}

func respondJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func decodeRequest(t *testing.T, r *http.Request, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(r.Body).Decode(v))
}

func rawString(s string) json.RawMessage {
	return json.RawMessage(strconv.Quote(s))
}

func rawJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()

	data, err := json.Marshal(v)
	require.NoError(t, err)

	return data
}

// makeMaster builds a CPLMaster with an original resource and any extra
// fields the test wants.
func makeMaster(t *testing.T, id, filename string, size int64, downloadURL string, extra map[string]fieldValue) record {
	t.Helper()

	fields := map[string]fieldValue{
		"filenameEnc":         {Value: rawString(base64.StdEncoding.EncodeToString([]byte(filename)))},
		"itemType":            {Value: rawString("public.jpeg")},
		"resOriginalFileType": {Value: rawString("public.jpeg")},
		"resOriginalRes":      {Value: rawJSON(t, assetRef{Size: size, DownloadURL: downloadURL, FileChecksum: "ck-" + id})},
	}
	for k, v := range extra {
		fields[k] = v
	}

	return record{RecordName: id, RecordType: "CPLMaster", Fields: fields}
}

// makeAsset builds the CPLAsset paired to a master.
func makeAsset(t *testing.T, masterID string, assetDate time.Time) record {
	t.Helper()

	return record{
		RecordName:      masterID + "-asset",
		RecordType:      "CPLAsset",
		RecordChangeTag: "tag-" + masterID,
		Fields: map[string]fieldValue{
			"masterRef": {Value: rawJSON(t, map[string]string{"recordName": masterID})},
			"assetDate": {Value: json.RawMessage(strconv.FormatInt(assetDate.UnixMilli(), 10))},
			"addedDate": {Value: json.RawMessage(strconv.FormatInt(assetDate.UnixMilli(), 10))},
		},
	}
}

// interleave lays out records the way listing pages arrive: each asset
// record directly before its master.
func interleave(pairs ...[2]record) []record {
	var out []record
	for _, p := range pairs {
		out = append(out, p[0], p[1])
	}

	return out
}

func allPhotos(lib *Library) *Album {
	return &Album{lib: lib, def: smartFolders[0]}
}

func countResponse(n int64) batchResponse {
	return batchResponse{Batch: []queryResponse{{Records: []record{{
		RecordName: "count",
		Fields:     map[string]fieldValue{"itemCount": {Value: json.RawMessage(strconv.FormatInt(n, 10))}},
	}}}}}
}

func TestAlbumLen(t *testing.T) {
	var batches atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, databasePath+"/internal/records/query/batch", r.URL.Path)
		assert.Equal(t, "TEST-CLIENT", r.URL.Query().Get("clientId"))

		batches.Add(1)

		var body batchBody
		decodeRequest(t, r, &body)
		require.Len(t, body.Batch, 1)

		q := body.Batch[0]
		assert.Equal(t, "HyperionIndexCountLookup", q.Query.RecordType)
		assert.True(t, q.ZoneWide)
		assert.Equal(t, "PrimarySync", q.ZoneID.ZoneName)
		assert.Equal(t, "indexCountID", q.Query.FilterBy.FieldName)
		assert.Equal(t, "IN", q.Query.FilterBy.Comparator)
		assert.Equal(t, "STRING_LIST", q.Query.FilterBy.FieldValue.Type)
		assert.Equal(t, []any{"CPLAssetByAssetDateWithoutHiddenOrDeleted"}, q.Query.FilterBy.FieldValue.Value)

		respondJSON(w, countResponse(42))
	}))
	defer srv.Close()

	album := allPhotos(newTestLibrary(t, srv.URL))

	n, err := album.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	// Cached; no second lookup.
	n, err = album.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	assert.Equal(t, int32(1), batches.Load())
}

func TestCursorPagesNewestFirst(t *testing.T) {
	when := time.Date(2018, 7, 31, 7, 22, 24, 0, time.UTC)

	var pairs [][2]record
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("IMG_%d", 7409-i)
		master := makeMaster(t, id, id+".JPG", int64(1000+i), "https://cvws.example.com/"+id, nil)
		pairs = append(pairs, [2]record{makeAsset(t, id, when.Add(-time.Duration(i)*time.Hour)), master})
	}

	var listCalls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == databasePath+"/internal/records/query/batch" {
			respondJSON(w, countResponse(5))

			return
		}

		require.Equal(t, databasePath+"/records/query", r.URL.Path)
		listCalls.Add(1)

		var body queryBody
		decodeRequest(t, r, &body)

		assert.Equal(t, "CPLAssetAndMasterByAssetDateWithoutHiddenOrDeleted", body.Query.RecordType)
		assert.Equal(t, 200, body.ResultsLimit)
		assert.Equal(t, "PrimarySync", body.ZoneID.ZoneName)
		assert.Contains(t, body.DesiredKeys, "resOriginalRes")

		require.Len(t, body.Query.FilterBy, 2)
		assert.Equal(t, "startRank", body.Query.FilterBy[0].FieldName)
		assert.EqualValues(t, 4, body.Query.FilterBy[0].FieldValue.Value)
		assert.Equal(t, "INT64", body.Query.FilterBy[0].FieldValue.Type)
		assert.Equal(t, "direction", body.Query.FilterBy[1].FieldName)
		assert.Equal(t, "ASCENDING", body.Query.FilterBy[1].FieldValue.Value)

		respondJSON(w, queryResponse{Records: interleave(pairs...)})
	}))
	defer srv.Close()

	album := allPhotos(newTestLibrary(t, srv.URL))

	cursor, err := album.Cursor(context.Background())
	require.NoError(t, err)

	batch, err := cursor.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, batch, 5)

	assert.Equal(t, "IMG_7409.JPG", batch[0].Filename())
	assert.Equal(t, "IMG_7405.JPG", batch[4].Filename())
	assert.Equal(t, when, batch[0].Created())

	// All five assets fit the first page; the cursor is exhausted without
	// another request.
	batch, err = cursor.Next(context.Background())
	require.NoError(t, err)
	assert.Nil(t, batch)
	assert.Equal(t, int32(1), listCalls.Load())
}

func TestCursorRetriesSamePage(t *testing.T) {
	when := time.Date(2018, 7, 31, 7, 22, 24, 0, time.UTC)
	master := makeMaster(t, "IMG_7409", "IMG_7409.JPG", 1884695, "https://cvws.example.com/IMG_7409", nil)
	page := queryResponse{Records: interleave([2]record{makeAsset(t, "IMG_7409", when), master})}

	var (
		mu         sync.Mutex
		startRanks []float64
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == databasePath+"/internal/records/query/batch" {
			respondJSON(w, countResponse(1))

			return
		}

		var body queryBody
		decodeRequest(t, r, &body)

		mu.Lock()
		startRanks = append(startRanks, body.Query.FilterBy[0].FieldValue.Value.(float64))
		failFirst := len(startRanks) == 1
		mu.Unlock()

		if failFirst {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"reason":"INTERNAL_ERROR","errorCode":"INTERNAL_ERROR"}`))

			return
		}

		respondJSON(w, page)
	}))
	defer srv.Close()

	album := allPhotos(newTestLibrary(t, srv.URL))

	cursor, err := album.Cursor(context.Background())
	require.NoError(t, err)

	_, err = cursor.Next(context.Background())
	require.Error(t, err)
	assert.True(t, icloud.IsInternalError(err))

	// The failed page did not advance the cursor; the retry asks for the
	// same rank.
	batch, err := cursor.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, batch, 1)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []float64{0, 0}, startRanks)
}

func TestCursorStopsOnEmptyPage(t *testing.T) {
	var listCalls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == databasePath+"/internal/records/query/batch" {
			respondJSON(w, countResponse(3))

			return
		}

		listCalls.Add(1)
		respondJSON(w, queryResponse{})
	}))
	defer srv.Close()

	album := allPhotos(newTestLibrary(t, srv.URL))

	cursor, err := album.Cursor(context.Background())
	require.NoError(t, err)

	batch, err := cursor.Next(context.Background())
	require.NoError(t, err)
	assert.Nil(t, batch)

	// Exhaustion is sticky.
	batch, err = cursor.Next(context.Background())
	require.NoError(t, err)
	assert.Nil(t, batch)
	assert.Equal(t, int32(1), listCalls.Load())
}

func TestAssetMetadata(t *testing.T) {
	when := time.Date(2018, 7, 31, 7, 22, 24, 0, time.UTC)

	master := makeMaster(t, "IMG_7409", "IMG_7409.JPG", 1884695, "https://cvws.example.com/orig", map[string]fieldValue{
		"resJPEGMedRes":               {Value: rawJSON(t, assetRef{Size: 200000, DownloadURL: "https://cvws.example.com/med"})},
		"resJPEGMedFileType":          {Value: rawString("public.jpeg")},
		"resOriginalVidComplRes":      {Value: rawJSON(t, assetRef{Size: 3294075, DownloadURL: "https://cvws.example.com/vid"})},
		"resOriginalVidComplFileType": {Value: rawString("com.apple.quicktime-movie")},
	})
	asset := &Asset{master: master, asset: makeAsset(t, "IMG_7409", when)}

	assert.Equal(t, "IMG_7409", asset.ID())
	assert.Equal(t, "IMG_7409.JPG", asset.Filename())
	assert.Equal(t, when, asset.Created())
	assert.Equal(t, when, asset.AddedDate())
	assert.Equal(t, ItemTypeImage, asset.ItemType())

	versions := asset.Versions()
	require.Contains(t, versions, SizeOriginal)
	require.Contains(t, versions, SizeMedium)
	require.Contains(t, versions, SizeOriginalVideo)
	assert.NotContains(t, versions, SizeThumb)
	assert.NotContains(t, versions, SizeAdjusted)

	orig := versions[SizeOriginal]
	assert.Equal(t, int64(1884695), orig.Size)
	assert.Equal(t, "https://cvws.example.com/orig", orig.URL)
	assert.Equal(t, "public.jpeg", orig.Type)
	assert.Equal(t, "IMG_7409.JPG", orig.Filename)

	vid := versions[SizeOriginalVideo]
	assert.Equal(t, int64(3294075), vid.Size)
	assert.Equal(t, "com.apple.quicktime-movie", vid.Type)
	assert.Equal(t, "IMG_7409.MOV", vid.Filename)
}

func TestVersionFilename(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		fileType string
		want     string
	}{
		{"matching extension kept", "IMG_7409.JPG", "public.jpeg", "IMG_7409.JPG"},
		{"lowercase extension kept", "img_7409.jpg", "public.jpeg", "img_7409.jpg"},
		{"raw original renamed", "IMG_7409.JPG", "com.adobe.raw-image", "IMG_7409.DNG"},
		{"live companion renamed", "IMG_7409.HEIC", "com.apple.quicktime-movie", "IMG_7409.MOV"},
		{"unknown type untouched", "IMG_7409.CR2", "com.canon.cr2-raw-image", "IMG_7409.CR2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, versionFilename(tt.filename, tt.fileType))
		})
	}
}

func TestAssetVersionsForMovie(t *testing.T) {
	master := makeMaster(t, "IMG_7405", "IMG_7405.MOV", 3294075, "https://cvws.example.com/mov", map[string]fieldValue{
		"itemType":            {Value: rawString("com.apple.quicktime-movie")},
		"resOriginalFileType": {Value: rawString("com.apple.quicktime-movie")},
		"resVidMedRes":        {Value: rawJSON(t, assetRef{Size: 500000, DownloadURL: "https://cvws.example.com/vidmed"})},
		"resVidSmallRes":      {Value: rawJSON(t, assetRef{Size: 50000, DownloadURL: "https://cvws.example.com/vidsmall"})},
	})
	asset := &Asset{master: master, asset: makeAsset(t, "IMG_7405", time.Now())}

	assert.Equal(t, ItemTypeMovie, asset.ItemType())

	versions := asset.Versions()
	assert.Len(t, versions, 3)
	assert.Equal(t, int64(3294075), versions[SizeOriginal].Size)
	assert.Equal(t, int64(500000), versions[SizeMedium].Size)
	assert.Equal(t, int64(50000), versions[SizeThumb].Size)
}

func TestAssetItemTypeFallbacks(t *testing.T) {
	tests := []struct {
		name     string
		itemType string
		fileType string
		filename string
		want     string
	}{
		{"mapped image", "public.heic", "", "IMG_1.HEIC", ItemTypeImage},
		{"mapped movie", "com.apple.quicktime-movie", "", "IMG_1.MOV", ItemTypeMovie},
		{"file type fallback", "", "public.mpeg-4", "clip.bin", ItemTypeMovie},
		{"extension fallback image", "", "", "IMG_1.JpG", ItemTypeImage},
		{"extension fallback movie", "", "", "clip.mp4", ItemTypeMovie},
		{"unmapped passes through", "unknown", "", "IMG_1.XYZ", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := map[string]fieldValue{
				"filenameEnc": {Value: rawString(base64.StdEncoding.EncodeToString([]byte(tt.filename)))},
			}
			if tt.itemType != "" {
				fields["itemType"] = fieldValue{Value: rawString(tt.itemType)}
			}
			if tt.fileType != "" {
				fields["resOriginalFileType"] = fieldValue{Value: rawString(tt.fileType)}
			}

			asset := &Asset{master: record{RecordName: "rec", RecordType: "CPLMaster", Fields: fields}}
			assert.Equal(t, tt.want, asset.ItemType())
		})
	}
}

func TestLibraryAlbums(t *testing.T) {
	vacationEnc := base64.StdEncoding.EncodeToString([]byte("Vacation"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body queryBody
		decodeRequest(t, r, &body)
		require.Equal(t, "CPLAlbumByPositionLive", body.Query.RecordType)

		respondJSON(w, queryResponse{Records: []record{
			{RecordName: rootFolder, RecordType: "CPLAlbum"},
			{
				RecordName: "deleted-album",
				RecordType: "CPLAlbum",
				Fields: map[string]fieldValue{
					"albumNameEnc": {Value: rawString(base64.StdEncoding.EncodeToString([]byte("Gone")))},
					"isDeleted":    {Value: json.RawMessage("1")},
				},
			},
			{
				RecordName: "album-1",
				RecordType: "CPLAlbum",
				Fields: map[string]fieldValue{
					"albumNameEnc": {Value: rawString(vacationEnc)},
				},
			},
		}})
	}))
	defer srv.Close()

	lib := newTestLibrary(t, srv.URL)

	albums, err := lib.Albums(context.Background())
	require.NoError(t, err)
	require.Len(t, albums, len(smartFolders)+1)
	assert.Equal(t, AlbumAllPhotos, albums[0].Name())
	assert.Equal(t, "Vacation", albums[len(albums)-1].Name())

	vacation, err := lib.Album(context.Background(), "Vacation")
	require.NoError(t, err)
	require.Len(t, vacation.def.filters, 1)
	assert.Equal(t, "parentId", vacation.def.filters[0].FieldName)
	assert.Equal(t, "album-1", vacation.def.filters[0].FieldValue.Value)
	assert.Equal(t, "CPLContainerRelationNotDeletedByAssetDate:album-1", vacation.def.objType)

	_, err = lib.Album(context.Background(), "Nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `album "Nope" does not exist`)
}

func TestLibraryAlbumSmartFolderNeedsNoNetwork(t *testing.T) {
	lib := newTestLibrary(t, "http://127.0.0.1:0")

	album, err := lib.Album(context.Background(), AlbumRecentlyDeleted)
	require.NoError(t, err)
	assert.Equal(t, "CPLAssetAndMasterDeletedByExpungedDate", album.def.listType)
}

func TestLibraryDelete(t *testing.T) {
	when := time.Date(2018, 7, 31, 7, 22, 24, 0, time.UTC)
	asset := &Asset{
		master: makeMaster(t, "IMG_7409", "IMG_7409.JPG", 1884695, "https://cvws.example.com/orig", nil),
		asset:  makeAsset(t, "IMG_7409", when),
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, databasePath+"/records/modify", r.URL.Path)
		assert.Equal(t, "text/plain", r.Header.Get("Content-Type"))

		var body modifyBody
		decodeRequest(t, r, &body)

		require.Len(t, body.Operations, 1)
		op := body.Operations[0]
		assert.Equal(t, "update", op.OperationType)
		assert.Equal(t, "IMG_7409-asset", op.Record.RecordName)
		assert.Equal(t, "CPLAsset", op.Record.RecordType)
		assert.Equal(t, "tag-IMG_7409", op.Record.RecordChangeTag)
		assert.JSONEq(t, "1", string(op.Record.Fields["isDeleted"].Value))
		assert.True(t, body.Atomic)
		assert.Equal(t, "PrimarySync", body.ZoneID.ZoneName)

		respondJSON(w, queryResponse{Records: []record{{RecordName: "IMG_7409-asset"}}})
	}))
	defer srv.Close()

	lib := newTestLibrary(t, srv.URL)
	require.NoError(t, lib.Delete(context.Background(), asset))
}

func TestLibraryDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte("MEDIA-BYTES"))
	}))
	defer srv.Close()

	lib := newTestLibrary(t, srv.URL)

	body, err := lib.Download(context.Background(), Version{Filename: "IMG_7409.JPG", URL: srv.URL + "/media"})
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "MEDIA-BYTES", string(data))

	_, err = lib.Download(context.Background(), Version{Filename: "IMG_7409.JPG"})
	require.Error(t, err)
}

func TestLibraryCheckIndexing(t *testing.T) {
	tests := []struct {
		name  string
		state string
		ok    bool
	}{
		{"finished", "FINISHED", true},
		{"running", "RUNNING", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var body queryBody
				decodeRequest(t, r, &body)
				require.Equal(t, "CheckIndexingState", body.Query.RecordType)

				respondJSON(w, queryResponse{Records: []record{{
					RecordName: "state",
					Fields:     map[string]fieldValue{"state": {Value: rawString(tt.state)}},
				}}})
			}))
			defer srv.Close()

			lib := newTestLibrary(t, srv.URL)
			err := lib.CheckIndexing(context.Background())

			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, icloud.ErrServiceNotActivated)
			}
		})
	}
}
