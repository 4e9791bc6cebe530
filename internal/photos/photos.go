// Package photos implements the provider's photo library service over the
// CloudKit web API: album enumeration, newest-first paginated listing,
// media byte streams, and soft delete. All HTTP goes through an
// authenticated icloud.Session; errors surface with the session's
// classification so callers can tell a session drop from a provider
// failure.
package photos

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/icloud-photos-downloader/icloudpd-go/internal/icloud"
)

// databasePath roots every query in the private photo database.
const databasePath = "/database/1/com.apple.photos.cloud/production/private"

// Folder records the provider keeps for its own bookkeeping; not albums.
const (
	rootFolder        = "----Root-Folder----"
	projectRootFolder = "----Project-Root-Folder----"
)

// Library is the photo service of one authenticated account.
type Library struct {
	session *icloud.Session
	logger  *slog.Logger
	root    string
	params  url.Values
}

// NewLibrary binds the photo service of an authenticated client. It fails
// when the account never activated the photo service. No network I/O
// happens here.
func NewLibrary(client *icloud.Client, logger *slog.Logger) (*Library, error) {
	base, err := client.ServiceURL("ckdatabasews")
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	params := client.SetupParams()
	params.Set("remapEnums", "True")
	params.Set("getCurrentSyncToken", "True")

	return &Library{
		session: client.Session(),
		logger:  logger,
		root:    base + databasePath,
		params:  params,
	}, nil
}

// post sends one JSON operation to the photo database and decodes the
// response into out when non-nil.
func (l *Library) post(ctx context.Context, op string, hdr http.Header, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("photos: encoding %s request: %w", op, err)
	}

	u := l.root + "/" + op + "?" + l.params.Encode()

	resp, err := l.session.Do(ctx, http.MethodPost, u, hdr, bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("photos: decoding %s response: %w", op, err)
	}

	return nil
}

// CheckIndexing verifies the provider finished indexing the library.
// Listing a library mid-index returns partial results, so a run must stop
// here rather than silently miss assets.
func (l *Library) CheckIndexing(ctx context.Context) error {
	body := queryBody{
		Query:  querySpec{RecordType: "CheckIndexingState"},
		ZoneID: primaryZone,
	}

	var out queryResponse
	if err := l.post(ctx, "records/query", nil, body, &out); err != nil {
		return err
	}

	if len(out.Records) == 0 {
		return fmt.Errorf("photos: empty indexing state response")
	}

	if state := out.Records[0].stringField("state"); state != "FINISHED" {
		return fmt.Errorf("%w: photo library not finished indexing, try again in a few minutes (state %s)",
			icloud.ErrServiceNotActivated, state)
	}

	return nil
}

// Albums returns the built-in views followed by the user's albums in
// provider order.
func (l *Library) Albums(ctx context.Context) ([]*Album, error) {
	albums := make([]*Album, 0, len(smartFolders))
	for _, def := range smartFolders {
		albums = append(albums, &Album{lib: l, def: def})
	}

	user, err := l.userAlbums(ctx)
	if err != nil {
		return nil, err
	}

	return append(albums, user...), nil
}

// Album resolves a display name to a built-in view or a user album.
func (l *Library) Album(ctx context.Context, name string) (*Album, error) {
	for _, def := range smartFolders {
		if def.name == name {
			return &Album{lib: l, def: def}, nil
		}
	}

	user, err := l.userAlbums(ctx)
	if err != nil {
		return nil, err
	}

	for _, album := range user {
		if album.Name() == name {
			return album, nil
		}
	}

	return nil, fmt.Errorf("photos: album %q does not exist", name)
}

// userAlbums fetches the folder tree. Deleted folders and the provider's
// internal root folders are skipped; each remaining folder lists through a
// container relation keyed by its record name.
func (l *Library) userAlbums(ctx context.Context) ([]*Album, error) {
	body := queryBody{
		Query:  querySpec{RecordType: "CPLAlbumByPositionLive"},
		ZoneID: primaryZone,
	}

	var out queryResponse
	if err := l.post(ctx, "records/query", nil, body, &out); err != nil {
		return nil, err
	}

	var albums []*Album

	for _, rec := range out.Records {
		if rec.RecordName == rootFolder || rec.RecordName == projectRootFolder {
			continue
		}

		if n, ok := rec.int64Field("isDeleted"); ok && n != 0 {
			continue
		}

		enc := rec.stringField("albumNameEnc")
		if enc == "" {
			continue
		}

		name, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			l.logger.Debug("Skipping album with undecodable name", "recordName", rec.RecordName)

			continue
		}

		albums = append(albums, &Album{lib: l, def: albumDef{
			name:      string(name),
			listType:  "CPLContainerRelationLiveByAssetDate",
			objType:   "CPLContainerRelationNotDeletedByAssetDate:" + rec.RecordName,
			direction: "ASCENDING",
			filters: []queryFilter{{
				FieldName:  "parentId",
				Comparator: "EQUALS",
				FieldValue: filterValue{Type: "STRING", Value: rec.RecordName},
			}},
		}})
	}

	return albums, nil
}

// Download opens the media byte stream of a version. The caller owns the
// returned body; cancelling ctx aborts the stream.
func (l *Library) Download(ctx context.Context, v Version) (io.ReadCloser, error) {
	if v.URL == "" {
		return nil, fmt.Errorf("photos: no download URL for %s", v.Filename)
	}

	resp, err := l.session.Do(ctx, http.MethodGet, v.URL, nil, nil)
	if err != nil {
		return nil, err
	}

	return resp.Body, nil
}

// Delete soft-deletes an asset, moving it to Recently Deleted on the
// provider side.
func (l *Library) Delete(ctx context.Context, a *Asset) error {
	body := modifyBody{
		Operations: []modifyOperation{{
			OperationType: "update",
			Record: modifyRecord{
				RecordName:      a.asset.RecordName,
				RecordType:      a.asset.RecordType,
				RecordChangeTag: a.asset.RecordChangeTag,
				Fields:          map[string]fieldValue{"isDeleted": numberValue(1)},
			},
		}},
		ZoneID: primaryZone,
		Atomic: true,
	}

	// The web client sends this one as text/plain.
	hdr := http.Header{}
	hdr.Set("Content-Type", "text/plain")

	return l.post(ctx, "records/modify", hdr, body, nil)
}
