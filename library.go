package main

import (
	"context"
	"fmt"
	"io"

	"github.com/icloud-photos-downloader/icloudpd-go/internal/download"
	"github.com/icloud-photos-downloader/icloudpd-go/internal/icloud"
	"github.com/icloud-photos-downloader/icloudpd-go/internal/photos"
	"github.com/icloud-photos-downloader/icloudpd-go/internal/sync"
)

// libraryRemote adapts photos.Library to the engine's Remote.
type libraryRemote struct {
	lib *photos.Library
}

func (r libraryRemote) Download(ctx context.Context, v photos.Version) (io.ReadCloser, error) {
	return r.lib.Download(ctx, v)
}

// Delete needs the concrete asset record for its change-tag payload.
func (r libraryRemote) Delete(ctx context.Context, m download.Media) error {
	asset, ok := m.(*photos.Asset)
	if !ok {
		return fmt.Errorf("cannot delete %s: not a library asset", m.Filename())
	}

	return r.lib.Delete(ctx, asset)
}

// reauthClient satisfies the engine's Reauthenticator with a forced
// session refresh.
type reauthClient struct {
	client *icloud.Client
}

func (r reauthClient) Reauthenticate(ctx context.Context) error {
	return r.client.Authenticate(ctx, true)
}

// libraryAlbum adapts *photos.Album to the runner's Album.
type libraryAlbum struct {
	album *photos.Album
}

func (a libraryAlbum) Name() string {
	return a.album.Name()
}

func (a libraryAlbum) Len(ctx context.Context) (int64, error) {
	return a.album.Len(ctx)
}

func (a libraryAlbum) Cursor(ctx context.Context) (sync.Cursor, error) {
	cur, err := a.album.Cursor(ctx)
	if err != nil {
		return nil, err
	}

	return libraryCursor{cur: cur}, nil
}

type libraryCursor struct {
	cur *photos.Cursor
}

func (c libraryCursor) Next(ctx context.Context) ([]download.Media, error) {
	assets, err := c.cur.Next(ctx)
	if err != nil || assets == nil {
		return nil, err
	}

	batch := make([]download.Media, len(assets))
	for i, a := range assets {
		batch[i] = a
	}

	return batch, nil
}
