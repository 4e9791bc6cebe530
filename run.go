package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/icloud-photos-downloader/icloudpd-go/internal/config"
	"github.com/icloud-photos-downloader/icloudpd-go/internal/download"
	"github.com/icloud-photos-downloader/icloudpd-go/internal/icloud"
	"github.com/icloud-photos-downloader/icloudpd-go/internal/photos"
	"github.com/icloud-photos-downloader/icloudpd-go/internal/sync"
)

// runRoot dispatches the keyring maintenance modes, then hands off to the
// download run.
func runRoot(cmd *cobra.Command, _ []string) error {
	switch {
	case flagDeleteFromKeyring:
		return runDeleteFromKeyring()
	case flagStoreInKeyring:
		return runStoreInKeyring()
	}

	if !flagListAlbums && resolvedCfg.Download.Directory == "" {
		return fmt.Errorf("no download directory: pass --directory or set download.directory in the config file")
	}

	return runDownload(cmd)
}

// runDownload authenticates, assembles the engine around the photo
// library, and executes the run (or the endless watch loop).
func runDownload(cmd *cobra.Command) error {
	s := resolvedCfg
	logger := buildLogger()

	ctx := shutdownContext(context.Background(), logger)

	client, err := buildClient(s, logger)
	if err != nil {
		return err
	}

	if err := client.Authenticate(ctx, false); err != nil {
		return authFailure(s, logger, err)
	}

	if flagListAlbums {
		return printAlbums(ctx, cmd.OutOrStdout(), client, logger)
	}

	if s.Watch.IntervalSeconds > 0 {
		unlock, err := acquireRunLock(runLockPath())
		if err != nil {
			return err
		}

		defer unlock()
	}

	lib, err := photos.NewLibrary(client, logger)
	if err != nil {
		return err
	}

	if err := lib.CheckIndexing(ctx); err != nil {
		return err
	}

	engine := download.New(
		libraryRemote{lib: lib},
		download.ExifWriter{},
		reauthClient{client: client},
		downloadOptions(s),
		logger,
	)

	prog := newProgress(s.Download.Sizes, progressEnabled(), flagQuiet)

	runner := sync.NewRunner(runnerConfig(s), sync.Collaborators{
		Authenticate: client.Authenticate,
		OpenAlbum: func(ctx context.Context, name string) (sync.Album, error) {
			album, err := lib.Album(ctx, name)
			if err != nil {
				return nil, err
			}

			return libraryAlbum{album: album}, nil
		},
		Engine:  engine,
		Observe: prog.record,
	}, logger)

	err = runner.Run(ctx)
	prog.finish()

	if err != nil {
		return authFailure(s, logger, err)
	}

	return nil
}

// authFailure fires the two-factor expiry notification when an unattended
// run cannot prompt for a fresh code, then passes the error through.
func authFailure(s *config.Settings, logger *slog.Logger, err error) error {
	if errors.Is(err, icloud.ErrRequiresInteractive) {
		notifyExpiredSession(s, logger)
	}

	return err
}

// printAlbums writes every album name on its own line.
func printAlbums(ctx context.Context, w io.Writer, client *icloud.Client, logger *slog.Logger) error {
	lib, err := photos.NewLibrary(client, logger)
	if err != nil {
		return err
	}

	if err := lib.CheckIndexing(ctx); err != nil {
		return err
	}

	albums, err := lib.Albums(ctx)
	if err != nil {
		return err
	}

	for _, album := range albums {
		fmt.Fprintln(w, album.Name())
	}

	return nil
}

// buildClient assembles the transport, the persisted session, and the
// provider client from the effective settings.
func buildClient(s *config.Settings, logger *slog.Logger) (*icloud.Client, error) {
	username := s.Auth.Username
	if username == "" {
		return nil, fmt.Errorf("no account: pass --username or set auth.username in the config file")
	}

	password, err := defaultCredentialSource(s.Auth.Password).password(username)
	if err != nil {
		return nil, err
	}

	cookieDir := s.Auth.CookieDirectory
	if err := os.MkdirAll(cookieDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating cookie directory: %w", err)
	}

	cookiePath, statePath := icloud.SessionPaths(cookieDir, username)

	jar, err := icloud.LoadJar(cookiePath)
	if err != nil {
		return nil, err
	}

	session, err := icloud.NewSession(httpClient(s.Network), jar, cookiePath, statePath, logger)
	if err != nil {
		return nil, err
	}

	if s.Network.UserAgent != "" {
		session.SetUserAgent(s.Network.UserAgent)
	}

	var mfa icloud.MFAPrompter
	if interactiveStdin() {
		mfa = terminalMFA{}
	}

	return icloud.NewClient(icloud.Config{
		Username: username,
		Password: password,
		Domain:   s.Auth.Domain,
		ClientID: s.ClientID,
		MFA:      mfa,
	}, session, logger)
}

// httpClient builds the shared transport. The connect timeout bounds dials
// and TLS handshakes, the data timeout bounds waiting for response headers.
// There is no overall request timeout: media bodies may stream for minutes.
func httpClient(n config.NetworkConfig) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: n.ConnectTimeoutDuration()}).DialContext,
		TLSHandshakeTimeout:   n.ConnectTimeoutDuration(),
		ResponseHeaderTimeout: n.DataTimeoutDuration(),
	}

	if n.UnverifiedHTTPS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &http.Client{Transport: transport}
}

func downloadOptions(s *config.Settings) download.Options {
	return download.Options{
		Directory:           s.Download.Directory,
		FolderStructure:     s.Download.FolderStructure,
		Sizes:               s.Download.Sizes,
		LivePhotoSize:       s.Download.LivePhotoSize,
		SkipLivePhotos:      s.Download.SkipLivePhotos,
		ForceSize:           s.Download.ForceSize,
		SetExifDatetime:     s.Download.SetExifDatetime,
		KeepUnicode:         s.Download.KeepUnicode,
		DryRun:              s.Download.DryRun,
		OnlyPrintFilenames:  flagOnlyPrint,
		DeleteAfterDownload: s.Download.DeleteAfterDownload,
		MaxRetries:          s.Retry.MaxRetries,
		RetryWait:           time.Duration(s.Retry.WaitSeconds) * time.Second,
	}
}

func runnerConfig(s *config.Settings) sync.Config {
	return sync.Config{
		Album:         s.Download.Album,
		Recent:        flagRecent,
		UntilFound:    flagUntilFound,
		SkipVideos:    s.Download.SkipVideos,
		Workers:       s.Download.Threads,
		MaxRetries:    s.Retry.MaxRetries,
		RetryWait:     time.Duration(s.Retry.WaitSeconds) * time.Second,
		WatchInterval: time.Duration(s.Watch.IntervalSeconds) * time.Second,
		AutoDelete:    s.Download.AutoDelete,
		DryRun:        s.Download.DryRun,
		Sizes:         s.Download.Sizes,
		Directory:     s.Download.Directory,
	}
}

// progressEnabled reports whether the in-place counter renders. Print-only
// runs keep stdout clean, and without a terminal there is nothing to
// overwrite.
func progressEnabled() bool {
	return !flagNoProgressBar && !flagOnlyPrint && !flagQuiet && stderrIsTerminal()
}

// runLockPath is the watch-mode instance lock.
func runLockPath() string {
	return filepath.Join(config.DefaultDataDir(), "icloudpd.pid")
}
