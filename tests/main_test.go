package tests

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ShoshinNikita/rthumb/rthumb"
	"github.com/ShoshinNikita/rthumb/shell"
	"github.com/ShoshinNikita/rthumb/storage"
	"github.com/ShoshinNikita/rthumb/thumbnails"
	"github.com/ShoshinNikita/rthumb/web"
)

type testApp struct {
	store   *storage.MemoryStore
	folders storage.Folders
	server  *httptest.Server

	// calls contains a line for every converter run.
	calls string
}

// startTestApp starts the web server with an in-memory store and a converter script
// that writes a fixed PNG.
func startTestApp(t *testing.T) *testApp {
	t.Helper()

	r := require.New(t)
	dir := t.TempDir()

	fixture := filepath.Join(dir, "thumbnail.png")
	r.NoError(os.WriteFile(fixture, encodePNG(t, 8, 4), 0o600))

	app := &testApp{
		store:   storage.NewMemoryStore(),
		folders: storage.NewFolders(storage.Config{Folder: "files", ThumbFolder: "thumbnails"}),
		calls:   filepath.Join(dir, "calls"),
	}

	converter := filepath.Join(dir, "convert")
	script := fmt.Sprintf("#!/bin/sh\necho \"$*\" >> %q\nfor last; do :; done\ncp %q \"${last#png:}\"\n", app.calls, fixture)
	r.NoError(os.WriteFile(converter, []byte(script), 0o700)) //nolint:gosec

	ghostscript := filepath.Join(dir, "gs")
	r.NoError(os.WriteFile(ghostscript, []byte("#!/bin/sh\n"), 0o700)) //nolint:gosec

	cfg := rthumb.Config{
		ServerPort: 8080,
		Thumbnails: rthumb.ThumbnailsConfig{
			Enabled:            true,
			ConvertCommand:     converter,
			GhostscriptCommand: ghostscript,
			Timeout:            10 * time.Second,
			AllowedTypes:       rthumb.DefaultAllowedTypes,
			DocumentType:       rthumb.DefaultDocumentType,
			Lock:               true,
		},
	}
	service := thumbnails.NewThumbnailService(app.store, app.folders, shell.NewRunner(), thumbnails.NewOptions(cfg.Thumbnails))

	app.server = httptest.NewServer(web.NewServer(cfg, service, app.store, app.folders).Handler())
	t.Cleanup(app.server.Close)

	return app
}

func (app *testApp) converterCalls(t *testing.T) []string {
	data, err := os.ReadFile(app.calls)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func (app *testApp) put(t *testing.T, key string, data []byte) {
	err := app.store.Put(context.Background(), key, data, rthumb.PutOptions{})
	require.NoError(t, err)
}

func (app *testApp) request(t *testing.T, method, path string, query url.Values) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), method, app.server.URL+path+"?"+query.Encode(), nil)
	require.NoError(t, err)

	resp, err := app.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, body
}

func encodePNG(t *testing.T, w, h int) []byte {
	buf := bytes.NewBuffer(nil)
	err := png.Encode(buf, image.NewRGBA(image.Rect(0, 0, w, h)))
	require.NoError(t, err)
	return buf.Bytes()
}
