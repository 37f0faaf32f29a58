package cmd

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/ShoshinNikita/rthumb/pkg/rlog"
	"github.com/ShoshinNikita/rthumb/rthumb"
	"github.com/ShoshinNikita/rthumb/shell"
	"github.com/ShoshinNikita/rthumb/storage"
	"github.com/ShoshinNikita/rthumb/thumbnails"
	"github.com/ShoshinNikita/rthumb/web"
)

type Rthumb struct {
	cfg rthumb.Config

	store   rthumb.ObjectStore
	folders storage.Folders

	thumbnailService rthumb.ThumbnailService

	server *web.Server
}

func NewRthumb(cfg rthumb.Config) *Rthumb {
	return &Rthumb{
		cfg: cfg,
	}
}

func (r *Rthumb) Prepare() (err error) {
	// Object Store
	storageCfg, err := storage.LoadConfig(r.cfg.StorageConfig, r.cfg.StorageEnv)
	if err != nil {
		return fmt.Errorf("couldn't load storage config: %w", err)
	}
	client, err := storage.NewS3Client(storageCfg)
	if err != nil {
		return fmt.Errorf("couldn't prepare s3 client: %w", err)
	}
	r.store = storage.NewS3Store(client, storageCfg.Bucket)
	r.folders = storage.NewFolders(storageCfg)

	rlog.Infof(
		"use bucket %q, folders: primary %q, thumbnails %q, imports %q",
		storageCfg.Bucket, r.folders.Primary, r.folders.Thumbnails, r.folders.Imports,
	)

	// Thumbnail Service
	r.thumbnailService = newThumbnailService(r.cfg.Thumbnails, r.store, r.folders, shell.NewRunner())

	// Web Server
	r.server = web.NewServer(r.cfg, r.thumbnailService, r.store, r.folders)

	return nil
}

func newThumbnailService(
	cfg rthumb.ThumbnailsConfig, store rthumb.ObjectStore, folders storage.Folders, runner thumbnails.Runner,
) rthumb.ThumbnailService {

	if !cfg.Enabled {
		rlog.Debug("thumbnail service is disabled")
		return thumbnails.NewNoopThumbnailService(store, folders)
	}

	// Tools are checked before every generation, they can be installed later.
	if _, err := runner.LookPath(cfg.ConvertCommand); err != nil {
		rlog.Warnf("thumbnails won't be generated until the tool is installed: %s", err)
	}
	if _, err := runner.LookPath(cfg.GhostscriptCommand); cfg.GhostscriptCommand != "" && err != nil {
		rlog.Warnf("thumbnails for documents won't be generated until the tool is installed: %s", err)
	}

	return thumbnails.NewThumbnailService(store, folders, runner, thumbnails.NewOptions(cfg))
}

func (r *Rthumb) Start(onError func()) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		var wg sync.WaitGroup
		for name, s := range map[string]interface{ Start() error }{
			"web server": r.server,
		} {
			wg.Add(1)
			go func() {
				defer wg.Done()

				if err := s.Start(); err != nil {
					rlog.Errorf("%s error: %s", name, err)
					onError()
				}
			}()
		}
		wg.Wait()

		close(done)
	}()

	return done
}

// Shutdown shutdowns all components. It is safe to call this method even if Prepare has failed.
func (r *Rthumb) Shutdown(ctx context.Context) error {
	var failed int
	for _, v := range []struct {
		name string
		s    shutdowner
	}{
		{"web server", r.server},
	} {
		err := safeShutdown(ctx, v.s)
		if err != nil {
			failed++
			rlog.Errorf("couldn't gracefully shutdown %s: %s", v.name, err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("couldn't gracefully shutdown %d component(s), see logs for more info", failed)
	}
	return nil
}

type shutdowner interface {
	Shutdown(context.Context) error
}

// safeShutdown calls Shutdown method only on initialized components.
func safeShutdown(ctx context.Context, s shutdowner) error {
	v := reflect.ValueOf(s)
	if !v.IsValid() || v.IsNil() {
		return nil
	}
	return s.Shutdown(ctx)
}
