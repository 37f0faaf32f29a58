package thumbnails

import (
	"context"

	"github.com/ShoshinNikita/rthumb/rthumb"
	"github.com/ShoshinNikita/rthumb/storage"
)

// NoopThumbnailService is used when thumbnail generation is disabled. Already
// stored thumbnails can still be deleted.
type NoopThumbnailService struct {
	store   rthumb.ObjectStore
	folders storage.Folders
}

var _ rthumb.ThumbnailService = (*NoopThumbnailService)(nil)

func NewNoopThumbnailService(store rthumb.ObjectStore, folders storage.Folders) *NoopThumbnailService {
	return &NoopThumbnailService{
		store:   store,
		folders: folders,
	}
}

func (*NoopThumbnailService) Generate(context.Context, rthumb.ThumbnailRequest) (*rthumb.Thumbnail, error) {
	return nil, nil
}

func (s *NoopThumbnailService) BatchDelete(ctx context.Context, prefix string) error {
	return batchDelete(ctx, s.store, s.folders, prefix)
}
