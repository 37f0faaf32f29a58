package rthumb

import (
	"context"
	"errors"
	"fmt"
)

// ThumbnailRequest describes a single thumbnail generation.
type ThumbnailRequest struct {
	// SourceKey and TargetKey are filenames: source is resolved against the primary
	// folder, target - against the thumbnail folder.
	SourceKey string
	TargetKey string
	// Size is the bound of both thumbnail dimensions in pixels.
	Size int
	// IsDocumentPage enables rasterization of the first document page.
	IsDocumentPage bool
}

func (req ThumbnailRequest) Validate() error {
	if req.SourceKey == "" {
		return errors.New("source key can't be empty")
	}
	if req.TargetKey == "" {
		return errors.New("target key can't be empty")
	}
	if req.Size <= 0 {
		return fmt.Errorf("size must be > 0, got %d", req.Size)
	}
	return nil
}

type Thumbnail struct {
	Digest      string
	ContentType string
	Data        []byte
}

type ThumbnailService interface {
	// Generate returns nil if the thumbnail can't be generated. The reason is only logged.
	Generate(ctx context.Context, req ThumbnailRequest) (*Thumbnail, error)
	// BatchDelete removes all thumbnails with the passed prefix.
	BatchDelete(ctx context.Context, prefix string) error
}
