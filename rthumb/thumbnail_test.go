package rthumb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestThumbnailRequest_Validate(t *testing.T) {
	r := require.New(t)

	r.NoError(ThumbnailRequest{SourceKey: "a.png", TargetKey: "a_100.png", Size: 100}.Validate())

	r.Error(ThumbnailRequest{TargetKey: "a_100.png", Size: 100}.Validate())
	r.Error(ThumbnailRequest{SourceKey: "a.png", Size: 100}.Validate())
	r.Error(ThumbnailRequest{SourceKey: "a.png", TargetKey: "a_100.png"}.Validate())
	r.Error(ThumbnailRequest{SourceKey: "a.png", TargetKey: "a_100.png", Size: -1}.Validate())
}
