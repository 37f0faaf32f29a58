package thumbnails

import (
	"context"
	"errors"

	"github.com/ShoshinNikita/rthumb/rthumb"
)

type FetchStatus int

const (
	FetchOK FetchStatus = iota
	FetchNotFound
	FetchError
)

func (s FetchStatus) String() string {
	switch s {
	case FetchOK:
		return "ok"
	case FetchNotFound:
		return "not found"
	case FetchError:
		return "error"
	default:
		return "unknown"
	}
}

// FetchResult is the outcome of a best-effort source read. Data is nil unless
// Status is [FetchOK].
type FetchResult struct {
	Status FetchStatus
	Data   []byte
	Err    error
}

// fetchSource never fails: the caller decides what to do with missing sources.
func (s *ThumbnailService) fetchSource(ctx context.Context, key string) FetchResult {
	obj, err := s.store.Get(ctx, key)
	switch {
	case errors.Is(err, rthumb.ErrNotFound):
		return FetchResult{Status: FetchNotFound, Err: err}
	case err != nil:
		return FetchResult{Status: FetchError, Err: err}
	default:
		return FetchResult{Status: FetchOK, Data: obj.Data}
	}
}
