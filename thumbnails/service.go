package thumbnails

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	pkgPath "path"
	"slices"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/singleflight"

	"github.com/ShoshinNikita/rthumb/pkg/metrics"
	"github.com/ShoshinNikita/rthumb/pkg/misc"
	"github.com/ShoshinNikita/rthumb/pkg/rlog"
	"github.com/ShoshinNikita/rthumb/rthumb"
	"github.com/ShoshinNikita/rthumb/shell"
	"github.com/ShoshinNikita/rthumb/storage"
)

var (
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrConversionFailed     = errors.New("conversion failed")
)

// Runner runs external commands, see [shell.Runner].
type Runner interface {
	LookPath(tool string) (string, error)
	Run(ctx context.Context, job shell.Job) (shell.Result, error)
}

type Options struct {
	ConvertCommand     string
	GhostscriptCommand string
	Timeout            time.Duration
	AllowedTypes       rthumb.MediaTypes
	DocumentType       string
	// Lock deduplicates concurrent requests for the same target key. Without it,
	// concurrent requests for a missing thumbnail all run the converter and the
	// last write wins.
	Lock bool
}

func NewOptions(cfg rthumb.ThumbnailsConfig) Options {
	return Options{
		ConvertCommand:     cfg.ConvertCommand,
		GhostscriptCommand: cfg.GhostscriptCommand,
		Timeout:            cfg.Timeout,
		AllowedTypes:       cfg.AllowedTypes,
		DocumentType:       cfg.DocumentType,
		Lock:               cfg.Lock,
	}
}

// ThumbnailService generates thumbnails with ImageMagick and caches them in the
// thumbnail folder of an object store. A stored thumbnail is never regenerated
// until it is deleted.
type ThumbnailService struct {
	store   rthumb.ObjectStore
	folders storage.Folders
	runner  Runner
	opts    Options

	// tempDir is used for converter input and output files, empty means the default one.
	tempDir string

	inProgress singleflight.Group
}

var _ rthumb.ThumbnailService = (*ThumbnailService)(nil)

func NewThumbnailService(store rthumb.ObjectStore, folders storage.Folders, runner Runner, opts Options) *ThumbnailService {
	return &ThumbnailService{
		store:   store,
		folders: folders,
		runner:  runner,
		opts:    opts,
	}
}

// Generate returns the thumbnail for the request, generating it if needed. If the
// thumbnail can't be generated, it returns nil: the reason is only logged. Errors are
// returned for invalid requests, object store failures during the cache check and
// the final read, and when ctx is done before the result is ready.
func (s *ThumbnailService) Generate(ctx context.Context, req rthumb.ThumbnailRequest) (*rthumb.Thumbnail, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	if !s.opts.Lock {
		return s.generate(ctx, req)
	}

	// The shared generation must not depend on the caller that started it: other
	// callers may still wait for the result. Every caller waits only on its own context.
	ch := s.inProgress.DoChan(s.targetKey(req), func() (any, error) {
		return s.generate(context.WithoutCancel(ctx), req)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		thumbnail := res.Val.(*rthumb.Thumbnail)
		if res.Shared {
			thumbnail = cloneThumbnail(thumbnail)
		}
		return thumbnail, nil
	}
}

func (s *ThumbnailService) targetKey(req rthumb.ThumbnailRequest) string {
	return storage.JoinKey(s.folders.Thumbnails, req.TargetKey)
}

func (s *ThumbnailService) generate(ctx context.Context, req rthumb.ThumbnailRequest) (*rthumb.Thumbnail, error) {
	if err := s.checkTools(req.IsDocumentPage); err != nil {
		metrics.ThumbnailsFailures.WithLabelValues(metrics.ReasonUnavailable).Inc()
		rlog.Warnf("couldn't generate thumbnail %q: %s", req.TargetKey, err)
		return nil, nil
	}

	targetKey := s.targetKey(req)

	exists, err := s.store.Exists(ctx, targetKey)
	if err != nil {
		return nil, fmt.Errorf("couldn't check thumbnail %q: %w", targetKey, err)
	}
	if exists {
		metrics.ThumbnailsCacheHits.Inc()
		rlog.Debugf("thumbnail %q already exists", targetKey)
	} else {
		if !s.createThumbnail(ctx, req, targetKey) {
			return nil, nil
		}
	}

	obj, err := s.store.Get(ctx, targetKey)
	if err != nil {
		return nil, fmt.Errorf("couldn't load thumbnail %q: %w", targetKey, err)
	}
	return &rthumb.Thumbnail{
		Digest:      obj.Digest(),
		ContentType: obj.ContentType,
		Data:        obj.Data,
	}, nil
}

func (s *ThumbnailService) checkTools(isDocumentPage bool) error {
	if _, err := s.runner.LookPath(s.opts.ConvertCommand); err != nil {
		return err
	}
	if isDocumentPage {
		if s.opts.GhostscriptCommand == "" {
			return fmt.Errorf("%w: ghostscript command is not set", shell.ErrToolUnavailable)
		}
		if _, err := s.runner.LookPath(s.opts.GhostscriptCommand); err != nil {
			return err
		}
	}
	return nil
}

// createThumbnail generates a thumbnail and saves it to the store. It reports
// whether the thumbnail was saved.
func (s *ThumbnailService) createThumbnail(ctx context.Context, req rthumb.ThumbnailRequest, targetKey string) bool {
	fail := func(reason string, format string, args ...any) bool {
		metrics.ThumbnailsFailures.WithLabelValues(reason).Inc()
		rlog.Errorf("couldn't generate thumbnail %q for %q: %s", targetKey, req.SourceKey, fmt.Sprintf(format, args...))
		return false
	}

	source := s.fetchSource(ctx, storage.JoinKey(s.folders.Primary, req.SourceKey))
	switch source.Status {
	case FetchNotFound:
		rlog.Warnf("source %q for thumbnail %q doesn't exist", req.SourceKey, targetKey)
	case FetchError:
		rlog.Warnf("couldn't read source %q for thumbnail %q: %s", req.SourceKey, targetKey, source.Err)
	case FetchOK:
		metrics.ThumbnailsSourceSizes.Observe(float64(len(source.Data)))
	}

	mediaType := detectMediaType(source.Data)
	if err := s.validateMediaType(mediaType, req.IsDocumentPage); err != nil {
		metrics.ThumbnailsFailures.WithLabelValues(metrics.ReasonRejected).Inc()
		rlog.Warnf("source %q for thumbnail %q is rejected: %s", req.SourceKey, targetKey, err)
		return false
	}

	now := time.Now()
	thumbnail, err := s.convert(ctx, req, source.Data, mediaType)
	dur := time.Since(now)
	switch {
	case errors.Is(err, context.Canceled):
		metrics.ThumbnailsFailures.WithLabelValues(metrics.ReasonCanceled).Inc()
		rlog.Warnf("generation of thumbnail %q was canceled", targetKey)
		return false
	case errors.Is(err, shell.ErrTimeout):
		return fail(metrics.ReasonTimeout, "%s", err)
	case err != nil:
		return fail(metrics.ReasonFailed, "%s", err)
	}
	metrics.ThumbnailsConversionDuration.Observe(dur.Seconds())

	digest := Digest(thumbnail)
	err = s.store.Put(ctx, targetKey, thumbnail, rthumb.PutOptions{
		ContentType: detectMediaType(thumbnail),
		Filename:    pkgPath.Base(req.TargetKey),
		Metadata: map[string]string{
			rthumb.MetadataDigest: digest,
		},
	})
	if err != nil {
		return fail(metrics.ReasonStore, "couldn't save thumbnail: %s", err)
	}

	metrics.ThumbnailsGenerated.Inc()
	rlog.Debugf(
		"thumbnail %q was generated in %s, source size: %s, new size: %s",
		targetKey, dur, misc.FormatFileSize(int64(len(source.Data))), misc.FormatFileSize(int64(len(thumbnail))),
	)
	return true
}

func (s *ThumbnailService) validateMediaType(mediaType string, isDocumentPage bool) error {
	if !s.opts.AllowedTypes.Contains(mediaType) {
		return fmt.Errorf("%w: %q", ErrUnsupportedMediaType, mediaType)
	}
	if isDocumentPage && mediaType != s.opts.DocumentType {
		return fmt.Errorf("%w: %q is not a document", ErrUnsupportedMediaType, mediaType)
	}
	return nil
}

// convert runs the converter and returns the thumbnail content. Temp files are
// always removed.
func (s *ThumbnailService) convert(ctx context.Context, req rthumb.ThumbnailRequest, source []byte, mediaType string) ([]byte, error) {
	// ImageMagick picks coders by extension, so it must match the content.
	sourceExt := mediaTypeExt(mediaType)

	inputFile, err := createTempFile(s.tempDir, "rthumb-source-*"+sourceExt, source)
	if err != nil {
		return nil, err
	}
	defer removeTempFile(inputFile)

	outputExt := sourceExt
	if req.IsDocumentPage {
		outputExt = ".png"
	}
	outputFile, err := createTempFile(s.tempDir, "rthumb-thumbnail-*"+outputExt, nil)
	if err != nil {
		return nil, err
	}
	defer removeTempFile(outputFile)

	job := shell.Job{
		Args:    buildConvertArgs(s.opts.ConvertCommand, inputFile, outputFile, req),
		Timeout: s.opts.Timeout,
	}
	res, err := s.runner.Run(ctx, job)
	if err != nil {
		return nil, err
	}
	if res.ExitStatus != 0 {
		return nil, fmt.Errorf("%w: exit status %d, command: %q, stderr: %q", ErrConversionFailed, res.ExitStatus, job, res.Stderr)
	}
	if len(res.Stderr) > 0 {
		rlog.Infof("convert stderr for %q: %q", req.SourceKey, res.Stderr)
	}

	thumbnail, err := os.ReadFile(outputFile)
	if err != nil {
		return nil, fmt.Errorf("couldn't read converter output: %w", err)
	}
	if len(thumbnail) == 0 {
		return nil, fmt.Errorf("%w: empty output, command: %q", ErrConversionFailed, job)
	}
	if err := checkBounds(thumbnail, req.Size); err != nil {
		return nil, err
	}
	return thumbnail, nil
}

// buildConvertArgs builds ImageMagick arguments. '>' after the size means that
// images are only shrunk, never enlarged.
func buildConvertArgs(command, input, output string, req rthumb.ThumbnailRequest) []string {
	size := fmt.Sprintf("%[1]dx%[1]d>", req.Size)

	if req.IsDocumentPage {
		return []string{
			command,
			input + "[0]", // first page
			"-thumbnail", size,
			"png:" + output,
		}
	}
	return []string{
		command,
		input,
		"-auto-orient",
		"-thumbnail", size,
		output,
	}
}

// mediaTypeExt returns the file extension for a sniffed media type, or an empty
// string for unknown types.
func mediaTypeExt(mediaType string) string {
	mime := mimetype.Lookup(mediaType)
	if mime == nil {
		return ""
	}
	return mime.Extension()
}

// detectMediaType returns the sniffed media type without parameters.
func detectMediaType(data []byte) string {
	mediaType, _, _ := strings.Cut(mimetype.Detect(data).String(), ";")
	return strings.TrimSpace(mediaType)
}

// Digest returns the hex-encoded SHA-256 of data.
func Digest(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// BatchDelete removes all thumbnails which keys start with the passed prefix. Source
// files are never touched unless they share the thumbnail folder.
func (s *ThumbnailService) BatchDelete(ctx context.Context, prefix string) error {
	return batchDelete(ctx, s.store, s.folders, prefix)
}

func batchDelete(ctx context.Context, store rthumb.ObjectStore, folders storage.Folders, prefix string) error {
	fullPrefix := storage.JoinKey(folders.Thumbnails, prefix)

	if err := store.DeletePrefix(ctx, fullPrefix); err != nil {
		return fmt.Errorf("couldn't delete thumbnails: %w", err)
	}
	rlog.Infof("thumbnails with prefix %q were deleted", fullPrefix)
	return nil
}

func createTempFile(dir, pattern string, data []byte) (path string, err error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", fmt.Errorf("couldn't create temp file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("couldn't close temp file: %w", closeErr)
		}
		if err != nil {
			removeTempFile(f.Name())
		}
	}()

	if _, err := f.Write(data); err != nil {
		return "", fmt.Errorf("couldn't write temp file: %w", err)
	}
	return f.Name(), nil
}

func removeTempFile(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		rlog.Errorf("couldn't remove temp file: %s", err)
	}
}

// cloneThumbnail is used when a result is shared between callers.
func cloneThumbnail(t *rthumb.Thumbnail) *rthumb.Thumbnail {
	if t == nil {
		return nil
	}
	res := *t
	res.Data = slices.Clone(t.Data)
	return &res
}
