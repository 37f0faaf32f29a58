// Package imports provides access to CSV files uploaded for import. The files live
// in the import folder of the object store.
package imports

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"github.com/ShoshinNikita/rthumb/pkg/rlog"
	"github.com/ShoshinNikita/rthumb/rthumb"
	"github.com/ShoshinNikita/rthumb/storage"
)

const (
	DefaultEncoding     = "UTF-8"
	DefaultSeparator    = ","
	DefaultMaxReadBytes = 4096
)

var ErrUnsupportedSettings = errors.New("unsupported import settings")

var utf8BOM = []byte("\xef\xbb\xbf")

type Settings struct {
	// Encoding of the file, UTF-8 by default. Any name from the WHATWG Encoding
	// Standard is accepted.
	Encoding string
	// Separator must be a single character, "," is used otherwise.
	Separator string
	// Wrapper must be a single character, '"' is used otherwise.
	Wrapper string
}

// File is a file to import.
type File struct {
	Filename string

	store  rthumb.ObjectStore
	folder string
}

func NewFile(store rthumb.ObjectStore, folders storage.Folders, filename string) *File {
	return &File{
		Filename: filename,
		store:    store,
		folder:   folders.Imports,
	}
}

// Path returns the object key of the file. It is empty when the filename is empty.
func (f *File) Path() string {
	if f.Filename == "" {
		return ""
	}
	return storage.JoinKey(f.folder, f.Filename)
}

func (f *File) Exists(ctx context.Context) (bool, error) {
	path := f.Path()
	if path == "" {
		return false, nil
	}
	return f.store.Exists(ctx, path)
}

// ReadHead reads lines from the beginning of the file, up to maxBytes. The last
// byte of a chunk may be a part of a multi-byte character, so a truncated chunk
// is cut after the last LF, if any.
func (f *File) ReadHead(ctx context.Context, maxBytes int) (string, error) {
	data, err := f.read(ctx)
	if err != nil || data == nil {
		return "", err
	}
	if len(data) <= maxBytes {
		return string(data), nil
	}

	chunk := data[:maxBytes]
	if i := bytes.LastIndexByte(chunk, '\n'); i >= 0 {
		chunk = chunk[:i+1]
	}
	return string(chunk), nil
}

// Rows parses the file as CSV. It returns nil if the file doesn't exist.
func (f *File) Rows(ctx context.Context, settings Settings) ([][]string, error) {
	separator := singleRune(settings.Separator, ',')
	wrapper := singleRune(settings.Wrapper, '"')
	if err := validateDelimiters(separator, wrapper); err != nil {
		return nil, err
	}

	data, err := f.read(ctx)
	if err != nil || data == nil {
		return nil, err
	}

	data, err = decode(data, settings.Encoding)
	if err != nil {
		return nil, err
	}

	// csv.Reader supports only '"' as a quote. Swap it with the wrapper before parsing
	// and swap back in the parsed fields.
	swap := func(r rune) rune {
		switch r {
		case wrapper:
			return '"'
		case '"':
			return wrapper
		}
		return r
	}
	text := string(data)
	if wrapper != '"' {
		text = strings.Map(swap, text)
		separator = swap(separator)
	}

	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.Comma = separator

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("couldn't parse %q: %w", f.Filename, err)
	}
	if wrapper != '"' {
		for _, row := range rows {
			for i := range row {
				row[i] = strings.Map(swap, row[i])
			}
		}
	}
	return rows, nil
}

// singleRune returns the only rune of s. Empty and longer values are replaced with
// the default one.
func singleRune(s string, defaultValue rune) rune {
	if utf8.RuneCountInString(s) != 1 {
		return defaultValue
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r
}

func validateDelimiters(separator, wrapper rune) error {
	isValid := func(r rune) bool {
		return r != '\r' && r != '\n' && r != utf8.RuneError
	}
	switch {
	case !isValid(separator):
		return fmt.Errorf("%w: separator %q", ErrUnsupportedSettings, separator)
	case !isValid(wrapper):
		return fmt.Errorf("%w: wrapper %q", ErrUnsupportedSettings, wrapper)
	case separator == wrapper:
		return fmt.Errorf("%w: separator and wrapper must differ, got %q", ErrUnsupportedSettings, separator)
	}
	return nil
}

// Remove deletes the file. Errors are only logged.
func (f *File) Remove(ctx context.Context) {
	exists, err := f.Exists(ctx)
	if err == nil && exists {
		err = f.store.Delete(ctx, f.Path())
	}
	if err != nil {
		rlog.Errorf("unable to delete file %q: %s", f.Filename, err)
	}
}

// read returns nil if the file doesn't exist.
func (f *File) read(ctx context.Context) ([]byte, error) {
	path := f.Path()
	if path == "" {
		return nil, nil
	}

	obj, err := f.store.Get(ctx, path)
	if err != nil {
		if errors.Is(err, rthumb.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("couldn't read %q: %w", path, err)
	}
	if obj.Data == nil {
		obj.Data = []byte{}
	}
	return obj.Data, nil
}

func decode(data []byte, encodingName string) ([]byte, error) {
	encodingName = strings.TrimSpace(encodingName)
	if encodingName == "" {
		encodingName = DefaultEncoding
	}

	enc, err := htmlindex.Get(encodingName)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding %q", ErrUnsupportedSettings, encodingName)
	}
	if name, _ := htmlindex.Name(enc); name == "utf-8" {
		return bytes.TrimPrefix(data, utf8BOM), nil
	}

	res, _, err := transform.Bytes(enc.NewDecoder(), data)
	if err != nil {
		return nil, fmt.Errorf("couldn't decode from %q: %w", encodingName, err)
	}
	return res, nil
}
