package storage

import (
	"net/url"
	"strings"
	"unicode"

	"github.com/ShoshinNikita/rthumb/pkg/misc"
	"golang.org/x/text/unicode/norm"
)

const defaultStagingFolder = "tmp/"

// Folders contains normalized key prefixes.
type Folders struct {
	// Primary is a folder for original assets, can be empty.
	Primary    string
	Thumbnails string
	Imports    string
}

func NewFolders(cfg Config) Folders {
	return Folders{
		Primary:    NormalizeFolder(cfg.Folder, ""),
		Thumbnails: NormalizeFolder(cfg.ThumbFolder, defaultStagingFolder),
		Imports:    NormalizeFolder(cfg.ImportFolder, defaultStagingFolder),
	}
}

// NormalizeFolder returns a folder with a trailing slash. Blank values are replaced
// with the fallback.
func NormalizeFolder(raw, fallback string) string {
	if misc.IsBlank(raw) {
		return fallback
	}
	if hasValidTrailingSlash(raw) {
		return raw
	}
	return raw + "/"
}

// hasValidTrailingSlash reports whether s ends with a non-space rune followed by '/'.
func hasValidTrailingSlash(s string) bool {
	trimmed, ok := strings.CutSuffix(s, "/")
	if !ok || trimmed == "" {
		return false
	}
	last := []rune(trimmed)[len([]rune(trimmed))-1]
	return !unicode.IsSpace(last)
}

// JoinKey joins non-empty segments with '/' without doubling separators.
func JoinKey(segments ...string) string {
	var key string
	for _, s := range segments {
		if s == "" {
			continue
		}
		if key == "" {
			key = s
			continue
		}
		key = strings.TrimSuffix(key, "/") + "/" + strings.TrimPrefix(s, "/")
	}
	return key
}

// ContentDisposition returns an inline Content-Disposition header value with
// the percent-encoded filename.
func ContentDisposition(filename string) string {
	return "inline; filename=" + percentEncode(norm.NFC.String(filename))
}

// percentEncode escapes everything except unreserved characters (RFC 3986).
func percentEncode(s string) string {
	// QueryEscape encodes spaces as '+', a literal '+' is already escaped as "%2B".
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
