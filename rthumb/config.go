package rthumb

import (
	"encoding"
	"errors"
	"flag"
	"fmt"
	"os"
	"reflect"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/ShoshinNikita/rthumb/pkg/rlog"
)

type Config struct {
	BuildInfo BuildInfo

	ServerPort int

	// StorageConfig is a path to the YAML file with object store settings.
	StorageConfig string
	// StorageEnv selects a section of the storage config file.
	StorageEnv string

	Thumbnails ThumbnailsConfig

	LogLevel rlog.Level
}

type ThumbnailsConfig struct {
	// Enabled is false when thumbnails must not be generated at all.
	Enabled bool

	ConvertCommand     string
	GhostscriptCommand string
	// Timeout limits a single converter run. Non-positive values disable the limit.
	Timeout      time.Duration
	AllowedTypes MediaTypes
	DocumentType string
	// Lock enables in-process deduplication of concurrent requests for the same target.
	Lock bool
}

type BuildInfo struct {
	ShortGitHash string
	CommitTime   string
}

// DefaultAllowedTypes is the list of media types a thumbnail can be generated for.
var DefaultAllowedTypes = MediaTypes{
	"image/bmp",
	"image/gif",
	"image/jpeg",
	"image/png",
	"image/webp",
	"application/pdf",
}

const DefaultDocumentType = "application/pdf"

// MediaTypes is a comma-separated list of media types.
type MediaTypes []string

func (types MediaTypes) Contains(mediaType string) bool {
	return slices.Contains(types, mediaType)
}

func (types MediaTypes) MarshalText() (text []byte, err error) {
	return []byte(strings.Join(types, ",")), nil
}

func (types *MediaTypes) UnmarshalText(text []byte) error {
	var res MediaTypes
	for v := range strings.SplitSeq(string(text), ",") {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if !strings.Contains(v, "/") {
			return fmt.Errorf("invalid media type %q", v)
		}
		res = append(res, v)
	}
	*types = res
	return nil
}

type flagParams struct {
	// p is a pointer to a value.
	p            any
	defaultValue any
	desc         string
}

func (cfg *Config) getFlagParams() map[string]flagParams {
	return map[string]flagParams{
		"port": {
			p: &cfg.ServerPort, defaultValue: 8080, desc: "Server port",
		},
		//
		"storage-config": {
			p: &cfg.StorageConfig, defaultValue: "./config/s3.yml", desc: "" +
				"Path to the object store config. The file must contain a section\n" +
				"for every environment, ${VAR} references are expanded",
		},
		"storage-env": {
			p: &cfg.StorageEnv, defaultValue: "production", desc: "Section of the object store config to use",
		},
		//
		"thumbnails": {
			p: &cfg.Thumbnails.Enabled, defaultValue: true, desc: "Generate thumbnails",
		},
		"convert-command": {
			p: &cfg.Thumbnails.ConvertCommand, defaultValue: "convert", desc: "ImageMagick convert command",
		},
		"gs-command": {
			p: &cfg.Thumbnails.GhostscriptCommand, defaultValue: "gs", desc: "" +
				"Ghostscript command, required to generate thumbnails for documents",
		},
		"thumbnails-timeout": {
			p: &cfg.Thumbnails.Timeout, defaultValue: 5 * time.Minute, desc: "" +
				"Max duration of a single thumbnail generation, 0 disables the limit",
		},
		"allowed-types": {
			p: &cfg.Thumbnails.AllowedTypes, defaultValue: DefaultAllowedTypes, desc: "" +
				"Comma-separated list of media types thumbnails can be generated for",
		},
		"document-type": {
			p: &cfg.Thumbnails.DocumentType, defaultValue: DefaultDocumentType, desc: "" +
				"Media type of documents, only the first page is used for thumbnails",
		},
		"thumbnails-lock": {
			p: &cfg.Thumbnails.Lock, defaultValue: true, desc: "" +
				"Generate a thumbnail only once for concurrent requests with the same target",
		},
		//
		"log-level": {
			p: &cfg.LogLevel, defaultValue: rlog.LevelInfo, desc: "Set the minimal log level. One of: debug, info, warn, error",
		},
	}
}

func ParseConfig() (Config, error) {
	return parseConfig(flag.CommandLine, os.Args[1:])
}

func parseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{
		BuildInfo: readBuildInfo(),
	}

	var printVersion bool
	fs.BoolVar(&printVersion, "version", false, "Print version and exit")

	flags := cfg.getFlagParams()
	for name, params := range flags {
		switch p := params.p.(type) {
		case *bool:
			fs.BoolVar(p, name, params.defaultValue.(bool), params.desc)
		case *int:
			fs.IntVar(p, name, params.defaultValue.(int), params.desc)
		case *string:
			fs.StringVar(p, name, params.defaultValue.(string), params.desc)
		case *time.Duration:
			fs.DurationVar(p, name, params.defaultValue.(time.Duration), params.desc)
		case encoding.TextUnmarshaler:
			fs.TextVar(p, name, params.defaultValue.(encoding.TextMarshaler), params.desc)
		default:
			return Config{}, fmt.Errorf("flag %q has unsupported type: %T", name, p)
		}
	}

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if printVersion {
		cfg.BuildInfo.Print()
		os.Exit(0)
	}

	if cfg.ServerPort <= 0 {
		return cfg, errors.New("server port must be > 0")
	}
	if cfg.StorageConfig == "" {
		return cfg, errors.New("storage config can't be empty")
	}
	if cfg.StorageEnv == "" {
		return cfg, errors.New("storage env can't be empty")
	}
	if cfg.Thumbnails.ConvertCommand == "" {
		return cfg, errors.New("convert command can't be empty")
	}
	if len(cfg.Thumbnails.AllowedTypes) == 0 {
		return cfg, errors.New("allowed types can't be empty")
	}
	if cfg.Thumbnails.DocumentType == "" {
		return cfg, errors.New("document type can't be empty")
	}

	return cfg, nil
}

func readBuildInfo() BuildInfo {
	res := BuildInfo{
		ShortGitHash: "unknown",
		CommitTime:   "unknown",
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return res
	}

	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			res.ShortGitHash = s.Value
			if len(res.ShortGitHash) > 7 {
				res.ShortGitHash = res.ShortGitHash[:7]
			}

		case "vcs.time":
			t, err := time.Parse(time.RFC3339, s.Value)
			if err == nil {
				res.CommitTime = t.UTC().Format("2006-01-02 15:04:05 UTC")
			}
		}
	}
	return res
}

func (info BuildInfo) Print() {
	fmt.Fprintf(os.Stderr, `
            _   _                     _
      _ __ | |_| |__  _   _ _ __ ___ | |__
     | '__|| __| '_ \| | | | '_ ' _ \| '_ \
     | |   | |_| | | | |_| | | | | | | |_) |
     |_|    \__|_| |_|\__,_|_| |_| |_|_.__/

    Commit Hash: %q
    Commit Time: %q

`,
		info.ShortGitHash,
		info.CommitTime,
	)
}

func (cfg Config) Print() {
	flags := cfg.getFlagParams()

	var (
		names         = make([]string, 0, len(flags))
		maxNameLength int
	)
	for name := range flags {
		if len(name) > maxNameLength {
			maxNameLength = len(name)
		}
		names = append(names, name)
	}
	slices.Sort(names)

	fmt.Fprint(os.Stderr, "    Config:\n\n")
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "        --%-*s = %v\n", maxNameLength, name, reflect.ValueOf(flags[name].p).Elem())
	}
	fmt.Fprint(os.Stderr, "\n")
}
