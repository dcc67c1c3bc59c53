package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/raid-newvicx/cachex/cacheerrors"
	"github.com/raid-newvicx/cachex/envelope"
)

// File is a one-file-per-key Storage rooted at Root/KeyPrefix. Writes use
// temp-file + atomic rename so a reader never observes a partially-written
// envelope; write failures are logged and swallowed rather than surfaced,
// since the caller's following Get will simply miss and recompute.
type File struct {
	root string // Root joined with KeyPrefix; the directory actually written to
}

// NewFile constructs a File storage rooted at filepath.Join(root, keyPrefix).
// If keyPrefix is empty it defaults to "cachex".
func NewFile(root, keyPrefix string) (*File, error) {
	if keyPrefix == "" {
		keyPrefix = "cachex"
	}
	dir := filepath.Join(root, keyPrefix)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &cacheerrors.ImproperlyConfiguredException{Msg: "file storage: create root " + dir, Cause: err}
	}
	return &File{root: dir}, nil
}

var _ Storage = (*File)(nil)

// safeFileName NFKD-normalizes key and replaces every non-alphanumeric
// code point with its decimal code point, producing a filesystem-safe
// name for any valid cache key.
func safeFileName(key string) string {
	normalized, _, err := transform.String(norm.NFKD, key)
	if err != nil {
		normalized = key
	}
	out := make([]byte, 0, len(normalized))
	for _, r := range normalized {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			out = append(out, string(r)...)
		} else {
			out = append(out, []byte(strconv.Itoa(int(r)))...)
		}
	}
	return string(out)
}

func (f *File) pathFor(key string) string {
	return filepath.Join(f.root, safeFileName(key))
}

func (f *File) Set(_ context.Context, key string, value []byte, expiresIn time.Duration) error {
	env, err := envelope.New(value, expiresIn)
	if err != nil {
		return &cacheerrors.CacheError{Op: "file: set", Cause: err}
	}
	data, err := json.Marshal(env)
	if err != nil {
		return &cacheerrors.CacheError{Op: "file: marshal envelope", Cause: err}
	}
	f.write(f.pathFor(key), data)
	return nil
}

// write performs the temp-file + atomic rename dance. Any OS error is
// logged and swallowed: a write failure just means the next Get
// recomputes, which is always safe for a cache.
func (f *File) write(target string, data []byte) {
	tmpName := target + ".tmp." + uuid.NewString()
	tmpFile, err := os.OpenFile(tmpName, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		log.Debug().Err(err).Str("path", target).Msg("cachex: file storage write: create temp file")
		return
	}
	renamed := false
	defer func() {
		if !renamed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		log.Debug().Err(err).Str("path", target).Msg("cachex: file storage write: write temp file")
		return
	}
	if err := tmpFile.Close(); err != nil {
		log.Debug().Err(err).Str("path", target).Msg("cachex: file storage write: close temp file")
		return
	}
	if err := os.Rename(tmpName, target); err != nil {
		log.Debug().Err(err).Str("path", target).Msg("cachex: file storage write: rename")
		return
	}
	renamed = true
}

func (f *File) Get(_ context.Context, key string) ([]byte, bool, error) {
	path := f.pathFor(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		// A corrupt/unreadable file is treated as a miss, not an error.
		logMiss("file", key, "unreadable: "+err.Error())
		return nil, false, nil
	}

	var env envelope.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		logMiss("file", key, "corrupt envelope")
		return nil, false, nil
	}
	if env.Expired() {
		_ = os.Remove(path)
		return nil, false, nil
	}
	return env.Data, true, nil
}

func (f *File) Delete(_ context.Context, key string) error {
	if err := os.Remove(f.pathFor(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &cacheerrors.CacheError{Op: "file: delete", Cause: err}
	}
	return nil
}

func (f *File) DeleteAll(_ context.Context) error {
	if err := os.RemoveAll(f.root); err != nil {
		return &cacheerrors.CacheError{Op: "file: delete_all", Cause: err}
	}
	if err := os.MkdirAll(f.root, 0o755); err != nil {
		return &cacheerrors.CacheError{Op: "file: delete_all recreate root", Cause: err}
	}
	return nil
}
