// Package audit keeps dated copies of raw ingestion payloads.
// Writes are best effort: the ingest path logs a failed write and continues.
package audit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sink stores one raw payload and returns the key it was written under.
type Sink interface {
	Write(ctx context.Context, satelliteID string, at time.Time, payload []byte) (string, error)
}

// Key returns the slash separated object key for a payload received at at:
// <satelliteId>/<YYYY-MM-DD>/<HHMMSS.mmm>-<uuid>.json, all in UTC.
func Key(satelliteID string, at time.Time) string {
	at = at.UTC()
	name := fmt.Sprintf("%s-%s.json", at.Format("150405.000"), uuid.New().String())
	return path.Join(cleanSegment(satelliteID), at.Format(time.DateOnly), name)
}

func cleanSegment(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == 0 {
			return '_'
		}
		return r
	}, strings.TrimSpace(s))
	if s == "" || s == "." || s == ".." {
		return "_unknown"
	}
	return s
}

// FileSink writes payloads below a local directory.
type FileSink struct {
	dir string
}

// NewFileSink returns a sink rooted at dir. The directory is created on first write.
func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

func (f *FileSink) Write(ctx context.Context, satelliteID string, at time.Time, payload []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key := Key(satelliteID, at)
	full := filepath.Join(f.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create audit directory: %w", err)
	}
	if err := os.WriteFile(full, payload, 0o644); err != nil {
		return "", fmt.Errorf("write audit file: %w", err)
	}
	return key, nil
}

// Multi fans a write out to every sink. The first successful key is returned;
// failures are joined.
type Multi []Sink

func (m Multi) Write(ctx context.Context, satelliteID string, at time.Time, payload []byte) (string, error) {
	var (
		key  string
		errs []error
	)
	for _, s := range m {
		k, err := s.Write(ctx, satelliteID, at, payload)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if key == "" {
			key = k
		}
	}
	return key, errors.Join(errs...)
}

// Discard drops every payload.
type Discard struct{}

func (Discard) Write(context.Context, string, time.Time, []byte) (string, error) { return "", nil }
