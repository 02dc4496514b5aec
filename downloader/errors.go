package downloader

import (
	"errors"
	"fmt"
	"regexp"

	"tankobon/models"
)

// ErrEmptyBatch is returned when a batch names no chapters.
var ErrEmptyBatch = errors.New("no chapters requested")

// ErrNoChaptersMaterialized is returned when every chapter of a batch was
// skipped, so there is nothing to package.
var ErrNoChaptersMaterialized = errors.New("no chapters could be downloaded")

// ErrSelectorTimeout is wrapped when a rendered page never showed the
// element a scrape waits for.
var ErrSelectorTimeout = errors.New("timed out waiting for selector")

// InvalidSourceError means the selector is unknown or has no adapter.
type InvalidSourceError struct {
	Source models.Source
}

func (e *InvalidSourceError) Error() string {
	return fmt.Sprintf("invalid source: %s", e.Source)
}

// UnsupportedFormatError is returned for recognized output formats that
// have no packager.
type UnsupportedFormatError struct {
	Format models.Format
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported format: %s", e.Format)
}

// SourceUnreachableError aborts a whole batch: the provider itself is
// down or answered in a shape that makes every further chapter pointless.
type SourceUnreachableError struct {
	Source models.Source
	Op     string
	Err    error
}

func (e *SourceUnreachableError) Error() string {
	return fmt.Sprintf("%s unreachable during %s: %v", e.Source, e.Op, e.Err)
}

func (e *SourceUnreachableError) Unwrap() error { return e.Err }

// Unreachable wraps err as a SourceUnreachableError.
func Unreachable(src models.Source, op string, err error) error {
	return &SourceUnreachableError{Source: src, Op: op, Err: err}
}

// FatalIOError is a filesystem failure while writing downloaded content.
type FatalIOError struct {
	Path string
	Err  error
}

func (e *FatalIOError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *FatalIOError) Unwrap() error { return e.Err }

// IsFatal reports whether err must abort the batch instead of skipping
// the current chapter.
func IsFatal(err error) bool {
	var unreachable *SourceUnreachableError
	var fatalIO *FatalIOError
	return errors.As(err, &unreachable) || errors.As(err, &fatalIO) ||
		errors.Is(err, ErrNoChaptersMaterialized)
}

// PublicMessage renders err for job status and API responses without
// leaking filesystem paths.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	var fatalIO *FatalIOError
	if errors.As(err, &fatalIO) {
		return "storage error while saving pages"
	}
	var unreachable *SourceUnreachableError
	if errors.As(err, &unreachable) {
		return fmt.Sprintf("%s is unreachable", unreachable.Source)
	}
	return absPathRe.ReplaceAllString(err.Error(), "$1<path>")
}

var absPathRe = regexp.MustCompile(`(^|[\s"'(])/[^\s"')]+`)
