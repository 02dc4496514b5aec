package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Source identifies one of the upstream comic providers.
// The numeric values are part of the public API and must stay stable.
type Source int

const (
	SourceMangaDex    Source = 0
	SourceManhuaus    Source = 1
	SourceYakshascans Source = 2
	SourceAsura       Source = 3
	SourceKunmanga    Source = 4
	SourceToonily     Source = 5
	SourceToongod     Source = 6
	SourceMangahere   Source = 7
	SourceMangapill   Source = 8
	SourceBato        Source = 9
	SourceWeebcentral Source = 10
)

var sourceNames = map[Source]string{
	SourceMangaDex:    "mangadex",
	SourceManhuaus:    "manhuaus",
	SourceYakshascans: "yakshascans",
	SourceAsura:       "asura",
	SourceKunmanga:    "kunmanga",
	SourceToonily:     "toonily",
	SourceToongod:     "toongod",
	SourceMangahere:   "mangahere",
	SourceMangapill:   "mangapill",
	SourceBato:        "bato",
	SourceWeebcentral: "weebcentral",
}

func (s Source) String() string {
	if name, ok := sourceNames[s]; ok {
		return name
	}
	return fmt.Sprintf("source(%d)", int(s))
}

// Valid reports whether s is a recognized selector. A recognized selector
// may still have no adapter registered.
func (s Source) Valid() bool {
	_, ok := sourceNames[s]
	return ok
}

// ParseSource accepts either the numeric selector ("9") or the lowercase
// name ("bato").
func ParseSource(raw string) (Source, bool) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if n, err := strconv.Atoi(raw); err == nil {
		s := Source(n)
		return s, s.Valid()
	}
	for s, name := range sourceNames {
		if name == raw {
			return s, true
		}
	}
	return 0, false
}

// ComicSummary is a single search hit. Title is keyed by language code,
// sources without localized titles use "en".
type ComicSummary struct {
	ID        string            `json:"id"`
	Title     map[string]string `json:"title"`
	Languages []string          `json:"languages"`
	CoverURL  string            `json:"cover_url"`
}

// ChapterEntry is one chapter inside a volume listing.
type ChapterEntry struct {
	SequenceKey string `json:"sequence"` // position inside the volume, as a string
	ID          string `json:"id"`       // source-native chapter key
	Chapter     string `json:"chapter"`  // human-facing chapter number, may be decimal
}

// VolumeListing groups chapters under a volume label such as "Vol 1".
type VolumeListing struct {
	Volume   string         `json:"volume"`
	Chapters []ChapterEntry `json:"chapters"`
}

// DefaultVolume is used when a source reports no volume information.
const DefaultVolume = "Vol 1"

// AssetReference points at one page image.
type AssetReference struct {
	URL          string `json:"url"`
	Referer      string `json:"referer,omitempty"`
	CookieDomain string `json:"cookie_domain,omitempty"` // session cookies for this domain are attached when set
}

// ChapterIdentifier is the composite "<key>_<number>" handle passed
// between listing and download. The key may itself contain underscores,
// the number may not.
type ChapterIdentifier string

// NewChapterIdentifier joins a source-native key and a chapter number.
func NewChapterIdentifier(key, number string) ChapterIdentifier {
	return ChapterIdentifier(key + "_" + number)
}

// Split separates the identifier on its last underscore.
func (c ChapterIdentifier) Split() (key, number string, err error) {
	s := string(c)
	idx := strings.LastIndex(s, "_")
	if idx <= 0 || idx == len(s)-1 {
		return "", "", fmt.Errorf("malformed chapter identifier %q", s)
	}
	return s[:idx], s[idx+1:], nil
}

// Format is an output container requested by the caller.
type Format string

const (
	FormatCBZ  Format = "cbz"
	FormatCBR  Format = "cbr"
	FormatPDF  Format = "pdf"
	FormatEPUB Format = "epub"
)

// ParseFormat lowercases and validates a format string. Recognized but
// unimplemented formats (cbr) still parse.
func ParseFormat(raw string) (Format, bool) {
	f := Format(strings.ToLower(strings.TrimSpace(raw)))
	switch f {
	case FormatCBZ, FormatCBR, FormatPDF, FormatEPUB:
		return f, true
	}
	return "", false
}

// Extension returns the file extension for the format, including the dot.
func (f Format) Extension() string {
	return "." + string(f)
}

// JobRequest describes one batch download submitted to the job queue.
type JobRequest struct {
	ChapterIDs []ChapterIdentifier `json:"chapterIds"`
	Source     Source              `json:"source"`
	ComicTitle string              `json:"comicTitle"`
	Format     Format              `json:"format"`
}
