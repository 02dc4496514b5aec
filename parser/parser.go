package parser

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	volChapterRe  = regexp.MustCompile(`Vol\.(\d+)\s+Ch\.(\d+(?:\.\d+)?)`)
	looseNumberRe = regexp.MustCompile(`\d+(?:\.\d+)?`)
	chapterWordRe = regexp.MustCompile(`[\t\r\n]|[Cc]hapter `)
	unsafeLabelRe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

// ParseVolumeChapter pulls a volume and chapter number out of a free-form
// title like "Vol.3 Ch.12.5 - The Return". It never fails: titles without a
// volume fall back to volume "1", titles without any number yield chapter "0".
func ParseVolumeChapter(title string) (volume, chapter string) {
	if m := volChapterRe.FindStringSubmatch(title); m != nil {
		return NormalizeNumber(m[1]), NormalizeNumber(m[2])
	}
	if m := looseNumberRe.FindString(title); m != "" {
		return "1", NormalizeNumber(m)
	}
	return "1", "0"
}

// NormalizeNumber turns "012" into "12" and "12.50" into "12.5". Values that
// do not parse are returned trimmed but otherwise unchanged.
func NormalizeNumber(raw string) string {
	raw = strings.TrimSpace(raw)
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return raw
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// CleanChapterText strips whitespace control characters and the
// "Chapter " prefix from listing text.
func CleanChapterText(text string) string {
	return strings.TrimSpace(chapterWordRe.ReplaceAllString(text, ""))
}

// SanitizeLabel makes a chapter label safe to use as a single directory
// name. Decimal points are kept so "12.5" stays "12.5".
func SanitizeLabel(label string) string {
	clean := unsafeLabelRe.ReplaceAllString(strings.TrimSpace(label), "_")
	clean = strings.Trim(clean, "_")
	if clean == "" || strings.Trim(clean, ".") == "" {
		return "unnamed"
	}
	return clean
}

// LessNumeric orders chapter labels by their numeric value. Labels that do
// not parse sort after all numeric labels, lexically.
func LessNumeric(a, b string) bool {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	switch {
	case errA == nil && errB == nil:
		if fa == fb {
			return a < b
		}
		return fa < fb
	case errA == nil:
		return true
	case errB == nil:
		return false
	}
	return a < b
}

// SortNumeric sorts labels in place using LessNumeric.
func SortNumeric(labels []string) {
	sort.SliceStable(labels, func(i, j int) bool {
		return LessNumeric(labels[i], labels[j])
	})
}

// LocalPageList returns the page files of a chapter directory in reading
// order. Dot-files (markers) are skipped.
func LocalPageList(dir string) ([]string, error) {
	expandedPath, err := ExpandPath(dir)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(expandedPath)
	if err != nil {
		return nil, err
	}

	pages := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		pages = append(pages, entry.Name())
	}

	sort.SliceStable(pages, func(i, j int) bool {
		return LessNumeric(stem(pages[i]), stem(pages[j]))
	})
	return pages, nil
}

func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// ExpandPath expands ~ to the user's home directory, or returns the path as-is
func ExpandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(homeDir, path[2:]), nil
	}
	return path, nil
}
