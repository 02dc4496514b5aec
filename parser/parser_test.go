package parser

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVolumeChapter(t *testing.T) {
	cases := []struct {
		title   string
		volume  string
		chapter string
	}{
		{"Vol.3 Ch.12.5 - The Return", "3", "12.5"},
		{"Vol.01 Ch.007", "1", "7"},
		{"Ch.42", "1", "42"},
		{"Chapter 8.5", "1", "8.5"},
		{"Vol.2 Special", "1", "2"},
		{"Special", "1", "0"},
		{"", "1", "0"},
	}
	for _, tc := range cases {
		t.Run(tc.title, func(t *testing.T) {
			vol, ch := ParseVolumeChapter(tc.title)
			assert.Equal(t, tc.volume, vol)
			assert.Equal(t, tc.chapter, ch)
		})
	}
}

func TestCleanChapterText(t *testing.T) {
	assert.Equal(t, "12", CleanChapterText("\n\tChapter 12\r\n"))
	assert.Equal(t, "3.5", CleanChapterText("chapter 3.5"))
}

func TestSanitizeLabel(t *testing.T) {
	assert.Equal(t, "12.5", SanitizeLabel("12.5"))
	assert.Equal(t, "Chapter_5_part_1", SanitizeLabel("Chapter 5: part/1"))
	assert.Equal(t, "unnamed", SanitizeLabel(".."))
	assert.Equal(t, "unnamed", SanitizeLabel("   "))
	assert.NotContains(t, SanitizeLabel("../../etc"), "/")
}

func TestSortNumeric(t *testing.T) {
	labels := []string{"10", "2", "1.5", "extra", "1", "100"}
	SortNumeric(labels)
	assert.Equal(t, []string{"1", "1.5", "2", "10", "100", "extra"}, labels)
}

func TestLocalPageListSkipsMarkers(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"010.jpg", "002.jpg", "001.jpg", ".substituted"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	pages, err := LocalPageList(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"001.jpg", "002.jpg", "010.jpg"}, pages)
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 10, B: 10, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestNormalizeImageConvertsToJPEG(t *testing.T) {
	out, format, err := NormalizeImage(encodePNG(t, 100, 150), "png", 72, 90)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	got, err := detectImageFormat(out)
	require.NoError(t, err)
	assert.Equal(t, CanonicalFormat, got)
}

func TestNormalizeImageRejectsSmall(t *testing.T) {
	_, _, err := NormalizeImage(encodePNG(t, 71, 400), "", 72, 90)
	var small *TooSmallError
	require.ErrorAs(t, err, &small)
	assert.Equal(t, 71, small.Width)

	_, _, err = NormalizeImage(encodePNG(t, 72, 72), "", 72, 90)
	assert.NoError(t, err)
}

func TestNormalizeImageRejectsGarbage(t *testing.T) {
	_, _, err := NormalizeImage([]byte("<html>not an image</html>"), "", 72, 90)
	assert.Error(t, err)
}

func TestPlaceholderIsCanonical(t *testing.T) {
	data, err := Placeholder(90)
	require.NoError(t, err)
	format, err := detectImageFormat(data)
	require.NoError(t, err)
	assert.Equal(t, CanonicalFormat, format)
}

func TestFormatFromExtension(t *testing.T) {
	assert.Equal(t, "jpeg", FormatFromExtension(".JPG"))
	assert.Equal(t, "webp", FormatFromExtension("webp"))
	assert.Equal(t, "", FormatFromExtension(".php"))
}
