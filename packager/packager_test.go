package packager

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tankobon/downloader"
	"tankobon/models"
	"tankobon/parser"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePage(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.RGBA{R: 200, A: 255})
	}
	data, err := parser.EncodeJPEG(img, 80)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

// newBatch lays out chapters "10", "1" and "2.5" with two pages each; the
// second page of chapter 1 is marked as substituted.
func newBatch(t *testing.T) string {
	t.Helper()
	workDir := filepath.Join(t.TempDir(), "batch")
	for _, label := range []string{"10", "1", "2.5"} {
		dir := filepath.Join(workDir, label)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		writePage(t, filepath.Join(dir, "000.jpg"), 80, 120)
		writePage(t, filepath.Join(dir, "001.jpg"), 80, 120)
	}
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "1", downloader.SubstitutedMarker), []byte("001.jpg\n"), 0o644))
	return workDir
}

type recorder struct{ statuses []string }

func (r *recorder) Update(percent int, status string) {
	r.statuses = append(r.statuses, status)
}

func zipEntries(t *testing.T, path string) []*zip.File {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r.File
}

func readEntry(t *testing.T, f *zip.File) []byte {
	t.Helper()
	rc, err := f.Open()
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func names(files []*zip.File) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.Name)
	}
	return out
}

func TestPackCBZ(t *testing.T) {
	workDir := newBatch(t)
	rec := &recorder{}

	out, err := Pack(context.Background(), workDir, models.FormatCBZ, "Solo & Leveling", rec)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(workDir, BundleName), out)

	bundle := zipEntries(t, out)
	assert.Equal(t, []string{"Chapter 1.cbz", "Chapter 2.5.cbz", "Chapter 10.cbz"}, names(bundle))

	left, err := os.ReadDir(workDir)
	require.NoError(t, err)
	require.Len(t, left, 1, "only the bundle survives")

	assert.Equal(t, "Creating CBZ...", rec.statuses[0])
	assert.Equal(t, "Finished", rec.statuses[len(rec.statuses)-1])

	inner, err := zip.NewReader(bytes.NewReader(readEntry(t, bundle[0])), int64(bundle[0].UncompressedSize64))
	require.NoError(t, err)
	assert.Equal(t, []string{"000.jpg", "001.jpg", "ComicInfo.xml"}, names(inner.File))

	var info ComicInfo
	require.NoError(t, xml.Unmarshal(readEntry(t, inner.File[2]), &info))
	assert.Equal(t, "Chapter 1", info.Title)
	assert.Equal(t, "Solo & Leveling", info.Series)
	assert.Equal(t, 2, info.PageCount)
	assert.Contains(t, info.Notes, "001.jpg")
	require.Len(t, info.Pages, 2)
	assert.Equal(t, "FrontCover", info.Pages[0].Type)
	assert.Equal(t, "BackCover", info.Pages[1].Type)
}

func TestPackCBZNotesFollowRenumberedPages(t *testing.T) {
	workDir := filepath.Join(t.TempDir(), "batch")
	dir := filepath.Join(workDir, "4")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	// 001 was dropped as undersized; 003 is a placeholder.
	for _, name := range []string{"000.jpg", "002.jpg", "003.jpg"} {
		writePage(t, filepath.Join(dir, name), 80, 120)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, downloader.SubstitutedMarker), []byte("003.jpg\n"), 0o644))

	out, err := Pack(context.Background(), workDir, models.FormatCBZ, "Comic", nil)
	require.NoError(t, err)

	bundle := zipEntries(t, out)
	require.Len(t, bundle, 1)
	inner, err := zip.NewReader(bytes.NewReader(readEntry(t, bundle[0])), int64(bundle[0].UncompressedSize64))
	require.NoError(t, err)
	assert.Equal(t, []string{"000.jpg", "001.jpg", "002.jpg", "ComicInfo.xml"}, names(inner.File))

	var info ComicInfo
	require.NoError(t, xml.Unmarshal(readEntry(t, inner.File[3]), &info))
	assert.Equal(t, "Substituted pages: 002.jpg", info.Notes)
	assert.Equal(t, 3, info.PageCount)
}

func TestPackPDF(t *testing.T) {
	workDir := newBatch(t)

	out, err := Pack(context.Background(), workDir, models.FormatPDF, "Comic", nil)
	require.NoError(t, err)

	bundle := zipEntries(t, out)
	require.Len(t, bundle, 3)
	assert.Equal(t, "Chapter 1.pdf", bundle[0].Name)
	assert.True(t, bytes.HasPrefix(readEntry(t, bundle[0]), []byte("%PDF")))
}

func TestPackEPUB(t *testing.T) {
	workDir := newBatch(t)

	out, err := Pack(context.Background(), workDir, models.FormatEPUB, "Solo & Leveling", nil)
	require.NoError(t, err)

	bundle := zipEntries(t, out)
	require.Len(t, bundle, 3)
	data := readEntry(t, bundle[0])
	book, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	require.NotEmpty(t, book.File)
	assert.Equal(t, "mimetype", book.File[0].Name)
	assert.Equal(t, zip.Store, book.File[0].Method)

	var opf []byte
	for _, f := range book.File {
		if f.Name == "OEBPS/content.opf" {
			opf = readEntry(t, f)
		}
	}
	require.NotNil(t, opf)
	assert.Contains(t, string(opf), "<dc:title>Solo &amp; Leveling - Chapter 1</dc:title>")
	assert.Equal(t, 2, strings.Count(string(opf), "<itemref "))
}

func TestPackRejectsUnsupportedFormat(t *testing.T) {
	workDir := newBatch(t)

	_, err := Pack(context.Background(), workDir, models.FormatCBR, "Comic", nil)
	var unsupported *downloader.UnsupportedFormatError
	require.ErrorAs(t, err, &unsupported)
	assert.DirExists(t, workDir)
}

func TestPackRemovesWorkDirOnFailure(t *testing.T) {
	t.Run("no chapters", func(t *testing.T) {
		workDir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(workDir, ".hidden"), nil, 0o644))

		_, err := Pack(context.Background(), workDir, models.FormatCBZ, "Comic", nil)
		require.ErrorIs(t, err, downloader.ErrNoChaptersMaterialized)
		assert.NoDirExists(t, workDir)
	})

	t.Run("cancelled", func(t *testing.T) {
		workDir := newBatch(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := Pack(ctx, workDir, models.FormatCBZ, "Comic", nil)
		require.ErrorIs(t, err, context.Canceled)
		assert.NoDirExists(t, workDir)
	})

	t.Run("unreadable page", func(t *testing.T) {
		workDir := newBatch(t)
		require.NoError(t, os.WriteFile(filepath.Join(workDir, "2.5", "002.jpg"), []byte("not an image"), 0o644))

		_, err := Pack(context.Background(), workDir, models.FormatPDF, "Comic", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "chapter 2.5")
		assert.NoDirExists(t, workDir)
	})
}

func TestSupported(t *testing.T) {
	assert.True(t, Supported(models.FormatCBZ))
	assert.True(t, Supported(models.FormatPDF))
	assert.True(t, Supported(models.FormatEPUB))
	assert.False(t, Supported(models.FormatCBR))
}
