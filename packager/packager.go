// Package packager turns a materialized batch directory into a single
// downloadable archive.
package packager

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"tankobon/downloader"
	"tankobon/models"
	"tankobon/parser"
)

// BundleName is the archive every batch ends up in.
const BundleName = "Chapters.zip"

// chapter is one materialized chapter directory ready for packaging.
type chapter struct {
	Label       string
	Dir         string
	Pages       []string // absolute page paths in reading order
	Substituted []int    // indexes into Pages that are placeholders
}

type writerFunc func(ctx context.Context, ch chapter, comicTitle, dest string) error

var writers = map[models.Format]writerFunc{
	models.FormatCBZ:  writeCBZ,
	models.FormatPDF:  writePDF,
	models.FormatEPUB: writeEPUB,
}

// Supported reports whether format can be packaged.
func Supported(format models.Format) bool {
	_, ok := writers[format]
	return ok
}

// Pack writes one container per chapter of workDir in the requested format
// and bundles them into workDir/Chapters.zip, whose path is returned. The
// chapter directories are consumed. Any failure removes workDir.
func Pack(ctx context.Context, workDir string, format models.Format, comicTitle string, sink downloader.ProgressSink) (path string, err error) {
	if sink == nil {
		sink = downloader.NopSink
	}
	write, ok := writers[format]
	if !ok {
		return "", &downloader.UnsupportedFormatError{Format: format}
	}
	if strings.TrimSpace(comicTitle) == "" {
		comicTitle = "Comic"
	}

	defer func() {
		if err != nil {
			log.Printf("[Packager] ✗ %s packaging failed, removing %s: %v", format, workDir, err)
			os.RemoveAll(workDir)
		}
	}()

	sink.Update(100, fmt.Sprintf("Creating %s...", strings.ToUpper(string(format))))

	chapters, err := collectChapters(workDir)
	if err != nil {
		return "", err
	}
	if len(chapters) == 0 {
		return "", downloader.ErrNoChaptersMaterialized
	}

	outputs := make([]string, 0, len(chapters))
	for _, ch := range chapters {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		sink.Update(100, fmt.Sprintf("Processing chapter %s...", ch.Label))

		dest := filepath.Join(workDir, fmt.Sprintf("Chapter %s%s", ch.Label, format.Extension()))
		if err := write(ctx, ch, comicTitle, dest); err != nil {
			return "", fmt.Errorf("chapter %s: %w", ch.Label, err)
		}
		outputs = append(outputs, dest)

		if err := os.RemoveAll(ch.Dir); err != nil {
			log.Printf("[Packager] ⚠️ Could not remove %s: %v", ch.Dir, err)
		}
	}

	bundle := filepath.Join(workDir, BundleName)
	if err := bundleFiles(bundle, outputs); err != nil {
		return "", err
	}
	for _, out := range outputs {
		os.Remove(out)
	}

	log.Printf("[Packager] ✓ %d chapters packed as %s into %s", len(chapters), format, bundle)
	sink.Update(100, "Finished")
	return bundle, nil
}

// collectChapters lists the chapter directories of workDir ordered by
// their numeric label. Hidden entries are ignored.
func collectChapters(workDir string) ([]chapter, error) {
	entries, err := os.ReadDir(workDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch directory: %w", err)
	}

	var labels []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			labels = append(labels, e.Name())
		}
	}
	parser.SortNumeric(labels)

	chapters := make([]chapter, 0, len(labels))
	for _, label := range labels {
		dir := filepath.Join(workDir, label)
		names, err := parser.LocalPageList(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to list pages of %s: %w", label, err)
		}
		if len(names) == 0 {
			log.Printf("[Packager] Chapter %s has no pages, skipping", label)
			continue
		}

		ch := chapter{Label: label, Dir: dir}
		subs := downloader.ReadSubstituted(dir)
		for i, name := range names {
			ch.Pages = append(ch.Pages, filepath.Join(dir, name))
			if subs[name] {
				ch.Substituted = append(ch.Substituted, i)
			}
		}
		chapters = append(chapters, ch)
	}
	return chapters, nil
}

// bundleFiles stores files flat in a new zip at dest. The members are
// already compressed containers, so they are stored as-is.
func bundleFiles(dest string, files []string) error {
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("bundle: %w", err)
	}
	z := zip.NewWriter(out)

	for _, file := range files {
		if err := addFileToZip(z, file, filepath.Base(file), zip.Store); err != nil {
			z.Close()
			out.Close()
			return fmt.Errorf("bundle %s: %w", filepath.Base(file), err)
		}
	}

	if err := z.Close(); err != nil {
		out.Close()
		return fmt.Errorf("bundle: %w", err)
	}
	return out.Close()
}

func addFileToZip(z *zip.Writer, file, name string, method uint16) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = name
	header.Method = method

	w, err := z.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}
