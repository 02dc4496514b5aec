package packager

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-pdf/fpdf"
)

// maxPageSide is the largest page side PDF readers accept, in points.
// Long webtoon strips are scaled down to fit.
const maxPageSide = 14400.0

func writePDF(ctx context.Context, ch chapter, comicTitle, dest string) error {
	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           fpdf.SizeType{Wd: 595.28, Ht: 841.89},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetTitle(fmt.Sprintf("%s - Chapter %s", comicTitle, ch.Label), true)
	pdf.SetCreator("tankobon", true)

	for _, page := range ch.Pages {
		if err := ctx.Err(); err != nil {
			return err
		}

		w, h, err := pageSize(page)
		if err != nil {
			return fmt.Errorf("pdf page %s: %w", filepath.Base(page), err)
		}

		pdf.AddPageFormat("P", fpdf.SizeType{Wd: w, Ht: h})
		pdf.ImageOptions(page, 0, 0, w, h, false, fpdf.ImageOptions{
			ImageType: strings.TrimPrefix(filepath.Ext(page), "."),
		}, 0, "")
		if pdf.Err() {
			return fmt.Errorf("pdf page %s: %w", filepath.Base(page), pdf.Error())
		}
	}

	if err := pdf.OutputFileAndClose(dest); err != nil {
		os.Remove(dest)
		return fmt.Errorf("pdf: %w", err)
	}
	return nil
}

// pageSize reads the image header and maps one pixel to one point.
func pageSize(path string) (float64, float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	w, h := float64(cfg.Width), float64(cfg.Height)
	if side := max(w, h); side > maxPageSide {
		scale := maxPageSide / side
		w, h = w*scale, h*scale
	}
	return w, h, nil
}
