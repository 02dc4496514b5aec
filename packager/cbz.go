package packager

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ComicInfo is the subset of the ComicRack schema readers actually use.
type ComicInfo struct {
	XMLName     xml.Name        `xml:"ComicInfo"`
	XSI         string          `xml:"xmlns:xsi,attr"`
	XSD         string          `xml:"xmlns:xsd,attr"`
	Title       string          `xml:"Title"`
	Series      string          `xml:"Series"`
	Number      string          `xml:"Number"`
	Notes       string          `xml:"Notes,omitempty"`
	PageCount   int             `xml:"PageCount"`
	LanguageISO string          `xml:"LanguageISO"`
	Format      string          `xml:"Format"`
	BlackWhite  string          `xml:"BlackAndWhite"`
	Manga       string          `xml:"Manga"`
	AgeRating   string          `xml:"AgeRating"`
	Pages       []ComicInfoPage `xml:"Pages>Page"`
}

// ComicInfoPage describes one page entry.
type ComicInfoPage struct {
	Image int    `xml:"Image,attr"`
	Type  string `xml:"Type,attr,omitempty"`
}

func newComicInfo(ch chapter, comicTitle string) ComicInfo {
	info := ComicInfo{
		XSI:         "http://www.w3.org/2001/XMLSchema-instance",
		XSD:         "http://www.w3.org/2001/XMLSchema",
		Title:       "Chapter " + ch.Label,
		Series:      comicTitle,
		Number:      ch.Label,
		PageCount:   len(ch.Pages),
		LanguageISO: "en",
		Format:      "Web Comic",
		BlackWhite:  "No",
		Manga:       "No",
		AgeRating:   "Unknown",
	}
	if len(ch.Substituted) > 0 {
		subs := make([]string, 0, len(ch.Substituted))
		for _, i := range ch.Substituted {
			subs = append(subs, cbzPageName(i, ch.Pages[i]))
		}
		info.Notes = "Substituted pages: " + strings.Join(subs, ", ")
	}

	for i := range ch.Pages {
		page := ComicInfoPage{Image: i, Type: "Story"}
		switch {
		case i == 0:
			page.Type = "FrontCover"
		case i == len(ch.Pages)-1:
			page.Type = "BackCover"
		}
		info.Pages = append(info.Pages, page)
	}
	return info
}

// cbzPageName numbers pages by position so gaps left by dropped pages
// disappear inside the archive.
func cbzPageName(i int, page string) string {
	return fmt.Sprintf("%03d%s", i, filepath.Ext(page))
}

func writeCBZ(ctx context.Context, ch chapter, comicTitle, dest string) error {
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("cbz: %w", err)
	}
	z := zip.NewWriter(out)

	if err := fillCBZ(ctx, z, ch, comicTitle); err != nil {
		z.Close()
		out.Close()
		os.Remove(dest)
		return err
	}
	if err := z.Close(); err != nil {
		out.Close()
		return fmt.Errorf("cbz: %w", err)
	}
	return out.Close()
}

func fillCBZ(ctx context.Context, z *zip.Writer, ch chapter, comicTitle string) error {
	for i, page := range ch.Pages {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := addFileToZip(z, page, cbzPageName(i, page), zip.Deflate); err != nil {
			return fmt.Errorf("cbz page %s: %w", filepath.Base(page), err)
		}
	}

	data, err := xml.MarshalIndent(newComicInfo(ch, comicTitle), "", "  ")
	if err != nil {
		return fmt.Errorf("ComicInfo.xml: %w", err)
	}
	w, err := z.Create("ComicInfo.xml")
	if err != nil {
		return err
	}
	if _, err := w.Write(append([]byte(xml.Header), data...)); err != nil {
		return err
	}
	return nil
}
