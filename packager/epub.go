package packager

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
)

const epubContainer = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>
`

var epubFuncs = template.FuncMap{
	"xml": func(s string) string {
		var b strings.Builder
		xml.EscapeText(&b, []byte(s))
		return b.String()
	},
}

var epubTemplates = template.Must(template.New("opf").Funcs(epubFuncs).Parse(`<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="book-id" prefix="rendition: http://www.idpf.org/vocab/rendition/#">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:identifier id="book-id">urn:uuid:{{.ID}}</dc:identifier>
    <dc:title>{{xml .Title}}</dc:title>
    <dc:language>en</dc:language>
    <meta property="dcterms:modified">{{.Modified}}</meta>
    <meta property="rendition:layout">pre-paginated</meta>
    <meta property="rendition:spread">none</meta>
  </metadata>
  <manifest>
    <item id="nav" href="nav.xhtml" media-type="application/xhtml+xml" properties="nav"/>
{{- range .Pages}}
    <item id="img{{.Index}}" href="images/{{.Image}}" media-type="{{.MediaType}}"{{if eq .Index 0}} properties="cover-image"{{end}}/>
    <item id="page{{.Index}}" href="pages/{{.Doc}}" media-type="application/xhtml+xml"/>
{{- end}}
  </manifest>
  <spine>
{{- range .Pages}}
    <itemref idref="page{{.Index}}"/>
{{- end}}
  </spine>
</package>
`))

func init() {
	template.Must(epubTemplates.New("nav").Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">
<head><title>{{xml .Title}}</title></head>
<body>
  <nav epub:type="toc"><ol><li><a href="pages/{{(index .Pages 0).Doc}}">{{xml .Title}}</a></li></ol></nav>
</body>
</html>
`))
	template.Must(epubTemplates.New("page").Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml">
<head><title>{{.Index}}</title><meta name="viewport" content="width={{.Width}}, height={{.Height}}"/>
<style>html,body{margin:0;padding:0}img{display:block;width:100%;height:auto}</style></head>
<body><img src="../images/{{.Image}}" alt=""/></body>
</html>
`))
}

type epubPage struct {
	Index     int
	Image     string
	Doc       string
	MediaType string
	Width     int
	Height    int
}

type epubBook struct {
	ID       string
	Title    string
	Modified string
	Pages    []epubPage
}

// writeEPUB builds a fixed-layout EPUB 3 with one XHTML document per page.
func writeEPUB(ctx context.Context, ch chapter, comicTitle, dest string) error {
	book := epubBook{
		ID:       uuid.NewString(),
		Title:    fmt.Sprintf("%s - Chapter %s", comicTitle, ch.Label),
		Modified: time.Now().UTC().Format("2006-01-02T15:04:05Z"),
	}
	for i, page := range ch.Pages {
		w, h, err := pageSize(page)
		if err != nil {
			return fmt.Errorf("epub page %s: %w", filepath.Base(page), err)
		}
		ext := strings.ToLower(filepath.Ext(page))
		book.Pages = append(book.Pages, epubPage{
			Index:     i,
			Image:     fmt.Sprintf("%03d%s", i, ext),
			Doc:       fmt.Sprintf("%03d.xhtml", i),
			MediaType: mediaType(ext),
			Width:     int(w),
			Height:    int(h),
		})
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("epub: %w", err)
	}
	z := zip.NewWriter(out)

	if err := fillEPUB(ctx, z, ch, book); err != nil {
		z.Close()
		out.Close()
		os.Remove(dest)
		return err
	}
	if err := z.Close(); err != nil {
		out.Close()
		return fmt.Errorf("epub: %w", err)
	}
	return out.Close()
}

func fillEPUB(ctx context.Context, z *zip.Writer, ch chapter, book epubBook) error {
	// the mimetype entry must come first and stay uncompressed
	w, err := z.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, "application/epub+zip"); err != nil {
		return err
	}

	if err := writeZipEntry(z, "META-INF/container.xml", func(w io.Writer) error {
		_, err := io.WriteString(w, epubContainer)
		return err
	}); err != nil {
		return err
	}
	if err := writeZipEntry(z, "OEBPS/content.opf", func(w io.Writer) error {
		return epubTemplates.ExecuteTemplate(w, "opf", book)
	}); err != nil {
		return err
	}
	if err := writeZipEntry(z, "OEBPS/nav.xhtml", func(w io.Writer) error {
		return epubTemplates.ExecuteTemplate(w, "nav", book)
	}); err != nil {
		return err
	}

	for i, page := range book.Pages {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := addFileToZip(z, ch.Pages[i], "OEBPS/images/"+page.Image, zip.Store); err != nil {
			return fmt.Errorf("epub image %s: %w", page.Image, err)
		}
		if err := writeZipEntry(z, "OEBPS/pages/"+page.Doc, func(w io.Writer) error {
			return epubTemplates.ExecuteTemplate(w, "page", page)
		}); err != nil {
			return err
		}
	}
	return nil
}

func writeZipEntry(z *zip.Writer, name string, fill func(io.Writer) error) error {
	w, err := z.Create(name)
	if err != nil {
		return err
	}
	if err := fill(w); err != nil {
		return fmt.Errorf("epub %s: %w", name, err)
	}
	return nil
}

func mediaType(ext string) string {
	switch ext {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	}
	return "image/jpeg"
}
