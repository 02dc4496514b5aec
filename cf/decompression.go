package cf

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"io"
	"log"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/gocolly/colly"
)

// DecompressResponse decodes a compressed colly body in place. API clients
// call it at the top of OnResponse; prefix tags the log line.
func DecompressResponse(r *colly.Response, prefix string) (bool, error) {
	if r == nil || len(r.Body) == 0 {
		return false, nil
	}

	var encoding string
	if r.Headers != nil {
		encoding = r.Headers.Get("Content-Encoding")
	}
	decoded, changed, err := DecompressResponseBody(r.Body, encoding)
	if err != nil || !changed {
		return false, err
	}

	if prefix == "" {
		prefix = "[CF]"
	}
	log.Printf("%s ✓ Decoded %s body: %d → %d bytes", prefix, encodingName(encoding, r.Body), len(r.Body), len(decoded))
	r.Body = decoded
	return true, nil
}

// DecompressResponseBody returns body decoded according to its magic bytes
// or contentEncoding. Servers behind challenge proxies mislabel bodies
// often enough that the header alone is not trusted: gzip is sniffed, and a
// body that will not decode as Brotli is handed back unchanged.
func DecompressResponseBody(body []byte, contentEncoding string) ([]byte, bool, error) {
	if len(body) == 0 {
		return body, false, nil
	}

	switch encodingName(contentEncoding, body) {
	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, false, err
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, false, err
		}
		return out, true, nil

	case "br":
		out, err := io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
		if err != nil {
			return body, false, nil
		}
		return out, true, nil

	case "deflate":
		fr := flate.NewReader(bytes.NewReader(body))
		defer fr.Close()
		out, err := io.ReadAll(fr)
		if err != nil {
			return body, false, nil
		}
		return out, true, nil
	}
	return body, false, nil
}

func encodingName(header string, body []byte) string {
	switch {
	case len(body) >= 2 && body[0] == 0x1f && body[1] == 0x8b:
		return "gzip"
	case strings.EqualFold(header, "br"), len(body) > 0 && body[0] >= 0x80 && body[0] <= 0x8f:
		return "br"
	case strings.EqualFold(header, "deflate"):
		return "deflate"
	}
	return "identity"
}
