package server

import (
	"log"
	"net/http"
	"net/url"
	"strings"

	"tankobon/downloader"

	"github.com/gin-gonic/gin"
)

// proxyImage streams a remote cover image, sending hd as the Referer.
// Several sources refuse hotlinked covers without it.
func (h *Handler) proxyImage(c *gin.Context) {
	target := strings.TrimSpace(c.Query("url"))
	u, err := url.Parse(target)
	if target == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url must be an absolute http(s) URL"})
		return
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, u.String(), nil)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid url"})
		return
	}
	if referer := strings.TrimSpace(c.Query("hd")); referer != "" {
		req.Header.Set("Referer", referer)
	}
	req.Header.Set("User-Agent", downloader.DefaultUserAgent)
	req.Header.Set("Accept", "image/avif,image/webp,image/*,*/*;q=0.8")

	resp, err := h.Images.Do(req)
	if err != nil {
		log.Printf("[Server] ⚠️ Proxy fetch %s failed: %v", u.Host, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream unreachable"})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("[Server] ⚠️ Proxy fetch %s returned %d", u.Host, resp.StatusCode)
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream returned " + resp.Status})
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	c.DataFromReader(http.StatusOK, resp.ContentLength, contentType, resp.Body, map[string]string{
		"Cache-Control": "public, max-age=86400",
	})
}
