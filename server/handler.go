package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"tankobon/config"
	"tankobon/downloader"
	"tankobon/models"
	"tankobon/parser"

	"github.com/gin-gonic/gin"
)

// Handler serves search, chapter listing and the batch job API.
type Handler struct {
	Queue    *config.JobQueue
	Registry *downloader.Registry
	Images   *http.Client
}

func NewHandler(queue *config.JobQueue, registry *downloader.Registry, images *http.Client) *Handler {
	if images == nil {
		images = http.DefaultClient
	}
	return &Handler{Queue: queue, Registry: registry, Images: images}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/sources", h.sources)        // GET /sources
	rg.GET("/search", h.search)          // GET /search?title=&source=
	rg.GET("/chapters", h.chapters)      // GET /chapters?id=&source=
	rg.POST("/download", h.submit)       // POST /download
	rg.GET("/status/:id", h.status)      // GET /status/:id
	rg.GET("/file/:id", h.file)          // GET /file/:id
	rg.DELETE("/tasks/:id", h.revoke)    // DELETE /tasks/:id
	rg.GET("/proxy-image", h.proxyImage) // GET /proxy-image?url=&hd=
}

func (h *Handler) sources(c *gin.Context) {
	out := make([]gin.H, 0)
	for _, src := range h.Registry.Sources() {
		out = append(out, gin.H{"id": int(src), "name": src.String()})
	}
	c.JSON(http.StatusOK, out)
}

// adapter resolves the "source" query parameter.
func (h *Handler) adapter(c *gin.Context) (downloader.SourceAdapter, bool) {
	raw := c.Query("source")
	src, ok := models.ParseSource(raw)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid source: %q", raw)})
		return nil, false
	}
	adapter, err := h.Registry.Adapter(src)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	return adapter, true
}

func (h *Handler) search(c *gin.Context) {
	title := strings.TrimSpace(c.Query("title"))
	if title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title required"})
		return
	}
	adapter, ok := h.adapter(c)
	if !ok {
		return
	}

	comics, err := adapter.Search(c.Request.Context(), title)
	if err != nil {
		log.Printf("[Server] ✗ Search %q on %s failed: %v", title, adapter.Source(), err)
		c.JSON(http.StatusBadGateway, gin.H{"error": downloader.PublicMessage(err)})
		return
	}
	if comics == nil {
		comics = []models.ComicSummary{}
	}
	c.JSON(http.StatusOK, comics)
}

func (h *Handler) chapters(c *gin.Context) {
	id := strings.TrimSpace(c.Query("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id required"})
		return
	}
	adapter, ok := h.adapter(c)
	if !ok {
		return
	}

	volumes, err := adapter.ListChapters(c.Request.Context(), id)
	if err != nil {
		log.Printf("[Server] ✗ Chapter list of %s on %s failed: %v", id, adapter.Source(), err)
		c.JSON(http.StatusBadGateway, gin.H{"error": downloader.PublicMessage(err)})
		return
	}
	if volumes == nil {
		volumes = []models.VolumeListing{}
	}
	c.JSON(http.StatusOK, volumes)
}

// sourceParam accepts the selector as a JSON number (9) or string ("9",
// "bato").
type sourceParam struct {
	raw string
}

func (p *sourceParam) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		p.raw = s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("source must be a number or a name")
	}
	p.raw = n.String()
	return nil
}

type downloadReq struct {
	ChapterIDs []string    `json:"chapterIds"`
	Source     sourceParam `json:"source"`
	ComicTitle string      `json:"comicTitle"`
	Format     string      `json:"format"`
}

func (h *Handler) submit(c *gin.Context) {
	var req downloadReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	src, ok := models.ParseSource(req.Source.raw)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid source: %q", req.Source.raw)})
		return
	}

	var format models.Format
	if strings.TrimSpace(req.Format) != "" {
		if format, ok = models.ParseFormat(req.Format); !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported format: %q", req.Format)})
			return
		}
	}

	ids := make([]models.ChapterIdentifier, 0, len(req.ChapterIDs))
	for _, id := range req.ChapterIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, models.ChapterIdentifier(id))
		}
	}

	id, err := h.Queue.Submit(models.JobRequest{
		ChapterIDs: ids,
		Source:     src,
		ComicTitle: strings.TrimSpace(req.ComicTitle),
		Format:     format,
	})
	if err != nil {
		c.JSON(submitErrorCode(err), gin.H{"error": downloader.PublicMessage(err)})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": id})
}

func submitErrorCode(err error) int {
	if errors.Is(err, config.ErrQueueFull) {
		return http.StatusServiceUnavailable
	}
	return http.StatusBadRequest
}

// statusView replaces the archive path of a finished job with the URL it
// is served from.
type statusView struct {
	config.JobStatus
	DownloadURL string `json:"download_url,omitempty"`
}

func (h *Handler) status(c *gin.Context) {
	st, ok := h.Queue.Status(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	view := statusView{JobStatus: st}
	if st.ZipPath != "" {
		view.ZipPath = ""
		view.DownloadURL = "/file/" + st.ID
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) file(c *gin.Context) {
	st, ok := h.Queue.Status(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	if st.State != config.StateSuccess {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("task is %s", st.State)})
		return
	}
	if _, err := os.Stat(st.ZipPath); err != nil {
		c.JSON(http.StatusGone, gin.H{"error": "archive no longer available"})
		return
	}

	c.FileAttachment(st.ZipPath, downloadName(st.ComicTitle))
	log.Printf("[Server] ✓ Served task %s", st.ID)
	h.Queue.ScheduleCleanup(st.ZipPath)
}

func downloadName(title string) string {
	if strings.TrimSpace(title) == "" {
		return "Chapters.zip"
	}
	return parser.SanitizeLabel(title) + ".zip"
}

func (h *Handler) revoke(c *gin.Context) {
	id := c.Param("id")
	err := h.Queue.Revoke(id)
	switch {
	case errors.Is(err, config.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
	case err != nil:
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"task_id": id, "revoked": true})
	}
}
