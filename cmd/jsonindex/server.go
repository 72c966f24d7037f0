package main

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/jsonindex"
	"github.com/hupe1980/jsonindex/event"
	"github.com/hupe1980/jsonindex/mapping"
	"github.com/hupe1980/jsonindex/snapshot"
	"github.com/hupe1980/jsonindex/source"
)

const maxDocumentBytes = 8 << 20

// handlers serves the HTTP API. Writes are appended to the change log and
// applied by the manager; reads go to the index directly.
type handlers struct {
	idx      *jsonindex.Index
	src      *source.Memory
	mapper   mapping.Mapper
	areas    map[string]struct{}
	gatherer prometheus.Gatherer
}

func newRouter(h *handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	areas := router.Group("/areas/:area")
	areas.Use(h.requireArea)
	areas.PUT("/documents/:id", h.putDocument)
	areas.GET("/documents/:id", h.getDocument)
	areas.DELETE("/documents/:id", h.deleteDocument)

	router.GET("/search", h.search)
	router.GET("/status", h.status)
	router.GET("/snapshots", h.listSnapshots)
	router.POST("/snapshots", h.takeSnapshot)

	if h.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
	return router
}

func (h *handlers) requireArea(c *gin.Context) {
	if _, ok := h.areas[c.Param("area")]; !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown area"})
		return
	}
	c.Next()
}

func (h *handlers) putDocument(c *gin.Context) {
	area, id := c.Param("area"), c.Param("id")

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxDocumentBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(body) > maxDocumentBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "document too large"})
		return
	}

	doc, err := h.mapper.Map(area, body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if doc.Key != mapping.Key(area, id) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "document id does not match the path"})
		return
	}

	kind := event.Updated
	if _, err := h.idx.Get(c.Request.Context(), area, id); errors.Is(err, jsonindex.ErrNotFound) {
		kind = event.Created
	}

	gen, err := h.src.Append(area, kind, id, body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"area": area, "id": id, "kind": kind.String(), "generation": gen})
}

func (h *handlers) getDocument(c *gin.Context) {
	src, err := h.idx.Get(c.Request.Context(), c.Param("area"), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", src)
}

func (h *handlers) deleteDocument(c *gin.Context) {
	area, id := c.Param("area"), c.Param("id")
	gen, err := h.src.Append(area, event.Deleted, id, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"area": area, "id": id, "kind": event.Deleted.String(), "generation": gen})
}

func (h *handlers) search(c *gin.Context) {
	limit := 10
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	hits, err := h.idx.Search(c.Request.Context(), c.Query("q"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hits": hits, "count": len(hits)})
}

func (h *handlers) status(c *gin.Context) {
	st, err := h.idx.Status(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *handlers) listSnapshots(c *gin.Context) {
	m := h.idx.Snapshots()
	if m == nil {
		writeError(c, jsonindex.ErrSnapshotsDisabled)
		return
	}
	gens, err := m.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]gin.H, 0, len(gens))
	for _, g := range gens {
		out = append(out, gin.H{"generation": g, "name": snapshot.FileName(g)})
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": out})
}

func (h *handlers) takeSnapshot(c *gin.Context) {
	info, err := h.idx.TakeSnapshot(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, info)
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, jsonindex.ErrNotFound), errors.Is(err, jsonindex.ErrUnknownArea):
		status = http.StatusNotFound
	case errors.Is(err, jsonindex.ErrInvalidDocument):
		status = http.StatusBadRequest
	case errors.Is(err, snapshot.ErrBusy), jsonindex.IsRetryable(err):
		status = http.StatusConflict
	case errors.Is(err, jsonindex.ErrSnapshotsDisabled):
		status = http.StatusNotImplemented
	case errors.Is(err, jsonindex.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
