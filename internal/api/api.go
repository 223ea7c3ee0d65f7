package api

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agriassist-prices/internal/export"
	"agriassist-prices/internal/models"
	"agriassist-prices/internal/query"
	"agriassist-prices/internal/services/refresh"
	"agriassist-prices/internal/storage"
)

// Deps are the components served over HTTP.
type Deps struct {
	Engine        *query.Engine
	Partitions    *storage.PartitionStore
	Meta          *storage.MetaStore
	Popular       *storage.PopularStore
	Reconciler    *refresh.Reconciler
	Hub           *Hub
	PopularMaxAge time.Duration
}

type APIHandler struct {
	engine        *query.Engine
	parts         *storage.PartitionStore
	meta          *storage.MetaStore
	popular       *storage.PopularStore
	reconciler    *refresh.Reconciler
	popularMaxAge time.Duration
}

// NewRouter builds the gin engine with middleware, health, metrics, the
// refresh websocket and the price API under /api/v1.
func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), corsMiddleware(), metricsMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if deps.Hub != nil {
		r.GET("/ws/refresh", deps.Hub.ServeWS)
	}

	SetupRoutes(r.Group("/api/v1"), deps)
	return r
}

func SetupRoutes(r *gin.RouterGroup, deps Deps) *APIHandler {
	handler := &APIHandler{
		engine:        deps.Engine,
		parts:         deps.Partitions,
		meta:          deps.Meta,
		popular:       deps.Popular,
		reconciler:    deps.Reconciler,
		popularMaxAge: deps.PopularMaxAge,
	}

	prices := r.Group("/prices")
	{
		prices.GET("", handler.GetPrices)
		prices.GET("/filters", handler.GetFilterOptions)
		prices.GET("/export", handler.ExportPrices)

		prices.GET("/meta", handler.GetMeta)
		prices.GET("/dates", handler.GetDates)
		prices.GET("/states", handler.GetStates)
		prices.GET("/popular", handler.GetPopular)
		prices.GET("/usage", handler.GetUsage)

		prices.POST("/refresh", handler.TriggerRefresh)
		prices.GET("/refresh/status", handler.RefreshStatus)
	}

	return handler
}

// fail maps an error to a JSON error response.
func (h *APIHandler) fail(c *gin.Context, err error) {
	var ve *query.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error(), "field": ve.Field})
	case errors.Is(err, refresh.ErrRefreshInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		slog.Error("request failed", "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h *APIHandler) GetPrices(c *gin.Context) {
	params, err := query.ParseParams(c.Request.URL.Query())
	if err != nil {
		h.fail(c, err)
		return
	}
	res, err := h.engine.Query(c.Request.Context(), params)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *APIHandler) GetFilterOptions(c *gin.Context) {
	opts, err := h.engine.FilterOptions(c.Request.Context(), query.FilterContextFromValues(c.Request.URL.Query()))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, opts)
}

func (h *APIHandler) ExportPrices(c *gin.Context) {
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		h.fail(c, &query.ValidationError{Field: "format", Message: err.Error()})
		return
	}
	params, err := query.ParseParams(c.Request.URL.Query())
	if err != nil {
		h.fail(c, err)
		return
	}
	records, err := h.engine.Resolve(c.Request.Context(), params, query.ExportCap)
	if err != nil {
		h.fail(c, err)
		return
	}

	var buf bytes.Buffer
	if err := export.Render(&buf, format, records); err != nil {
		h.fail(c, err)
		return
	}

	date := strings.TrimSpace(params.Date)
	if date == "" {
		date = h.engine.Today()
	}
	c.Header("Content-Disposition", `attachment; filename="`+export.Filename(date, format)+`"`)
	c.Data(http.StatusOK, export.ContentType(format), buf.Bytes())
}

func (h *APIHandler) GetMeta(c *gin.Context) {
	idx, err := h.meta.Read()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, idx)
}

func (h *APIHandler) GetDates(c *gin.Context) {
	dates, err := h.parts.ListDates()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dates": dates})
}

func (h *APIHandler) GetStates(c *gin.Context) {
	date := c.DefaultQuery("date", h.engine.Today())
	if _, err := time.Parse(models.DateLayout, date); err != nil {
		h.fail(c, &query.ValidationError{Field: "date", Message: "expected YYYY-MM-DD"})
		return
	}
	states, err := h.parts.ListStates(date)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": date, "states": states})
}

func (h *APIHandler) GetPopular(c *gin.Context) {
	state := strings.TrimSpace(c.Query("state"))
	if state == "" || storage.Slug(state) == "" {
		h.fail(c, &query.ValidationError{Field: "state", Message: "required"})
		return
	}
	pc, err := h.popular.Get(state, h.popularMaxAge)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pc)
}

func (h *APIHandler) GetUsage(c *gin.Context) {
	u, err := h.parts.Usage()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// TriggerRefresh runs the reconciler synchronously. Degraded runs are a 200
// with degraded=true; the stored data is still being served.
func (h *APIHandler) TriggerRefresh(c *gin.Context) {
	opts := refresh.RunOptions{}
	if v := c.Query("force"); v != "" {
		force, err := strconv.ParseBool(v)
		if err != nil {
			h.fail(c, &query.ValidationError{Field: "force", Message: "expected a boolean"})
			return
		}
		opts.Force = force
	}
	if v := c.Query("date"); v != "" {
		d, err := time.Parse(models.DateLayout, v)
		if err != nil {
			h.fail(c, &query.ValidationError{Field: "date", Message: "expected YYYY-MM-DD"})
			return
		}
		opts.Date = d
	}

	// a client disconnect should not abort a run that is already writing
	res, err := h.reconciler.Run(context.WithoutCancel(c.Request.Context()), opts)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"degraded": res.Degraded(), "result": res})
}

func (h *APIHandler) RefreshStatus(c *gin.Context) {
	idx, err := h.meta.Read()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"refresh_status": idx.RefreshStatus,
		"refresh_error":  idx.RefreshError,
		"fetch":          idx.Fetch,
		"running":        h.reconciler.Running(),
		"due":            h.reconciler.Policy().Due(idx.Fetch.LastSuccessAt, time.Now()),
		"last_updated":   idx.LastUpdated,
	})
}
