package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/gatekeep/internal/coordinator"
	"github.com/loykin/gatekeep/internal/history"
	"github.com/loykin/gatekeep/internal/metrics"
	"github.com/loykin/gatekeep/internal/reconciler"
	"github.com/loykin/gatekeep/internal/settings"
	"github.com/loykin/gatekeep/internal/supervisor"
)

// Router exposes the operational API consumed by the admin/CRUD layer.
// Expected failure modes return 200 with success=false result objects;
// only malformed requests produce 4xx.
type Router struct {
	sup      *supervisor.Supervisor
	rec      *reconciler.Reconciler
	coord    *coordinator.Coordinator
	hist     *history.Store
	settings *settings.Store
	basePath string
}

func NewRouter(sup *supervisor.Supervisor, rec *reconciler.Reconciler, coord *coordinator.Coordinator, hist *history.Store, st *settings.Store, basePath string) *Router {
	return &Router{sup: sup, rec: rec, coord: coord, hist: hist, settings: st, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.POST("/restart", r.handleRestart)
	group.GET("/logs", r.handleLogs)
	group.GET("/history/monitor", r.handleMonitorHistory)
	group.GET("/history/restarts", r.handleRestartHistory)
	group.GET("/history/webhook", r.handleWebhookHistory)
	group.GET("/mode", r.handleGetMode)
	group.PUT("/mode", r.handleSetMode)
	group.POST("/webhook/check", r.handleWebhookCheck)
	group.POST("/webhook/apply", r.handleWebhookApply)
	group.DELETE("/webhook", r.handleWebhookDelete)
	group.PUT("/webhook/autocheck", r.handleAutoCheck)
	group.PUT("/webhook/url", r.handleProductionURL)
	group.GET("/settings", r.handleSettings)
	group.GET("/healthz", r.handleHealthz)
	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr string, r *Router) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("operational API server failed", "addr", addr, "error", err)
		}
	}()
	return srv
}

type errorResp struct {
	Error string `json:"error"`
}

func (r *Router) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.sup.Status(c.Request.Context()))
}

func (r *Router) handleStart(c *gin.Context) {
	c.JSON(http.StatusOK, r.sup.Start(c.Request.Context()))
}

func (r *Router) handleStop(c *gin.Context) {
	c.JSON(http.StatusOK, r.sup.Stop(c.Request.Context()))
}

type restartReq struct {
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

func (r *Router) handleRestart(c *gin.Context) {
	var req restartReq
	// body is optional; a bare POST means a plain manual restart
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "manual restart"
	}
	res := r.sup.Restart(c.Request.Context(), supervisor.Trigger{
		Type:   history.TriggerManual,
		Actor:  req.Actor,
		Reason: req.Reason,
	})
	c.JSON(http.StatusOK, res)
}

func (r *Router) handleLogs(c *gin.Context) {
	lines := intQuery(c, "lines", 100)
	level := c.Query("level")
	c.JSON(http.StatusOK, gin.H{"lines": r.sup.Logs(lines, level)})
}

func (r *Router) handleMonitorHistory(c *gin.Context) {
	out, err := r.hist.RecentSnapshots(c.Request.Context(), intQuery(c, "limit", 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (r *Router) handleRestartHistory(c *gin.Context) {
	out, err := r.hist.RecentRestarts(c.Request.Context(), intQuery(c, "limit", 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (r *Router) handleWebhookHistory(c *gin.Context) {
	out, err := r.hist.RecentWebhookChecks(c.Request.Context(), intQuery(c, "limit", 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (r *Router) handleGetMode(c *gin.Context) {
	mode, err := r.coord.Mode(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": mode})
}

type modeReq struct {
	Mode string `json:"mode"`
}

func (r *Router) handleSetMode(c *gin.Context) {
	var req modeReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Mode == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "mode required"})
		return
	}
	c.JSON(http.StatusOK, r.coord.SetMode(c.Request.Context(), req.Mode))
}

func (r *Router) handleWebhookCheck(c *gin.Context) {
	c.JSON(http.StatusOK, r.rec.CheckNow(c.Request.Context()))
}

func (r *Router) handleWebhookApply(c *gin.Context) {
	c.JSON(http.StatusOK, r.rec.ApplyWebhook(c.Request.Context()))
}

func (r *Router) handleWebhookDelete(c *gin.Context) {
	c.JSON(http.StatusOK, r.rec.DeleteWebhook(c.Request.Context()))
}

type autoCheckReq struct {
	Enabled         *bool `json:"enabled"`
	IntervalSeconds int   `json:"interval_seconds"`
}

func (r *Router) handleAutoCheck(c *gin.Context) {
	var req autoCheckReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "enabled required"})
		return
	}
	if req.IntervalSeconds <= 0 {
		req.IntervalSeconds = int(reconciler.DefaultInterval / time.Second)
	}
	c.JSON(http.StatusOK, r.rec.Configure(c.Request.Context(), *req.Enabled, req.IntervalSeconds))
}

type urlReq struct {
	URL string `json:"url"`
}

func (r *Router) handleProductionURL(c *gin.Context) {
	var req urlReq
	if err := c.ShouldBindJSON(&req); err != nil || req.URL == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "url required"})
		return
	}
	if !strings.HasPrefix(req.URL, "https://") && !strings.HasPrefix(req.URL, "http://") {
		c.JSON(http.StatusBadRequest, errorResp{Error: "url must start with http:// or https://"})
		return
	}
	if err := r.settings.Set(c.Request.Context(), settings.KeyProductionWebhookURL, req.URL, "production webhook endpoint"); err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "failed to persist URL: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "production webhook URL set"})
}

func (r *Router) handleSettings(c *gin.Context) {
	out, err := r.settings.All(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (r *Router) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"healthy": r.sup.HealthCheck(c.Request.Context()),
	})
}

func intQuery(c *gin.Context, name string, def int) int {
	if v := c.Query(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func sanitizeBase(basePath string) string {
	bp := strings.TrimSpace(basePath)
	if bp == "" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimRight(bp, "/")
}
