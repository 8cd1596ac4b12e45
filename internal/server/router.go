package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/gatewarden/internal/monitor"
)

// Source is what the router reports on and acts upon.
type Source interface {
	Status() monitor.Status
	KillZombie(ctx context.Context) error
}

// Router provides embeddable HTTP handlers for the monitor.
// Endpoints:
//
//	GET  {basePath}/status         lifecycle, watchdog and log cursor
//	GET  {basePath}/healthz        liveness
//	POST {basePath}/watchdog/kill  terminate the flagged zombie process
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	src      Source
	basePath string
	token    string
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/status, /api/healthz, ...
func NewRouter(src Source, basePath string) *Router {
	return &Router{src: src, basePath: sanitizeBase(basePath)}
}

// WithToken requires "Authorization: Bearer <token>" on the kill endpoint.
// An empty token leaves it open.
func (r *Router) WithToken(token string) *Router {
	r.token = token
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/healthz", r.handleHealth)
	group.POST("/watchdog/kill", bearerAuth(r.token), r.handleKill)
	return g
}

// NewServer builds an HTTP server on addr using this router. The caller
// starts it with ListenAndServe and stops it with Shutdown.
func NewServer(addr, basePath string, src Source) *http.Server {
	return NewRouter(src, basePath).Server(addr)
}

// Server wraps the router's handler in an http.Server with sane timeouts.
func (r *Router) Server(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type healthResp struct {
	OK    bool   `json:"ok"`
	State string `json:"state"`
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.src.Status())
}

func (r *Router) handleHealth(c *gin.Context) {
	st := r.src.Status()
	writeJSON(c, http.StatusOK, healthResp{OK: true, State: st.Lifecycle.State.String()})
}

func (r *Router) handleKill(c *gin.Context) {
	if err := r.src.KillZombie(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
