package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/loykin/gatewarden/internal/monitor"
	"github.com/loykin/gatewarden/internal/watchdog"
)

// sanitizeBase turns a configured mount prefix into "" or "/seg[/seg...]".
func sanitizeBase(bp string) string {
	bp = strings.Trim(strings.TrimSpace(bp), "/")
	if bp == "" {
		return ""
	}
	return "/" + bp
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

func writeError(c *gin.Context, err error) {
	writeJSON(c, killStatus(err), errorResp{Error: err.Error()})
}

// killStatus maps a KillZombie error to its HTTP status.
func killStatus(err error) int {
	switch {
	case errors.Is(err, watchdog.ErrNotZombie),
		errors.Is(err, watchdog.ErrProcessChanged),
		errors.Is(err, monitor.ErrWatchdogDisabled):
		return http.StatusConflict
	case errors.Is(err, watchdog.ErrProcessNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
