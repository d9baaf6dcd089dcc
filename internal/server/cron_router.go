// Package server (cron_router.go) exposes WorkerFleet status and
// RemoteControl enable/disable/kill as a small read-mostly HTTP API
// (spec.md §9 supplemented "read-only status/control HTTP surface").
// Grounded on router.go's dual-framework pattern: echo serves the
// read-only GETs, gin the control-plane POSTs, both mountable under one
// http.Server.
//
// This is not the admin UI named as a Non-goal: no templates, no forms,
// no persistence of its own — a thin veneer over the same Fleet/
// RemoteControl APIs cmd/cronman uses, off by default.
package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/labstack/echo/v4"

	"github.com/loykin/cronman/internal/fleet"
	"github.com/loykin/cronman/internal/remotectl"
)

// CronRouter wires fleet status (read-only, echo) and remote control
// mutations (gin) under one base path.
type CronRouter struct {
	Fleet    *fleet.Fleet
	Remote   *remotectl.Control
	BasePath string
}

func NewCronRouter(fl *fleet.Fleet, remote *remotectl.Control, basePath string) *CronRouter {
	return &CronRouter{Fleet: fl, Remote: remote, BasePath: sanitizeBase(basePath)}
}

// Handler mounts the read-only echo group and the control gin group under
// one mux, matching router.go's "one Handler() returning http.Handler"
// shape.
func (r *CronRouter) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(r.BasePath+"/", r.readOnlyHandler())
	mux.Handle(r.BasePath+"/control/", r.controlHandler())
	return mux
}

func (r *CronRouter) readOnlyHandler() http.Handler {
	e := echo.New()
	e.HideBanner = true
	g := e.Group(r.BasePath)
	g.GET("/status", r.handleStatus)
	g.GET("/status/:jobSpec", r.handleStatusOne)
	return e
}

func (r *CronRouter) handleStatus(c echo.Context) error {
	sel := fleet.Selector{}
	if pid := c.QueryParam("pid"); pid != "" {
		if n, err := strconv.Atoi(pid); err == nil {
			sel.PID = n
		}
	}
	items, totals, warnings := r.Fleet.Status(sel)
	return c.JSON(http.StatusOK, statusResponse(items, totals, warnings))
}

func (r *CronRouter) handleStatusOne(c echo.Context) error {
	jobSpec := c.Param("jobSpec")
	if class := jobClassOf(jobSpec); !isSafeName(class) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid job class in job spec"})
	}
	sel := fleet.Selector{JobSpec: jobSpec}
	items, totals, warnings := r.Fleet.Status(sel)
	return c.JSON(http.StatusOK, statusResponse(items, totals, warnings))
}

// jobClassOf returns the NAME portion of a NAME[:PARAMS] job spec string.
func jobClassOf(jobSpec string) string {
	if i := strings.IndexByte(jobSpec, ':'); i >= 0 {
		return jobSpec[:i]
	}
	return jobSpec
}

func statusResponse(items []fleet.PIDItem, totals fleet.Totals, warnings []error) map[string]any {
	rows := make([]map[string]any, 0, len(items))
	for _, it := range items {
		rows = append(rows, map[string]any{"name": it.Name, "status": it.Status, "pid": it.PID})
	}
	warnStrs := make([]string, 0, len(warnings))
	for _, w := range warnings {
		warnStrs = append(warnStrs, w.Error())
	}
	return map[string]any{"items": rows, "totals": totals, "warnings": warnStrs}
}

func (r *CronRouter) controlHandler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.BasePath + "/control")
	group.POST("/kill", r.handleKill)
	group.POST("/clean", r.handleClean)
	group.POST("/resume", r.handleResume)
	group.POST("/remote/enable", r.handleRemoteEnable)
	group.POST("/remote/disable", r.handleRemoteDisable)
	group.POST("/remote/kill", r.handleRemoteKill)
	return g
}

func (r *CronRouter) handleKill(c *gin.Context) {
	sel := fleet.Selector{JobSpec: c.Query("job_spec")}
	items, totals, warnings := r.Fleet.Kill(sel)
	writeJSON(c, http.StatusOK, statusResponse(items, totals, warnings))
}

func (r *CronRouter) handleClean(c *gin.Context) {
	sel := fleet.Selector{JobSpec: c.Query("job_spec")}
	items, totals, warnings := r.Fleet.Clean(sel)
	writeJSON(c, http.StatusOK, statusResponse(items, totals, warnings))
}

func (r *CronRouter) handleResume(c *gin.Context) {
	sel := fleet.Selector{JobSpec: c.Query("job_spec")}
	items, totals, warnings := r.Fleet.Resume(sel)
	rows := make([]map[string]any, 0, len(items))
	for _, it := range items {
		rows = append(rows, map[string]any{"name": it.Name, "status": it.Status, "job_spec": it.JobSpec})
	}
	warnStrs := make([]string, 0, len(warnings))
	for _, w := range warnings {
		warnStrs = append(warnStrs, w.Error())
	}
	writeJSON(c, http.StatusOK, gin.H{"items": rows, "totals": totals, "warnings": warnStrs})
}

func (r *CronRouter) handleRemoteEnable(c *gin.Context) {
	r.Remote.Enable(c.Request.Context(), c.Query("host"))
	c.Status(http.StatusAccepted)
}

func (r *CronRouter) handleRemoteDisable(c *gin.Context) {
	r.Remote.Disable(c.Request.Context(), c.Query("host"))
	c.Status(http.StatusAccepted)
}

func (r *CronRouter) handleRemoteKill(c *gin.Context) {
	jobSpec := c.Query("job_spec")
	if jobSpec == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_spec is required"})
		return
	}
	r.Remote.RequestKill(c.Request.Context(), c.Query("host"), jobSpec)
	c.Status(http.StatusAccepted)
}

// NewCronServer starts a standalone HTTP server on addr using r's Handler.
func NewCronServer(addr, basePath string, fl *fleet.Fleet, remote *remotectl.Control) *http.Server {
	r := NewCronRouter(fl, remote, basePath)
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
	}
}
