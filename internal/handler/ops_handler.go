package handler

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sfu-fas/coursys-sub000/internal/models"
	"github.com/sfu-fas/coursys-sub000/internal/service"
	appErrors "github.com/sfu-fas/coursys-sub000/pkg/errors"
	"github.com/sfu-fas/coursys-sub000/pkg/response"
	"github.com/sfu-fas/coursys-sub000/pkg/storage"
)

type lastReporter interface {
	LastReport() (*models.RunReport, bool)
}

type runTrigger interface {
	Trigger(opts service.RunOptions) error
}

type reportFiles interface {
	Latest() (*os.File, storage.Entry, error)
}

// OpsHandler serves the operational surface of `gradsync serve`.
type OpsHandler struct {
	runs    lastReporter
	trigger runTrigger
	files   reportFiles
	metrics *service.MetricsService
	logger  *zap.Logger
}

// NewOpsHandler constructs an OpsHandler. trigger and files may be nil.
func NewOpsHandler(runs lastReporter, trigger runTrigger, files reportFiles, metrics *service.MetricsService, logger *zap.Logger) *OpsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpsHandler{runs: runs, trigger: trigger, files: files, metrics: metrics, logger: logger}
}

// Register mounts the routes.
func (h *OpsHandler) Register(r gin.IRoutes) {
	r.GET("/health", h.Health)
	r.GET("/metrics", h.Prometheus)
	r.GET("/runs/last", h.LastRun)
	r.GET("/runs/last/report", h.LastRunReport)
	r.POST("/runs", h.TriggerRun)
}

// Health responds with a generic OK payload for readiness/liveness usage.
func (h *OpsHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Prometheus serves the Prometheus metrics endpoint.
func (h *OpsHandler) Prometheus(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// LastRun returns the report of the most recent run.
func (h *OpsHandler) LastRun(c *gin.Context) {
	report, ok := h.runs.LastReport()
	if !ok {
		response.Error(c, http.StatusNotFound, appErrors.Clone(appErrors.ErrNotFound, "no run has finished yet"))
		return
	}
	response.JSON(c, http.StatusOK, report)
}

// LastRunReport streams the newest stored report file.
func (h *OpsHandler) LastRunReport(c *gin.Context) {
	if h.files == nil {
		response.Error(c, http.StatusNotFound, appErrors.Clone(appErrors.ErrNotFound, "report storage disabled"))
		return
	}
	f, entry, err := h.files.Latest()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			response.Error(c, http.StatusNotFound, appErrors.Clone(appErrors.ErrNotFound, "no stored report"))
			return
		}
		h.logger.Error("open latest report", zap.Error(err))
		response.Error(c, http.StatusInternalServerError, err)
		return
	}
	defer f.Close() //nolint:errcheck

	contentType := "text/csv"
	if filepath.Ext(entry.Name) == ".pdf" {
		contentType = "application/pdf"
	}
	c.Header("Content-Disposition", "attachment; filename="+strconv.Quote(filepath.Base(entry.Name)))
	c.DataFromReader(http.StatusOK, entry.Size, contentType, io.Reader(f), nil)
}

// TriggerRun starts an import in the background.
func (h *OpsHandler) TriggerRun(c *gin.Context) {
	if h.trigger == nil {
		response.Error(c, http.StatusNotFound, appErrors.Clone(appErrors.ErrNotFound, "manual runs disabled"))
		return
	}
	dryRun, _ := strconv.ParseBool(c.DefaultQuery("dry_run", "false"))
	verbosity, err := strconv.Atoi(c.DefaultQuery("verbosity", "1"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, appErrors.Clone(appErrors.ErrValidation, "verbosity must be a number"))
		return
	}
	opts := service.RunOptions{DryRun: dryRun, Verbosity: verbosity, EmplIDs: c.QueryArray("emplid")}
	if err := h.trigger.Trigger(opts); err != nil {
		if errors.Is(err, service.ErrRunInProgress) {
			response.Error(c, http.StatusConflict, appErrors.Clone(appErrors.ErrRunInProgress, ""))
			return
		}
		response.Error(c, http.StatusInternalServerError, err)
		return
	}
	response.JSON(c, http.StatusAccepted, gin.H{"dry_run": dryRun})
}
