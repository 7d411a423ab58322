package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/mikeboe/research-reporter/pkg/pipeline"
	"github.com/mikeboe/research-reporter/pkg/store"
	"github.com/mikeboe/research-reporter/pkg/stream"
)

const notFoundMessage = "Report not found."

// reportFormats are tried in order when a report is downloaded.
var reportFormats = []string{"docx", "pdf", "html", "md"}

// Artifacts locates exported report files.
type Artifacts interface {
	Find(researchID string, exts ...string) (string, bool)
}

type Handler struct {
	Service   *Service
	Streams   *stream.Manager
	Artifacts Artifacts
	Logger    *slog.Logger
}

func NewHandler(s *Service, streams *stream.Manager, artifacts Artifacts) *Handler {
	return &Handler{
		Service:   s,
		Streams:   streams,
		Artifacts: artifacts,
		Logger:    slog.Default(),
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST("/report/", h.generateReport)
	r.GET("/report/:id", h.readReport)
	r.GET("/report/:id/bundle", h.getBundle)
	r.GET("/report/:id/logs", h.getLogs)
	r.GET("/outputs/:file", h.getOutput)
	r.POST("/generate-summary", h.generateSummary)
	r.GET("/ws", h.websocket)
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) generateReport(c *gin.Context) {
	var req ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Runs submitted over HTTP have no connection of their own; their
	// progress is broadcast to every live client.
	var progress stream.Sink
	if h.Streams != nil {
		progress = h.Streams
	}

	res, err := h.Service.Generate(c.Request.Context(), req, progress)
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}

	if res.Bundle == nil {
		c.JSON(http.StatusOK, gin.H{"message": res.Message, "research_id": res.ResearchID})
		return
	}
	c.JSON(http.StatusOK, res.Bundle)
}

func (h *Handler) readReport(c *gin.Context) {
	path, ok := h.Artifacts.Find(c.Param("id"), reportFormats...)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": notFoundMessage})
		return
	}
	c.File(path)
}

func (h *Handler) getBundle(c *gin.Context) {
	record, err := h.Service.Retrieve(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"message": notFoundMessage})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *Handler) getLogs(c *gin.Context) {
	logs, err := h.Service.Logs(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"message": notFoundMessage})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if logs == nil {
		logs = []store.LogEntry{}
	}
	c.JSON(http.StatusOK, logs)
}

// getOutput serves <id>.<ext> from the export directory of that id. When that
// format was never exported the best available one is served instead, so
// published links such as summary PDF URLs stay valid.
func (h *Handler) getOutput(c *gin.Context) {
	file := c.Param("file")
	ext := filepath.Ext(file)
	id := strings.TrimSuffix(file, ext)

	if ext == "" {
		c.JSON(http.StatusNotFound, gin.H{"message": notFoundMessage})
		return
	}
	path, ok := h.Artifacts.Find(id, strings.TrimPrefix(ext, "."))
	if !ok {
		path, ok = h.Artifacts.Find(id, reportFormats...)
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": notFoundMessage})
		return
	}
	c.File(path)
}

func (h *Handler) generateSummary(c *gin.Context) {
	var req SummaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.Service.GenerateSummary(c.Request.Context(), req)
	if err != nil {
		h.Logger.Error("Summary generation failed", "name", req.Name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

// controlMessage is what clients send over the live channel.
type controlMessage struct {
	Type string `json:"type"`
	ReportRequest
}

func (h *Handler) websocket(c *gin.Context) {
	id, conn, err := h.Streams.Connect(c.Writer, c.Request)
	if err != nil {
		h.Logger.Warn("Websocket connection rejected", "error", err)
		return
	}

	// Foreground runs started on this connection stop when it goes away.
	ctx, cancel := context.WithCancel(c.Request.Context())
	var running sync.WaitGroup
	defer func() {
		cancel()
		h.Streams.Disconnect(id)
		running.Wait()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg controlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = h.Streams.Reply(id, gin.H{"type": "error", "error": "invalid message"})
			continue
		}

		switch msg.Type {
		case "ping":
			_ = h.Streams.Reply(id, gin.H{"type": "pong"})
		case "start":
			running.Add(1)
			go func(req ReportRequest) {
				defer running.Done()
				h.startFromSocket(ctx, id, req)
			}(msg.ReportRequest)
		default:
			_ = h.Streams.Reply(id, gin.H{"type": "error", "error": "unknown message type: " + msg.Type})
		}
	}
}

func (h *Handler) startFromSocket(ctx context.Context, connID string, req ReportRequest) {
	res, err := h.Service.Generate(ctx, req, h.Streams.For(connID))
	if err != nil {
		reply := gin.H{"type": "error", "error": err.Error()}
		if res != nil {
			reply["research_id"] = res.ResearchID
		}
		_ = h.Streams.Reply(connID, reply)
		return
	}

	if res.Bundle == nil {
		_ = h.Streams.Reply(connID, gin.H{"type": "accepted", "research_id": res.ResearchID, "message": res.Message})
		return
	}
	_ = h.Streams.Reply(connID, gin.H{"type": "report", "research_id": res.ResearchID, "output": res.Bundle})
}
