package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/danielcregg/powerpoint-to-video-old/pkg/domain"
)

// JobSubmitResponse represents a job submission response
type JobSubmitResponse struct {
	JobID  string           `json:"job_id"`
	Status domain.JobStatus `json:"status"`
}

// ScriptEditRequest replaces one slide's narration
type ScriptEditRequest struct {
	Script string `json:"script" binding:"required"`
}

// ScriptsEditRequest replaces the narration of several slides
type ScriptsEditRequest struct {
	Scripts map[int]string `json:"scripts" binding:"required"`
}

// ScriptVersionResponse reports the script version an edit produced
type ScriptVersionResponse struct {
	JobID   string `json:"job_id"`
	Slide   int    `json:"slide"`
	Version int    `json:"version"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// handleHealth reports dependency health
func (s *Server) handleHealth(c *gin.Context) {
	report := s.orchestrator.Health(c.Request.Context())
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

// handleSubmitJob accepts a multipart deck upload in the "file" field
func (s *Server) handleSubmitJob(c *gin.Context) {
	if s.maxUploadBytes > 0 {
		// Leave room for the multipart envelope; the validator enforces
		// the exact limit on the file itself.
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUploadBytes+1<<20)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.writeError(c, fmt.Errorf("%w: upload exceeds %d bytes", domain.ErrInput, s.maxUploadBytes))
			return
		}
		s.writeError(c, fmt.Errorf("%w: multipart field \"file\" is required", domain.ErrInvalidArgument))
		return
	}

	f, err := fh.Open()
	if err != nil {
		s.writeError(c, fmt.Errorf("%w: failed to read upload: %v", domain.ErrInput, err))
		return
	}
	defer f.Close()

	var r io.Reader = f
	if s.maxUploadBytes > 0 {
		r = io.LimitReader(f, s.maxUploadBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		s.writeError(c, fmt.Errorf("%w: failed to read upload: %v", domain.ErrInput, err))
		return
	}

	jobID, err := s.orchestrator.Submit(c.Request.Context(), filepath.Base(fh.Filename), data)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, JobSubmitResponse{
		JobID:  jobID,
		Status: domain.JobQueued,
	})
}

// handleListJobs lists job summaries, newest first
func (s *Server) handleListJobs(c *gin.Context) {
	jobs, err := s.orchestrator.ListJobs(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"total": len(jobs),
	})
}

// handleGetStatus reports job status and progress
func (s *Server) handleGetStatus(c *gin.Context) {
	report, err := s.orchestrator.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// handleGetResult streams the final video
func (s *Server) handleGetResult(c *gin.Context) {
	jobID := c.Param("id")
	rc, err := s.orchestrator.GetResult(c.Request.Context(), jobID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	defer rc.Close()

	c.DataFromReader(http.StatusOK, -1, "video/mp4", rc, map[string]string{
		"Content-Disposition": fmt.Sprintf(`attachment; filename="%s.mp4"`, jobID),
	})
}

// handleCancelJob cancels a job
func (s *Server) handleCancelJob(c *gin.Context) {
	jobID := c.Param("id")
	if err := s.orchestrator.Cancel(c.Request.Context(), jobID); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"job_id": jobID,
		"status": domain.JobCancelled,
	})
}

// handleGetScripts lists every slide's narration
func (s *Server) handleGetScripts(c *gin.Context) {
	scripts, err := s.orchestrator.Scripts(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scripts": scripts})
}

// handleEditScripts applies a batch of script edits
func (s *Server) handleEditScripts(c *gin.Context) {
	var req ScriptsEditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err))
		return
	}

	versions, err := s.orchestrator.EditScripts(c.Request.Context(), c.Param("id"), req.Scripts)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"job_id":   c.Param("id"),
		"versions": versions,
	})
}

// handleEditScript replaces one slide's narration
func (s *Server) handleEditScript(c *gin.Context) {
	slide, ok := s.slideParam(c)
	if !ok {
		return
	}
	var req ScriptEditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err))
		return
	}

	version, err := s.orchestrator.EditScript(c.Request.Context(), c.Param("id"), slide, req.Script)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, ScriptVersionResponse{
		JobID:   c.Param("id"),
		Slide:   slide,
		Version: version,
	})
}

// handleRegenerateScript re-runs narration generation for one slide
func (s *Server) handleRegenerateScript(c *gin.Context) {
	slide, ok := s.slideParam(c)
	if !ok {
		return
	}

	version, err := s.orchestrator.RegenerateScript(c.Request.Context(), c.Param("id"), slide)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, ScriptVersionResponse{
		JobID:   c.Param("id"),
		Slide:   slide,
		Version: version,
	})
}

// handleGetSlideImage streams a slide image
func (s *Server) handleGetSlideImage(c *gin.Context) {
	slide, ok := s.slideParam(c)
	if !ok {
		return
	}

	rc, err := s.orchestrator.SlideImage(c.Request.Context(), c.Param("id"), slide)
	if err != nil {
		s.writeError(c, err)
		return
	}
	defer rc.Close()

	c.DataFromReader(http.StatusOK, -1, "image/png", rc, nil)
}

// slideParam parses the :slide path parameter, writing a 400 on failure
func (s *Server) slideParam(c *gin.Context) (int, bool) {
	slide, err := strconv.Atoi(c.Param("slide"))
	if err != nil || slide < 0 {
		s.writeError(c, fmt.Errorf("%w: invalid slide index %q", domain.ErrInvalidArgument, c.Param("slide")))
		return 0, false
	}
	return slide, true
}

// writeError maps an error to its HTTP status and writes an ErrorResponse
func (s *Server) writeError(c *gin.Context, err error) {
	kind := domain.KindOf(err)
	status, code := statusFor(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
	}
	c.JSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: err.Error(),
			Details: gin.H{"kind": kind},
		},
	})
}

func statusFor(kind domain.ErrorKind) (int, string) {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound, "NOT_FOUND"
	case domain.KindStateConflict:
		return http.StatusConflict, "STATE_CONFLICT"
	case domain.KindNotReady:
		return http.StatusConflict, "NOT_READY"
	case domain.KindInput:
		return http.StatusBadRequest, "INVALID_INPUT"
	case domain.KindInvalidArgument:
		return http.StatusBadRequest, "INVALID_REQUEST"
	case domain.KindResourceExhausted:
		return http.StatusTooManyRequests, "RESOURCE_EXHAUSTED"
	case domain.KindTransient:
		return http.StatusServiceUnavailable, "UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}
