package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/harithzain/simlab/internal/common"
	"github.com/harithzain/simlab/internal/scenario"
)

// CreateSession creates or replaces a practice session.
func (h *Handler) CreateSession(c *gin.Context) {
	var req scenario.CreateSessionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	session, err := h.Svc.CreateSession(c.Request.Context(), req)
	if err != nil {
		h.failWith(c, err)
		return
	}
	common.OK(c, gin.H{"session_id": session.SessionID})
}

// GetSession returns the session with its turn and checkpoint record.
func (h *Handler) GetSession(c *gin.Context) {
	detail, err := h.Svc.GetSessionDetail(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		h.failWith(c, err)
		return
	}
	common.OK(c, detail)
}

// ListTurns returns the transcript in turn order.
func (h *Handler) ListTurns(c *gin.Context) {
	turns, err := h.Svc.ListTurns(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		h.failWith(c, err)
		return
	}
	common.OK(c, gin.H{"session_id": c.Param("session_id"), "turns": turns})
}

// SubmitTurn handles a synchronous player turn.
func (h *Handler) SubmitTurn(c *gin.Context) {
	var req scenario.TurnInput
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	result, err := h.Svc.SubmitTurn(c.Request.Context(), c.Param("session_id"), req)
	if err != nil {
		h.failWith(c, err)
		return
	}
	common.OK(c, result)
}

// SubmitTurnStream streams the npc reply over SSE, then emits exactly one
// terminal event: final on success, error otherwise.
func (h *Handler) SubmitTurnStream(c *gin.Context) {
	var req scenario.TurnInput
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		fmt.Fprintf(c.Writer, "event: error\ndata: {\"message\":\"streaming unsupported\"}\n\n")
		return
	}

	writeEvent := func(event string, payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			fmt.Fprintf(c.Writer, "event: error\ndata: {\"message\":\"json marshal failed\"}\n\n")
			flusher.Flush()
			return
		}
		fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, b)
		flusher.Flush()
	}

	ctx := c.Request.Context()
	tokens, results, errs := h.Svc.SubmitTurnStream(ctx, c.Param("session_id"), req)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case t, open := <-tokens:
			if !open {
				tokens = nil
				continue
			}
			writeEvent("token", gin.H{"delta": t})

		case <-ticker.C:
			// SSE comment keepalive, ignored by clients.
			fmt.Fprint(c.Writer, ": ping\n\n")
			flusher.Flush()

		case result := <-results:
			if result == nil {
				continue
			}
			writeEvent("final", result)
			return

		case err := <-errs:
			if err == nil {
				continue
			}
			h.Log.Warn("turn stream failed",
				zap.String("session_id", c.Param("session_id")),
				zap.Error(err))
			writeEvent("error", gin.H{"message": clientMessage(err)})
			return

		case <-ctx.Done():
			return
		}
	}
}

// SubmitTurnAsync records a turn job and enqueues it for the worker.
func (h *Handler) SubmitTurnAsync(c *gin.Context) {
	var req scenario.TurnInput
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	idempoKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(idempoKey) > 128 {
		common.Fail(c, http.StatusBadRequest, 10003, "idempotency key too long")
		return
	}

	sessionID := c.Param("session_id")
	job, created, err := h.Svc.EnqueueTurn(c.Request.Context(), sessionID, req, idempoKey)
	if err != nil {
		h.failWith(c, err)
		return
	}
	if created {
		if err := h.Rabbit.PublishTurnJob(c.Request.Context(), job.ID, sessionID); err != nil {
			h.Log.Error("failed to publish turn job",
				zap.String("job_id", job.ID),
				zap.String("session_id", sessionID),
				zap.Error(err))
			common.Fail(c, http.StatusInternalServerError, 50002, "enqueue failed")
			return
		}
	}
	common.OK(c, gin.H{"job_id": job.ID, "status": job.Status})
}

// GetJob returns job state for polling.
func (h *Handler) GetJob(c *gin.Context) {
	job, err := h.Svc.GetJobStatus(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		h.failWith(c, err)
		return
	}
	common.OK(c, gin.H{"job": job})
}

// RunAnalysis triggers the checkpoint-cadence scoring pass.
func (h *Handler) RunAnalysis(c *gin.Context) {
	var req scenario.AnalysisInput
	_ = c.ShouldBindJSON(&req) // empty body means default cadence
	result, err := h.Svc.RunAnalysis(c.Request.Context(), c.Param("session_id"), req)
	if err != nil {
		h.failWith(c, err)
		return
	}
	common.OK(c, result)
}

// GenerateFinalReport produces the closing debrief and completes the session.
func (h *Handler) GenerateFinalReport(c *gin.Context) {
	var req scenario.ReportInput
	_ = c.ShouldBindJSON(&req)
	result, err := h.Svc.GenerateFinalReport(c.Request.Context(), c.Param("session_id"), req)
	if err != nil {
		h.failWith(c, err)
		return
	}
	common.OK(c, result)
}

// SuggestReplies returns a contrasting pair of follow-up questions.
func (h *Handler) SuggestReplies(c *gin.Context) {
	result, err := h.Svc.SuggestReplies(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		h.failWith(c, err)
		return
	}
	common.OK(c, result)
}

// GenerateSnippets regenerates the annotated key moments.
func (h *Handler) GenerateSnippets(c *gin.Context) {
	snippets, err := h.Svc.GenerateSnippets(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		h.failWith(c, err)
		return
	}
	common.OK(c, gin.H{"session_id": c.Param("session_id"), "snippets": snippets})
}

// ListSnippets returns the stored key moments.
func (h *Handler) ListSnippets(c *gin.Context) {
	snippets, err := h.Svc.ListSnippets(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		h.failWith(c, err)
		return
	}
	common.OK(c, gin.H{"session_id": c.Param("session_id"), "snippets": snippets})
}
