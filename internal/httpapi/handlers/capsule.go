package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/harithzain/simlab/internal/common"
	"github.com/harithzain/simlab/internal/scenario"
)

// CreateCapsule builds the shareable summary for a completed session.
func (h *Handler) CreateCapsule(c *gin.Context) {
	var req scenario.CapsuleInput
	_ = c.ShouldBindJSON(&req)
	result, err := h.Svc.CreateCapsule(c.Request.Context(), c.Param("session_id"), req)
	if err != nil {
		h.failWith(c, err)
		return
	}
	common.OK(c, result)
}

// GetCapsule returns the owner view of the capsule.
func (h *Handler) GetCapsule(c *gin.Context) {
	result, err := h.Svc.GetCapsule(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		h.failWith(c, err)
		return
	}
	common.OK(c, result)
}

// ViewCapsule resolves a public share link, without the standard envelope:
// the share page consumes the document directly.
func (h *Handler) ViewCapsule(c *gin.Context) {
	capsule, err := h.Svc.ViewCapsule(c.Request.Context(), c.Param("share_token"))
	if err != nil {
		h.failWith(c, err)
		return
	}
	c.JSON(http.StatusOK, capsule)
}
