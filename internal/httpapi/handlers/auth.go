package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/harithzain/simlab/internal/common"
	"github.com/harithzain/simlab/internal/httpapi/middleware"
)

// GuestLogin issues an anonymous bearer token. There are no accounts; the
// token only identifies a device for the session APIs.
func (h *Handler) GuestLogin(c *gin.Context) {
	token, subject, err := middleware.IssueGuestToken(h.Cfg.JWTSecret, 24*time.Hour)
	if err != nil {
		h.Log.Error("failed to issue guest token", zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	common.OK(c, gin.H{
		"token":   token,
		"subject": subject,
	})
}
