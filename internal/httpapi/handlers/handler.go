package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/harithzain/simlab/internal/apperrors"
	"github.com/harithzain/simlab/internal/common"
	"github.com/harithzain/simlab/internal/config"
	"github.com/harithzain/simlab/internal/scenario"
	"github.com/harithzain/simlab/internal/store/rabbitmq"
)

type Handler struct {
	Cfg    config.Config
	Svc    *scenario.Service
	Rabbit *rabbitmq.Publisher
	Log    *zap.Logger
}

func NewHandler(cfg config.Config, svc *scenario.Service, rabbit *rabbitmq.Publisher, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Cfg: cfg, Svc: svc, Rabbit: rabbit, Log: log}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"status": "ok"})
}

// clientMessage strips an error down to its caller-safe message. Wrapped
// causes (provider response bodies included) never cross the boundary; they
// stay in the logs.
func clientMessage(err error) string {
	var ae *apperrors.Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "internal error"
}

// failWith maps the error taxonomy onto HTTP statuses and the standard error
// envelope.
func (h *Handler) failWith(c *gin.Context, err error) {
	msg := clientMessage(err)

	switch apperrors.KindOf(err) {
	case apperrors.KindValidation:
		common.Fail(c, http.StatusBadRequest, 40001, msg)
	case apperrors.KindNotFound:
		common.Fail(c, http.StatusNotFound, 40401, msg)
	case apperrors.KindConflict:
		common.Fail(c, http.StatusConflict, 40901, msg)
	case apperrors.KindExpired:
		common.Fail(c, http.StatusGone, 41001, msg)
	case apperrors.KindUpstreamModel:
		h.Log.Error("upstream model failure", zap.String("path", c.Request.URL.Path), zap.Error(err))
		common.Fail(c, http.StatusBadGateway, 50201, msg)
	default:
		h.Log.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}
