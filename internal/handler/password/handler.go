package password

import (
	"github.com/gin-gonic/gin"

	"github.com/kapixcr/BioNote/internal/handler"
	"github.com/kapixcr/BioNote/internal/service/password"
	"github.com/kapixcr/BioNote/pkg/httputil"
)

// forgotMessage is returned whether or not the email belongs to an account.
const forgotMessage = "If the email is registered, a password reset link has been sent."

type Handler struct {
	svc *password.Service
}

func NewHandler(svc *password.Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	pw := r.Group("/auth/password")
	{
		pw.POST("/forgot", h.Forgot)
		pw.POST("/reset", h.Reset)
	}
}

type forgotRequest struct {
	Email string `json:"email" form:"email" binding:"required,email"`
}

type resetRequest struct {
	Email                string `json:"email" form:"email" binding:"required,email"`
	Token                string `json:"token" form:"token" binding:"required"`
	Password             string `json:"password" form:"password" binding:"required,min=8"`
	PasswordConfirmation string `json:"password_confirmation" form:"password_confirmation" binding:"required"`
}

func (h *Handler) Forgot(c *gin.Context) {
	var req forgotRequest
	if err := handler.Bind(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	h.svc.Forgot(c.Request.Context(), req.Email, c.ClientIP())
	httputil.RespondWithMessage(c, forgotMessage)
}

func (h *Handler) Reset(c *gin.Context) {
	var req resetRequest
	if err := handler.Bind(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	err := h.svc.Reset(c.Request.Context(), req.Email, req.Token, req.Password, req.PasswordConfirmation, c.ClientIP())
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithMessage(c, "Your password has been reset.")
}
