package auth

import (
	"github.com/gin-gonic/gin"

	"github.com/kapixcr/BioNote/internal/handler"
	"github.com/kapixcr/BioNote/internal/middleware"
	"github.com/kapixcr/BioNote/internal/service/auth"
	"github.com/kapixcr/BioNote/pkg/httputil"
)

type Handler struct {
	svc *auth.Service
}

func NewHandler(svc *auth.Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	auth := r.Group("/auth")
	{
		auth.POST("/login", h.Login)
		auth.POST("/admin/login", h.AdminLogin)
	}
}

// RegisterRoutes mounts the routes open to any authenticated principal.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	auth := r.Group("/auth")
	{
		auth.POST("/logout", h.Logout)
		auth.GET("/me", h.Me)
		auth.POST("/refresh", h.RefreshToken)
	}
}

// RegisterAdminRoutes expects r to already require the admin scope.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	admin := r.Group("/auth/admin")
	{
		admin.POST("/logout", h.Logout)
		admin.GET("/me", h.Me)
		admin.POST("/refresh", h.RefreshToken)
	}
}

type loginRequest struct {
	Usuario  string `json:"usuario" form:"usuario" binding:"required"`
	Password string `json:"password" form:"password" binding:"required"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := handler.Bind(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	result, err := h.svc.LoginClinic(c.Request.Context(), req.Usuario, req.Password, c.ClientIP())
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, result)
}

func (h *Handler) AdminLogin(c *gin.Context) {
	var req loginRequest
	if err := handler.Bind(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	result, err := h.svc.LoginAdmin(c.Request.Context(), req.Usuario, req.Password, c.ClientIP())
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, result)
}

func (h *Handler) Logout(c *gin.Context) {
	if err := h.svc.Logout(c.Request.Context(), middleware.GetPrincipal(c)); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithMessage(c, "Logged out successfully")
}

func (h *Handler) Me(c *gin.Context) {
	httputil.RespondWithSuccess(c, h.svc.Me(middleware.GetPrincipal(c)))
}

func (h *Handler) RefreshToken(c *gin.Context) {
	result, err := h.svc.Refresh(c.Request.Context(), middleware.GetPrincipal(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, result)
}
