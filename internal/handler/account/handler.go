package account

import (
	"github.com/gin-gonic/gin"

	"github.com/kapixcr/BioNote/internal/handler"
	"github.com/kapixcr/BioNote/internal/middleware"
	"github.com/kapixcr/BioNote/internal/model"
	accountService "github.com/kapixcr/BioNote/internal/service/account"
	"github.com/kapixcr/BioNote/internal/service/pairing"
	"github.com/kapixcr/BioNote/pkg/httputil"
)

type Handler struct {
	service *accountService.Service
}

func NewHandler(service *accountService.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes expects r to already require the admin scope.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	users := r.Group("/users")
	{
		users.POST("", h.CreateAccount)
		users.GET("", h.ListAccounts)
		users.GET("/:id", h.GetAccount)
		users.PUT("/:id", h.UpdateAccount)
		users.DELETE("/:id", h.DeleteAccount)
	}
}

type createAccountRequest struct {
	Name     string `json:"name" form:"name" binding:"required,max=255"`
	Email    string `json:"email" form:"email" binding:"required,email,max=255"`
	Password string `json:"password" form:"password" binding:"required,min=8"`
	Role     string `json:"role" form:"role" binding:"omitempty,oneof=admin user"`
}

type updateAccountRequest struct {
	Name     *string `json:"name" form:"name" binding:"omitempty,min=1,max=255"`
	Email    *string `json:"email" form:"email" binding:"omitempty,email,max=255"`
	Password *string `json:"password" form:"password" binding:"omitempty,min=8"`
	Role     *string `json:"role" form:"role" binding:"omitempty,oneof=admin user"`
}

type listQuery struct {
	Search  string `form:"search"`
	Page    int    `form:"page" binding:"omitempty,min=1"`
	PerPage int    `form:"per_page" binding:"omitempty,min=1,max=100"`
}

func (h *Handler) CreateAccount(c *gin.Context) {
	var req createAccountRequest
	if err := handler.Bind(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	acc, err := h.service.Create(c.Request.Context(), accountService.CreateInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithCreated(c, "User created successfully", acc)
}

func (h *Handler) ListAccounts(c *gin.Context) {
	var q listQuery
	if err := handler.BindQuery(c, &q); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	page, pg, err := h.service.List(c.Request.Context(), model.AccountFilter{
		Search:     q.Search,
		Pagination: model.Pagination{Page: q.Page, PerPage: q.PerPage},
	})
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithPagination(c, page.Items, pg.Page, pg.PerPage, page.Total)
}

func (h *Handler) GetAccount(c *gin.Context) {
	id, err := handler.ParseID(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	acc, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, acc)
}

func (h *Handler) UpdateAccount(c *gin.Context) {
	id, err := handler.ParseID(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	var req updateAccountRequest
	if err := handler.Bind(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	acc, err := h.service.Update(c.Request.Context(), id, pairing.AccountUpdate{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, acc)
}

func (h *Handler) DeleteAccount(c *gin.Context) {
	id, err := handler.ParseID(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	if err := h.service.Delete(c.Request.Context(), middleware.GetPrincipal(c), id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithMessage(c, "User deleted successfully")
}
