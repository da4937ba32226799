package testrecord

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kapixcr/BioNote/internal/handler"
	"github.com/kapixcr/BioNote/internal/middleware"
	"github.com/kapixcr/BioNote/internal/model"
	"github.com/kapixcr/BioNote/internal/service/testrecord"
	"github.com/kapixcr/BioNote/pkg/errors"
	"github.com/kapixcr/BioNote/pkg/httputil"
)

type Handler struct {
	svc *testrecord.Service
}

func NewHandler(svc *testrecord.Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	pruebas := r.Group("/pruebas")
	{
		pruebas.GET("", h.List)
		pruebas.POST("", h.Create)
		pruebas.GET("/my-pruebas", h.ListMine)
		pruebas.GET("/:id", h.Get)
		pruebas.PUT("/:id", h.Update)
		pruebas.POST("/:id/update", h.Update)
		pruebas.DELETE("/:id", h.Delete)
	}
}

// recordRequest serves both create and update. Required fields on create
// are enforced by the service. The JSON payload fields arrive as text in
// multipart bodies and are read separately.
type recordRequest struct {
	UserID        *string           `json:"user_id" form:"user_id" binding:"omitempty,uuid"`
	Fecha         *string           `json:"fecha" form:"fecha" binding:"omitempty,datetime=2006-01-02"`
	Especie       *string           `json:"especie" form:"especie" binding:"omitempty,max=100"`
	NombreMascota *string           `json:"nombre_mascota" form:"nombre_mascota" binding:"omitempty,max=100"`
	Sexo          *string           `json:"sexo" form:"sexo" binding:"omitempty,max=50"`
	Raza          *string           `json:"raza" form:"raza" binding:"omitempty,max=100"`
	Edad          *int              `json:"edad" form:"edad" binding:"omitempty,min=0"`
	NombrePrueba  *string           `json:"nombre_prueba" form:"nombre_prueba" binding:"omitempty,max=150"`
	ResultPrueba  model.JSONPayload `json:"result_prueba" form:"-"`
	Titulacion    model.JSONPayload `json:"titulacion" form:"-"`
}

type listQuery struct {
	Especie       string `form:"especie"`
	NombreMascota string `form:"nombre_mascota"`
	NombrePrueba  string `form:"nombre_prueba"`
	FechaDesde    string `form:"fecha_desde" binding:"omitempty,datetime=2006-01-02"`
	FechaHasta    string `form:"fecha_hasta" binding:"omitempty,datetime=2006-01-02"`
	UserID        string `form:"user_id" binding:"omitempty,uuid"`
	Page          int    `form:"page" binding:"omitempty,min=1"`
	PerPage       int    `form:"per_page" binding:"omitempty,min=1,max=100"`
}

type mineResponse struct {
	httputil.PaginatedResponse
	UserID   uuid.UUID `json:"user_id"`
	UserType string    `json:"user_type"`
}

func (h *Handler) List(c *gin.Context) {
	var q listQuery
	if err := handler.BindQuery(c, &q); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	filter := model.TestRecordFilter{
		Especie:       q.Especie,
		NombreMascota: q.NombreMascota,
		NombrePrueba:  q.NombrePrueba,
		Desde:         parseDay(q.FechaDesde),
		Hasta:         parseDay(q.FechaHasta),
		Pagination:    model.Pagination{Page: q.Page, PerPage: q.PerPage},
	}
	if q.UserID != "" {
		id := uuid.MustParse(q.UserID)
		filter.UserID = &id
	}

	page, pg, err := h.svc.List(c.Request.Context(), middleware.GetPrincipal(c), filter)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithPagination(c, page.Items, pg.Page, pg.PerPage, page.Total)
}

func (h *Handler) ListMine(c *gin.Context) {
	result, err := h.svc.ListMine(c.Request.Context(), middleware.GetPrincipal(c), handler.Paging(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, mineResponse{
		PaginatedResponse: httputil.NewPaginated(result.Page.Items, result.Pagination.Page, result.Pagination.PerPage, result.Page.Total),
		UserID:            result.UserID,
		UserType:          result.UserType,
	})
}

func (h *Handler) Get(c *gin.Context) {
	id, err := handler.ParseID(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	record, err := h.svc.Get(c.Request.Context(), middleware.GetPrincipal(c), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, record)
}

func (h *Handler) Create(c *gin.Context) {
	in, err := bindInput(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	record, err := h.svc.Create(c.Request.Context(), middleware.GetPrincipal(c), in)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithCreated(c, "Test record created successfully", record)
}

func (h *Handler) Update(c *gin.Context) {
	id, err := handler.ParseID(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	in, err := bindInput(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	record, err := h.svc.Update(c.Request.Context(), middleware.GetPrincipal(c), id, in)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, record)
}

func (h *Handler) Delete(c *gin.Context) {
	id, err := handler.ParseID(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	if err := h.svc.Delete(c.Request.Context(), middleware.GetPrincipal(c), id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithMessage(c, "Test record deleted successfully")
}

func bindInput(c *gin.Context) (testrecord.Input, error) {
	var req recordRequest
	if err := handler.Bind(c, &req); err != nil {
		return testrecord.Input{}, err
	}

	in := testrecord.Input{
		Especie:       handler.Trimmed(req.Especie),
		NombreMascota: handler.Trimmed(req.NombreMascota),
		Sexo:          handler.Trimmed(req.Sexo),
		Raza:          handler.Trimmed(req.Raza),
		Edad:          req.Edad,
		NombrePrueba:  handler.Trimmed(req.NombrePrueba),
		ResultPrueba:  req.ResultPrueba,
		Titulacion:    req.Titulacion,
	}
	if req.UserID != nil {
		id := uuid.MustParse(*req.UserID)
		in.UserID = &id
	}
	if req.Fecha != nil {
		d, err := model.ParseDate(*req.Fecha)
		if err != nil {
			return in, errors.Field("fecha", "The fecha is not a valid date (2006-01-02).")
		}
		in.Fecha = &d
	}

	form, err := handler.MultipartForm(c)
	if err != nil {
		return in, err
	}
	if form != nil {
		fields := map[string][]string{}
		if in.ResultPrueba, err = formPayload(c, "result_prueba"); err != nil {
			fields["result_prueba"] = []string{"The result_prueba must be a JSON object or array."}
		}
		if in.Titulacion, err = formPayload(c, "titulacion"); err != nil {
			fields["titulacion"] = []string{"The titulacion must be a JSON object or array."}
		}
		if len(fields) > 0 {
			return in, errors.Validation(fields)
		}
		in.Form = form
	}
	return in, nil
}

// formPayload reads a JSON payload sent as text, or as bracketed form keys
// such as titulacion[ifi]=1:64.
func formPayload(c *gin.Context, field string) (model.JSONPayload, error) {
	if raw, ok := c.GetPostForm(field); ok {
		return model.ParseJSONPayload(raw)
	}
	if m, ok := c.GetPostFormMap(field); ok && len(m) > 0 {
		b, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		return model.JSONPayload(b), nil
	}
	if list, ok := c.GetPostFormArray(field + "[]"); ok && len(list) > 0 {
		b, err := json.Marshal(list)
		if err != nil {
			return nil, err
		}
		return model.JSONPayload(b), nil
	}
	return nil, nil
}

// parseDay parses a validated yyyy-mm-dd query value.
func parseDay(s string) *time.Time {
	if s == "" {
		return nil
	}
	d, err := model.ParseDate(s)
	if err != nil {
		return nil
	}
	return &d.Time
}
