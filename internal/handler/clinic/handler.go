package clinic

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/kapixcr/BioNote/internal/handler"
	"github.com/kapixcr/BioNote/internal/middleware"
	"github.com/kapixcr/BioNote/internal/model"
	clinicService "github.com/kapixcr/BioNote/internal/service/clinic"
	"github.com/kapixcr/BioNote/internal/service/pairing"
	"github.com/kapixcr/BioNote/pkg/httputil"
)

type Handler struct {
	service *clinicService.Service
}

func NewHandler(service *clinicService.Service) *Handler {
	return &Handler{service: service}
}

// RegisterPublicRoutes mounts the routes available without a token.
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	clinics := r.Group("/veterinarias")
	{
		clinics.GET("/paises", h.Countries)
		clinics.POST("/registro", h.Register)
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	clinics := r.Group("/veterinarias")
	{
		clinics.GET("", h.ListClinics)
		clinics.GET("/:id", h.GetClinic)
		clinics.PUT("/:id", h.UpdateClinic)
		// Multipart clients cannot send PUT bodies reliably.
		clinics.POST("/:id/update", h.UpdateClinic)
		clinics.DELETE("/:id", h.DeleteClinic)
	}
}

type registerRequest struct {
	Veterinaria                string       `json:"veterinaria" form:"veterinaria" binding:"required,max=255"`
	Responsable                string       `json:"responsable" form:"responsable" binding:"required,max=255"`
	Direccion                  string       `json:"direccion" form:"direccion" binding:"required"`
	Telefono                   string       `json:"telefono" form:"telefono" binding:"required,max=20,telefono"`
	Email                      string       `json:"email" form:"email" binding:"required,email,max=255"`
	RegistroOficialVeterinario string       `json:"registro_oficial_veterinario" form:"registro_oficial_veterinario" binding:"required,max=255"`
	Ciudad                     string       `json:"ciudad" form:"ciudad" binding:"required,max=255"`
	ProvinciaDepartamento      string       `json:"provincia_departamento" form:"provincia_departamento" binding:"required,max=255"`
	Pais                       string       `json:"pais" form:"pais" binding:"required,pais"`
	Logo                       string       `json:"logo" form:"-"`
	Usuario                    string       `json:"usuario" form:"usuario" binding:"required,max=255"`
	Password                   string       `json:"password" form:"password" binding:"required,min=8"`
	RepetirPassword            string       `json:"repetir_password" form:"repetir_password" binding:"required,eqfield=Password"`
	AceptaTerminos             handler.Flag `json:"acepta_terminos" form:"acepta_terminos" binding:"accepted"`
	AceptaTratamientoDatos     handler.Flag `json:"acepta_tratamiento_datos" form:"acepta_tratamiento_datos" binding:"accepted"`
}

func (r registerRequest) clinic() model.Clinic {
	return model.Clinic{
		Veterinaria:                r.Veterinaria,
		Responsable:                r.Responsable,
		Direccion:                  r.Direccion,
		Telefono:                   r.Telefono,
		Email:                      r.Email,
		RegistroOficialVeterinario: r.RegistroOficialVeterinario,
		Ciudad:                     r.Ciudad,
		ProvinciaDepartamento:      r.ProvinciaDepartamento,
		Pais:                       r.Pais,
		Usuario:                    strings.TrimSpace(r.Usuario),
		AceptaTerminos:             bool(r.AceptaTerminos),
		AceptaTratamientoDatos:     bool(r.AceptaTratamientoDatos),
	}
}

type updateRequest struct {
	Veterinaria                *string       `json:"veterinaria" form:"veterinaria" binding:"omitempty,min=1,max=255"`
	Responsable                *string       `json:"responsable" form:"responsable" binding:"omitempty,min=1,max=255"`
	Direccion                  *string       `json:"direccion" form:"direccion" binding:"omitempty,min=1"`
	Telefono                   *string       `json:"telefono" form:"telefono" binding:"omitempty,max=20,telefono"`
	Email                      *string       `json:"email" form:"email" binding:"omitempty,email,max=255"`
	RegistroOficialVeterinario *string       `json:"registro_oficial_veterinario" form:"registro_oficial_veterinario" binding:"omitempty,min=1,max=255"`
	Ciudad                     *string       `json:"ciudad" form:"ciudad" binding:"omitempty,min=1,max=255"`
	ProvinciaDepartamento      *string       `json:"provincia_departamento" form:"provincia_departamento" binding:"omitempty,min=1,max=255"`
	Pais                       *string       `json:"pais" form:"pais" binding:"omitempty,pais"`
	Logo                       *string       `json:"logo" form:"-"`
	Usuario                    *string       `json:"usuario" form:"usuario" binding:"omitempty,min=1,max=255"`
	Password                   *string       `json:"password" form:"password" binding:"omitempty,min=8"`
	RepetirPassword            string        `json:"repetir_password" form:"repetir_password"`
	AceptaTerminos             *handler.Flag `json:"acepta_terminos" form:"acepta_terminos"`
	AceptaTratamientoDatos     *handler.Flag `json:"acepta_tratamiento_datos" form:"acepta_tratamiento_datos"`
}

func (r updateRequest) patch() model.ClinicPatch {
	return model.ClinicPatch{
		Veterinaria:                handler.Trimmed(r.Veterinaria),
		Responsable:                handler.Trimmed(r.Responsable),
		Direccion:                  handler.Trimmed(r.Direccion),
		Telefono:                   handler.Trimmed(r.Telefono),
		Email:                      r.Email,
		RegistroOficialVeterinario: handler.Trimmed(r.RegistroOficialVeterinario),
		Ciudad:                     handler.Trimmed(r.Ciudad),
		ProvinciaDepartamento:      handler.Trimmed(r.ProvinciaDepartamento),
		Pais:                       r.Pais,
		Usuario:                    handler.Trimmed(r.Usuario),
		AceptaTerminos:             r.AceptaTerminos.Ptr(),
		AceptaTratamientoDatos:     r.AceptaTratamientoDatos.Ptr(),
	}
}

// formLogo reads a logo URL sent as a plain form value. The binder skips
// the field since a multipart body may carry a file part under that name.
func formLogo(c *gin.Context) (string, bool) {
	if c.ContentType() == binding.MIMEJSON {
		return "", false
	}
	return c.GetPostForm("logo")
}

type listQuery struct {
	Pais    string `form:"pais"`
	Ciudad  string `form:"ciudad"`
	Search  string `form:"search"`
	Page    int    `form:"page" binding:"omitempty,min=1"`
	PerPage int    `form:"per_page" binding:"omitempty,min=1,max=100"`
}

func (h *Handler) Countries(c *gin.Context) {
	httputil.RespondWithSuccess(c, h.service.Countries())
}

func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := handler.Bind(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	form, err := handler.MultipartForm(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	if logo, ok := formLogo(c); ok {
		req.Logo = logo
	}

	clinic, err := h.service.Register(c.Request.Context(), pairing.RegisterInput{
		Clinic:               req.clinic(),
		Password:             req.Password,
		PasswordConfirmation: req.RepetirPassword,
		Form:                 form,
		LogoURL:              req.Logo,
	})
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithCreated(c, "Clinic registered successfully", clinic)
}

func (h *Handler) ListClinics(c *gin.Context) {
	var q listQuery
	if err := handler.BindQuery(c, &q); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	page, pg, err := h.service.List(c.Request.Context(), middleware.GetPrincipal(c), model.ClinicFilter{
		Pais:       q.Pais,
		Ciudad:     q.Ciudad,
		Search:     q.Search,
		Pagination: model.Pagination{Page: q.Page, PerPage: q.PerPage},
	})
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithPagination(c, page.Items, pg.Page, pg.PerPage, page.Total)
}

func (h *Handler) GetClinic(c *gin.Context) {
	id, err := handler.ParseID(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	clinic, err := h.service.Get(c.Request.Context(), middleware.GetPrincipal(c), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, clinic)
}

func (h *Handler) UpdateClinic(c *gin.Context) {
	id, err := handler.ParseID(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	var req updateRequest
	if err := handler.Bind(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	form, err := handler.MultipartForm(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	if logo, ok := formLogo(c); ok {
		req.Logo = &logo
	}

	clinic, err := h.service.Update(c.Request.Context(), middleware.GetPrincipal(c), id, pairing.ClinicUpdate{
		Patch:                req.patch(),
		Password:             req.Password,
		PasswordConfirmation: req.RepetirPassword,
		Form:                 form,
		LogoURL:              req.Logo,
	})
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, clinic)
}

func (h *Handler) DeleteClinic(c *gin.Context) {
	id, err := handler.ParseID(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	if err := h.service.Delete(c.Request.Context(), middleware.GetPrincipal(c), id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithMessage(c, "Clinic deleted successfully")
}
