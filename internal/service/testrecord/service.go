// Package testrecord manages diagnostic test results ("pruebas") and their photos.
package testrecord

import (
	"context"
	stderrors "errors"
	"mime/multipart"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kapixcr/BioNote/internal/model"
	"github.com/kapixcr/BioNote/internal/repository"
	"github.com/kapixcr/BioNote/internal/upload"
	"github.com/kapixcr/BioNote/pkg/errors"
	"github.com/kapixcr/BioNote/pkg/logger"
)

const photosField = "fotos"

// User types reported by ListMine.
const (
	UserTypeClinic  = "veterinaria"
	UserTypeAccount = "user"
)

// Input carries the fields of a create or a partial update. On update a nil
// field is left unchanged; on create every field except ResultPrueba and
// UserID is required.
type Input struct {
	UserID        *uuid.UUID
	Fecha         *model.Date
	Especie       *string
	NombreMascota *string
	Sexo          *string
	Raza          *string
	Edad          *int
	NombrePrueba  *string
	ResultPrueba  model.JSONPayload
	Titulacion    model.JSONPayload
	Form          *multipart.Form
}

// MineResult is the caller's own listing.
type MineResult struct {
	Page       model.Page[*model.TestRecord]
	Pagination model.Pagination
	UserID     uuid.UUID
	UserType   string
}

type Service struct {
	store   repository.Store
	intake  *upload.Intake
	perPage int
	log     *logger.Logger
	now     func() time.Time
}

func NewService(store repository.Store, intake *upload.Intake, perPage int, log *logger.Logger) *Service {
	return &Service{
		store:   store,
		intake:  intake,
		perPage: perPage,
		log:     log.With("service", "testrecord"),
		now:     time.Now,
	}
}

// List applies filter. Callers other than administrators only see their own records.
func (s *Service) List(ctx context.Context, p *model.Principal, filter model.TestRecordFilter) (model.Page[*model.TestRecord], model.Pagination, error) {
	filter.Pagination = filter.Pagination.Normalize(s.perPage)
	if !p.IsAdmin() {
		owner, err := s.owner(ctx, p)
		if err != nil {
			return model.Page[*model.TestRecord]{}, filter.Pagination, err
		}
		filter.UserID = &owner
	}

	page, err := s.store.TestRecords().List(ctx, filter)
	if err != nil {
		return page, filter.Pagination, errors.Internal(err)
	}
	s.present(page.Items...)
	return page, filter.Pagination, nil
}

// ListMine lists the records owned by the caller's account. Administrators
// own no records and are rejected.
func (s *Service) ListMine(ctx context.Context, p *model.Principal, pg model.Pagination) (*MineResult, error) {
	if p.IsAdmin() {
		return nil, errors.Forbidden("administrators have no test records")
	}
	owner, err := s.owner(ctx, p)
	if err != nil {
		return nil, err
	}

	filter := model.TestRecordFilter{UserID: &owner, Pagination: pg.Normalize(s.perPage)}
	page, err := s.store.TestRecords().List(ctx, filter)
	if err != nil {
		return nil, errors.Internal(err)
	}
	s.present(page.Items...)

	userType := UserTypeAccount
	if p.IsClinic() {
		userType = UserTypeClinic
	}
	return &MineResult{Page: page, Pagination: filter.Pagination, UserID: owner, UserType: userType}, nil
}

func (s *Service) Get(ctx context.Context, p *model.Principal, id uuid.UUID) (*model.TestRecord, error) {
	record, err := s.load(ctx, p, id)
	if err != nil {
		return nil, err
	}
	s.present(record)
	return record, nil
}

func (s *Service) Create(ctx context.Context, p *model.Principal, in Input) (*model.TestRecord, error) {
	record := &model.TestRecord{}
	fields := map[string][]string{}

	switch {
	case !p.IsAdmin():
		owner, err := s.owner(ctx, p)
		if err != nil {
			return nil, err
		}
		if in.UserID != nil && *in.UserID != owner {
			return nil, errors.Forbidden("test records can only be created for your own account")
		}
		record.UserID = owner
	case in.UserID == nil:
		fields["user_id"] = []string{"The user_id field is required."}
	default:
		if _, err := s.store.Accounts().Get(ctx, *in.UserID); err != nil {
			if !stderrors.Is(err, repository.ErrNotFound) {
				return nil, errors.Internal(err)
			}
			fields["user_id"] = []string{"The selected user_id is invalid."}
		}
		record.UserID = *in.UserID
	}

	required := func(field string, v *string) {
		if v == nil || strings.TrimSpace(*v) == "" {
			fields[field] = append(fields[field], "The "+field+" field is required.")
		}
	}
	required("especie", in.Especie)
	required("nombre_mascota", in.NombreMascota)
	required("sexo", in.Sexo)
	required("raza", in.Raza)
	required("nombre_prueba", in.NombrePrueba)
	if in.Fecha == nil || in.Fecha.IsZero() {
		fields["fecha"] = []string{"The fecha field is required."}
	}
	if in.Edad == nil {
		fields["edad"] = []string{"The edad field is required."}
	}
	if in.Titulacion.IsEmpty() {
		fields["titulacion"] = []string{"The titulacion field is required."}
	}
	validateInput(fields, in)
	if len(fields) > 0 {
		return nil, errors.Validation(fields)
	}

	apply(record, in)

	photos, err := s.intake.Photos(in.Form, photosField)
	if err != nil {
		return nil, err
	}
	record.Fotos = model.StringList(photos)
	if record.Fotos == nil {
		record.Fotos = model.StringList{}
	}
	record.Touch(s.now())

	if err := s.store.TestRecords().Create(ctx, record); err != nil {
		s.intake.Remove(upload.SubdirPhotos, photos...)
		if stderrors.Is(err, repository.ErrMissingReference) {
			return nil, errors.Field("user_id", "The selected user_id is invalid.")
		}
		s.log.Error(err, "create test record failed")
		return nil, errors.Internal(err)
	}

	s.present(record)
	return record, nil
}

// Update applies a partial update. Uploaded photos are appended to the
// existing ones.
func (s *Service) Update(ctx context.Context, p *model.Principal, id uuid.UUID, in Input) (*model.TestRecord, error) {
	record, err := s.load(ctx, p, id)
	if err != nil {
		return nil, err
	}

	fields := map[string][]string{}
	if in.UserID != nil && *in.UserID != record.UserID {
		if !p.IsAdmin() {
			return nil, errors.Forbidden("test records can only belong to your own account")
		}
		if _, err := s.store.Accounts().Get(ctx, *in.UserID); err != nil {
			if !stderrors.Is(err, repository.ErrNotFound) {
				return nil, errors.Internal(err)
			}
			fields["user_id"] = []string{"The selected user_id is invalid."}
		}
	}
	validateInput(fields, in)
	if len(fields) > 0 {
		return nil, errors.Validation(fields)
	}

	updated := *record
	if in.UserID != nil {
		updated.UserID = *in.UserID
	}
	apply(&updated, in)

	photos, err := s.intake.Photos(in.Form, photosField)
	if err != nil {
		return nil, err
	}
	if len(photos) > 0 {
		fotos := make(model.StringList, 0, len(record.Fotos)+len(photos))
		fotos = append(fotos, record.Fotos...)
		updated.Fotos = append(fotos, photos...)
	}
	updated.UpdatedAt = s.now()

	if err := s.store.TestRecords().Update(ctx, &updated); err != nil {
		s.intake.Remove(upload.SubdirPhotos, photos...)
		if stderrors.Is(err, repository.ErrMissingReference) {
			return nil, errors.Field("user_id", "The selected user_id is invalid.")
		}
		s.log.Error(err, "update test record failed", "record_id", id.String())
		return nil, errors.Internal(err)
	}

	s.present(&updated)
	return &updated, nil
}

// Delete removes the record and, after it is gone, its photo files.
func (s *Service) Delete(ctx context.Context, p *model.Principal, id uuid.UUID) error {
	record, err := s.load(ctx, p, id)
	if err != nil {
		return err
	}
	if err := s.store.TestRecords().Delete(ctx, id); err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return errors.NotFound("test record", err)
		}
		return errors.Internal(err)
	}
	s.intake.Remove(upload.SubdirPhotos, record.Fotos...)
	return nil
}

// load fetches a record the caller may access.
func (s *Service) load(ctx context.Context, p *model.Principal, id uuid.UUID) (*model.TestRecord, error) {
	record, err := s.store.TestRecords().Get(ctx, id)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return nil, errors.NotFound("test record", err)
		}
		return nil, errors.Internal(err)
	}
	if p.IsAdmin() {
		return record, nil
	}
	owner, err := s.owner(ctx, p)
	if err != nil {
		return nil, err
	}
	if record.UserID != owner {
		return nil, errors.Forbidden("")
	}
	return record, nil
}

// owner is the account that owns the caller's records. A clinic owns its
// records through its mirrored account.
func (s *Service) owner(ctx context.Context, p *model.Principal) (uuid.UUID, error) {
	if !p.IsClinic() {
		return p.Account.ID, nil
	}
	account, err := s.store.Accounts().GetByEmail(ctx, p.Clinic.Email)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return uuid.Nil, errors.Forbidden("no account is linked to this clinic")
		}
		return uuid.Nil, errors.Internal(err)
	}
	return account.ID, nil
}

func (s *Service) present(records ...*model.TestRecord) {
	resolve := s.intake.Resolver(upload.SubdirPhotos)
	for _, r := range records {
		r.ResolvePhotos(resolve)
	}
}

func validateInput(fields map[string][]string, in Input) {
	if in.Edad != nil && *in.Edad < 0 {
		fields["edad"] = append(fields["edad"], "The edad must be at least 0.")
	}
	if !in.Titulacion.IsEmpty() && !in.Titulacion.IsStructured() {
		fields["titulacion"] = append(fields["titulacion"], "The titulacion must be a JSON object or array.")
	}
	if !in.ResultPrueba.IsEmpty() && !in.ResultPrueba.IsStructured() {
		fields["result_prueba"] = append(fields["result_prueba"], "The result_prueba must be a JSON object or array.")
	}
}

func apply(r *model.TestRecord, in Input) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	if in.Fecha != nil {
		r.Fecha = *in.Fecha
	}
	set(&r.Especie, in.Especie)
	set(&r.NombreMascota, in.NombreMascota)
	set(&r.Sexo, in.Sexo)
	set(&r.Raza, in.Raza)
	set(&r.NombrePrueba, in.NombrePrueba)
	if in.Edad != nil {
		r.Edad = *in.Edad
	}
	if !in.ResultPrueba.IsEmpty() {
		r.ResultPrueba = in.ResultPrueba
	}
	if !in.Titulacion.IsEmpty() {
		r.Titulacion = in.Titulacion
	}
}
