package clinic

import (
	"context"
	stderrors "errors"

	"github.com/google/uuid"

	"github.com/kapixcr/BioNote/internal/model"
	"github.com/kapixcr/BioNote/internal/repository"
	"github.com/kapixcr/BioNote/internal/service/pairing"
	"github.com/kapixcr/BioNote/internal/upload"
	"github.com/kapixcr/BioNote/pkg/errors"
	"github.com/kapixcr/BioNote/pkg/logger"
)

type Service struct {
	store     repository.Store
	pairing   *pairing.Service
	intake    *upload.Intake
	countries []string
	perPage   int
	log       *logger.Logger
}

func NewService(store repository.Store, pairing *pairing.Service, intake *upload.Intake, countries []string, perPage int, log *logger.Logger) *Service {
	return &Service{
		store:     store,
		pairing:   pairing,
		intake:    intake,
		countries: countries,
		perPage:   perPage,
		log:       log.With("service", "clinic"),
	}
}

// Countries returns the countries a clinic may register in.
func (s *Service) Countries() []string {
	out := make([]string, len(s.countries))
	copy(out, s.countries)
	return out
}

func (s *Service) Register(ctx context.Context, in pairing.RegisterInput) (*model.Clinic, error) {
	clinic, err := s.pairing.CreatePair(ctx, in)
	if err != nil {
		return nil, err
	}
	return s.present(clinic), nil
}

// List returns every clinic to an administrator. A clinic only sees itself.
func (s *Service) List(ctx context.Context, p *model.Principal, filter model.ClinicFilter) (model.Page[*model.Clinic], model.Pagination, error) {
	filter.Pagination = filter.Pagination.Normalize(s.perPage)

	if p.IsClinic() {
		own, err := s.store.Clinics().Get(ctx, p.Clinic.ID)
		if err != nil {
			return model.Page[*model.Clinic]{}, filter.Pagination, mapError(err)
		}
		return model.Page[*model.Clinic]{Items: []*model.Clinic{s.present(own)}, Total: 1}, filter.Pagination, nil
	}
	if !p.IsAdmin() {
		return model.Page[*model.Clinic]{}, filter.Pagination, errors.Forbidden("")
	}

	page, err := s.store.Clinics().List(ctx, filter)
	if err != nil {
		return page, filter.Pagination, errors.Internal(err)
	}
	for _, c := range page.Items {
		s.present(c)
	}
	return page, filter.Pagination, nil
}

func (s *Service) Get(ctx context.Context, p *model.Principal, id uuid.UUID) (*model.Clinic, error) {
	if !p.CanAccessClinic(id) {
		return nil, errors.Forbidden("")
	}
	clinic, err := s.store.Clinics().Get(ctx, id)
	if err != nil {
		return nil, mapError(err)
	}
	return s.present(clinic), nil
}

func (s *Service) Update(ctx context.Context, p *model.Principal, id uuid.UUID, in pairing.ClinicUpdate) (*model.Clinic, error) {
	if !p.CanAccessClinic(id) {
		return nil, errors.Forbidden("")
	}
	clinic, err := s.pairing.UpdateFromClinic(ctx, id, in)
	if err != nil {
		return nil, err
	}
	return s.present(clinic), nil
}

func (s *Service) Delete(ctx context.Context, p *model.Principal, id uuid.UUID) error {
	if !p.CanAccessClinic(id) {
		return errors.Forbidden("")
	}
	return s.pairing.DeleteByClinic(ctx, id)
}

func (s *Service) present(c *model.Clinic) *model.Clinic {
	c.ResolveLogo(s.intake.Resolver(upload.SubdirLogos))
	return c
}

func mapError(err error) error {
	if stderrors.Is(err, repository.ErrNotFound) {
		return errors.NotFound("clinic", err)
	}
	return errors.Internal(err)
}
