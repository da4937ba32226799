package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kapixcr/BioNote/internal/model"
	"github.com/kapixcr/BioNote/internal/repository"
)

type clinicRepo struct{ s *Store }

func (r *clinicRepo) unique(c *model.Clinic) error {
	for id, existing := range r.s.st.clinics {
		if id == c.ID {
			continue
		}
		if existing.Email == c.Email {
			return fmt.Errorf("%w: veterinarias_email_key", repository.ErrDuplicate)
		}
		if existing.Usuario == c.Usuario {
			return fmt.Errorf("%w: veterinarias_usuario_key", repository.ErrDuplicate)
		}
	}
	return nil
}

func (r *clinicRepo) Create(ctx context.Context, c *model.Clinic) error {
	defer r.s.lock()()
	if err := r.unique(c); err != nil {
		return err
	}
	r.s.st.clinics[c.ID] = cloneClinic(*c)
	return nil
}

func (r *clinicRepo) Get(ctx context.Context, id uuid.UUID) (*model.Clinic, error) {
	defer r.s.lock()()
	c, ok := r.s.st.clinics[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := cloneClinic(c)
	return &out, nil
}

func (r *clinicRepo) find(match func(model.Clinic) bool) (*model.Clinic, error) {
	for _, c := range r.s.st.clinics {
		if match(c) {
			out := cloneClinic(c)
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *clinicRepo) GetByEmail(ctx context.Context, email string) (*model.Clinic, error) {
	defer r.s.lock()()
	return r.find(func(c model.Clinic) bool { return c.Email == email })
}

func (r *clinicRepo) GetByUsuario(ctx context.Context, usuario string) (*model.Clinic, error) {
	defer r.s.lock()()
	return r.find(func(c model.Clinic) bool { return c.Usuario == usuario })
}

func (r *clinicRepo) Update(ctx context.Context, c *model.Clinic) error {
	defer r.s.lock()()
	if _, ok := r.s.st.clinics[c.ID]; !ok {
		return repository.ErrNotFound
	}
	if err := r.unique(c); err != nil {
		return err
	}
	r.s.st.clinics[c.ID] = cloneClinic(*c)
	return nil
}

func (r *clinicRepo) Delete(ctx context.Context, id uuid.UUID) error {
	defer r.s.lock()()
	if _, ok := r.s.st.clinics[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.st.clinics, id)
	return nil
}

func (r *clinicRepo) List(ctx context.Context, f model.ClinicFilter) (model.Page[*model.Clinic], error) {
	defer r.s.lock()()
	items := make([]*model.Clinic, 0, len(r.s.st.clinics))
	for _, c := range r.s.st.clinics {
		if f.Pais != "" && !strings.EqualFold(c.Pais, f.Pais) {
			continue
		}
		if f.Ciudad != "" && !containsFold(c.Ciudad, f.Ciudad) {
			continue
		}
		if f.Search != "" && !containsFold(c.Veterinaria, f.Search) &&
			!containsFold(c.Responsable, f.Search) && !containsFold(c.Email, f.Search) {
			continue
		}
		out := cloneClinic(c)
		items = append(items, &out)
	}
	newestFirst(items, func(c *model.Clinic) int64 { return c.CreatedAt.UnixNano() })
	return paginate(items, f.Pagination), nil
}

func (r *clinicRepo) EmailTaken(ctx context.Context, email string, exclude uuid.UUID) (bool, error) {
	defer r.s.lock()()
	_, err := r.find(func(c model.Clinic) bool { return c.ID != exclude && c.Email == email })
	return err == nil, nil
}

func (r *clinicRepo) UsuarioTaken(ctx context.Context, usuario string, exclude uuid.UUID) (bool, error) {
	defer r.s.lock()()
	_, err := r.find(func(c model.Clinic) bool { return c.ID != exclude && c.Usuario == usuario })
	return err == nil, nil
}

func cloneClinic(c model.Clinic) model.Clinic {
	if c.Logo != nil {
		logo := *c.Logo
		c.Logo = &logo
	}
	c.LogoURL = nil
	return c
}
