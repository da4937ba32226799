package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/kapixcr/BioNote/internal/model"
)

const clinicColumns = `id, veterinaria, responsable, direccion, telefono, email,
	registro_oficial_veterinario, ciudad, provincia_departamento, pais, logo,
	usuario, password_hash, acepta_terminos, acepta_tratamiento_datos,
	created_at, updated_at`

type clinicRepository struct {
	q sqlx.ExtContext
}

func (r *clinicRepository) Create(ctx context.Context, c *model.Clinic) error {
	query := `
		INSERT INTO veterinarias (` + clinicColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err := r.q.ExecContext(ctx, query,
		c.ID, c.Veterinaria, c.Responsable, c.Direccion, c.Telefono, c.Email,
		c.RegistroOficialVeterinario, c.Ciudad, c.ProvinciaDepartamento, c.Pais, c.Logo,
		c.Usuario, c.PasswordHash, c.AceptaTerminos, c.AceptaTratamientoDatos,
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create clinic: %w", mapError(err))
	}
	return nil
}

func (r *clinicRepository) getBy(ctx context.Context, column string, value interface{}) (*model.Clinic, error) {
	var clinic model.Clinic
	err := sqlx.GetContext(ctx, r.q, &clinic, `SELECT `+clinicColumns+` FROM veterinarias WHERE `+column+` = $1`, value)
	if err != nil {
		return nil, fmt.Errorf("failed to get clinic by %s: %w", column, mapError(err))
	}
	return &clinic, nil
}

func (r *clinicRepository) Get(ctx context.Context, id uuid.UUID) (*model.Clinic, error) {
	return r.getBy(ctx, "id", id)
}

func (r *clinicRepository) GetByEmail(ctx context.Context, email string) (*model.Clinic, error) {
	return r.getBy(ctx, "email", email)
}

func (r *clinicRepository) GetByUsuario(ctx context.Context, usuario string) (*model.Clinic, error) {
	return r.getBy(ctx, "usuario", usuario)
}

func (r *clinicRepository) Update(ctx context.Context, c *model.Clinic) error {
	query := `
		UPDATE veterinarias
		SET veterinaria = $1, responsable = $2, direccion = $3, telefono = $4, email = $5,
			registro_oficial_veterinario = $6, ciudad = $7, provincia_departamento = $8,
			pais = $9, logo = $10, usuario = $11, password_hash = $12,
			acepta_terminos = $13, acepta_tratamiento_datos = $14, updated_at = $15
		WHERE id = $16
	`
	res, err := r.q.ExecContext(ctx, query,
		c.Veterinaria, c.Responsable, c.Direccion, c.Telefono, c.Email,
		c.RegistroOficialVeterinario, c.Ciudad, c.ProvinciaDepartamento,
		c.Pais, c.Logo, c.Usuario, c.PasswordHash,
		c.AceptaTerminos, c.AceptaTratamientoDatos, c.UpdatedAt,
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update clinic: %w", mapError(err))
	}
	return checkAffected(res)
}

func (r *clinicRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM veterinarias WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete clinic: %w", err)
	}
	return checkAffected(res)
}

func (r *clinicRepository) List(ctx context.Context, filter model.ClinicFilter) (model.Page[*model.Clinic], error) {
	var page model.Page[*model.Clinic]

	w := &where{}
	if filter.Pais != "" {
		w.add(`pais = ?`, strings.ToUpper(filter.Pais))
	}
	if filter.Ciudad != "" {
		w.add(`ciudad ILIKE ?`, contains(filter.Ciudad))
	}
	if filter.Search != "" {
		p := contains(filter.Search)
		w.add(`(veterinaria ILIKE ? OR responsable ILIKE ? OR email ILIKE ?)`, p, p, p)
	}

	if err := sqlx.GetContext(ctx, r.q, &page.Total, `SELECT COUNT(*) FROM veterinarias`+w.String(), w.args...); err != nil {
		return page, fmt.Errorf("failed to count clinics: %w", err)
	}

	query := `SELECT ` + clinicColumns + ` FROM veterinarias` + w.String() +
		` ORDER BY created_at DESC LIMIT ` + w.next(filter.PerPage) + ` OFFSET ` + w.next(filter.Offset())
	page.Items = []*model.Clinic{}
	if err := sqlx.SelectContext(ctx, r.q, &page.Items, query, w.args...); err != nil {
		return page, fmt.Errorf("failed to list clinics: %w", err)
	}
	return page, nil
}

func (r *clinicRepository) EmailTaken(ctx context.Context, email string, exclude uuid.UUID) (bool, error) {
	var taken bool
	err := sqlx.GetContext(ctx, r.q, &taken,
		`SELECT EXISTS (SELECT 1 FROM veterinarias WHERE email = $1 AND id <> $2)`, email, exclude)
	if err != nil {
		return false, fmt.Errorf("failed to check clinic email: %w", err)
	}
	return taken, nil
}

func (r *clinicRepository) UsuarioTaken(ctx context.Context, usuario string, exclude uuid.UUID) (bool, error) {
	var taken bool
	err := sqlx.GetContext(ctx, r.q, &taken,
		`SELECT EXISTS (SELECT 1 FROM veterinarias WHERE usuario = $1 AND id <> $2)`, usuario, exclude)
	if err != nil {
		return false, fmt.Errorf("failed to check clinic usuario: %w", err)
	}
	return taken, nil
}
