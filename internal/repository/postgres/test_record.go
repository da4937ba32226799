package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/kapixcr/BioNote/internal/model"
)

const testRecordColumns = `id, user_id, fecha, especie, nombre_mascota, sexo, raza, edad,
	nombre_prueba, result_prueba, titulacion, fotos, created_at, updated_at`

type testRecordRepository struct {
	q sqlx.ExtContext
}

func (r *testRecordRepository) Create(ctx context.Context, t *model.TestRecord) error {
	query := `
		INSERT INTO pruebas (` + testRecordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := r.q.ExecContext(ctx, query,
		t.ID, t.UserID, t.Fecha, t.Especie, t.NombreMascota, t.Sexo, t.Raza, t.Edad,
		t.NombrePrueba, t.ResultPrueba, t.Titulacion, t.Fotos, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create test record: %w", mapError(err))
	}
	return nil
}

func (r *testRecordRepository) Get(ctx context.Context, id uuid.UUID) (*model.TestRecord, error) {
	var t model.TestRecord
	if err := sqlx.GetContext(ctx, r.q, &t, `SELECT `+testRecordColumns+` FROM pruebas WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("failed to get test record: %w", mapError(err))
	}
	return &t, nil
}

func (r *testRecordRepository) Update(ctx context.Context, t *model.TestRecord) error {
	query := `
		UPDATE pruebas
		SET user_id = $1, fecha = $2, especie = $3, nombre_mascota = $4, sexo = $5, raza = $6,
			edad = $7, nombre_prueba = $8, result_prueba = $9, titulacion = $10, fotos = $11,
			updated_at = $12
		WHERE id = $13
	`
	res, err := r.q.ExecContext(ctx, query,
		t.UserID, t.Fecha, t.Especie, t.NombreMascota, t.Sexo, t.Raza,
		t.Edad, t.NombrePrueba, t.ResultPrueba, t.Titulacion, t.Fotos,
		t.UpdatedAt, t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update test record: %w", mapError(err))
	}
	return checkAffected(res)
}

func (r *testRecordRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM pruebas WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete test record: %w", err)
	}
	return checkAffected(res)
}

func (r *testRecordRepository) List(ctx context.Context, f model.TestRecordFilter) (model.Page[*model.TestRecord], error) {
	var page model.Page[*model.TestRecord]

	w := &where{}
	if f.Especie != "" {
		w.add(`especie ILIKE ?`, contains(f.Especie))
	}
	if f.NombreMascota != "" {
		w.add(`nombre_mascota ILIKE ?`, contains(f.NombreMascota))
	}
	if f.NombrePrueba != "" {
		w.add(`nombre_prueba ILIKE ?`, contains(f.NombrePrueba))
	}
	if f.Desde != nil {
		w.add(`fecha >= ?`, f.Desde.Format(model.DateLayout))
	}
	if f.Hasta != nil {
		w.add(`fecha <= ?`, f.Hasta.Format(model.DateLayout))
	}
	if f.UserID != nil {
		w.add(`user_id = ?`, *f.UserID)
	}

	if err := sqlx.GetContext(ctx, r.q, &page.Total, `SELECT COUNT(*) FROM pruebas`+w.String(), w.args...); err != nil {
		return page, fmt.Errorf("failed to count test records: %w", err)
	}

	query := `SELECT ` + testRecordColumns + ` FROM pruebas` + w.String() +
		` ORDER BY fecha DESC, created_at DESC LIMIT ` + w.next(f.PerPage) + ` OFFSET ` + w.next(f.Offset())
	page.Items = []*model.TestRecord{}
	if err := sqlx.SelectContext(ctx, r.q, &page.Items, query, w.args...); err != nil {
		return page, fmt.Errorf("failed to list test records: %w", err)
	}
	return page, nil
}
