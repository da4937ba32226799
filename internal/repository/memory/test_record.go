package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/kapixcr/BioNote/internal/model"
	"github.com/kapixcr/BioNote/internal/repository"
)

type testRecordRepo struct{ s *Store }

func (r *testRecordRepo) Create(ctx context.Context, t *model.TestRecord) error {
	defer r.s.lock()()
	if _, ok := r.s.st.accounts[t.UserID]; !ok {
		return repository.ErrMissingReference
	}
	r.s.st.records[t.ID] = cloneRecord(*t)
	return nil
}

func (r *testRecordRepo) Get(ctx context.Context, id uuid.UUID) (*model.TestRecord, error) {
	defer r.s.lock()()
	t, ok := r.s.st.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := cloneRecord(t)
	return &out, nil
}

func (r *testRecordRepo) Update(ctx context.Context, t *model.TestRecord) error {
	defer r.s.lock()()
	if _, ok := r.s.st.records[t.ID]; !ok {
		return repository.ErrNotFound
	}
	if _, ok := r.s.st.accounts[t.UserID]; !ok {
		return repository.ErrMissingReference
	}
	r.s.st.records[t.ID] = cloneRecord(*t)
	return nil
}

func (r *testRecordRepo) Delete(ctx context.Context, id uuid.UUID) error {
	defer r.s.lock()()
	if _, ok := r.s.st.records[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.st.records, id)
	return nil
}

func (r *testRecordRepo) List(ctx context.Context, f model.TestRecordFilter) (model.Page[*model.TestRecord], error) {
	defer r.s.lock()()
	items := make([]*model.TestRecord, 0)
	for _, t := range r.s.st.records {
		if !matchRecord(t, f) {
			continue
		}
		out := cloneRecord(t)
		items = append(items, &out)
	}
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].Fecha.Equal(items[j].Fecha.Time) {
			return items[i].Fecha.After(items[j].Fecha.Time)
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return paginate(items, f.Pagination), nil
}

func matchRecord(t model.TestRecord, f model.TestRecordFilter) bool {
	switch {
	case f.Especie != "" && !containsFold(t.Especie, f.Especie):
		return false
	case f.NombreMascota != "" && !containsFold(t.NombreMascota, f.NombreMascota):
		return false
	case f.NombrePrueba != "" && !containsFold(t.NombrePrueba, f.NombrePrueba):
		return false
	case f.Desde != nil && t.Fecha.Before(*f.Desde):
		return false
	case f.Hasta != nil && t.Fecha.After(*f.Hasta):
		return false
	case f.UserID != nil && t.UserID != *f.UserID:
		return false
	}
	return true
}

func cloneRecord(t model.TestRecord) model.TestRecord {
	if t.ResultPrueba != nil {
		t.ResultPrueba = append(model.JSONPayload(nil), t.ResultPrueba...)
	}
	if t.Titulacion != nil {
		t.Titulacion = append(model.JSONPayload(nil), t.Titulacion...)
	}
	if t.Fotos != nil {
		t.Fotos = append(model.StringList(nil), t.Fotos...)
	}
	t.FotosURL = nil
	return t
}
