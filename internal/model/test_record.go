package model

import (
	"time"

	"github.com/google/uuid"
)

// TestRecord is a diagnostic test result ("prueba") owned by an account.
type TestRecord struct {
	Base
	UserID        uuid.UUID   `json:"user_id" db:"user_id"`
	Fecha         Date        `json:"fecha" db:"fecha"`
	Especie       string      `json:"especie" db:"especie"`
	NombreMascota string      `json:"nombre_mascota" db:"nombre_mascota"`
	Sexo          string      `json:"sexo" db:"sexo"`
	Raza          string      `json:"raza" db:"raza"`
	Edad          int         `json:"edad" db:"edad"`
	NombrePrueba  string      `json:"nombre_prueba" db:"nombre_prueba"`
	ResultPrueba  JSONPayload `json:"result_prueba" db:"result_prueba"`
	Titulacion    JSONPayload `json:"titulacion" db:"titulacion"`
	Fotos         StringList  `json:"fotos" db:"fotos"`
	FotosURL      []string    `json:"fotos_url" db:"-"`
}

type TestRecordFilter struct {
	Especie       string
	NombreMascota string
	NombrePrueba  string
	Desde         *time.Time
	Hasta         *time.Time
	UserID        *uuid.UUID
	Pagination
}

// ResolvePhotos fills FotosURL from the stored photo references.
func (r *TestRecord) ResolvePhotos(resolve func(ref string) string) {
	r.FotosURL = make([]string, 0, len(r.Fotos))
	for _, ref := range r.Fotos {
		r.FotosURL = append(r.FotosURL, resolve(ref))
	}
}
