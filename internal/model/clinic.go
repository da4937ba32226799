package model

// Clinic is a registered veterinary clinic ("veterinaria").
// Every clinic has a mirrored Account with the same email.
type Clinic struct {
	Base
	Veterinaria                string  `json:"veterinaria" db:"veterinaria"`
	Responsable                string  `json:"responsable" db:"responsable"`
	Direccion                  string  `json:"direccion" db:"direccion"`
	Telefono                   string  `json:"telefono" db:"telefono"`
	Email                      string  `json:"email" db:"email"`
	RegistroOficialVeterinario string  `json:"registro_oficial_veterinario" db:"registro_oficial_veterinario"`
	Ciudad                     string  `json:"ciudad" db:"ciudad"`
	ProvinciaDepartamento      string  `json:"provincia_departamento" db:"provincia_departamento"`
	Pais                       string  `json:"pais" db:"pais"`
	Logo                       *string `json:"logo" db:"logo"`
	LogoURL                    *string `json:"logo_url" db:"-"`
	Usuario                    string  `json:"usuario" db:"usuario"`
	PasswordHash               string  `json:"-" db:"password_hash"`
	AceptaTerminos             bool    `json:"acepta_terminos" db:"acepta_terminos"`
	AceptaTratamientoDatos     bool    `json:"acepta_tratamiento_datos" db:"acepta_tratamiento_datos"`
}

type ClinicFilter struct {
	Pais   string
	Ciudad string
	// Search matches name, responsable or email.
	Search string
	Pagination
}

// ClinicPatch carries the fields of a partial clinic update. Nil means unchanged.
type ClinicPatch struct {
	Veterinaria                *string
	Responsable                *string
	Direccion                  *string
	Telefono                   *string
	Email                      *string
	RegistroOficialVeterinario *string
	Ciudad                     *string
	ProvinciaDepartamento      *string
	Pais                       *string
	Usuario                    *string
	AceptaTerminos             *bool
	AceptaTratamientoDatos     *bool
}

// Apply copies every set field onto c.
func (p ClinicPatch) Apply(c *Clinic) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&c.Veterinaria, p.Veterinaria)
	set(&c.Responsable, p.Responsable)
	set(&c.Direccion, p.Direccion)
	set(&c.Telefono, p.Telefono)
	set(&c.RegistroOficialVeterinario, p.RegistroOficialVeterinario)
	set(&c.Ciudad, p.Ciudad)
	set(&c.ProvinciaDepartamento, p.ProvinciaDepartamento)
	set(&c.Pais, p.Pais)
	set(&c.Usuario, p.Usuario)
	if p.Email != nil {
		c.Email = NormalizeEmail(*p.Email)
	}
	if p.AceptaTerminos != nil {
		c.AceptaTerminos = *p.AceptaTerminos
	}
	if p.AceptaTratamientoDatos != nil {
		c.AceptaTratamientoDatos = *p.AceptaTratamientoDatos
	}
}

// ResolveLogo fills LogoURL from the stored logo reference.
func (c *Clinic) ResolveLogo(resolve func(ref string) string) {
	if c.Logo == nil || *c.Logo == "" {
		c.LogoURL = nil
		return
	}
	u := resolve(*c.Logo)
	c.LogoURL = &u
}
