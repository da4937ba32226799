package model

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateJSON(t *testing.T) {
	var d Date
	require.NoError(t, json.Unmarshal([]byte(`"2024-03-05"`), &d))
	assert.Equal(t, "2024-03-05", d.String())

	b, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `"2024-03-05"`, string(b))

	b, err = json.Marshal(Date{})
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))

	assert.Error(t, json.Unmarshal([]byte(`"05/03/2024"`), &d))
}

func TestDateScanTruncatesTimestamps(t *testing.T) {
	var d Date
	require.NoError(t, d.Scan("2024-03-05T00:00:00Z"))
	assert.Equal(t, "2024-03-05", d.String())
}

func TestJSONPayload(t *testing.T) {
	var p JSONPayload
	require.NoError(t, json.Unmarshal([]byte(`{"ifi":"1:64"}`), &p))
	assert.True(t, p.IsStructured())

	// Clients that stringify the payload are accepted too.
	require.NoError(t, json.Unmarshal([]byte(`"[1,2]"`), &p))
	assert.Equal(t, "[1,2]", string(p))

	_, err := ParseJSONPayload("42")
	assert.ErrorIs(t, err, ErrNotStructured)
	_, err = ParseJSONPayload("{broken")
	assert.ErrorIs(t, err, ErrNotStructured)

	empty, err := ParseJSONPayload("  ")
	require.NoError(t, err)
	assert.True(t, empty.IsEmpty())

	b, err := json.Marshal(struct {
		P JSONPayload `json:"p"`
	}{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"p":null}`, string(b))
}

func TestStringList(t *testing.T) {
	var l StringList
	require.NoError(t, l.Scan([]byte(`["a.jpg","b.png"]`)))
	assert.Equal(t, StringList{"a.jpg", "b.png"}, l)

	v, err := StringList(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)

	b, err := json.Marshal(StringList(nil))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(b))
}

func TestPaginationNormalize(t *testing.T) {
	assert.Equal(t, Pagination{Page: 1, PerPage: 15}, Pagination{}.Normalize(15))
	assert.Equal(t, Pagination{Page: 3, PerPage: MaxPerPage}, Pagination{Page: 3, PerPage: 1000}.Normalize(15))
	assert.Equal(t, 30, Pagination{Page: 3, PerPage: 15}.Offset())
}

func TestPrincipalAccess(t *testing.T) {
	clinic := &Clinic{Base: Base{ID: uuid.New()}}
	other := uuid.New()

	cp := &Principal{Kind: PrincipalClinic, Scope: ScopeClinic, Clinic: clinic}
	assert.True(t, cp.CanAccessClinic(clinic.ID))
	assert.False(t, cp.CanAccessClinic(other))
	assert.False(t, cp.IsAdmin())

	admin := &Principal{Kind: PrincipalAccount, Scope: ScopeAdmin, Account: &Account{Role: RoleAdmin}}
	assert.True(t, admin.IsAdmin())
	assert.True(t, admin.CanAccessClinic(other))

	// An admin account with a clinic-scoped token has no admin rights.
	weak := &Principal{Kind: PrincipalAccount, Scope: ScopeClinic, Account: &Account{Role: RoleAdmin}}
	assert.False(t, weak.IsAdmin())

	var nobody *Principal
	assert.False(t, nobody.IsAdmin())
}

func TestClinicPatchApply(t *testing.T) {
	c := &Clinic{Veterinaria: "Old", Email: "old@example.com", AceptaTerminos: true}
	name := "New"
	email := "  NEW@Example.com "
	no := false

	ClinicPatch{Veterinaria: &name, Email: &email, AceptaTerminos: &no}.Apply(c)

	assert.Equal(t, "New", c.Veterinaria)
	assert.Equal(t, "new@example.com", c.Email)
	assert.False(t, c.AceptaTerminos)
}

func TestResolveLogo(t *testing.T) {
	resolve := func(ref string) string { return "http://files/logos/" + ref }

	c := &Clinic{}
	c.ResolveLogo(resolve)
	assert.Nil(t, c.LogoURL)

	ref := "1700000000_abc.png"
	c.Logo = &ref
	c.ResolveLogo(resolve)
	require.NotNil(t, c.LogoURL)
	assert.Equal(t, "http://files/logos/1700000000_abc.png", *c.LogoURL)
}
