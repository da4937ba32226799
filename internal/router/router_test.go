package router_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/kapixcr/BioNote/internal/config"
	"github.com/kapixcr/BioNote/internal/email"
	"github.com/kapixcr/BioNote/internal/handler/health"
	"github.com/kapixcr/BioNote/internal/model"
	"github.com/kapixcr/BioNote/internal/repository/memory"
	"github.com/kapixcr/BioNote/internal/router"
	accountService "github.com/kapixcr/BioNote/internal/service/account"
	authService "github.com/kapixcr/BioNote/internal/service/auth"
	clinicService "github.com/kapixcr/BioNote/internal/service/clinic"
	"github.com/kapixcr/BioNote/internal/service/pairing"
	passwordService "github.com/kapixcr/BioNote/internal/service/password"
	testrecordService "github.com/kapixcr/BioNote/internal/service/testrecord"
	"github.com/kapixcr/BioNote/internal/storage"
	"github.com/kapixcr/BioNote/internal/throttle"
	"github.com/kapixcr/BioNote/internal/upload"
	"github.com/kapixcr/BioNote/pkg/auth"
	"github.com/kapixcr/BioNote/pkg/logger"
	"github.com/kapixcr/BioNote/pkg/metrics"
	"github.com/kapixcr/BioNote/pkg/security"
	"github.com/kapixcr/BioNote/pkg/validator"
)

const (
	adminEmail    = "admin@example.com"
	adminPassword = "adminpass1"
)

// TestResponse is the decoded response envelope.
type TestResponse struct {
	Code    int                    `json:"-"`
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Errors  map[string][]string    `json:"errors"`
	Data    map[string]interface{} `json:"-"`
	RawData json.RawMessage        `json:"data"`
}

func (r TestResponse) GetString(key string) string {
	if v, ok := r.Data[key].(string); ok {
		return v
	}
	return ""
}

// Object returns a nested object of Data.
func (r TestResponse) Object(key string) map[string]interface{} {
	v, _ := r.Data[key].(map[string]interface{})
	return v
}

type testServer struct {
	*httptest.Server
	store *memory.Store
	files *storage.Storage
}

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	if err := validator.RegisterGin(validator.Options{Countries: config.DefaultCountries}); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	os.Exit(m.Run())
}

func newServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	log := logger.Nop()
	store := memory.NewStore()
	files := storage.New(afero.NewMemMapFs(), "http://localhost/storage")
	registry := prometheus.NewRegistry()
	m := metrics.New("test", registry)
	intake := upload.NewIntake(files, upload.Config{}, m, log)
	hasher := security.NewBcryptHasher(bcrypt.MinCost)
	limiter := throttle.NewMemory()

	pairs := pairing.NewService(store, hasher, intake, m, log)
	accounts := accountService.NewService(store, pairs, hasher, 15, log)
	require.NoError(t, accounts.EnsureAdmin(ctx, "Admin", adminEmail, adminPassword))

	svc := router.Services{
		Auth:        authService.NewService(store, auth.NewJWTService("secret", "bionote", time.Hour), hasher, limiter, authService.Limits{}, intake, m, log),
		Clinics:     clinicService.NewService(store, pairs, intake, config.DefaultCountries, 15, log),
		Accounts:    accounts,
		TestRecords: testrecordService.NewService(store, intake, 15, log),
		Passwords:   passwordService.NewService(store, pairs, email.NewLogService(log), limiter, passwordService.Limits{}, "http://app", m, log),
	}
	r := router.NewRouter(svc, files, map[string]health.Checker{"database": store}, registry, m, log, router.RouterConfig{
		RequestTimeout: 10 * time.Second,
	})

	srv := httptest.NewServer(r.Engine())
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: store, files: files}
}

func (s *testServer) do(t *testing.T, req *http.Request, token string) TestResponse {
	t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := TestResponse{Code: resp.StatusCode}
	require.NoError(t, json.Unmarshal(body, &out), string(body))
	if len(out.RawData) > 0 {
		_ = json.Unmarshal(out.RawData, &out.Data)
	}
	return out
}

func (s *testServer) makeRequest(t *testing.T, method, path string, body interface{}, token string) TestResponse {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return s.do(t, req, token)
}

func (s *testServer) multipartRequest(t *testing.T, path string, fields map[string]string, file string, content []byte, token string) TestResponse {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if file != "" {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="upload.png"`, file))
		h.Set("Content-Type", "image/png")
		fw, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req, err := http.NewRequest(http.MethodPost, s.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return s.do(t, req, token)
}

func registration(email, usuario string) map[string]interface{} {
	return map[string]interface{}{
		"veterinaria":                  "Clinica Central",
		"responsable":                  "Ana Lopez",
		"direccion":                    "6a Avenida, Zona 10",
		"telefono":                     "+502 5555-1234",
		"email":                        email,
		"registro_oficial_veterinario": "RV-001",
		"ciudad":                       "Guatemala",
		"provincia_departamento":       "Guatemala",
		"pais":                         "GUATEMALA",
		"usuario":                      usuario,
		"password":                     "secret123",
		"repetir_password":             "secret123",
		"acepta_terminos":              true,
		"acepta_tratamiento_datos":     true,
	}
}

// registerAndLogin returns the clinic id and a clinic token.
func (s *testServer) registerAndLogin(t *testing.T, email, usuario string) (string, string) {
	t.Helper()
	resp := s.makeRequest(t, http.MethodPost, "/api/veterinarias/registro", registration(email, usuario), "")
	require.Equal(t, http.StatusCreated, resp.Code, resp.Message)

	login := s.makeRequest(t, http.MethodPost, "/api/auth/login", map[string]string{
		"usuario": usuario, "password": "secret123",
	}, "")
	require.Equal(t, http.StatusOK, login.Code, login.Message)
	return resp.GetString("id"), login.GetString("token")
}

func (s *testServer) adminToken(t *testing.T) string {
	t.Helper()
	login := s.makeRequest(t, http.MethodPost, "/api/auth/admin/login", map[string]string{
		"usuario": adminEmail, "password": adminPassword,
	}, "")
	require.Equal(t, http.StatusOK, login.Code, login.Message)
	return login.GetString("token")
}

func (s *testServer) rows(t *testing.T) (clinics, accounts int) {
	t.Helper()
	ctx := context.Background()
	c, err := s.store.Clinics().List(ctx, model.ClinicFilter{Pagination: model.Pagination{Page: 1, PerPage: 100}})
	require.NoError(t, err)
	a, err := s.store.Accounts().List(ctx, model.AccountFilter{Pagination: model.Pagination{Page: 1, PerPage: 100}})
	require.NoError(t, err)
	return c.Total, a.Total
}

func TestClinicRegistrationFlow(t *testing.T) {
	s := newServer(t)

	resp := s.makeRequest(t, http.MethodPost, "/api/veterinarias/registro", registration("vet@example.com", "vet1"), "")
	require.Equal(t, http.StatusCreated, resp.Code, resp.Message)
	assert.True(t, resp.Success)
	assert.Equal(t, "GUATEMALA", resp.GetString("pais"))
	assert.NotContains(t, resp.Data, "password_hash")

	login := s.makeRequest(t, http.MethodPost, "/api/auth/login", map[string]string{
		"usuario": "vet1", "password": "secret123",
	}, "")
	require.Equal(t, http.StatusOK, login.Code, login.Message)
	assert.Equal(t, "Bearer", login.GetString("token_type"))
	token := login.GetString("token")
	require.NotEmpty(t, token)

	me := s.makeRequest(t, http.MethodGet, "/api/auth/me", nil, token)
	require.Equal(t, http.StatusOK, me.Code)
	assert.Equal(t, "clinic", me.GetString("type"))
	assert.Equal(t, "vet1", me.Object("veterinaria")["usuario"])
	assert.Equal(t, resp.GetString("id"), me.Object("veterinaria")["id"])

	clinics, accounts := s.rows(t)
	assert.Equal(t, 1, clinics)
	assert.Equal(t, 2, accounts)

	logout := s.makeRequest(t, http.MethodPost, "/api/auth/logout", nil, token)
	require.Equal(t, http.StatusOK, logout.Code)
	me = s.makeRequest(t, http.MethodGet, "/api/auth/me", nil, token)
	assert.Equal(t, http.StatusUnauthorized, me.Code)
}

func TestRegistrationRejectsMismatchedPassword(t *testing.T) {
	s := newServer(t)
	body := registration("vet@example.com", "vet1")
	body["repetir_password"] = "secret124"

	resp := s.makeRequest(t, http.MethodPost, "/api/veterinarias/registro", body, "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Errors, "repetir_password")

	clinics, accounts := s.rows(t)
	assert.Zero(t, clinics)
	assert.Equal(t, 1, accounts)
}

func TestRegistrationRejectsDomainRules(t *testing.T) {
	s := newServer(t)
	body := registration("vet@example.com", "vet1")
	body["pais"] = "MEXICO"
	body["telefono"] = "call me"
	body["acepta_terminos"] = false

	resp := s.makeRequest(t, http.MethodPost, "/api/veterinarias/registro", body, "")
	require.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.Contains(t, resp.Errors, "pais")
	assert.Contains(t, resp.Errors, "telefono")
	assert.Contains(t, resp.Errors, "acepta_terminos")
}

func TestRegistrationDuplicateEmail(t *testing.T) {
	s := newServer(t)
	s.registerAndLogin(t, "vet@example.com", "vet1")

	resp := s.makeRequest(t, http.MethodPost, "/api/veterinarias/registro", registration("vet@example.com", "vet2"), "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.Equal(t, []string{"The email has already been taken."}, resp.Errors["email"])
}

func TestMultipartRegistrationStoresLogo(t *testing.T) {
	s := newServer(t)
	fields := map[string]string{}
	for k, v := range registration("vet@example.com", "vet1") {
		fields[k] = fmt.Sprint(v)
	}
	fields["acepta_terminos"] = "1"
	fields["acepta_tratamiento_datos"] = "on"

	resp := s.multipartRequest(t, "/api/veterinarias/registro", fields, "logo", []byte("\x89PNG\r\n\x1a\nlogo"), "")
	require.Equal(t, http.StatusCreated, resp.Code, fmt.Sprint(resp.Message, resp.Errors))

	logo := resp.GetString("logo")
	require.NotEmpty(t, logo)
	assert.Equal(t, "http://localhost/storage/logos/"+logo, resp.GetString("logo_url"))
	assert.True(t, s.files.Exists(upload.SubdirLogos, logo))

	file, err := http.Get(s.URL + "/storage/logos/" + logo)
	require.NoError(t, err)
	defer file.Body.Close()
	assert.Equal(t, http.StatusOK, file.StatusCode)
}

func TestMultipartClinicUpdateReplacesLogo(t *testing.T) {
	s := newServer(t)
	fields := map[string]string{}
	for k, v := range registration("vet@example.com", "vet1") {
		fields[k] = fmt.Sprint(v)
	}
	resp := s.multipartRequest(t, "/api/veterinarias/registro", fields, "logo", []byte("\x89PNG\r\n\x1a\nfirst"), "")
	require.Equal(t, http.StatusCreated, resp.Code, fmt.Sprint(resp.Message, resp.Errors))
	id := resp.GetString("id")
	oldLogo := resp.GetString("logo")
	require.True(t, s.files.Exists(upload.SubdirLogos, oldLogo))

	login := s.makeRequest(t, http.MethodPost, "/api/auth/login", map[string]string{
		"usuario": "vet1", "password": "secret123",
	}, "")
	require.Equal(t, http.StatusOK, login.Code, login.Message)
	token := login.GetString("token")

	resp = s.multipartRequest(t, "/api/veterinarias/"+id+"/update", map[string]string{"ciudad": "Antigua"},
		"logo", []byte("\x89PNG\r\n\x1a\nsecond"), token)
	require.Equal(t, http.StatusOK, resp.Code, fmt.Sprint(resp.Message, resp.Errors))
	assert.Equal(t, "Antigua", resp.GetString("ciudad"))
	newLogo := resp.GetString("logo")
	assert.NotEqual(t, oldLogo, newLogo)
	assert.True(t, s.files.Exists(upload.SubdirLogos, newLogo))
	assert.False(t, s.files.Exists(upload.SubdirLogos, oldLogo))

	// A plain form value still sets a remote logo.
	resp = s.multipartRequest(t, "/api/veterinarias/"+id+"/update",
		map[string]string{"logo": "https://cdn.example.com/logo.png"}, "", nil, token)
	require.Equal(t, http.StatusOK, resp.Code, fmt.Sprint(resp.Message, resp.Errors))
	assert.Equal(t, "https://cdn.example.com/logo.png", resp.GetString("logo"))
	assert.False(t, s.files.Exists(upload.SubdirLogos, newLogo))
}

func TestClinicUpdateRejectsBlankUsuario(t *testing.T) {
	s := newServer(t)
	id, token := s.registerAndLogin(t, "vet@example.com", "vet1")

	resp := s.makeRequest(t, http.MethodPut, "/api/veterinarias/"+id, map[string]string{"usuario": "   "}, token)
	require.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.Contains(t, resp.Errors, "usuario")

	login := s.makeRequest(t, http.MethodPost, "/api/auth/login", map[string]string{
		"usuario": "vet1", "password": "secret123",
	}, "")
	assert.Equal(t, http.StatusOK, login.Code)
}

func TestClinicAccessIsScoped(t *testing.T) {
	s := newServer(t)
	firstID, firstToken := s.registerAndLogin(t, "a@example.com", "vet1")
	secondID, _ := s.registerAndLogin(t, "b@example.com", "vet2")

	resp := s.makeRequest(t, http.MethodGet, "/api/veterinarias/"+secondID, nil, firstToken)
	assert.Equal(t, http.StatusForbidden, resp.Code)
	resp = s.makeRequest(t, http.MethodPut, "/api/veterinarias/"+secondID, map[string]string{"ciudad": "Antigua"}, firstToken)
	assert.Equal(t, http.StatusForbidden, resp.Code)
	resp = s.makeRequest(t, http.MethodDelete, "/api/veterinarias/"+secondID, nil, firstToken)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = s.makeRequest(t, http.MethodGet, "/api/veterinarias/"+firstID, nil, firstToken)
	assert.Equal(t, http.StatusOK, resp.Code)

	list := s.makeRequest(t, http.MethodGet, "/api/veterinarias", nil, firstToken)
	require.Equal(t, http.StatusOK, list.Code)
	assert.Len(t, list.Data["items"], 1)

	admin := s.adminToken(t)
	list = s.makeRequest(t, http.MethodGet, "/api/veterinarias?pais=guatemala", nil, admin)
	require.Equal(t, http.StatusOK, list.Code)
	assert.Len(t, list.Data["items"], 2)
	assert.EqualValues(t, 2, list.Object("pagination")["total"])

	resp = s.makeRequest(t, http.MethodGet, "/api/veterinarias/not-a-uuid", nil, admin)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestClinicUpdateSyncsAccount(t *testing.T) {
	s := newServer(t)
	id, token := s.registerAndLogin(t, "vet@example.com", "vet1")

	resp := s.makeRequest(t, http.MethodPut, "/api/veterinarias/"+id, map[string]interface{}{
		"email":       "new@example.com",
		"responsable": "Luis Perez",
	}, token)
	require.Equal(t, http.StatusOK, resp.Code, fmt.Sprint(resp.Errors))
	assert.Equal(t, "new@example.com", resp.GetString("email"))

	account, err := s.store.Accounts().GetByEmail(context.Background(), "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Luis Perez", account.Name)
}

func TestTestRecords(t *testing.T) {
	s := newServer(t)
	_, token := s.registerAndLogin(t, "vet@example.com", "vet1")
	_, otherToken := s.registerAndLogin(t, "other@example.com", "vet2")

	record := map[string]interface{}{
		"fecha":          "2024-05-01",
		"especie":        "Canino",
		"nombre_mascota": "Firulais",
		"sexo":           "Macho",
		"raza":           "Mestizo",
		"edad":           -1,
		"nombre_prueba":  "Leptospira",
		"titulacion":     map[string]string{"ifi": "1:64"},
	}
	resp := s.makeRequest(t, http.MethodPost, "/api/pruebas", record, token)
	require.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.Contains(t, resp.Errors, "edad")

	record["edad"] = 3
	resp = s.makeRequest(t, http.MethodPost, "/api/pruebas", record, token)
	require.Equal(t, http.StatusCreated, resp.Code, fmt.Sprint(resp.Errors))
	id := resp.GetString("id")
	assert.Equal(t, map[string]interface{}{"ifi": "1:64"}, resp.Data["titulacion"])

	mine := s.makeRequest(t, http.MethodGet, "/api/pruebas/my-pruebas", nil, token)
	require.Equal(t, http.StatusOK, mine.Code)
	assert.Equal(t, "veterinaria", mine.GetString("user_type"))
	assert.Len(t, mine.Data["items"], 1)

	resp = s.makeRequest(t, http.MethodGet, "/api/pruebas/"+id, nil, otherToken)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = s.multipartRequest(t, "/api/pruebas/"+id+"/update", map[string]string{"raza": "Labrador"}, "fotos[0]", []byte("\x89PNG\r\n\x1a\nfoto"), token)
	require.Equal(t, http.StatusOK, resp.Code, fmt.Sprint(resp.Errors))
	assert.Equal(t, "Labrador", resp.GetString("raza"))
	assert.Len(t, resp.Data["fotos_url"], 1)

	resp = s.makeRequest(t, http.MethodDelete, "/api/pruebas/"+id, nil, token)
	assert.Equal(t, http.StatusOK, resp.Code)
	resp = s.makeRequest(t, http.MethodGet, "/api/pruebas/"+id, nil, token)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestAdminRoutes(t *testing.T) {
	s := newServer(t)
	_, clinicToken := s.registerAndLogin(t, "vet@example.com", "vet1")

	resp := s.makeRequest(t, http.MethodGet, "/api/users", nil, clinicToken)
	assert.Equal(t, http.StatusForbidden, resp.Code)
	resp = s.makeRequest(t, http.MethodGet, "/api/users", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	admin := s.adminToken(t)
	me := s.makeRequest(t, http.MethodGet, "/api/auth/admin/me", nil, admin)
	require.Equal(t, http.StatusOK, me.Code)
	assert.Equal(t, adminEmail, me.Object("user")["email"])

	resp = s.makeRequest(t, http.MethodPost, "/api/users", map[string]string{
		"name": "Staff", "email": "vet@example.com", "password": "secret123",
	}, admin)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.Contains(t, resp.Errors, "email")

	resp = s.makeRequest(t, http.MethodPost, "/api/users", map[string]string{
		"name": "Staff", "email": "staff@example.com", "password": "secret123",
	}, admin)
	require.Equal(t, http.StatusCreated, resp.Code, fmt.Sprint(resp.Errors))
	assert.Equal(t, "user", resp.GetString("role"))

	list := s.makeRequest(t, http.MethodGet, "/api/users?search=staff", nil, admin)
	require.Equal(t, http.StatusOK, list.Code)
	assert.Len(t, list.Data["items"], 1)

	// A clinic's login does not work on the admin endpoint.
	resp = s.makeRequest(t, http.MethodPost, "/api/auth/admin/login", map[string]string{
		"usuario": "vet@example.com", "password": "secret123",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestPasswordForgotAlwaysSucceeds(t *testing.T) {
	s := newServer(t)
	for _, addr := range []string{"nobody@example.com", adminEmail} {
		resp := s.makeRequest(t, http.MethodPost, "/api/auth/password/forgot", map[string]string{"email": addr}, "")
		assert.Equal(t, http.StatusOK, resp.Code)
		assert.True(t, resp.Success)
	}

	resp := s.makeRequest(t, http.MethodPost, "/api/auth/password/reset", map[string]string{
		"email": adminEmail, "token": "guess", "password": "brandnew1", "password_confirmation": "brandnew1",
	}, "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}

func TestPublicEndpoints(t *testing.T) {
	s := newServer(t)

	resp := s.makeRequest(t, http.MethodGet, "/api/veterinarias/paises", nil, "")
	require.Equal(t, http.StatusOK, resp.Code)
	var countries []string
	require.NoError(t, json.Unmarshal(resp.RawData, &countries))
	assert.Contains(t, countries, "GUATEMALA")

	resp = s.makeRequest(t, http.MethodGet, "/api/nothing-here", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.False(t, resp.Success)

	ready, err := http.Get(s.URL + "/health/ready")
	require.NoError(t, err)
	ready.Body.Close()
	assert.Equal(t, http.StatusOK, ready.StatusCode)

	metricsResp, err := http.Get(s.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(metricsResp.Body)
	metricsResp.Body.Close()
	assert.Contains(t, string(body), "test_http_requests_total")
}
