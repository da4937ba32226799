// Package handler holds the request helpers shared by the HTTP handlers.
package handler

import (
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kapixcr/BioNote/internal/model"
	"github.com/kapixcr/BioNote/pkg/errors"
	"github.com/kapixcr/BioNote/pkg/validator"
)

// Flag is a boolean request field that also accepts the spellings HTML
// forms send: "1", "yes" and "on".
type Flag bool

func (f *Flag) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case bool:
		*f = Flag(t)
	case float64:
		*f = t == 1
	case string:
		return f.UnmarshalParam(t)
	case nil:
		*f = false
	default:
		return fmt.Errorf("invalid boolean %s", b)
	}
	return nil
}

// UnmarshalParam implements gin's binding.BindUnmarshaler for form values.
func (f *Flag) UnmarshalParam(param string) error {
	switch strings.ToLower(strings.TrimSpace(param)) {
	case "1", "true", "yes", "on":
		*f = true
	case "", "0", "false", "no", "off":
		*f = false
	default:
		return fmt.Errorf("invalid boolean %q", param)
	}
	return nil
}

func (f *Flag) Ptr() *bool {
	if f == nil {
		return nil
	}
	b := bool(*f)
	return &b
}

// Bind decodes the body (JSON, urlencoded or multipart, by Content-Type)
// into req and validates it.
func Bind(c *gin.Context, req interface{}) error {
	if err := c.ShouldBind(req); err != nil {
		return validator.Translate(err)
	}
	return nil
}

// BindQuery decodes and validates query parameters.
func BindQuery(c *gin.Context, req interface{}) error {
	if err := c.ShouldBindQuery(req); err != nil {
		return validator.Translate(err)
	}
	return nil
}

// MultipartForm returns the parsed multipart form, or nil for other bodies.
func MultipartForm(c *gin.Context) (*multipart.Form, error) {
	if !IsMultipart(c) {
		return nil, nil
	}
	form, err := c.MultipartForm()
	if err != nil && err != http.ErrNotMultipart {
		return nil, errors.Field("body", "The multipart body could not be parsed.")
	}
	return form, nil
}

func IsMultipart(c *gin.Context) bool {
	return strings.HasPrefix(c.ContentType(), "multipart/form-data")
}

// ParseID reads the :id path parameter. A malformed id cannot match any row.
func ParseID(c *gin.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, errors.NotFound("record", err)
	}
	return id, nil
}

// Paging reads page and per_page from the query. Invalid values fall back
// to the defaults applied by the services.
func Paging(c *gin.Context) model.Pagination {
	page, _ := strconv.Atoi(c.Query("page"))
	perPage, _ := strconv.Atoi(c.Query("per_page"))
	return model.Pagination{Page: page, PerPage: perPage}
}

// Trimmed returns nil for nil, otherwise the trimmed value.
func Trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	return &t
}
