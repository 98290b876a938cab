// Package formvalidation checks form data against form schemas.
package formvalidation

import (
	"context"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	"usrtaskmgt/internal/domain"
	"usrtaskmgt/internal/engine"
	"usrtaskmgt/internal/remote"
)

// Client implements engine.FormValidator.
type Client struct {
	HTTP *remote.Client
}

var _ engine.FormValidator = Client{}

type validateRequest struct {
	Data domain.Fields `json:"data"`
}

type validateResponse struct {
	Valid bool `json:"valid"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details struct {
			Errors []domain.FieldError `json:"errors"`
		} `json:"details"`
	} `json:"error"`
}

// Validate posts data to the schema of formKey. A 422 reply carrying field
// errors counts as an invalid result, not a transport failure.
func (c Client) Validate(ctx context.Context, formKey string, data domain.Fields) (engine.FormValidation, error) {
	var out validateResponse
	path := "api/form-submissions/" + url.PathEscape(formKey) + "/validate"
	err := c.HTTP.Do(ctx, http.MethodPost, path, nil, validateRequest{Data: data}, &out)
	if err != nil {
		se, ok := remote.AsStatus(err)
		if !ok || se.Status != http.StatusUnprocessableEntity {
			return engine.FormValidation{}, err
		}
		return engine.FormValidation{Errors: fieldErrors(se.Body)}, nil
	}
	if out.Valid {
		return engine.FormValidation{Valid: true}, nil
	}
	return engine.FormValidation{Errors: out.Error.Details.Errors}, nil
}

func fieldErrors(body []byte) []domain.FieldError {
	doc := gjson.ParseBytes(body)
	if e := doc.Get("error"); e.IsObject() {
		doc = e
	}
	var out []domain.FieldError
	doc.Get("details.errors").ForEach(func(_, v gjson.Result) bool {
		out = append(out, domain.FieldError{
			Field:   v.Get("field").String(),
			Message: v.Get("message").String(),
			Value:   v.Get("value").String(),
		})
		return true
	})
	if len(out) == 0 {
		out = append(out, domain.FieldError{Message: doc.Get("message").String()})
	}
	return out
}
