// Package dso verifies signed form data with the digital signature service.
package dso

import (
	"context"
	"net/http"

	"usrtaskmgt/internal/domain"
	"usrtaskmgt/internal/engine"
	"usrtaskmgt/internal/remote"
)

// Client implements engine.SignatureVerifier.
type Client struct {
	HTTP *remote.Client
}

var _ engine.SignatureVerifier = Client{}

type verifyRequest struct {
	AllowedSubjects []domain.SubjectKind `json:"allowedSubjects,omitempty"`
	Signature       string               `json:"signature"`
	Data            string               `json:"data"`
}

type verifyResponse struct {
	Valid bool                  `json:"valid"`
	Error domain.SignatureError `json:"error"`
}

func (r verifyResponse) verification() engine.Verification {
	return engine.Verification{Valid: r.Valid, Error: r.Error}
}

// VerifyOfficer checks an officer signature over data.
func (c Client) VerifyOfficer(ctx context.Context, signature, data string) (engine.Verification, error) {
	var out verifyResponse
	req := verifyRequest{Signature: signature, Data: data}
	if err := c.HTTP.Do(ctx, http.MethodPost, "api/esignature/officer/verify", nil, req, &out); err != nil {
		return engine.Verification{}, err
	}
	return out.verification(), nil
}

// VerifyCitizen checks a citizen signature over data, accepting only signers
// of the allowed subject kinds. allowed is sent as given; callers apply the
// default and dedupe rule.
func (c Client) VerifyCitizen(ctx context.Context, allowed []domain.SubjectKind, signature, data string) (engine.Verification, error) {
	var out verifyResponse
	req := verifyRequest{AllowedSubjects: allowed, Signature: signature, Data: data}
	if err := c.HTTP.Do(ctx, http.MethodPost, "api/esignature/citizen/verify", nil, req, &out); err != nil {
		return engine.Verification{}, err
	}
	return out.verification(), nil
}
