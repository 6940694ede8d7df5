package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"conventions/internal/domain"
	"conventions/internal/engine"
	"conventions/internal/engine/auth"
)

func registerSignatures(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "signing-sequence",
		Method:      http.MethodGet,
		Path:        "/signing/sequence",
		Summary:     "Required signing order",
	}, func(ctx context.Context, input *struct {
		IsMinor bool `query:"is_minor"`
	}) (*struct {
		Body SequenceResponse `json:"body"`
	}, error) {
		seq := e.GetRequiredSequence(input.IsMinor)
		labels := make([]string, 0, len(seq))
		for _, r := range seq {
			labels = append(labels, r.Label())
		}
		return &struct {
			Body SequenceResponse `json:"body"`
		}{Body: SequenceResponse{IsMinor: input.IsMinor, Sequence: seq, Labels: labels}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-signatures",
		Method:      http.MethodGet,
		Path:        "/conventions/{id}/signatures",
		Summary:     "List signatures in signing order",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *conventionPath) (*struct {
		Body []SignatureResponse `json:"body"`
	}, error) {
		if _, err := readableConvention(ctx, e, input.ID); err != nil {
			return nil, err
		}
		sigs, err := e.ListSignatures(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []SignatureResponse `json:"body"`
		}{Body: mapSignatures(sigs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "signing-eligibility",
		Method:      http.MethodGet,
		Path:        "/conventions/{id}/signatures/eligibility",
		Summary:     "Which roles may sign now",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *conventionPath) (*struct {
		Body engine.Eligibility `json:"body"`
	}, error) {
		if _, err := readableConvention(ctx, e, input.ID); err != nil {
			return nil, err
		}
		el, err := e.GetSigningEligibility(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.Eligibility `json:"body"`
		}{Body: el}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "submit-signature",
		Method:        http.MethodPost,
		Path:          "/conventions/{id}/signatures",
		Summary:       "Sign a convention",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		ID   string      `path:"id"`
		Body SignRequest `json:"body"`
	}) (*struct {
		Body SignResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		role := domain.SignerRole(input.Body.SignerRole)
		if err := auth.CanSignAs(p.Roles, p.Permissions, role); err != nil {
			return nil, handleError(err)
		}
		ip, ua := clientInfo(ctx)
		res, err := e.SubmitSignature(ctx, engine.SubmitSignatureRequest{
			ConventionID: input.ID,
			Role:         role,
			SignerName:   input.Body.SignerName,
			SignerEmail:  input.Body.SignerEmail,
			Image:        input.Body.SignatureData,
			IPAddress:    ip,
			UserAgent:    ua,
			ActorID:      p.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SignResponse `json:"body"`
		}{Body: signResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "ready-to-print",
		Method:      http.MethodGet,
		Path:        "/conventions/{id}/ready",
		Summary:     "Readiness recomputed from signatures",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *conventionPath) (*struct {
		Body ReadyResponse `json:"body"`
	}, error) {
		c, err := readableConvention(ctx, e, input.ID)
		if err != nil {
			return nil, err
		}
		ready, err := e.IsReadyToPrint(ctx, c.ID)
		if err != nil {
			return nil, handleError(err)
		}
		director, err := e.HasDirectorSigned(ctx, c.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReadyResponse `json:"body"`
		}{Body: ReadyResponse{ConventionID: c.ID, Status: c.Status, ReadyToPrint: ready, DirectorSigned: director}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "document-bundle",
		Method:      http.MethodGet,
		Path:        "/conventions/{id}/document",
		Summary:     "Data needed to render the signed document",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *conventionPath) (*struct {
		Body engine.Bundle `json:"body"`
	}, error) {
		if _, err := readableConvention(ctx, e, input.ID); err != nil {
			return nil, err
		}
		b, err := e.DocumentBundle(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.Bundle `json:"body"`
		}{Body: b}, nil
	})
}
