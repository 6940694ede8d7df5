package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"conventions/internal/catalog"
	"conventions/internal/domain"
	"conventions/internal/engine"
	"conventions/internal/engine/auth"
)

type conventionPath struct {
	ID string `path:"id"`
}

func conventionResponse(e engine.Engine, c domain.Convention, periods []domain.StagePeriod) ConventionResponse {
	return ConventionResponse{
		Convention: c,
		Periods:    nonNilSlice(periods),
		Title:      catalog.Title(e.Config, c.ConventionType),
		Code:       catalog.Code(e.Config, c.ConventionType),
	}
}

// requireOwnerOrStaff lets the creator or anyone allowed to read every
// convention act on c.
func requireOwnerOrStaff(p Principal, c domain.Convention) error {
	if c.CreatedBy == p.ActorID {
		return nil
	}
	return auth.Require(p.Roles, p.Permissions, auth.PermConventionReadAll)
}

// readableConvention loads a convention the caller may read.
func readableConvention(ctx context.Context, e engine.Engine, id string) (domain.Convention, error) {
	p, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return domain.Convention{}, authErr
	}
	c, err := e.GetConvention(ctx, id)
	if err != nil {
		return domain.Convention{}, handleError(err)
	}
	if err := requireOwnerOrStaff(p, c); err != nil {
		return domain.Convention{}, handleError(err)
	}
	return c, nil
}

func registerConventions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-convention",
		Method:        http.MethodPost,
		Path:          "/conventions",
		Summary:       "Create a draft convention",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body ConventionRequest `json:"body"`
	}) (*struct {
		Body ConventionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, err := requirePermission(ctx, auth.PermConventionCreate)
		if err != nil {
			return nil, handleError(err)
		}
		conv, periods := input.Body.toDomain()
		c, stored, err := e.CreateConvention(ctx, engine.CreateConventionInput{Convention: conv, Periods: periods, ActorID: p.ActorID})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ConventionResponse `json:"body"`
		}{Body: conventionResponse(e, c, stored)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-conventions",
		Method:      http.MethodGet,
		Path:        "/conventions",
		Summary:     "List conventions",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
		Class  string `query:"class"`
		Type   string `query:"type"`
		Search string `query:"search"`
		Limit  int    `query:"limit"`
	}) (*struct {
		Body []domain.Convention `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.ListOptions{
			Filters: catalog.Filters{Status: input.Status, Class: input.Class, Type: input.Type, Search: input.Search},
			Limit:   input.Limit,
		}
		if !auth.HasPermission(p.Roles, p.Permissions, auth.PermConventionReadAll) {
			opts.CreatedBy = p.ActorID
		}
		items, err := e.ListConventions(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Convention `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-convention",
		Method:      http.MethodGet,
		Path:        "/conventions/{id}",
		Summary:     "Get convention",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *conventionPath) (*struct {
		Body ConventionResponse `json:"body"`
	}, error) {
		c, err := readableConvention(ctx, e, input.ID)
		if err != nil {
			return nil, err
		}
		periods, err := e.ListPeriods(ctx, c.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ConventionResponse `json:"body"`
		}{Body: conventionResponse(e, c, periods)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-convention",
		Method:      http.MethodPatch,
		Path:        "/conventions/{id}",
		Summary:     "Update a draft convention",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body ConventionRequest `json:"body"`
	}) (*struct {
		Body ConventionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		existing, err := e.GetConvention(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := requireOwnerOrStaff(p, existing); err != nil {
			return nil, handleError(err)
		}
		conv, periods := input.Body.toDomain()
		c, err := e.UpdateConvention(ctx, engine.UpdateConventionInput{ID: input.ID, Convention: conv, Periods: periods, ActorID: p.ActorID})
		if err != nil {
			return nil, handleError(err)
		}
		stored, err := e.ListPeriods(ctx, c.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ConventionResponse `json:"body"`
		}{Body: conventionResponse(e, c, stored)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-convention",
		Method:        http.MethodDelete,
		Path:          "/conventions/{id}",
		Summary:       "Delete convention",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *conventionPath) (*struct{}, error) {
		p, err := requirePermission(ctx, auth.PermConventionDelete)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteConvention(ctx, input.ID, p.ActorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-convention",
		Method:      http.MethodPost,
		Path:        "/conventions/{id}/submit",
		Summary:     "Open signature collection",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *conventionPath) (*struct {
		Body domain.Convention `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		existing, err := e.GetConvention(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := requireOwnerOrStaff(p, existing); err != nil {
			return nil, handleError(err)
		}
		c, err := e.SubmitConvention(ctx, input.ID, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Convention `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-periods",
		Method:      http.MethodGet,
		Path:        "/conventions/{id}/periods",
		Summary:     "List stage periods",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *conventionPath) (*struct {
		Body []domain.StagePeriod `json:"body"`
	}, error) {
		c, err := readableConvention(ctx, e, input.ID)
		if err != nil {
			return nil, err
		}
		periods, err := e.ListPeriods(ctx, c.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.StagePeriod `json:"body"`
		}{Body: nonNilSlice(periods)}, nil
	})
}
