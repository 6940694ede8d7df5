package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"

	"conventions/internal/accounts"
	"conventions/internal/catalog"
	"conventions/internal/domain"
	"conventions/internal/engine"
	"conventions/internal/engine/auth"
	"conventions/internal/repo"
)

func registerAuth(api huma.API, svc accounts.Service, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Exchange login and password for a token",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*struct {
		Body LoginResponse `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.Login) == "" || input.Body.Password == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "login and password are required", nil)
		}
		u, err := svc.Authenticate(ctx, input.Body.Login, input.Body.Password)
		if err != nil {
			return nil, handleError(err)
		}
		token, err := accounts.IssueToken(authCfg.JWTSecret, u, authCfg.TokenTTL, time.Now())
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body LoginResponse `json:"body"`
		}{Body: LoginResponse{Token: token, User: u}}, nil
	})

	if !authCfg.AllowDevLogin {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		for _, r := range input.Body.Roles {
			if !auth.ValidRole(r) {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid role %q", r), nil)
			}
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, input.Body.Roles)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func signDevToken(secret, actorID string, roles []string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	now := time.Now()
	claims := accounts.TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(12 * time.Hour)),
		},
		Roles: roles,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		perms := append(append([]string{}, p.Permissions...), auth.Permissions(p.Roles)...)
		resp := WhoAmIResponse{
			ActorID:     p.ActorID,
			Roles:       nonNilSlice(p.Roles),
			Permissions: nonNilSlice(perms),
		}
		for _, r := range p.Roles {
			if s, ok := auth.SignerRoleFor(r); ok {
				resp.SignerRole = string(s)
				break
			}
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: resp}, nil
	})
}

type dashboardQuery struct {
	Status string `query:"status"`
	Class  string `query:"class"`
	Type   string `query:"type"`
	Search string `query:"search"`
}

func (q dashboardQuery) options() engine.ListOptions {
	return engine.ListOptions{Filters: catalog.Filters{Status: q.Status, Class: q.Class, Type: q.Type, Search: q.Search}}
}

func registerDashboard(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "dashboard-stats",
		Method:      http.MethodGet,
		Path:        "/dashboard/stats",
		Summary:     "Convention counts by status",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *dashboardQuery) (*struct {
		Body catalog.Stats `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermConventionReadAll); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListConventions(ctx, input.options())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body catalog.Stats `json:"body"`
		}{Body: catalog.ComputeStats(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "dashboard-export",
		Method:      http.MethodGet,
		Path:        "/dashboard/export.csv",
		Summary:     "Export the filtered conventions as CSV",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *dashboardQuery) (*struct {
		ContentType        string `header:"Content-Type"`
		ContentDisposition string `header:"Content-Disposition"`
		Body               []byte
	}, error) {
		if _, err := requirePermission(ctx, auth.PermDashboardExport); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListConventions(ctx, input.options())
		if err != nil {
			return nil, handleError(err)
		}
		var buf bytes.Buffer
		if err := catalog.WriteCSV(&buf, items); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			ContentType        string `header:"Content-Type"`
			ContentDisposition string `header:"Content-Disposition"`
			Body               []byte
		}{
			ContentType:        "text/csv; charset=utf-8",
			ContentDisposition: fmt.Sprintf("attachment; filename=%q", catalog.ExportFilename(time.Now())),
			Body:               buf.Bytes(),
		}, nil
	})
}

func registerUsers(api huma.API, svc accounts.Service) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Create an account; the initial password is returned once",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateUserRequest `json:"body"`
	}) (*struct {
		Body CreateUserResponse `json:"body"`
	}, error) {
		p, err := requirePermission(ctx, auth.PermUserManage)
		if err != nil {
			return nil, handleError(err)
		}
		if input.Body.Role == auth.RoleSuperAdmin && !hasRole(p, auth.RoleSuperAdmin) {
			return nil, handleError(auth.ForbiddenError{Permission: auth.PermConfigManage})
		}
		u, creds, err := svc.Create(ctx, accounts.CreateRequest{
			Firstname: input.Body.Firstname,
			Lastname:  input.Body.Lastname,
			Birthdate: input.Body.Birthdate,
			Role:      input.Body.Role,
		}, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CreateUserResponse `json:"body"`
		}{Body: CreateUserResponse{User: u, Login: creds.Login, Email: creds.Email, Password: creds.Password}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List accounts",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Role string `query:"role"`
	}) (*struct {
		Body []domain.User `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermUserManage); err != nil {
			return nil, handleError(err)
		}
		users, err := svc.List(ctx, input.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.User `json:"body"`
		}{Body: nonNilSlice(users)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-user",
		Method:        http.MethodDelete,
		Path:          "/users/{id}",
		Summary:       "Delete an account and its API keys",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		p, err := requirePermission(ctx, auth.PermUserManage)
		if err != nil {
			return nil, handleError(err)
		}
		if input.ID == p.ActorID {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "cannot delete your own account", nil)
		}
		if err := svc.Delete(ctx, input.ID, p.ActorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func hasRole(p Principal, role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"convention,user,config"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermConventionReadAll); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEvents(ctx, repo.EventFilters{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Cursor:     cursorID,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}
