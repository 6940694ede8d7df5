package app

import (
	"context"
	"errors"
	"fmt"

	"conventions/internal/config"
	"conventions/internal/repo"
)

// ResolveSchoolAndConfig picks the active school and makes sure its config is
// stored, seeding defaults (or the workspace conventions.yml) when missing.
// It prefers the override, then the only school in the database.
func ResolveSchoolAndConfig(ctx context.Context, workspace, schoolOverride string, r repo.Repo) (string, *config.Config, error) {
	schoolID := schoolOverride
	if schoolID == "" {
		id, err := r.SingleSchool(ctx)
		switch {
		case err == nil:
			schoolID = id
		case errors.Is(err, repo.ErrNotFound):
			schoolID = "default"
		default:
			return "", nil, err
		}
	}
	cfg, err := r.GetSchoolConfig(ctx, schoolID)
	if err == nil {
		cfg.School.ID = schoolID
		return schoolID, cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return "", nil, err
	}
	seed, err := seedConfig(workspace, schoolID)
	if err != nil {
		return "", nil, err
	}
	if err := r.UpsertSchoolConfig(ctx, schoolID, seed); err != nil {
		return "", nil, fmt.Errorf("seed school config: %w", err)
	}
	return schoolID, seed, nil
}

func seedConfig(workspace, schoolID string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", config.Path(workspace), err)
	}
	if cfg == nil {
		cfg = config.Default(schoolID)
	}
	cfg.School.ID = schoolID
	return cfg, nil
}
