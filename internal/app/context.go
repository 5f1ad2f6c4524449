package app

import (
	"context"
	"errors"
	"fmt"

	"ventureline/internal/config"
	"ventureline/internal/engine"
	"ventureline/internal/repo"
)

// ResolveProjectAndConfig picks the active project and ensures a project +
// config exist in the DB, seeding defaults if missing. It prefers overrides,
// then the single-project DB. A missing project is initialized on the fly
// with the full six-phase pipeline.
func ResolveProjectAndConfig(ctx context.Context, workspace, projectOverride, actorID string, e engine.Engine) (string, *config.Config, error) {
	projectID := projectOverride
	if projectID == "" {
		if p, err := e.Repo.SingleProject(ctx); err == nil {
			projectID = p.ID
		} else {
			return "", nil, fmt.Errorf("project not specified; use --project")
		}
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if actorID == "" {
			actorID = "local-user"
		}
		if e.Config == nil {
			e.Config = config.Default(projectID)
		}
		if _, err := e.InitializeProject(ctx, projectID, "", actorID); err != nil {
			return "", nil, fmt.Errorf("initialize project: %w", err)
		}
	}
	cfg, err := e.Repo.GetProjectConfig(ctx, projectID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			cfg = config.Default(projectID)
			if err := e.Repo.UpsertProjectConfig(ctx, projectID, cfg); err != nil {
				return "", nil, fmt.Errorf("seed project config: %w", err)
			}
		} else {
			return "", nil, err
		}
	}
	cfg.Project.ID = projectID
	return projectID, cfg, nil
}
