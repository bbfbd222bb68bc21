package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"locallift/internal/apperr"
	"locallift/internal/models"

	"github.com/google/uuid"
)

type CreateProjectRequest struct {
	Title    string          `json:"title" validate:"required"`
	Type     string          `json:"type" validate:"required"`
	Input    json.RawMessage `json:"input" validate:"required"`
	OutputMD *string         `json:"output_md"`
}

type UpdateProjectRequest struct {
	Title    *string `json:"title"`
	OutputMD *string `json:"output_md"`
}

var errProjectNotFound = fmt.Errorf("%w: project not found", apperr.ErrNotFound)

func (s *Service) ListProjects(ctx context.Context, userID string) ([]models.Project, error) {
	return s.store.ListProjects(ctx, userID)
}

// CreateProject saves generated content together with the input that produced it.
func (s *Service) CreateProject(ctx context.Context, userID string, req CreateProjectRequest) (models.Project, error) {
	title, kind := strings.TrimSpace(req.Title), strings.TrimSpace(req.Type)
	input := bytes.TrimSpace(req.Input)
	if title == "" || kind == "" || len(input) == 0 || bytes.Equal(input, []byte("null")) {
		return models.Project{}, fmt.Errorf("%w: missing fields", apperr.ErrInvalidRequest)
	}
	if !json.Valid(input) {
		return models.Project{}, fmt.Errorf("%w: input must be JSON", apperr.ErrInvalidRequest)
	}
	return s.store.CreateProject(ctx, models.Project{
		UserID:   userID,
		Title:    title,
		Type:     kind,
		Input:    json.RawMessage(input),
		OutputMD: req.OutputMD,
	})
}

// GetProject returns a project of userID. Other users' projects are not found.
func (s *Service) GetProject(ctx context.Context, userID, id string) (models.Project, error) {
	if !validProjectID(id) {
		return models.Project{}, errProjectNotFound
	}
	p, err := s.store.GetProject(ctx, userID, id)
	return p, projectError(err)
}

func (s *Service) UpdateProject(ctx context.Context, userID, id string, req UpdateProjectRequest) (models.Project, error) {
	if !validProjectID(id) {
		return models.Project{}, errProjectNotFound
	}
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		return models.Project{}, fmt.Errorf("%w: title cannot be empty", apperr.ErrInvalidRequest)
	}
	p, err := s.store.UpdateProject(ctx, userID, id, models.ProjectUpdate{Title: req.Title, OutputMD: req.OutputMD})
	return p, projectError(err)
}

// DeleteProject is idempotent.
func (s *Service) DeleteProject(ctx context.Context, userID, id string) error {
	if !validProjectID(id) {
		return nil
	}
	return s.store.DeleteProject(ctx, userID, id)
}

func validProjectID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func projectError(err error) error {
	if errors.Is(err, apperr.ErrNotFound) {
		return errProjectNotFound
	}
	return err
}
