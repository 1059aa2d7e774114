package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"schema-mapper/internal/domain"
)

// FileStore keeps artifacts on the local filesystem, one directory per run,
// using the well-known stage file names.
type FileStore struct {
	root string
}

func NewFileStore(root string) (*FileStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("repository: artifact directory must not be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("repository: create artifact directory: %w", err)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) runDir(runID string) (string, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" || runID != filepath.Base(runID) || runID == "." || runID == ".." {
		return "", fmt.Errorf("repository: invalid run id %q", runID)
	}
	return filepath.Join(s.root, runID), nil
}

// SaveArtifact writes the artifact through a temp file and rename so readers
// never observe a partial file.
func (s *FileStore) SaveArtifact(_ context.Context, a domain.Artifact) error {
	if !a.Stage.Valid() {
		return fmt.Errorf("repository: SaveArtifact: unknown stage %q", a.Stage)
	}
	dir, err := s.runDir(a.RunID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("repository: SaveArtifact: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".artifact-*")
	if err != nil {
		return fmt.Errorf("repository: SaveArtifact: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(a.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("repository: SaveArtifact write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("repository: SaveArtifact close: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, a.Stage.FileName())); err != nil {
		return fmt.Errorf("repository: SaveArtifact rename: %w", err)
	}
	return nil
}

func (s *FileStore) GetArtifact(_ context.Context, runID string, stage domain.Stage) (domain.Artifact, error) {
	if !stage.Valid() {
		return domain.Artifact{}, ErrNotFound
	}
	dir, err := s.runDir(runID)
	if err != nil {
		return domain.Artifact{}, err
	}
	path := filepath.Join(dir, stage.FileName())
	body, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.Artifact{}, ErrNotFound
	}
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("repository: GetArtifact: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("repository: GetArtifact: %w", err)
	}
	return domain.Artifact{
		RunID:       runID,
		Stage:       stage,
		ContentType: stage.ContentType(),
		Body:        body,
		CreatedAt:   info.ModTime().UTC(),
	}, nil
}

func (s *FileStore) ListArtifacts(ctx context.Context, runID string) ([]domain.Artifact, error) {
	dir, err := s.runDir(runID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: ListArtifacts: %w", err)
	}

	var stages []domain.Stage
	for _, e := range entries {
		if stage, ok := domain.StageFromFileName(e.Name()); ok && !e.IsDir() {
			stages = append(stages, stage)
		}
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i] < stages[j] })

	artifacts := make([]domain.Artifact, 0, len(stages))
	for _, stage := range stages {
		a, err := s.GetArtifact(ctx, runID, stage)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, nil
}
