package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"schema-mapper/internal/domain"
)

func TestFileStore_SaveWritesWellKnownNames(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileStore(root)
	require.NoError(t, err)

	for _, a := range []domain.Artifact{
		{RunID: "r1", Stage: domain.StageShortlist, Body: []byte(`{"union":["a"]}`)},
		{RunID: "r1", Stage: domain.StageMapping, Body: []byte(`[]`)},
		{RunID: "r1", Stage: domain.StageSQL, Body: []byte(`INSERT INTO t SELECT 1;`)},
	} {
		require.NoError(t, s.SaveArtifact(context.Background(), a))
	}

	for name, want := range map[string]string{
		"table_analysis.json": `{"union":["a"]}`,
		"mapping_fields.json": `[]`,
		"generated_sql.sql":   `INSERT INTO t SELECT 1;`,
	} {
		got, err := os.ReadFile(filepath.Join(root, "r1", name))
		require.NoError(t, err)
		require.Equal(t, want, string(got))
	}

	entries, err := os.ReadDir(filepath.Join(root, "r1"))
	require.NoError(t, err)
	require.Len(t, entries, 3, "temp files must not be left behind")
}

func TestFileStore_GetAndList(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.GetArtifact(ctx, "r2", domain.StageSQL)
	require.ErrorIs(t, err, ErrNotFound)

	list, err := s.ListArtifacts(ctx, "r2")
	require.NoError(t, err)
	require.Empty(t, list)

	require.NoError(t, s.SaveArtifact(ctx, domain.Artifact{RunID: "r2", Stage: domain.StageSQL, Body: []byte("SELECT 1")}))
	require.NoError(t, s.SaveArtifact(ctx, domain.Artifact{RunID: "r2", Stage: domain.StageMapping, Body: []byte("[]")}))
	require.NoError(t, s.SaveArtifact(ctx, domain.Artifact{RunID: "r2", Stage: domain.StageSQL, Body: []byte("SELECT 2")}))

	got, err := s.GetArtifact(ctx, "r2", domain.StageSQL)
	require.NoError(t, err)
	require.Equal(t, "SELECT 2", string(got.Body))
	require.Equal(t, domain.StageSQL.ContentType(), got.ContentType)
	require.False(t, got.CreatedAt.IsZero())

	list, err = s.ListArtifacts(ctx, "r2")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, domain.StageMapping, list[0].Stage)
	require.Equal(t, domain.StageSQL, list[1].Stage)
}

func TestFileStore_RejectsPathTraversal(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"", "..", "../escape", "a/b"} {
		err := s.SaveArtifact(context.Background(), domain.Artifact{RunID: id, Stage: domain.StageSQL})
		require.Error(t, err, id)
	}
}

func TestFileStore_UnknownStage(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.ErrorContains(t, s.SaveArtifact(context.Background(), domain.Artifact{RunID: "r", Stage: "x"}), "unknown stage")

	_, err = s.GetArtifact(context.Background(), "r", "x")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestNewFileStore_EmptyRoot(t *testing.T) {
	_, err := NewFileStore(" ")
	require.Error(t, err)
}
