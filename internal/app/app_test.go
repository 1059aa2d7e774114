package app

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/require"

	"schema-mapper/internal/config"
	"schema-mapper/internal/domain"
	"schema-mapper/internal/repository"
	"schema-mapper/internal/usecase"
)

func stubAWS(t *testing.T, err error) *int {
	t.Helper()
	calls := 0
	orig := loadAWSConfig
	loadAWSConfig = func(context.Context) (aws.Config, error) {
		calls++
		return aws.Config{Region: "eu-west-1"}, err
	}
	t.Cleanup(func() { loadAWSConfig = orig })
	return &calls
}

func mockConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.LLM.Provider = "mock"
	cfg.Artifacts.Dir = t.TempDir()
	return cfg
}

func TestBuild_MockProviderWithFileStore(t *testing.T) {
	calls := stubAWS(t, nil)
	cfg := mockConfig(t)

	a, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.Zero(t, *calls, "no AWS access without the parameter store or dynamodb")
	require.IsType(t, &repository.FileStore{}, a.Artifacts)

	out, err := a.Service.GenerateSQL(context.Background(), usecase.GenerateSQLInput{
		Mappings: []domain.ApprovedMapping{{
			Source: domain.MappingEndpoint{Field: "pid", Table: domain.TableRef{Name: "patients"}},
			Target: domain.MappingEndpoint{Field: "patient_id", Table: domain.TableRef{Name: "patient"}},
		}},
	})
	require.NoError(t, err)
	require.Contains(t, out.SQL, "mock completion for:")

	stored, err := a.Artifacts.GetArtifact(context.Background(), out.RunID, domain.StageSQL)
	require.NoError(t, err)
	require.Equal(t, out.SQL, string(stored.Body))
}

func TestBuild_NoArtifacts(t *testing.T) {
	stubAWS(t, nil)
	cfg := mockConfig(t)
	cfg.Artifacts.Backend = config.ArtifactsNone

	a, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.Nil(t, a.Artifacts)
}

func TestBuild_StaticKeySkipsParameterStore(t *testing.T) {
	calls := stubAWS(t, nil)
	cfg := mockConfig(t)
	cfg.LLM.Provider = "openai"
	cfg.LLM.APIKey = "sk-test"

	_, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.Zero(t, *calls)
}

func TestBuild_ParameterStoreRequiresPrefix(t *testing.T) {
	stubAWS(t, nil)
	cfg := mockConfig(t)
	cfg.LLM.Provider = "openai"

	_, err := Build(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "param_prefix")
}

func TestBuild_DynamoDBBackend(t *testing.T) {
	calls := stubAWS(t, nil)
	cfg := mockConfig(t)
	cfg.Artifacts.Backend = config.ArtifactsDynamoDB
	cfg.Artifacts.StateTable = "schema-mapper-runs"

	a, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.Equal(t, 1, *calls)
	require.IsType(t, &repository.Client{}, a.Artifacts)
}

func TestBuild_AWSConfigError(t *testing.T) {
	stubAWS(t, errors.New("no credentials"))
	cfg := mockConfig(t)
	cfg.Artifacts.Backend = config.ArtifactsDynamoDB
	cfg.Artifacts.StateTable = "schema-mapper-runs"

	_, err := Build(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "no credentials")
}
