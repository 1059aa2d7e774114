package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

// fakeAPI is a simple fake implementing ssmAPI for tests.
type fakeAPI struct {
	getOut  *ssm.GetParameterOutput
	getErr  error
	lastIn  *ssm.GetParameterInput
	callCnt int
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.lastIn = in
	f.callCnt++
	return f.getOut, f.getErr
}

func strPtr(s string) *string { return &s }

func valueOut(v string) *ssm.GetParameterOutput {
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("p"), Value: strPtr(v)}}
}

func TestGetParameter_HappyPath(t *testing.T) {
	api := &fakeAPI{getOut: valueOut(`{"k":"v"}`)}
	client, err := New(api, "/schema-mapper/")
	require.NoError(t, err)
	v, err := client.GetParameter(context.Background(), "llm-token")
	require.NoError(t, err)
	require.Equal(t, `{"k":"v"}`, v)
	require.Equal(t, "/schema-mapper/llm-token", *api.lastIn.Name)
	require.True(t, *api.lastIn.WithDecryption)
}

func TestGetParameter_AbsoluteNameIgnoresPrefix(t *testing.T) {
	api := &fakeAPI{getOut: valueOut("x")}
	client, err := New(api, "/schema-mapper")
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "/other/key")
	require.NoError(t, err)
	require.Equal(t, "/other/key", *api.lastIn.Name)
}

func TestGetParameter_NotFound(t *testing.T) {
	api := &fakeAPI{getErr: &types.ParameterNotFound{}}
	client, err := New(api, "/schema-mapper")
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "missing")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not found")
}

func TestGetOptional(t *testing.T) {
	api := &fakeAPI{getErr: &types.ParameterNotFound{}}
	client, err := New(api, "/schema-mapper")
	require.NoError(t, err)
	v, err := client.GetOptional(context.Background(), "config/model", "gpt-4o")
	require.NoError(t, err)
	require.Equal(t, "gpt-4o", v)

	api = &fakeAPI{getOut: valueOut("gpt-4.1")}
	client, err = New(api, "/schema-mapper")
	require.NoError(t, err)
	v, err = client.GetOptional(context.Background(), "config/model", "gpt-4o")
	require.NoError(t, err)
	require.Equal(t, "gpt-4.1", v)

	api = &fakeAPI{getErr: errors.New("throttled")}
	client, err = New(api, "/schema-mapper")
	require.NoError(t, err)
	_, err = client.GetOptional(context.Background(), "config/model", "gpt-4o")
	require.ErrorContains(t, err, "throttled")
}

func TestGetParameter_MissingValue(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("p"), Value: nil}}}
	client, err := New(api, "")
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing value")
}

func TestGetParameter_ApiError(t *testing.T) {
	api := &fakeAPI{getErr: errors.New("boom")}
	client, err := New(api, "")
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.ErrorContains(t, err, "boom")
}

func TestGetParameter_ClientNotInitialized(t *testing.T) {
	_, err := (&Client{}).GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not initialized")
}

func TestGetParameter_EmptyName(t *testing.T) {
	client, err := New(&fakeAPI{}, "/prefix")
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "  ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil, "/prefix")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}
