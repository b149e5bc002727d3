package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskflow/taskflow/internal/ir"
)

func testRequirement() ir.Requirement {
	return ir.Requirement{
		ID:         "fetch/0",
		EffectType: "http_get",
		Params:     ir.Object{"url": ir.String("https://example.test")},
	}
}

func TestExecuteEffectSuccess(t *testing.T) {
	handlers := map[string]EffectHandler{
		"http_get": func(ctx context.Context, req ir.Requirement, snap ir.Snapshot, hc ir.HostContext) (any, error) {
			return []ir.Patch{ir.Set("data.body", ir.String("hello"))}, nil
		},
	}

	out := executeEffect(context.Background(), handlers, testRequirement(), ir.Genesis(nil, "h"), ir.HostContext{})
	assert.True(t, out.Success)
	require.Len(t, out.Patches, 1)
	assert.Equal(t, "data.body", out.Patches[0].Path)
}

func TestExecuteEffectHandlerError(t *testing.T) {
	handlers := map[string]EffectHandler{
		"http_get": func(ctx context.Context, req ir.Requirement, snap ir.Snapshot, hc ir.HostContext) (any, error) {
			return nil, errors.New("connection refused")
		},
	}

	out := executeEffect(context.Background(), handlers, testRequirement(), ir.Genesis(nil, "h"), ir.HostContext{})
	assert.False(t, out.Success)
	assert.Equal(t, ir.ErrCodeEffectFailed, out.Code)
	assert.Equal(t, "connection refused", out.Message)
}

func TestExecuteEffectRecoversPanic(t *testing.T) {
	handlers := map[string]EffectHandler{
		"http_get": func(ctx context.Context, req ir.Requirement, snap ir.Snapshot, hc ir.HostContext) (any, error) {
			panic("nil map write")
		},
	}

	out := executeEffect(context.Background(), handlers, testRequirement(), ir.Genesis(nil, "h"), ir.HostContext{})
	assert.False(t, out.Success)
	assert.Equal(t, ir.ErrCodeHandlerPanic, out.Code)
	assert.Equal(t, "nil map write", out.Message)
}

func TestExecuteEffectMissingHandler(t *testing.T) {
	out := executeEffect(context.Background(), map[string]EffectHandler{}, testRequirement(), ir.Genesis(nil, "h"), ir.HostContext{})
	assert.False(t, out.Success)
	assert.Equal(t, ir.ErrCodeHandlerMissing, out.Code)
}

func TestNormalizeResult(t *testing.T) {
	patch := ir.Set("data.x", ir.Int(1))

	cases := []struct {
		name    string
		in      any
		want    []ir.Patch
		wantErr bool
	}{
		{name: "nil", in: nil, want: nil},
		{name: "single patch", in: patch, want: []ir.Patch{patch}},
		{name: "patch slice", in: []ir.Patch{patch, patch}, want: []ir.Patch{patch, patch}},
		{name: "effect result", in: EffectResult{Patches: []ir.Patch{patch}}, want: []ir.Patch{patch}},
		{name: "effect result pointer", in: &EffectResult{Patches: []ir.Patch{patch}}, want: []ir.Patch{patch}},
		{name: "nil effect result pointer", in: (*EffectResult)(nil), want: nil},
		{name: "unsupported type", in: 42, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := normalizeResult(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "unsupported type")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizedErrorFailsOutcome(t *testing.T) {
	handlers := map[string]EffectHandler{
		"http_get": func(ctx context.Context, req ir.Requirement, snap ir.Snapshot, hc ir.HostContext) (any, error) {
			return "not a patch", nil
		},
	}

	out := executeEffect(context.Background(), handlers, testRequirement(), ir.Genesis(nil, "h"), ir.HostContext{})
	assert.False(t, out.Success)
	assert.Equal(t, ir.ErrCodeEffectFailed, out.Code)
	assert.Contains(t, out.Message, "unsupported type")
}
