package diffusion

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateExpression(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		wantErr    bool
	}{
		{name: "transit only", expression: `origin == "transit"`},
		{name: "neighbor match", expression: `neighbor != "1.1.1.1" && prefix_len <= 24`},
		{name: "empty", expression: "", wantErr: true},
		{name: "syntax error", expression: `origin ==`, wantErr: true},
		{name: "unknown variable", expression: `metric > 10`, wantErr: true},
		{name: "not boolean", expression: `prefix_len + 1`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateExpression(tt.expression)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPolicyPermit(t *testing.T) {
	policy, err := NewPolicy(`!(origin == "external" && asbr == "3.3.3.3")`)
	require.NoError(t, err)

	assert.False(t, policy.Permit(Candidate{
		Neighbor: routerA,
		Prefix:   netip.MustParsePrefix("192.168.0.0/16"),
		Origin:   OriginExternal,
		ASBR:     routerC,
	}))
	assert.True(t, policy.Permit(Candidate{
		Neighbor: routerA,
		Prefix:   netip.MustParsePrefix("192.168.0.0/16"),
		Origin:   OriginExternal,
		ASBR:     routerB,
	}))
}

func TestLoadPolicyFile(t *testing.T) {
	dir := t.TempDir()

	enabled := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(enabled, []byte(`
name: no-host-routes
state: enable
expression: prefix_len < 32
description: 不转发主机路由
`), 0o644))

	policy, err := LoadPolicyFile(enabled)
	require.NoError(t, err)
	require.NotNil(t, policy)
	assert.Equal(t, "prefix_len < 32", policy.Expression())

	disabled := filepath.Join(dir, "disabled.yaml")
	require.NoError(t, os.WriteFile(disabled, []byte("name: off\nstate: disable\nexpression: \"false\"\n"), 0o644))
	policy, err = LoadPolicyFile(disabled)
	assert.NoError(t, err)
	assert.Nil(t, policy)

	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("name: broken\nexpression: \"prefix_len +\"\n"), 0o644))
	_, err = LoadPolicyFile(broken)
	assert.Error(t, err)

	_, err = LoadPolicyFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
