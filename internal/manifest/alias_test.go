package manifest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenDecoding(t *testing.T) {
	var step Step
	raw := `{"component": "vm", "tokens": [{"expand": "executable"}, "run", {"expand": "lib_path"}, {"expand": "var_path"}, "genesis.dat"]}`
	require.NoError(t, json.Unmarshal([]byte(raw), &step))

	assert.Equal(t, "vm", step.Component)
	require.Len(t, step.Tokens, 5)
	assert.Equal(t, TokenExecutable, step.Tokens[0].Kind)
	assert.Equal(t, Literal("run"), step.Tokens[1])
	assert.Equal(t, TokenLibPath, step.Tokens[2].Kind)
	assert.Equal(t, TokenVarPath, step.Tokens[3].Kind)
	assert.Equal(t, "genesis.dat", step.Tokens[4].Text)
}

func TestTokenUnknownPlaceholder(t *testing.T) {
	var tok Token
	err := json.Unmarshal([]byte(`{"expand": "home_dir"}`), &tok)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedManifest)
}

func TestTokenEncodingRoundTrip(t *testing.T) {
	in := []Token{Literal("--fast"), {Kind: TokenExecutable}, {Kind: TokenVarPath}}
	raw, err := json.Marshal(in)
	require.NoError(t, err)

	var out []Token
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, in, out)
}

func TestChannelAliasLookup(t *testing.T) {
	m := mustParse(t, sampleManifest)
	ch, err := m.Channel("0.15.0")
	require.NoError(t, err)

	pipe := ch.Alias("run")
	require.Len(t, pipe, 1)
	assert.Equal(t, "vm", pipe[0].Component)

	assert.Nil(t, ch.Alias("debug"))
	assert.Equal(t, []string{"run"}, ch.AliasNames())
}
