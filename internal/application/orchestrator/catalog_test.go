package orchestrator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/tickgraph/internal/graphs"
	"github.com/aescanero/tickgraph/pkg/domain"
	"github.com/aescanero/tickgraph/pkg/orchestration"
)

func TestCatalogRegister(t *testing.T) {
	c := NewCatalog(NewValidator())

	require.NoError(t, c.Register(graphs.EchoName, "", graphs.Echo))
	assert.Error(t, c.Register(graphs.EchoName, "", graphs.Echo), "duplicate name")
	assert.Error(t, c.Register("", "", graphs.Echo))
	assert.Error(t, c.Register("nil", "", nil))

	noEntry := func(opts ...orchestration.Option) (orchestration.Executable, error) {
		return orchestration.New[int, int]("empty", opts...), nil
	}
	assert.Error(t, c.Register("empty", "", noEntry))

	_, err := c.Build("missing")
	assert.ErrorIs(t, err, domain.ErrGraphNotFound)
}

func TestCatalogBuildsFreshGraphs(t *testing.T) {
	c := NewCatalog(NewValidator())
	require.NoError(t, c.Register(graphs.EchoName, "", graphs.Echo))

	a, err := c.Build(graphs.EchoName, orchestration.WithRunID("a"))
	require.NoError(t, err)
	b, err := c.Build(graphs.EchoName)
	require.NoError(t, err)
	assert.NotSame(t, a, b)

	_, err = a.RunAny(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "a", a.RunID())
	assert.Equal(t, orchestration.StateUninitialized, b.State())
}

func TestDecodeInput(t *testing.T) {
	v := NewValidator()
	text, err := graphs.Text()
	require.NoError(t, err)

	in, err := v.DecodeInput(text, json.RawMessage(`{"text": "abc", "language": "en"}`))
	require.NoError(t, err)
	assert.Equal(t, graphs.TextInput{Text: "abc", Language: "en"}, in)

	_, err = v.DecodeInput(text, json.RawMessage(`{"text": 1}`))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = v.DecodeInput(text, json.RawMessage(`{"text": "a"} {"text": "b"}`))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	echo, err := graphs.Echo()
	require.NoError(t, err)

	in, err = v.DecodeInput(echo, nil)
	require.NoError(t, err)
	assert.Nil(t, in)

	in, err = v.DecodeInput(echo, json.RawMessage(`[1, "two"]`))
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1), "two"}, in)
}

func TestValidatorRejectsNil(t *testing.T) {
	assert.Error(t, NewValidator().Validate(nil))
}
