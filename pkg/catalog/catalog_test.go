package catalog

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datamancy/toolhost/pkg/hosterror"
)

func echoDefinition() Definition {
	return Definition{
		Name:        "echo",
		Description: "Returns its input",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message": map[string]any{"type": "string"},
			},
			"required":             []string{"message"},
			"additionalProperties": false,
		},
	}
}

func echoHandler(ctx context.Context, args map[string]any, caller string) (any, error) {
	return args["message"], nil
}

func TestCatalog_RegisterAndLookup(t *testing.T) {
	c := New(zerolog.Nop())
	require.NoError(t, c.Register(echoDefinition(), echoHandler))
	c.Seal()

	entry, err := c.Lookup("echo")
	require.NoError(t, err)
	assert.Equal(t, "echo", entry.Definition.Name)
	assert.NotNil(t, entry.Schema)

	result, err := entry.Handler(context.Background(), map[string]any{"message": "hi"}, "")
	require.NoError(t, err)
	assert.Equal(t, "hi", result)
}

func TestCatalog_DuplicateNameFails(t *testing.T) {
	c := New(zerolog.Nop())
	require.NoError(t, c.Register(echoDefinition(), echoHandler))

	err := c.Register(echoDefinition(), echoHandler)
	require.Error(t, err)
	assert.Equal(t, hosterror.CodeLoadError, hosterror.CodeOf(err))
	assert.Contains(t, err.Error(), "duplicate tool name: echo")
	assert.Equal(t, 1, c.Len())
}

func TestCatalog_RegistrationClosedAfterSeal(t *testing.T) {
	c := New(zerolog.Nop())
	c.Seal()

	err := c.Register(echoDefinition(), echoHandler)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sealed")
}

func TestCatalog_LookupUnknownTool(t *testing.T) {
	c := New(zerolog.Nop())
	c.Seal()

	_, err := c.Lookup("nope")
	assert.Equal(t, hosterror.CodeNotFound, hosterror.CodeOf(err))
}

func TestCatalog_LookupBeforeSealFails(t *testing.T) {
	c := New(zerolog.Nop())
	require.NoError(t, c.Register(echoDefinition(), echoHandler))

	_, err := c.Lookup("echo")
	assert.Error(t, err)
}

func TestCatalog_ConcurrentReadsAfterSeal(t *testing.T) {
	c := New(zerolog.Nop())
	require.NoError(t, c.Register(echoDefinition(), echoHandler))
	c.Seal()

	// Dispatch and the tools listing hit the catalog from many
	// goroutines at once; run under -race this proves the sealed
	// read side needs no coordination.
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				entry, err := c.Lookup("echo")
				assert.NoError(t, err)
				assert.NotNil(t, entry)
				assert.True(t, c.Sealed())
				assert.Len(t, c.List(), 1)
			}
		}()
	}
	wg.Wait()
}

func TestCatalog_InvalidDefinitions(t *testing.T) {
	c := New(zerolog.Nop())

	tests := []struct {
		name    string
		def     Definition
		handler Handler
	}{
		{"empty name", Definition{Description: "d"}, echoHandler},
		{"empty description", Definition{Name: "t"}, echoHandler},
		{"nil handler", echoDefinition(), nil},
		{
			"bad schema",
			Definition{
				Name:        "bad",
				Description: "d",
				Parameters:  map[string]any{"type": 42},
			},
			echoHandler,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Register(tt.def, tt.handler)
			require.Error(t, err)
			assert.Equal(t, hosterror.CodeLoadError, hosterror.CodeOf(err))
		})
	}
}

func TestCatalog_List(t *testing.T) {
	c := New(zerolog.Nop())
	b := echoDefinition()
	b.Name = "beta"
	a := echoDefinition()
	a.Name = "alpha"
	require.NoError(t, c.Register(b, echoHandler))
	require.NoError(t, c.Register(a, echoHandler))
	c.Seal()

	defs := c.List()
	require.Len(t, defs, 2)
	assert.Equal(t, "alpha", defs[0].Name)
	assert.Equal(t, "beta", defs[1].Name)
}

func TestCatalog_RemovePlugin(t *testing.T) {
	c := New(zerolog.Nop())
	def := echoDefinition()
	def.PluginID = "postgres-tools"
	require.NoError(t, c.Register(def, echoHandler))

	other := echoDefinition()
	other.Name = "keep"
	other.PluginID = "other"
	require.NoError(t, c.Register(other, echoHandler))

	c.RemovePlugin("postgres-tools")
	assert.Equal(t, 1, c.Len())
}
