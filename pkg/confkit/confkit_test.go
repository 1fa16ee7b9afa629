package confkit_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowstore/pkg/confkit"
)

func TestResolvePath(t *testing.T) {
	t.Setenv("FLOW_DIR", "data")
	tests := []struct {
		name string
		base string
		file string
		want string
	}{
		{"absolute", "/base/dir", "/abs/tickers.yaml", "/abs/tickers.yaml"},
		{"relative", "/base/dir", "etc/tickers.yaml", "/base/dir/etc/tickers.yaml"},
		{"env expanded", "/base/dir", "${FLOW_DIR}/flow.duckdb", "/base/dir/data/flow.duckdb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, confkit.ResolvePath(tt.base, tt.file))
		})
	}
}

func TestSectionHydrate(t *testing.T) {
	t.Run("empty file", func(t *testing.T) {
		var s confkit.Section[string]
		err := s.Hydrate("/base", func(string) (*string, error) {
			t.Fatal("loader must not run")
			return nil, nil
		})
		require.NoError(t, err)
		assert.False(t, s.Loaded())
	})

	t.Run("loaded", func(t *testing.T) {
		s := confkit.Section[string]{File: "tickers.yaml"}
		v := "value"
		var got string
		err := s.Hydrate("/base", func(p string) (*string, error) {
			got = p
			return &v, nil
		})
		require.NoError(t, err)
		assert.Equal(t, "/base/tickers.yaml", got)
		assert.Equal(t, "/base/tickers.yaml", s.File)
		assert.True(t, s.Loaded())
	})

	t.Run("loader error", func(t *testing.T) {
		s := confkit.Section[string]{File: "x.yaml"}
		boom := errors.New("boom")
		err := s.Hydrate("/base", func(string) (*string, error) { return nil, boom })
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, "x.yaml", s.File)
	})
}

func TestDotenvFilesStopsAtModuleRoot(t *testing.T) {
	root := t.TempDir()
	mod := filepath.Join(root, "repo")
	nested := filepath.Join(mod, "cmd", "flowstore")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	for _, p := range []string{
		filepath.Join(root, ".env"),
		filepath.Join(mod, ".env"),
		filepath.Join(mod, "go.mod"),
		filepath.Join(nested, ".env"),
	} {
		require.NoError(t, os.WriteFile(p, []byte("X=1\n"), 0o600))
	}

	assert.Equal(t, []string{
		filepath.Join(nested, ".env"),
		filepath.Join(mod, ".env"),
	}, confkit.DotenvFiles(nested))
}
