package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSource_MissingFileIsNotAnError(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "nope.txt"))

	content, ok, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, content)
}

func TestFileSource_FetchAndClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signal.txt")
	require.NoError(t, os.WriteFile(path, []byte("BTCUSD,buy,1700000000\n"), 0o644))
	src := NewFileSource(path)

	content, ok, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "BTCUSD,buy,1700000000\n", content)

	require.NoError(t, src.Clear(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data, "clear must truncate, not delete")
}

func TestFileSource_ClearMissingFile(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "gone.txt"))
	assert.NoError(t, src.Clear(context.Background()))
}

func TestRemoteSource_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("EURUSD,sell,100"))
	}))
	defer srv.Close()

	src := NewRemoteSource(srv.URL, "", 2*time.Second)
	content, ok, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "EURUSD,sell,100", content)
}

func TestRemoteSource_Non200IsFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	src := NewRemoteSource(srv.URL, "", 2*time.Second)
	_, _, err := src.Fetch(context.Background())
	assert.Error(t, err)
}

func TestRemoteSource_UnreachableHost(t *testing.T) {
	src := NewRemoteSource("http://127.0.0.1:1", "", 500*time.Millisecond)
	_, _, err := src.Fetch(context.Background())
	assert.Error(t, err)
}

func TestRemoteSource_Clear(t *testing.T) {
	cleared := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/clear" {
			cleared = true
		}
	}))
	defer srv.Close()

	src := NewRemoteSource(srv.URL, srv.URL+"/clear", 2*time.Second)
	require.NoError(t, src.Clear(context.Background()))
	assert.True(t, cleared)
}

func TestRemoteSource_ClearWithoutEndpointIsNoop(t *testing.T) {
	src := NewRemoteSource("http://example.invalid", "", time.Second)
	assert.NoError(t, src.Clear(context.Background()))
}
