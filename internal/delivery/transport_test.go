package delivery

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"atelier-api/internal/artifacts"
	"atelier-api/internal/shared"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testHandle(t *testing.T, content string) *artifacts.Handle {
	t.Helper()
	path := filepath.Join(t.TempDir(), "img_test.png")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return &artifacts.Handle{Path: path, CreatedAt: time.Now()}
}

func destFor(t *testing.T, srv *httptest.Server) Destination {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return Destination{Host: u.Hostname(), Port: port}
}

func TestDeliverLocalReturnsPathUnchanged(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	handle := testHandle(t, "bytes")
	transport := NewTransport(time.Second, zap.NewNop().Sugar())

	for _, dest := range []Destination{{}, {Host: "localhost", Port: 8080}} {
		res, err := transport.Deliver(context.Background(), handle, dest)
		require.NoError(t, err)
		assert.Equal(t, handle.Path, res.Ref)
		assert.True(t, res.Local)
	}
	assert.EqualValues(t, 0, calls.Load(), "local delivery must not touch the network")
}

func TestDeliverRemotePushesMultipart(t *testing.T) {
	var gotFilename string
	var gotBytes []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/artifacts", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotFilename = r.FormValue("filename")

		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		gotBytes, err = io.ReadAll(file)
		require.NoError(t, err)

		_ = json.NewEncoder(w).Encode(map[string]string{"path": "/data/images/img_test.png"})
	}))
	defer srv.Close()

	handle := testHandle(t, "image-bytes")
	transport := NewTransport(time.Second, zap.NewNop().Sugar())

	res, err := transport.Deliver(context.Background(), handle, destFor(t, srv))
	require.NoError(t, err)
	assert.Equal(t, "/data/images/img_test.png", res.Ref)
	assert.False(t, res.Local)
	assert.Equal(t, "img_test.png", gotFilename)
	assert.Equal(t, []byte("image-bytes"), gotBytes)

	// Source artifact untouched
	assert.FileExists(t, handle.Path)
}

func TestDeliverUnreachable(t *testing.T) {
	// Grab a port nothing listens on
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	handle := testHandle(t, "bytes")
	transport := NewTransport(500*time.Millisecond, zap.NewNop().Sugar())

	_, err = transport.Deliver(context.Background(), handle, Destination{Host: "127.0.0.1", Port: port})
	require.Error(t, err)
	assert.Equal(t, shared.OutcomeDeliveryUnreachable, shared.KindOf(err))
}

func TestDeliverRejectedByCompanion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "disk full", http.StatusInsufficientStorage)
	}))
	defer srv.Close()

	handle := testHandle(t, "bytes")
	transport := NewTransport(time.Second, zap.NewNop().Sugar())

	_, err := transport.Deliver(context.Background(), handle, destFor(t, srv))
	require.Error(t, err)
	assert.Equal(t, shared.OutcomeDeliveryRejected, shared.KindOf(err))
	assert.Contains(t, err.Error(), "disk full")
}

func TestDeliverMalformedCompanionResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	handle := testHandle(t, "bytes")
	transport := NewTransport(time.Second, zap.NewNop().Sugar())

	_, err := transport.Deliver(context.Background(), handle, destFor(t, srv))
	require.Error(t, err)
	assert.Equal(t, shared.OutcomeDeliveryRejected, shared.KindOf(err))
}

func TestDeliverMissingArtifact(t *testing.T) {
	handle := &artifacts.Handle{Path: filepath.Join(t.TempDir(), "gone.png")}
	transport := NewTransport(time.Second, zap.NewNop().Sugar())

	_, err := transport.Deliver(context.Background(), handle, Destination{Host: "remote.example", Port: 9000})
	require.Error(t, err)
	assert.Equal(t, shared.OutcomeStorageFailed, shared.KindOf(err))
}
