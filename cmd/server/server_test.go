package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/oar-cd/moor/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCmdServer(t *testing.T) {
	cmd := NewCmdServer()

	assert.Equal(t, "server", cmd.Use)
	assert.Equal(t, "Run the moor API server", cmd.Short)
	assert.True(t, cmd.Runnable())

	flag := cmd.Flags().Lookup("workers")
	require.NotNil(t, flag)
	assert.Equal(t, "true", flag.DefValue)
}

func TestServe_AnswersUntilCancelled(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, listener, api.NewRouter(api.Services{Version: "1.2.3"}))
	}()

	url := "http://" + listener.Addr().String()
	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get(url + "/health")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	_, err = http.Get(url + "/health")
	assert.Error(t, err)
}

func TestHandleShutdown_ReturnsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		handleShutdown(ctx, func() {})
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handleShutdown did not return")
	}
}
