package server

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, opts ServerOpts) (*Server, string, chan error) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := NewServer(opts)
	errChan := make(chan error, 1)
	go func() { errChan <- s.ServeHTTP(l) }()
	t.Cleanup(s.Close)

	// Wait for the server to be tracked.
	require.Eventually(t, func() bool {
		s.m.Lock()
		defer s.m.Unlock()
		return len(s.closerTracker) == 1
	}, time.Second, time.Millisecond)
	return s, l.Addr().String(), errChan
}

func Test_Server_ServeHTTP(t *testing.T) {
	s, addr, errChan := startServer(t, ServerOpts{
		HttpHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "hello")
		}),
	})

	res, err := http.Get("http://" + addr + "/")
	require.NoError(t, err)
	b, _ := io.ReadAll(res.Body)
	res.Body.Close()
	assert.Equal(t, "hello", string(b))

	s.Close()
	assert.True(t, s.Closed())
	select {
	case err := <-errChan:
		assert.ErrorIs(t, err, ErrServerClosed)
	case <-time.After(time.Second):
		t.Fatal("ServeHTTP did not return after Close")
	}

	// A closed server refuses new listeners.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	assert.ErrorIs(t, s.ServeHTTP(l), ErrServerClosed)
}

func Test_Server_MissingHandler(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	assert.ErrorIs(t, NewServer(ServerOpts{}).ServeHTTP(l), errMissingHTTPHandler)
}

func Test_Server_ProxyProtocol(t *testing.T) {
	remote := make(chan string, 1)
	_, addr, _ := startServer(t, ServerOpts{
		ProxyProtocol: true,
		HttpHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			remote <- r.RemoteAddr
		}),
	})

	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer c.Close()
	fmt.Fprintf(c, "PROXY TCP4 198.51.100.9 127.0.0.1 40000 80\r\n")
	fmt.Fprintf(c, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")

	res, err := http.ReadResponse(bufio.NewReader(c), nil)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, "198.51.100.9:40000", <-remote)
}
