package healthmonitor

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPCheckerHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	checker := NewHTTPChecker(strings.TrimPrefix(srv.URL, "http://"), "/")
	result := checker.Check(context.Background())
	assert.True(t, result.Healthy)
	assert.Equal(t, CheckTypeHTTP, checker.Type())
}

func TestHTTPCheckerUnhealthyOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	checker := NewHTTPChecker(strings.TrimPrefix(srv.URL, "http://"), "/")
	result := checker.Check(context.Background())
	assert.False(t, result.Healthy)
}

func TestHTTPCheckerUnreachable(t *testing.T) {
	checker := NewHTTPChecker("127.0.0.1:1", "/")
	result := checker.Check(context.Background())
	assert.False(t, result.Healthy)
}

func TestHTTPCheckerDefaultsPathToRoot(t *testing.T) {
	checker := NewHTTPChecker("example.invalid:80", "")
	assert.Equal(t, "/", checker.Path)
}

func TestTCPCheckerHealthy(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			_ = conn.Close()
		}
	}()

	checker := NewTCPChecker(ln.Addr().String())
	result := checker.Check(context.Background())
	assert.True(t, result.Healthy)
	assert.Equal(t, CheckTypeTCP, checker.Type())
}

func TestTCPCheckerUnreachable(t *testing.T) {
	checker := NewTCPChecker("127.0.0.1:1")
	result := checker.Check(context.Background())
	assert.False(t, result.Healthy)
}

func TestCommandCheckerNoCommand(t *testing.T) {
	checker := NewCommandChecker(nil, "container-1", nil)
	result := checker.Check(context.Background())
	assert.False(t, result.Healthy)
	assert.Equal(t, "no command specified", result.Message)
	assert.Equal(t, CheckTypeCommand, checker.Type())
}

func TestUnreachableChecker(t *testing.T) {
	checker := unreachableChecker{}
	result := checker.Check(context.Background())
	assert.False(t, result.Healthy)
	assert.Equal(t, CheckType(""), checker.Type())
}
