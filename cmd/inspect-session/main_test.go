package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeProfile(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/profiles/me" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer A1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"userId":7}`)
	}))
	defer srv.Close()

	res, err := probeProfile(context.Background(), srv.URL, 5*time.Second, "A1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode())
	assert.JSONEq(t, `{"userId":7}`, res.String())

	// An expired token is reported as is: one request, no refresh attempt.
	res, err = probeProfile(context.Background(), srv.URL, 5*time.Second, "old")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode())
	assert.EqualValues(t, 2, calls.Load())
}

func TestMask(t *testing.T) {
	assert.Equal(t, "(none)", mask(""))
	assert.Equal(t, "***", mask("short"))
	assert.Equal(t, "abcd...wxyz", mask("abcdefghijklmnopqrstuvwxyz"))
}
