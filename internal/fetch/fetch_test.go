package fetch

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageSetsPaginationParam(t *testing.T) {
	var gotStart, gotQuery, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotStart = r.URL.Query().Get("start")
		gotQuery = r.URL.Query().Get("q")
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte("<ul><li>row</li></ul>"))
	}))
	defer srv.Close()

	f := New()
	body, err := f.Page(context.Background(), srv.URL+"?q=맛집", "start", 31)
	require.NoError(t, err)
	assert.Equal(t, "<ul><li>row</li></ul>", body)
	assert.Equal(t, "31", gotStart)
	assert.Equal(t, "맛집", gotQuery)
	assert.Contains(t, gotUA, "Chrome")
}

func TestPageNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := New()
	_, err := f.Page(context.Background(), srv.URL, "start", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestPageBodyCapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(bytes.Repeat([]byte("x"), 1024))
	}))
	defer srv.Close()

	f := New(WithMaxBody(64))
	_, err := f.Page(context.Background(), srv.URL, "start", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestPageBodyUnderCapIsComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("<ul><li>row</li></ul>"))
	}))
	defer srv.Close()

	f := New(WithMaxBody(64))
	body, err := f.Page(context.Background(), srv.URL, "start", 1)
	require.NoError(t, err)
	assert.Equal(t, "<ul><li>row</li></ul>", body)
}

func TestPageBadURL(t *testing.T) {
	f := New()
	_, err := f.Page(context.Background(), "://not-a-url", "start", 1)
	assert.Error(t, err)
}
