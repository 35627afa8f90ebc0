package services

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPDFServiceConverts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/forms/libreoffice/convert") {
			http.NotFound(w, r)
			return
		}
		require.NoError(t, r.ParseMultipartForm(1<<20))
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.7 fake"))
	}))
	defer server.Close()

	pdf, err := NewPDFService(server.URL, 5*time.Second, nil)
	require.NoError(t, err)

	out, err := pdf.Convert(context.Background(), "surat.docx", []byte("docx"))
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7 fake", string(out))
}

func TestPDFServiceWithoutURLIsUnavailable(t *testing.T) {
	pdf, err := NewPDFService("", time.Second, nil)
	require.NoError(t, err)

	_, err = pdf.Convert(context.Background(), "surat.docx", []byte("docx"))
	assert.ErrorIs(t, err, ErrExternalToolUnavailable)
}

func TestPDFServiceTimesOut(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	pdf, err := NewPDFService(server.URL, 300*time.Millisecond, nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = pdf.Convert(context.Background(), "surat.docx", []byte("docx"))
	assert.ErrorIs(t, err, ErrConversionTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestPDFServiceUnreachable(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	pdf, err := NewPDFService("http://"+addr, 10*time.Second, nil)
	require.NoError(t, err)

	_, err = pdf.Convert(context.Background(), "surat.docx", []byte("docx"))
	assert.ErrorIs(t, err, ErrExternalToolUnavailable)
}
