package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"SRL-GEN/internal/logger"

	"github.com/starwalkn/gotenberg-go-client/v8"
	"github.com/starwalkn/gotenberg-go-client/v8/document"
	"go.uber.org/zap"
)

const pdfConvertAttempts = 3

// PDFConverter turns a rendered .docx into PDF bytes.
type PDFConverter interface {
	Convert(ctx context.Context, filename string, docx []byte) ([]byte, error)
}

// PDFService converts through Gotenberg's LibreOffice route. All attempts of
// one conversion share a single deadline.
type PDFService struct {
	client  *gotenberg.Client
	timeout time.Duration
	log     *zap.Logger
}

func NewPDFService(gotenbergURL string, timeout time.Duration, log *zap.Logger) (*PDFService, error) {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	s := &PDFService{timeout: timeout, log: logger.OrNop(log)}
	if strings.TrimSpace(gotenbergURL) == "" {
		s.log.Warn("GOTENBERG_URL is empty, PDF conversion disabled")
		return s, nil
	}

	client, err := gotenberg.NewClient(gotenbergURL, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gotenberg client: %w", err)
	}
	s.client = client
	return s, nil
}

func (s *PDFService) Convert(ctx context.Context, filename string, docx []byte) ([]byte, error) {
	if s.client == nil {
		return nil, ErrExternalToolUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= pdfConvertAttempts; attempt++ {
		pdf, err := s.send(ctx, filename, docx)
		if err == nil {
			return pdf, nil
		}
		lastErr = err
		s.log.Warn("PDF conversion attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", pdfConvertAttempts),
			zap.Error(err))

		if ctx.Err() != nil {
			break
		}
		if attempt < pdfConvertAttempts {
			select {
			case <-ctx.Done():
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return nil, fmt.Errorf("%w after %s: %v", ErrConversionTimeout, s.timeout, lastErr)
	case isUnreachable(lastErr):
		return nil, fmt.Errorf("%w: %v", ErrExternalToolUnavailable, lastErr)
	}
	return nil, fmt.Errorf("failed to convert document after %d attempts: %w", pdfConvertAttempts, lastErr)
}

func (s *PDFService) send(ctx context.Context, filename string, docx []byte) ([]byte, error) {
	doc, err := document.FromReader(filename, bytes.NewReader(docx))
	if err != nil {
		return nil, fmt.Errorf("failed to create document from reader: %w", err)
	}

	resp, err := s.client.Send(ctx, gotenberg.NewLibreOfficeRequest(doc))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read converted document: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gotenberg returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func isUnreachable(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host")
}
