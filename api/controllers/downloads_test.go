package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/projecthub-backend/internal/downloads"
	"github.com/angelmondragon/projecthub-backend/pkg/auth"
	pkgerrors "github.com/angelmondragon/projecthub-backend/pkg/errors"
)

type stubDownloads struct {
	issued   *downloads.IssuedToken
	download *downloads.Download
	err      error
	issue    downloads.IssueInput
	redeem   downloads.RedeemInput
}

func (s *stubDownloads) Issue(ctx context.Context, principal auth.Principal, input downloads.IssueInput) (*downloads.IssuedToken, error) {
	s.issue = input
	return s.issued, s.err
}

func (s *stubDownloads) Redeem(ctx context.Context, input downloads.RedeemInput) (*downloads.Download, error) {
	s.redeem = input
	return s.download, s.err
}

type trackedBody struct {
	io.Reader
	closed bool
}

func (b *trackedBody) Close() error {
	b.closed = true
	return nil
}

func TestIssueDownloadReturnsToken(t *testing.T) {
	purchaseID := uuid.New()
	expires := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	svc := &stubDownloads{issued: &downloads.IssuedToken{
		Token:              strings.Repeat("a", 64),
		DownloadURL:        "https://projecthub.test/api/download/" + strings.Repeat("a", 64),
		ExpiresAt:          expires,
		DownloadsRemaining: 3,
	}}
	body := `{"purchase_id":"` + purchaseID.String() + `","file_name":"thesis.zip","expires_in_hours":48}`
	req := newRequest(http.MethodPost, "/api/v1/downloads", strings.NewReader(body), &buyer, nil)
	rec := httptest.NewRecorder()

	IssueDownload(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, downloads.IssueInput{PurchaseID: purchaseID, FileName: "thesis.zip", TTLHours: 48}, svc.issue)

	var resp downloads.IssuedToken
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &resp))
	assert.Equal(t, 3, resp.DownloadsRemaining)
	assert.True(t, expires.Equal(resp.ExpiresAt))
}

func TestIssueDownloadRequiresPurchase(t *testing.T) {
	req := newRequest(http.MethodPost, "/api/v1/downloads", strings.NewReader(`{"file_name":"x.zip"}`), &buyer, nil)
	rec := httptest.NewRecorder()

	IssueDownload(&stubDownloads{}, nil).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRedeemDownloadStreamsFile(t *testing.T) {
	body := &trackedBody{Reader: strings.NewReader("zip-bytes")}
	svc := &stubDownloads{download: &downloads.Download{
		FileName:    "project-files.zip",
		ContentType: "application/zip",
		Size:        9,
		Body:        body,
	}}
	req := newRequest(http.MethodGet, "/api/download/tok", nil, nil, map[string]string{"token": "tok"})
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	req.Header.Set("User-Agent", "curl/8.0")
	rec := httptest.NewRecorder()

	RedeemDownload(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "zip-bytes", rec.Body.String())
	assert.Equal(t, `attachment; filename="project-files.zip"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "no-store, no-cache, must-revalidate", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Equal(t, "9", rec.Header().Get("Content-Length"))
	assert.True(t, body.closed)
	assert.Equal(t, downloads.RedeemInput{Token: "tok", IP: "203.0.113.7", UserAgent: "curl/8.0"}, svc.redeem)
}

func TestRedeemDownloadErrorStatuses(t *testing.T) {
	tests := []struct {
		name string
		code pkgerrors.Code
		want int
	}{
		{"unknown token", pkgerrors.CodeNotFound, http.StatusNotFound},
		{"expired token", pkgerrors.CodeExpired, http.StatusGone},
		{"token used up", pkgerrors.CodeLimitReached, http.StatusTooManyRequests},
		{"no downloads left", pkgerrors.CodeExhausted, http.StatusForbidden},
		{"storage outage", pkgerrors.CodeDependency, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubDownloads{err: pkgerrors.New(tt.code, "redeem failed")}
			req := newRequest(http.MethodGet, "/api/download/tok", nil, nil, map[string]string{"token": "tok"})
			rec := httptest.NewRecorder()

			RedeemDownload(svc, nil).ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			assert.Empty(t, rec.Header().Get("Content-Disposition"))
		})
	}
}
