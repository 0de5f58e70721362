package controllers

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/projecthub-backend/api/middleware"
	"github.com/angelmondragon/projecthub-backend/api/responses"
	"github.com/angelmondragon/projecthub-backend/api/validators"
	"github.com/angelmondragon/projecthub-backend/internal/downloads"
	pkgerrors "github.com/angelmondragon/projecthub-backend/pkg/errors"
	"github.com/angelmondragon/projecthub-backend/pkg/logger"
)

const maxUserAgentLength = 512

// IssueDownload mints a download token for one of the caller's purchases.
func IssueDownload(svc downloads.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "download service unavailable"))
			return
		}

		principal, err := principalFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload issueDownloadRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		issued, err := svc.Issue(r.Context(), principal, downloads.IssueInput{
			PurchaseID: payload.PurchaseID,
			FileName:   payload.FileName,
			TTLHours:   payload.ExpiresInHours,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, issued)
	}
}

type issueDownloadRequest struct {
	PurchaseID     uuid.UUID `json:"purchase_id" validate:"required"`
	FileName       string    `json:"file_name,omitempty" validate:"omitempty,max=255"`
	ExpiresInHours int       `json:"expires_in_hours,omitempty" validate:"omitempty,min=1"`
}

// RedeemDownload streams the purchased file behind a bearer download token.
func RedeemDownload(svc downloads.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "download service unavailable"))
			return
		}

		download, err := svc.Redeem(r.Context(), downloads.RedeemInput{
			Token:     strings.TrimSpace(chi.URLParam(r, "token")),
			IP:        middleware.ClientIP(r),
			UserAgent: validators.SanitizeString(r.UserAgent(), maxUserAgentLength),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		defer download.Body.Close()

		contentType := download.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", download.FileName))
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		if download.Size > 0 {
			w.Header().Set("Content-Length", strconv.FormatInt(download.Size, 10))
		}
		w.WriteHeader(http.StatusOK)

		if _, err := io.Copy(w, download.Body); err != nil && logg != nil {
			logg.Warn(logg.WithField(r.Context(), "error", err.Error()), "download stream interrupted")
		}
	}
}
