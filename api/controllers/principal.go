package controllers

import (
	"net/http"

	"github.com/angelmondragon/projecthub-backend/api/middleware"
	"github.com/angelmondragon/projecthub-backend/pkg/auth"
	pkgerrors "github.com/angelmondragon/projecthub-backend/pkg/errors"
)

func principalFromRequest(r *http.Request) (auth.Principal, error) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		return auth.Principal{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	return principal, nil
}
