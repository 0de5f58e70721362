package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/projecthub-backend/api/middleware"
	"github.com/angelmondragon/projecthub-backend/pkg/auth"
	"github.com/angelmondragon/projecthub-backend/pkg/enums"
)

var buyer = auth.Principal{UserID: uuid.MustParse("6f1c1b8e-52f4-4a5e-9a43-7d0f2d1c9a10"), Role: enums.UserRoleBuyer, Email: "buyer@example.com"}

func newRequest(method, target string, body io.Reader, principal *auth.Principal, params map[string]string) *http.Request {
	req := httptest.NewRequest(method, target, body)
	ctx := req.Context()
	if principal != nil {
		ctx = middleware.WithPrincipal(ctx, *principal)
	}
	if len(params) > 0 {
		rc := chi.NewRouteContext()
		for key, value := range params {
			rc.URLParams.Add(key, value)
		}
		ctx = context.WithValue(ctx, chi.RouteCtxKey, rc)
	}
	return req.WithContext(ctx)
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}
