package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/projecthub-backend/internal/purchases"
	"github.com/angelmondragon/projecthub-backend/pkg/pagination"
)

type stubPurchaseLister struct {
	list   *purchases.PurchaseList
	userID uuid.UUID
	params pagination.Params
}

func (s *stubPurchaseLister) ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (*purchases.PurchaseList, error) {
	s.userID = userID
	s.params = params
	return s.list, nil
}

func TestListPurchasesPassesCursor(t *testing.T) {
	svc := &stubPurchaseLister{list: &purchases.PurchaseList{
		Purchases:  []purchases.PurchaseSummary{{ID: uuid.New(), SessionID: "sess_1", DownloadsRemaining: 3}},
		NextCursor: "next",
	}}
	req := newRequest(http.MethodGet, "/api/v1/purchases?limit=10&cursor=abc", nil, &buyer, nil)
	rec := httptest.NewRecorder()

	ListPurchases(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, buyer.UserID, svc.userID)
	assert.Equal(t, pagination.Params{Limit: 10, Cursor: "abc"}, svc.params)

	var list purchases.PurchaseList
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &list))
	require.Len(t, list.Purchases, 1)
	assert.Equal(t, "next", list.NextCursor)
}

func TestListPurchasesRejectsBadLimit(t *testing.T) {
	req := newRequest(http.MethodGet, "/api/v1/purchases?limit=1000", nil, &buyer, nil)
	rec := httptest.NewRecorder()

	ListPurchases(&stubPurchaseLister{}, nil).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
