package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bloodbridge/platform/internal/donor"
	"github.com/bloodbridge/platform/internal/hospital"
	"github.com/bloodbridge/platform/internal/memstore"
	"github.com/bloodbridge/platform/internal/request/domain"
	"github.com/bloodbridge/platform/internal/shared/auth"
	"github.com/bloodbridge/platform/internal/shared/types"
)

var now = time.Date(2026, 6, 15, 9, 0, 0, 0, time.UTC)

type harness struct {
	handler   http.Handler
	requests  *memstore.Requests
	donors    *memstore.Donors
	hospital  *hospital.Hospital
	requestID types.ID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	requests := memstore.NewRequests()
	donors := memstore.NewDonors()
	hospitals := memstore.NewHospitals()
	tracker := domain.NewTracker(requests, donors, hospitals, memstore.NewDonations(), nil, nil, zap.NewNop()).
		WithClock(func() time.Time { return now })

	h := &hospital.Hospital{ID: types.NewID(), Name: "General", HospitalCode: "G1", Email: "g@h.example"}
	require.NoError(t, hospitals.Create(ctx, h))

	return &harness{
		handler:   NewHandler(tracker, zap.NewNop()).Routes(),
		requests:  requests,
		donors:    donors,
		hospital:  h,
		requestID: types.NewID(),
	}
}

func (hs *harness) donor(t *testing.T, email string, lastDonation *time.Time) *donor.Donor {
	t.Helper()
	d := &donor.Donor{ID: types.NewID(), Name: email, Email: email, Phone: "+919822222222", BloodGroup: types.ABPositive}
	if lastDonation != nil {
		d.RecordDonation(*lastDonation)
	}
	require.NoError(t, hs.donors.Create(context.Background(), d))
	hs.requests.Put(domain.NewPending(hs.requestID, d.ID, hs.hospital.ID, d.BloodGroup, 2, "sms", now.Add(-time.Hour)))
	return d
}

func (hs *harness) do(t *testing.T, method, path string, body any, user *auth.User) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != nil {
		req = req.WithContext(auth.WithUser(req.Context(), user))
	}
	rec := httptest.NewRecorder()
	hs.handler.ServeHTTP(rec, req)

	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func TestRespondEndpoint(t *testing.T) {
	hs := newHarness(t)
	d := hs.donor(t, "a@d.example", nil)

	rec, body := hs.do(t, http.MethodPost, "/"+hs.requestID.String()+"/respond",
		RespondRequest{Response: "accepted"}, &auth.User{ID: d.ID, Role: auth.RoleDonor})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["success"])

	record := body["record"].(map[string]any)
	assert.Equal(t, "responded", record["status"])
	assert.Equal(t, "accepted", record["response"])

	// A second answer finds nothing pending.
	rec, _ = hs.do(t, http.MethodPost, "/"+hs.requestID.String()+"/respond",
		RespondRequest{Response: "rejected"}, &auth.User{ID: d.ID, Role: auth.RoleDonor})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRespondEndpointCooldown(t *testing.T) {
	hs := newHarness(t)
	last := now.Add(-10 * 24 * time.Hour)
	d := hs.donor(t, "c@d.example", &last)

	rec, body := hs.do(t, http.MethodPost, "/"+hs.requestID.String()+"/respond",
		RespondRequest{DonorID: d.ID, Response: "accepted"}, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "COOLDOWN_ACTIVE", body["code"])

	details := body["details"].(map[string]any)
	assert.Equal(t, last.Add(donor.CooldownPeriod).Format("2006-01-02"), details["cooldown_end"])
}

func TestRespondEndpointValidation(t *testing.T) {
	hs := newHarness(t)
	d := hs.donor(t, "v@d.example", nil)

	tests := []struct {
		name   string
		path   string
		body   any
		status int
	}{
		{"bad request id", "/not-a-uuid/respond", RespondRequest{DonorID: d.ID, Response: "accepted"}, http.StatusBadRequest},
		{"missing donor", "/" + hs.requestID.String() + "/respond", RespondRequest{Response: "accepted"}, http.StatusBadRequest},
		{"bad decision", "/" + hs.requestID.String() + "/respond", RespondRequest{DonorID: d.ID, Response: "maybe"}, http.StatusBadRequest},
		{"unknown field", "/" + hs.requestID.String() + "/respond", map[string]string{"answer": "yes"}, http.StatusBadRequest},
		{"unknown request", "/" + types.NewID().String() + "/respond", RespondRequest{DonorID: d.ID, Response: "accepted"}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := hs.do(t, http.MethodPost, tt.path, tt.body, nil)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestSelectAndResumeEndpoints(t *testing.T) {
	hs := newHarness(t)
	a := hs.donor(t, "a@d.example", nil)
	b := hs.donor(t, "b@d.example", nil)
	admin := &auth.User{ID: types.NewID(), Role: auth.RoleAdmin, HospitalID: hs.hospital.ID}

	for _, d := range []*donor.Donor{a, b} {
		rec, _ := hs.do(t, http.MethodPost, "/"+hs.requestID.String()+"/respond",
			RespondRequest{DonorID: d.ID, Response: "accepted"}, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec, body := hs.do(t, http.MethodGet, "/"+hs.requestID.String()+"/accepted", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["donors"], 2)

	// Donors cannot select.
	rec, _ = hs.do(t, http.MethodPost, "/"+hs.requestID.String()+"/select",
		SelectRequest{DonorID: a.ID}, &auth.User{ID: a.ID, Role: auth.RoleDonor})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body = hs.do(t, http.MethodPost, "/"+hs.requestID.String()+"/select", SelectRequest{DonorID: a.ID}, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(1), body["superseded"])

	rec, body = hs.do(t, http.MethodPost, "/"+hs.requestID.String()+"/resume", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), body["superseded"])

	rec, body = hs.do(t, http.MethodGet, "/hospitals/"+hs.hospital.ID.String()+"/stats", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := body["stats"].(map[string]any)
	assert.Equal(t, float64(1), stats["selected_donors"])
	assert.Equal(t, float64(1), stats["superseded_requests"])
}

func TestDonorRequestsEndpoint(t *testing.T) {
	hs := newHarness(t)
	d := hs.donor(t, "p@d.example", nil)

	rec, body := hs.do(t, http.MethodGet, "/donors/"+d.ID.String()+"?pending=true", nil, &auth.User{ID: d.ID, Role: auth.RoleDonor})
	require.Equal(t, http.StatusOK, rec.Code)
	requests := body["requests"].([]any)
	require.Len(t, requests, 1)
	assert.Equal(t, "General", requests[0].(map[string]any)["hospital"].(map[string]any)["name"])

	rec, _ = hs.do(t, http.MethodGet, "/donors/"+d.ID.String(), nil, &auth.User{ID: types.NewID(), Role: auth.RoleDonor})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminEndpointsRequireOwningHospital(t *testing.T) {
	hs := newHarness(t)
	d := hs.donor(t, "a@d.example", nil)
	rec, _ := hs.do(t, http.MethodPost, "/"+hs.requestID.String()+"/respond",
		RespondRequest{DonorID: d.ID, Response: "accepted"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	foreign := &auth.User{ID: types.NewID(), Role: auth.RoleAdmin, HospitalID: types.NewID()}
	base := "/" + hs.requestID.String()

	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"accepted", http.MethodGet, base + "/accepted", nil},
		{"forms", http.MethodGet, base + "/forms", nil},
		{"select", http.MethodPost, base + "/select", SelectRequest{DonorID: d.ID}},
		{"resume", http.MethodPost, base + "/resume", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := hs.do(t, tt.method, tt.path, tt.body, foreign)
			assert.Equal(t, http.StatusForbidden, rec.Code)
			assert.Equal(t, "FORBIDDEN", body["code"])
		})
	}

	stored, err := hs.requests.Get(context.Background(), hs.requestID, d.ID)
	require.NoError(t, err)
	assert.IsType(t, domain.Responded{}, stored)

	refreshed, err := hs.donors.Get(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Nil(t, refreshed.LastDonationDate)

	// Unknown requests are reported as missing, not forbidden.
	rec, _ = hs.do(t, http.MethodPost, "/"+types.NewID().String()+"/select", SelectRequest{DonorID: d.ID}, foreign)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFormEndpoints(t *testing.T) {
	hs := newHarness(t)
	d := hs.donor(t, "f@d.example", nil)
	donorUser := &auth.User{ID: d.ID, Role: auth.RoleDonor}
	admin := &auth.User{ID: types.NewID(), Role: auth.RoleAdmin, HospitalID: hs.hospital.ID}
	path := "/" + hs.requestID.String() + "/form"
	form := FormRequest{FormData: map[string]map[string]any{"current_health": {"feeling_well": true}}}

	// Still pending.
	rec, _ := hs.do(t, http.MethodPost, path, form, donorUser)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = hs.do(t, http.MethodPost, "/"+hs.requestID.String()+"/respond", RespondRequest{Response: "accepted"}, donorUser)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := hs.do(t, http.MethodPost, path, form, donorUser)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "submitted", body["form"].(map[string]any)["status"])

	rec, _ = hs.do(t, http.MethodPost, path, form, donorUser)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = hs.do(t, http.MethodPost, path, form, admin)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body = hs.do(t, http.MethodGet, "/"+hs.requestID.String()+"/forms", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["forms"], 1)
}
