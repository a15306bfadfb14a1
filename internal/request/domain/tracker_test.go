package domain_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bloodbridge/platform/internal/donation"
	"github.com/bloodbridge/platform/internal/donor"
	"github.com/bloodbridge/platform/internal/hospital"
	"github.com/bloodbridge/platform/internal/memstore"
	"github.com/bloodbridge/platform/internal/notification"
	"github.com/bloodbridge/platform/internal/request/domain"
	apperrors "github.com/bloodbridge/platform/internal/shared/errors"
	"github.com/bloodbridge/platform/internal/shared/events"
	"github.com/bloodbridge/platform/internal/shared/types"
)

var now = time.Date(2026, 6, 15, 9, 0, 0, 0, time.UTC)

type recordingSender struct {
	mu   sync.Mutex
	msgs []notification.Message
}

func (s *recordingSender) Dispatch(msg notification.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *recordingSender) sent() []notification.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notification.Message(nil), s.msgs...)
}

// flakyHistory fails the first n inserts.
type flakyHistory struct {
	*memstore.Donations
	failures int
}

func (f *flakyHistory) Record(ctx context.Context, r *donation.Record) (bool, error) {
	if f.failures > 0 {
		f.failures--
		return false, errors.New("connection reset")
	}
	return f.Donations.Record(ctx, r)
}

type fixture struct {
	tracker   *domain.Tracker
	requests  *memstore.Requests
	donors    *memstore.Donors
	hospitals *memstore.Hospitals
	history   *flakyHistory
	sender    *recordingSender
	bus       *events.MemoryBus
	hospital  *hospital.Hospital
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		requests:  memstore.NewRequests(),
		donors:    memstore.NewDonors(),
		hospitals: memstore.NewHospitals(),
		history:   &flakyHistory{Donations: memstore.NewDonations()},
		sender:    &recordingSender{},
		bus:       events.NewMemoryBus(),
	}
	f.tracker = domain.NewTracker(f.requests, f.donors, f.hospitals, f.history, f.sender, f.bus, zap.NewNop()).
		WithClock(func() time.Time { return now })

	f.hospital = &hospital.Hospital{
		ID:           types.NewID(),
		Name:         "City Hospital",
		HospitalCode: "CH001",
		Email:        "admin@city.example",
		Phone:        "+919800000001",
		Status:       hospital.StatusActive,
	}
	require.NoError(t, f.hospitals.Create(context.Background(), f.hospital))
	return f
}

func (f *fixture) addDonor(t *testing.T, name string, lastDonation *time.Time) *donor.Donor {
	t.Helper()
	d := &donor.Donor{
		ID:         types.NewID(),
		Name:       name,
		Email:      name + "@donor.example",
		Phone:      "+919811111111",
		BloodGroup: types.OPositive,
		Age:        30,
		WeightKg:   70,
		HeightCm:   170,
		CreatedAt:  now.Add(-365 * 24 * time.Hour),
	}
	if lastDonation != nil {
		d.RecordDonation(*lastDonation)
	}
	require.NoError(t, f.donors.Create(context.Background(), d))
	return d
}

func (f *fixture) pending(requestID types.ID, d *donor.Donor) domain.Pending {
	p := domain.NewPending(requestID, d.ID, f.hospital.ID, d.BloodGroup, 1.5, "sms", now.Add(-time.Hour))
	f.requests.Put(p)
	return p
}

func (f *fixture) accepted(requestID types.ID, d *donor.Donor, at time.Time) domain.Responded {
	r, _ := f.pending(requestID, d).Respond(domain.DecisionAccepted, at)
	f.requests.Put(r)
	return r
}

func TestRespondAccepts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.addDonor(t, "asha", nil)
	requestID := types.NewID()
	f.pending(requestID, d)

	got, err := f.tracker.Respond(ctx, requestID, d.ID, domain.DecisionAccepted)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionAccepted, got.Response)
	assert.Equal(t, now, got.RespondedAt)
	assert.Equal(t, f.hospital.ID, got.HospitalID)

	stored, err := f.requests.Get(ctx, requestID, d.ID)
	require.NoError(t, err)
	assert.Equal(t, got, stored)

	assert.Equal(t, []string{events.TypeRequestResponded}, f.bus.Types())

	msgs := f.sender.sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, f.hospital.Phone, msgs[0].Phone)
	assert.Contains(t, msgs[0].Body, "accepted")
}

func TestRespondOnlyFromPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.addDonor(t, "ravi", nil)
	requestID := types.NewID()
	first := f.accepted(requestID, d, now.Add(-time.Minute))

	_, err := f.tracker.Respond(ctx, requestID, d.ID, domain.DecisionRejected)
	assert.True(t, apperrors.IsNotFound(err))

	stored, _ := f.requests.Get(ctx, requestID, d.ID)
	assert.Equal(t, first, stored)

	_, err = f.tracker.Respond(ctx, types.NewID(), d.ID, domain.DecisionAccepted)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRespondRejectsUnknownDecision(t *testing.T) {
	f := newFixture(t)
	d := f.addDonor(t, "mina", nil)
	requestID := types.NewID()
	f.pending(requestID, d)

	_, err := f.tracker.Respond(context.Background(), requestID, d.ID, "perhaps")
	assert.True(t, apperrors.IsValidation(err))
}

func TestRespondRefusesAcceptanceDuringCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	last := now.Add(-30 * 24 * time.Hour)
	d := f.addDonor(t, "kiran", &last)
	requestID := types.NewID()
	p := f.pending(requestID, d)

	_, err := f.tracker.Respond(ctx, requestID, d.ID, domain.DecisionAccepted)
	require.True(t, apperrors.IsCooldownActive(err))
	appErr, _ := apperrors.As(err)
	assert.Equal(t, last.Add(donor.CooldownPeriod).Format("2006-01-02"), appErr.Details["cooldown_end"])

	stored, _ := f.requests.Get(ctx, requestID, d.ID)
	assert.Equal(t, p, stored)
	assert.Empty(t, f.bus.Events())

	// Declining is always allowed.
	got, err := f.tracker.Respond(ctx, requestID, d.ID, domain.DecisionRejected)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionRejected, got.Response)
}

func TestRespondByVoice(t *testing.T) {
	f := newFixture(t)
	d := f.addDonor(t, "dev", nil)
	requestID := types.NewID()
	f.pending(requestID, d)

	require.NoError(t, f.tracker.RespondByVoice(context.Background(), requestID, d.ID, true))

	stored, _ := f.requests.Get(context.Background(), requestID, d.ID)
	assert.Equal(t, domain.StatusResponded, stored.Status())
}

func TestSelect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	requestID := types.NewID()

	a := f.addDonor(t, "a", nil)
	b := f.addDonor(t, "b", nil)
	c := f.addDonor(t, "c", nil)
	w := f.addDonor(t, "w", nil)

	f.accepted(requestID, a, now.Add(-30*time.Minute))
	f.accepted(requestID, b, now.Add(-20*time.Minute))
	declined, _ := f.pending(requestID, c).Respond(domain.DecisionRejected, now.Add(-10*time.Minute))
	f.requests.Put(declined)
	waiting := f.pending(requestID, w)

	sel, err := f.tracker.Select(ctx, requestID, a.ID)
	require.NoError(t, err)
	assert.Empty(t, sel.Incomplete)
	assert.Equal(t, int64(1), sel.Superseded)
	assert.Equal(t, now, sel.Record.SelectedAt)

	recA, _ := f.requests.Get(ctx, requestID, a.ID)
	assert.Equal(t, domain.StatusSelected, recA.Status())

	recB, _ := f.requests.Get(ctx, requestID, b.ID)
	rejected, ok := recB.(domain.Rejected)
	require.True(t, ok)
	assert.Equal(t, "Another donor was selected", rejected.Reason)

	recC, _ := f.requests.Get(ctx, requestID, c.ID)
	assert.Equal(t, declined, recC)
	recW, _ := f.requests.Get(ctx, requestID, w.ID)
	assert.Equal(t, waiting, recW)

	hist, err := f.history.FindByRequest(ctx, requestID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, hist.DonorID)
	assert.Equal(t, "City Hospital", hist.HospitalName)
	assert.Equal(t, now.Add(donor.CooldownPeriod), hist.CooldownEnd)

	updated, _ := f.donors.Get(ctx, a.ID)
	require.NotNil(t, updated.LastDonationDate)
	assert.Equal(t, now, *updated.LastDonationDate)
	assert.Equal(t, now.Add(donor.CooldownPeriod), *updated.CooldownEnd)

	msgs := f.sender.sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, a.ID, msgs[0].RecipientID)
	assert.Contains(t, msgs[0].Body, now.Add(donor.CooldownPeriod).Format("2006-01-02"))

	assert.Equal(t, []string{
		events.TypeRequestSelected,
		events.TypeDonationRecorded,
		events.TypeRequestSuperseded,
	}, f.bus.Types())
}

func TestSelectRequiresAcceptedResponse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	requestID := types.NewID()

	d := f.addDonor(t, "p", nil)
	f.pending(requestID, d)

	_, err := f.tracker.Select(ctx, requestID, d.ID)
	assert.True(t, apperrors.IsNotFound(err))

	other := f.addDonor(t, "q", nil)
	f.accepted(requestID, other, now)
	_, err = f.tracker.Select(ctx, requestID, d.ID)
	assert.True(t, apperrors.IsNotFound(err))

	rec, _ := f.requests.Get(ctx, requestID, d.ID)
	assert.Equal(t, domain.StatusPending, rec.Status())
}

func TestSelectTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	requestID := types.NewID()
	a := f.addDonor(t, "a", nil)
	f.accepted(requestID, a, now)

	_, err := f.tracker.Select(ctx, requestID, a.ID)
	require.NoError(t, err)

	_, err = f.tracker.Select(ctx, requestID, a.ID)
	assert.True(t, apperrors.IsNotFound(err))

	_, total, _ := f.history.List(ctx, donation.Filter{})
	assert.Equal(t, 1, total)
}

func TestResumeSelectionCompletesFailedSteps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	requestID := types.NewID()
	a := f.addDonor(t, "a", nil)
	b := f.addDonor(t, "b", nil)
	f.accepted(requestID, a, now)
	f.accepted(requestID, b, now)

	f.history.failures = 1
	sel, err := f.tracker.Select(ctx, requestID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{domain.StepDonationHistory}, sel.Incomplete)
	assert.Nil(t, sel.Donation)

	resumed, err := f.tracker.ResumeSelection(ctx, requestID)
	require.NoError(t, err)
	assert.Empty(t, resumed.Incomplete)
	require.NotNil(t, resumed.Donation)
	assert.Equal(t, int64(0), resumed.Superseded)

	again, err := f.tracker.ResumeSelection(ctx, requestID)
	require.NoError(t, err)
	assert.Empty(t, again.Incomplete)

	_, total, _ := f.history.List(ctx, donation.Filter{})
	assert.Equal(t, 1, total)
	assert.Len(t, f.sender.sent(), 1)
}

func TestResumeSelectionWithoutSelection(t *testing.T) {
	f := newFixture(t)
	_, err := f.tracker.ResumeSelection(context.Background(), types.NewID())
	assert.True(t, apperrors.IsNotFound(err))
}

func TestAcceptedDonors(t *testing.T) {
	f := newFixture(t)
	requestID := types.NewID()
	late := f.addDonor(t, "late", nil)
	early := f.addDonor(t, "early", nil)
	f.accepted(requestID, late, now.Add(-time.Minute))
	f.accepted(requestID, early, now.Add(-time.Hour))
	f.pending(requestID, f.addDonor(t, "silent", nil))

	got, err := f.tracker.AcceptedDonors(context.Background(), requestID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "early", got[0].Name)
	assert.Equal(t, "late", got[1].Name)
	assert.Equal(t, 1.5, got[0].DistanceKm)
}

func TestDonorRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.addDonor(t, "nila", nil)

	older := types.NewID()
	f.accepted(older, d, now)

	orphan := domain.NewPending(types.NewID(), d.ID, "", d.BloodGroup, 0, "", now)
	f.requests.Put(orphan)

	all, err := f.tracker.DonorRequests(ctx, d.ID, false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, orphan.RequestID, all[0].RequestID)
	assert.Equal(t, "Unknown Hospital", all[0].Hospital.Name)
	assert.Equal(t, "City Hospital", all[1].Hospital.Name)

	pending, err := f.tracker.DonorRequests(ctx, d.ID, true)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, domain.StatusPending, pending[0].Status)
}

func TestHospitalStats(t *testing.T) {
	f := newFixture(t)
	requestID := types.NewID()
	f.pending(requestID, f.addDonor(t, "x", nil))
	f.accepted(requestID, f.addDonor(t, "y", nil), now)

	report, err := f.tracker.HospitalStats(context.Background(), f.hospital.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Stats{Total: 2, Pending: 1, Accepted: 1}, report.Stats)
	assert.Len(t, report.Details, 2)
}

func TestOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Broadcast row wins.
	requestID := types.NewID()
	other := types.NewID()
	require.NoError(t, f.requests.CreateRequest(ctx, &domain.BloodRequest{RequestID: requestID, HospitalID: other, BloodGroup: types.OPositive}))
	owner, err := f.tracker.Owner(ctx, requestID)
	require.NoError(t, err)
	assert.Equal(t, other, owner)

	// Without one, the records name the hospital.
	legacy := types.NewID()
	f.pending(legacy, f.addDonor(t, "a", nil))
	owner, err = f.tracker.Owner(ctx, legacy)
	require.NoError(t, err)
	assert.Equal(t, f.hospital.ID, owner)

	_, err = f.tracker.Owner(ctx, types.NewID())
	assert.True(t, apperrors.IsNotFound(err))
}

func TestAuthorize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	requestID := types.NewID()
	f.pending(requestID, f.addDonor(t, "a", nil))

	assert.NoError(t, f.tracker.Authorize(ctx, requestID, f.hospital.ID))

	err := f.tracker.Authorize(ctx, requestID, types.NewID())
	assert.True(t, apperrors.IsForbidden(err))

	// Records that were never backfilled have no owner.
	orphan := types.NewID()
	f.requests.Put(domain.NewPending(orphan, f.addDonor(t, "b", nil).ID, "", types.OPositive, 1, "sms", now))
	err = f.tracker.Authorize(ctx, orphan, f.hospital.ID)
	assert.True(t, apperrors.IsForbidden(err))
}

func TestConcurrentSelectHasOneWinner(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newFixture(t)
		ctx := context.Background()
		requestID := types.NewID()
		donors := []*donor.Donor{f.addDonor(t, "a", nil), f.addDonor(t, "b", nil)}
		for _, d := range donors {
			f.accepted(requestID, d, now)
		}

		errs := make([]error, len(donors))
		var wg sync.WaitGroup
		for j, d := range donors {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[j] = f.tracker.Select(ctx, requestID, d.ID)
			}()
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			assert.True(t, apperrors.IsNotFound(err), err)
		}
		require.Equal(t, 1, succeeded)

		records, err := f.requests.ListByRequest(ctx, requestID)
		require.NoError(t, err)
		stats := domain.Summarize(records)
		assert.Equal(t, 1, stats.Selected)
		assert.Equal(t, 1, stats.Superseded)

		_, total, _ := f.history.List(ctx, donation.Filter{})
		assert.Equal(t, 1, total)
	}
}

func TestConcurrentRespondHasOneWinner(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newFixture(t)
		ctx := context.Background()
		requestID := types.NewID()
		d := f.addDonor(t, "a", nil)
		f.pending(requestID, d)

		decisions := []domain.Decision{domain.DecisionAccepted, domain.DecisionRejected, domain.DecisionAccepted}
		results := make([]domain.Responded, len(decisions))
		errs := make([]error, len(decisions))
		var wg sync.WaitGroup
		for j, dec := range decisions {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[j], errs[j] = f.tracker.Respond(ctx, requestID, d.ID, dec)
			}()
		}
		wg.Wait()

		winner := -1
		for j, err := range errs {
			if err == nil {
				require.Equal(t, -1, winner, "more than one response recorded")
				winner = j
				continue
			}
			assert.True(t, apperrors.IsNotFound(err), err)
		}
		require.NotEqual(t, -1, winner)

		rec, err := f.requests.Get(ctx, requestID, d.ID)
		require.NoError(t, err)
		assert.Equal(t, results[winner], rec)
		assert.Equal(t, decisions[winner], rec.(domain.Responded).Response)
	}
}

func TestSubmitForm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	requestID := types.NewID()
	d := f.addDonor(t, "a", nil)
	f.accepted(requestID, d, now)

	form, err := f.tracker.SubmitForm(ctx, requestID, d.ID, map[string]map[string]any{
		"personal_info":       {"full_name": "A"},
		"consent_declaration": {"agreed": true},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.FormStatusSubmitted, form.Status)
	assert.Equal(t, f.hospital.ID, form.HospitalID)
	assert.Len(t, form.Answers, len(domain.FormSections))
	assert.Equal(t, true, form.Answers[domain.SectionConsentDeclaration]["agreed"])
	assert.Empty(t, form.Answers[domain.SectionStaffChecks])
	assert.Contains(t, f.bus.Types(), events.TypeFormSubmitted)

	_, err = f.tracker.SubmitForm(ctx, requestID, d.ID, nil)
	assert.True(t, apperrors.IsConflict(err))

	forms, err := f.tracker.Forms(ctx, requestID)
	require.NoError(t, err)
	assert.Len(t, forms, 1)
}

func TestSubmitFormRequiresAcceptance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	requestID := types.NewID()

	pending := f.addDonor(t, "pending", nil)
	f.pending(requestID, pending)

	declined := f.addDonor(t, "declined", nil)
	r, _ := f.pending(requestID, declined).Respond(domain.DecisionRejected, now)
	f.requests.Put(r)

	accepted := f.addDonor(t, "accepted", nil)
	f.accepted(requestID, accepted, now)

	tests := []struct {
		name    string
		donorID types.ID
		answers map[string]map[string]any
		check   func(error) bool
	}{
		{"pending", pending.ID, nil, isBadRequest},
		{"declined", declined.ID, nil, isBadRequest},
		{"unknown donor", types.NewID(), nil, apperrors.IsNotFound},
		{"unknown section", accepted.ID, map[string]map[string]any{"hobbies": {}}, apperrors.IsValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.tracker.SubmitForm(ctx, requestID, tt.donorID, tt.answers)
			require.Error(t, err)
			assert.True(t, tt.check(err), err)
		})
	}

	forms, err := f.tracker.Forms(ctx, requestID)
	require.NoError(t, err)
	assert.Empty(t, forms)
}

func isBadRequest(err error) bool { return errors.Is(err, apperrors.ErrBadRequest) }
