package domain

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/bloodbridge/platform/internal/donation"
	"github.com/bloodbridge/platform/internal/donor"
	"github.com/bloodbridge/platform/internal/hospital"
	"github.com/bloodbridge/platform/internal/notification"
	"github.com/bloodbridge/platform/internal/shared/errors"
	"github.com/bloodbridge/platform/internal/shared/events"
	"github.com/bloodbridge/platform/internal/shared/metrics"
	"github.com/bloodbridge/platform/internal/shared/types"
)

// Post-selection steps, as reported in Selection.Incomplete and metrics.
const (
	StepDonationHistory = "donation_history"
	StepDonorCooldown   = "donor_cooldown"
	StepSupersede       = "supersede"
	StepNotify          = "notify_donor"
)

const eventSource = "request-tracker"

// DonorStore is the slice of the donor registry the tracker needs.
type DonorStore interface {
	Get(ctx context.Context, id types.ID) (*donor.Donor, error)
	SetCooldown(ctx context.Context, id types.ID, lastDonation, cooldownEnd time.Time) error
}

// HospitalStore is the slice of the hospital registry the tracker needs.
type HospitalStore interface {
	Get(ctx context.Context, id types.ID) (*hospital.Hospital, error)
}

// HistoryStore appends donation history.
type HistoryStore interface {
	Record(ctx context.Context, rec *donation.Record) (bool, error)
}

// Tracker drives donor records from pending through to selection.
type Tracker struct {
	repo      Repository
	donors    DonorStore
	hospitals HospitalStore
	history   HistoryStore
	sender    notification.Sender
	publisher events.Publisher
	channel   notification.Channel
	logger    *zap.Logger
	now       func() time.Time
}

// NewTracker creates a tracker. sender and publisher may be nil.
func NewTracker(
	repo Repository,
	donors DonorStore,
	hospitals HospitalStore,
	history HistoryStore,
	sender notification.Sender,
	publisher events.Publisher,
	logger *zap.Logger,
) *Tracker {
	return &Tracker{
		repo:      repo,
		donors:    donors,
		hospitals: hospitals,
		history:   history,
		sender:    sender,
		publisher: publisher,
		channel:   notification.ChannelSMS,
		logger:    logger.Named("tracker"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the tracker's clock.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// WithConfirmationChannel sets the channel used for hospital and donor
// confirmations.
func (t *Tracker) WithConfirmationChannel(ch notification.Channel) *Tracker {
	t.channel = ch
	return t
}

// Respond records a donor's answer to a pending request. Accepting while in
// cooldown fails with a CooldownActive error and leaves the record pending.
func (t *Tracker) Respond(ctx context.Context, requestID, donorID types.ID, d Decision) (Responded, error) {
	if _, err := ParseDecision(string(d)); err != nil {
		return Responded{}, errors.Validation("invalid response", map[string]string{"response": string(d)})
	}

	rec, err := t.repo.Get(ctx, requestID, donorID)
	if err != nil {
		return Responded{}, err
	}
	pending, ok := rec.(Pending)
	if !ok {
		return Responded{}, errors.NotFound("pending request", requestID.String())
	}

	now := t.now()
	if d == DecisionAccepted {
		dn, err := t.donors.Get(ctx, donorID)
		if err != nil {
			return Responded{}, err
		}
		if dn.InCooldown(now) {
			end, _ := dn.CooldownEndsAt()
			metrics.RecordCooldownRefusal()
			t.logger.Info("acceptance refused during cooldown",
				zap.String("request_id", requestID.String()),
				zap.String("donor_id", donorID.String()),
				zap.Time("cooldown_end", end),
			)
			return Responded{}, errors.CooldownActive(end)
		}
	}

	responded, err := pending.Respond(d, now)
	if err != nil {
		return Responded{}, errors.Validation(err.Error(), nil)
	}
	if err := t.repo.SaveResponse(ctx, responded); err != nil {
		return Responded{}, err
	}

	metrics.RecordResponse(string(d))
	t.logger.Info("donor responded",
		zap.String("request_id", requestID.String()),
		zap.String("donor_id", donorID.String()),
		zap.String("response", string(d)),
	)

	t.publish(ctx, events.NewEvent(events.TypeRequestResponded, eventSource, map[string]any{
		"request_id": requestID,
		"donor_id":   donorID,
		"response":   d,
	}).WithActor(donorID, "donor").WithCorrelation(requestID.String()))

	t.notifyHospital(ctx, responded)
	return responded, nil
}

// RespondByVoice lets the IVR record answers through the tracker.
func (t *Tracker) RespondByVoice(ctx context.Context, requestID, donorID types.ID, accepted bool) error {
	d := DecisionRejected
	if accepted {
		d = DecisionAccepted
	}
	_, err := t.Respond(ctx, requestID, donorID, d)
	return err
}

// Owner returns the hospital that broadcast the request. Requests without a
// blood_requests row fall back to their records; the result is zero only
// for records that predate hospital ids and have not been backfilled.
func (t *Tracker) Owner(ctx context.Context, requestID types.ID) (types.ID, error) {
	req, err := t.repo.GetRequest(ctx, requestID)
	if err == nil && !req.HospitalID.IsZero() {
		return req.HospitalID, nil
	}
	if err != nil && !errors.IsNotFound(err) {
		return "", err
	}

	records, err := t.repo.ListByRequest(ctx, requestID)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", errors.NotFound("blood request", requestID.String())
	}
	for _, rec := range records {
		if id := rec.Head().HospitalID; !id.IsZero() {
			return id, nil
		}
	}
	return "", nil
}

// Authorize fails with Forbidden unless hospitalID broadcast the request.
func (t *Tracker) Authorize(ctx context.Context, requestID, hospitalID types.ID) error {
	owner, err := t.Owner(ctx, requestID)
	if err != nil {
		return err
	}
	if owner.IsZero() {
		return errors.Forbidden("request has no owning hospital")
	}
	if owner != hospitalID {
		return errors.Forbidden("request belongs to another hospital")
	}
	return nil
}

// Selection is the outcome of choosing a donor. Incomplete names any
// follow-up steps that failed; ResumeSelection retries them.
type Selection struct {
	Record     Selected         `json:"record"`
	Donation   *donation.Record `json:"donation,omitempty"`
	Superseded int64            `json:"superseded"`
	Incomplete []string         `json:"incomplete,omitempty"`
}

// Select chooses donorID for the request. The selection itself is committed
// first; history, cooldown, superseding siblings and the donor notification
// follow and are logged rather than returned when they fail.
func (t *Tracker) Select(ctx context.Context, requestID, donorID types.ID) (*Selection, error) {
	records, err := t.repo.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	var chosen *Responded
	accepted := 0
	for _, rec := range records {
		if _, done := rec.(Selected); done {
			return nil, errors.NotFound("unresolved request", requestID.String())
		}
		r, ok := rec.(Responded)
		if !ok || !r.Accepted() {
			continue
		}
		accepted++
		if r.DonorID == donorID {
			chosen = &r
		}
	}
	if accepted == 0 {
		return nil, errors.NotFound("accepted response", requestID.String())
	}
	if chosen == nil {
		return nil, errors.NotFound("accepted response from donor", donorID.String())
	}

	selected, err := chosen.Select(t.now())
	if err != nil {
		return nil, errors.NotFound("accepted response from donor", donorID.String())
	}
	if err := t.repo.SaveSelection(ctx, selected); err != nil {
		return nil, err
	}

	metrics.RecordSelection()
	t.logger.Info("donor selected",
		zap.String("request_id", requestID.String()),
		zap.String("donor_id", donorID.String()),
	)
	t.publish(ctx, events.NewEvent(events.TypeRequestSelected, eventSource, map[string]any{
		"request_id":  requestID,
		"donor_id":    donorID,
		"hospital_id": selected.HospitalID,
	}).WithActor(selected.HospitalID, "admin").WithCorrelation(requestID.String()))

	return t.complete(ctx, selected, true), nil
}

// ResumeSelection re-runs the follow-up steps of a request whose selection
// was committed but not completed. Every step is idempotent.
func (t *Tracker) ResumeSelection(ctx context.Context, requestID types.ID) (*Selection, error) {
	records, err := t.repo.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if s, ok := rec.(Selected); ok {
			return t.complete(ctx, s, false), nil
		}
	}
	return nil, errors.NotFound("selected donor", requestID.String())
}

func (t *Tracker) complete(ctx context.Context, sel Selected, notify bool) *Selection {
	out := &Selection{Record: sel}
	log := t.logger.With(
		zap.String("request_id", sel.RequestID.String()),
		zap.String("donor_id", sel.DonorID.String()),
	)
	failed := func(step string, err error) {
		out.Incomplete = append(out.Incomplete, step)
		metrics.RecordSelectionStepFailure(step)
		log.Error("selection step failed", zap.String("step", step), zap.Error(err))
	}

	dn, donorErr := t.donors.Get(ctx, sel.DonorID)

	var h *hospital.Hospital
	hospitalErr := fmt.Errorf("record has no hospital")
	if !sel.HospitalID.IsZero() {
		h, hospitalErr = t.hospitals.Get(ctx, sel.HospitalID)
	}

	switch {
	case donorErr != nil:
		failed(StepDonationHistory, donorErr)
	case hospitalErr != nil:
		failed(StepDonationHistory, hospitalErr)
	default:
		rec := donation.NewRecord(sel.RequestID, dn, h, sel.SelectedAt)
		created, err := t.history.Record(ctx, rec)
		if err != nil {
			failed(StepDonationHistory, err)
			break
		}
		out.Donation = rec
		if created {
			t.publish(ctx, events.NewEvent(events.TypeDonationRecorded, eventSource, rec).
				WithActor(sel.HospitalID, "admin").WithCorrelation(sel.RequestID.String()))
		}
	}

	end := sel.SelectedAt.Add(donor.CooldownPeriod)
	if err := t.donors.SetCooldown(ctx, sel.DonorID, sel.SelectedAt, end); err != nil {
		failed(StepDonorCooldown, err)
	}

	n, err := t.repo.SupersedeOthers(ctx, sel.RequestID, sel.DonorID, t.now(), SupersededReason)
	if err != nil {
		failed(StepSupersede, err)
	}
	out.Superseded = n
	if n > 0 {
		t.publish(ctx, events.NewEvent(events.TypeRequestSuperseded, eventSource, map[string]any{
			"request_id": sel.RequestID,
			"count":      n,
		}).WithCorrelation(sel.RequestID.String()))
	}

	if notify && dn != nil {
		body := fmt.Sprintf("You have been selected to donate blood for request %s. Your next eligible donation date is %s.",
			sel.RequestID, end.Format(errors.CooldownDateLayout))
		if h != nil {
			body = fmt.Sprintf("You have been selected to donate blood at %s (%s). Your next eligible donation date is %s.",
				h.Name, h.Phone, end.Format(errors.CooldownDateLayout))
		}
		if err := t.send(notification.Message{RecipientID: dn.ID, Phone: dn.Phone, Body: body}); err != nil {
			log.Warn("failed to queue selection notice", zap.Error(err))
		}
	}

	return out
}

func (t *Tracker) notifyHospital(ctx context.Context, r Responded) {
	if r.HospitalID.IsZero() {
		return
	}
	h, err := t.hospitals.Get(ctx, r.HospitalID)
	if err != nil {
		t.logger.Warn("failed to load hospital for response notice",
			zap.String("hospital_id", r.HospitalID.String()),
			zap.Error(err),
		)
		return
	}
	if h.Phone == "" {
		return
	}

	body := fmt.Sprintf("Blood donation request %s has been %s by a donor.", r.RequestID, r.Response)
	if err := t.send(notification.Message{RecipientID: h.ID, Phone: h.Phone, Body: body}); err != nil {
		t.logger.Warn("failed to queue response notice", zap.Error(err))
	}
}

func (t *Tracker) send(msg notification.Message) error {
	if t.sender == nil {
		return nil
	}
	msg.Channel = t.channel
	return t.sender.Dispatch(msg)
}

func (t *Tracker) publish(ctx context.Context, event events.Event) {
	if t.publisher == nil {
		return
	}
	if err := t.publisher.Publish(ctx, event); err != nil {
		t.logger.Warn("failed to publish event", zap.String("type", event.Type), zap.Error(err))
	}
}

// sortByCreated orders records newest first.
func sortByCreated(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Head().CreatedAt.After(records[j].Head().CreatedAt)
	})
}
