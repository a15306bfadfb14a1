package matching

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/bloodbridge/platform/internal/donor"
	"github.com/bloodbridge/platform/internal/hospital"
	"github.com/bloodbridge/platform/internal/notification"
	"github.com/bloodbridge/platform/internal/request/domain"
	"github.com/bloodbridge/platform/internal/shared/errors"
	"github.com/bloodbridge/platform/internal/shared/events"
	"github.com/bloodbridge/platform/internal/shared/metrics"
	"github.com/bloodbridge/platform/internal/shared/types"
)

// DefaultRadiusKm is the search radius used when a query leaves it unset.
const DefaultRadiusKm = 5.0

// Skip reasons reported to metrics.
const (
	skipEngaged     = "engaged"
	skipCooldown    = "cooldown"
	skipNoLocation  = "no_location"
	skipIneligible  = "ineligible"
	skipCoordinates = "invalid_coordinates"
	skipOutOfRange  = "out_of_range"
)

const eventSource = "matcher"

// DonorSource lists donors by blood group in registration order.
type DonorSource interface {
	ListByBloodGroup(ctx context.Context, bg types.BloodGroup) ([]donor.Donor, error)
}

// HospitalSource loads the hospital running a search.
type HospitalSource interface {
	Get(ctx context.Context, id types.ID) (*hospital.Hospital, error)
}

// RequestStore is the slice of the request repository a search writes to.
type RequestStore interface {
	CreateRequest(ctx context.Context, req *domain.BloodRequest) error
	InsertPending(ctx context.Context, p domain.Pending) (bool, error)
	EngagedDonors(ctx context.Context, bg types.BloodGroup) (map[types.ID]bool, error)
	LastNotified(ctx context.Context, donorIDs []types.ID) (map[types.ID]time.Time, error)
}

// Query describes one donor search.
type Query struct {
	HospitalID    types.ID             `json:"-"`
	BloodGroup    types.BloodGroup     `json:"blood_group"`
	MaxDistanceKm float64              `json:"max_distance_km,omitempty"`
	Channel       notification.Channel `json:"channel,omitempty"`
}

// Candidate is one ranked donor.
type Candidate struct {
	DonorID      types.ID         `json:"donor_id"`
	Name         string           `json:"name"`
	BloodGroup   types.BloodGroup `json:"blood_group"`
	Phone        string           `json:"phone"`
	Email        string           `json:"email"`
	Address      string           `json:"address"`
	DistanceKm   float64          `json:"distance_km"`
	Score        float64          `json:"score"`
	ScorePercent float64          `json:"score_percent"`
	Breakdown    Score            `json:"breakdown"`
	LastNotified *time.Time       `json:"last_notified,omitempty"`

	// Notified is false when the donor already had a pending record from
	// this hospital for this blood group and no new record was written.
	Notified bool `json:"notified"`
}

// Result is the outcome of a search.
type Result struct {
	RequestID  types.ID          `json:"request_id"`
	Hospital   hospital.Hospital `json:"-"`
	BloodGroup types.BloodGroup  `json:"blood_group"`
	RadiusKm   float64           `json:"radius_km"`
	Candidates []Candidate       `json:"donors"`
	Created    int               `json:"records_created"`
}

// Matcher finds and ranks donors for a hospital's blood request.
type Matcher struct {
	donors    DonorSource
	hospitals HospitalSource
	requests  RequestStore
	publisher events.Publisher
	radius    float64
	logger    *zap.Logger
	now       func() time.Time
}

// NewMatcher creates a matcher. publisher may be nil.
func NewMatcher(donors DonorSource, hospitals HospitalSource, requests RequestStore, publisher events.Publisher, logger *zap.Logger) *Matcher {
	return &Matcher{
		donors:    donors,
		hospitals: hospitals,
		requests:  requests,
		publisher: publisher,
		radius:    DefaultRadiusKm,
		logger:    logger.Named("matcher"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithDefaultRadius sets the radius used when a query leaves it unset.
func (m *Matcher) WithDefaultRadius(km float64) *Matcher {
	if km > 0 {
		m.radius = km
	}
	return m
}

// WithClock replaces the matcher's clock.
func (m *Matcher) WithClock(now func() time.Time) *Matcher {
	m.now = now
	return m
}

func (m *Matcher) validate(q *Query) error {
	if q.HospitalID.IsZero() {
		return errors.Validation("hospital_id is required", map[string]string{"hospital_id": "required"})
	}
	bg, err := types.ParseBloodGroup(string(q.BloodGroup))
	if err != nil {
		return errors.Validation("invalid blood group", map[string]string{"blood_group": string(q.BloodGroup)})
	}
	q.BloodGroup = bg

	switch {
	case q.MaxDistanceKm == 0:
		q.MaxDistanceKm = m.radius
	case q.MaxDistanceKm < 0 || math.IsNaN(q.MaxDistanceKm) || math.IsInf(q.MaxDistanceKm, 0):
		return errors.Validation("max_distance_km must be a positive number",
			map[string]string{"max_distance_km": fmt.Sprint(q.MaxDistanceKm)})
	}

	ch, ok := notification.ParseChannel(string(q.Channel))
	if !ok {
		return errors.Validation("unsupported channel", map[string]string{"channel": string(q.Channel)})
	}
	q.Channel = ch
	return nil
}

// FindCandidates ranks eligible donors near the hospital and opens a
// pending record for each one under a single new request id.
func (m *Matcher) FindCandidates(ctx context.Context, q Query) (*Result, error) {
	if err := m.validate(&q); err != nil {
		return nil, err
	}

	h, err := m.hospitals.Get(ctx, q.HospitalID)
	if err != nil {
		return nil, err
	}
	origin, err := h.Point()
	if err != nil {
		return nil, err
	}

	now := m.now()
	candidates, err := m.rank(ctx, q, origin, now)
	if err != nil {
		return nil, err
	}

	res := &Result{
		RequestID:  types.NewID(),
		Hospital:   *h,
		BloodGroup: q.BloodGroup,
		RadiusKm:   q.MaxDistanceKm,
		Candidates: candidates,
	}

	if err := m.requests.CreateRequest(ctx, &domain.BloodRequest{
		RequestID:  res.RequestID,
		HospitalID: h.ID,
		BloodGroup: q.BloodGroup,
		RadiusKm:   q.MaxDistanceKm,
		Channel:    string(q.Channel),
		CreatedAt:  now,
	}); err != nil {
		return nil, errors.Wrap(err, "create blood request")
	}

	for i := range res.Candidates {
		c := &res.Candidates[i]
		p := domain.NewPending(res.RequestID, c.DonorID, h.ID, q.BloodGroup, c.DistanceKm, string(q.Channel), now)
		created, err := m.requests.InsertPending(ctx, p)
		if err != nil {
			return nil, errors.Wrap(err, "open pending record")
		}
		c.Notified = created
		if created {
			res.Created++
		}
	}

	metrics.RecordMatch(q.BloodGroup.String(), len(res.Candidates))
	m.logger.Info("donor search completed",
		zap.String("request_id", res.RequestID.String()),
		zap.String("hospital_id", h.ID.String()),
		zap.String("blood_group", q.BloodGroup.String()),
		zap.Float64("radius_km", q.MaxDistanceKm),
		zap.Int("candidates", len(res.Candidates)),
		zap.Int("records_created", res.Created),
	)

	m.publish(ctx, events.NewEvent(events.TypeRequestBroadcast, eventSource, map[string]any{
		"request_id":  res.RequestID,
		"hospital_id": h.ID,
		"blood_group": q.BloodGroup,
		"radius_km":   q.MaxDistanceKm,
		"candidates":  len(res.Candidates),
	}).WithActor(h.ID, "admin").WithCorrelation(res.RequestID.String()))

	return res, nil
}

// rank filters the donor pool and orders survivors by score. It reads
// notification history before any record of this search is written.
func (m *Matcher) rank(ctx context.Context, q Query, origin types.Point, now time.Time) ([]Candidate, error) {
	pool, err := m.donors.ListByBloodGroup(ctx, q.BloodGroup)
	if err != nil {
		return nil, errors.Wrap(err, "list donors")
	}
	engaged, err := m.requests.EngagedDonors(ctx, q.BloodGroup)
	if err != nil {
		return nil, errors.Wrap(err, "load engaged donors")
	}

	type hit struct {
		d        donor.Donor
		distance float64
	}
	var hits []hit
	for _, d := range pool {
		if reason := m.exclude(d, engaged, now); reason != "" {
			metrics.RecordMatchSkip(reason)
			continue
		}

		p := *d.Location.Point
		if err := p.Validate(); err != nil {
			metrics.RecordMatchSkip(skipCoordinates)
			m.logger.Warn("skipping donor with invalid coordinates",
				zap.String("donor_id", d.ID.String()),
				zap.Error(err),
			)
			continue
		}

		distance := origin.DistanceKm(p)
		if math.IsNaN(distance) {
			metrics.RecordMatchSkip(skipCoordinates)
			m.logger.Warn("skipping donor with unusable distance", zap.String("donor_id", d.ID.String()))
			continue
		}
		if distance > q.MaxDistanceKm {
			metrics.RecordMatchSkip(skipOutOfRange)
			continue
		}
		hits = append(hits, hit{d: d, distance: distance})
	}

	ids := make([]types.ID, len(hits))
	for i, h := range hits {
		ids[i] = h.d.ID
	}
	notified := map[types.ID]time.Time{}
	if len(ids) > 0 {
		if notified, err = m.requests.LastNotified(ctx, ids); err != nil {
			return nil, errors.Wrap(err, "load notification history")
		}
	}

	candidates := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		var last *time.Time
		if t, ok := notified[h.d.ID]; ok {
			last = &t
		}
		score := ScoreDonor(h.distance, last, h.d.LastDonationDate, now)
		candidates = append(candidates, Candidate{
			DonorID:      h.d.ID,
			Name:         h.d.Name,
			BloodGroup:   h.d.BloodGroup,
			Phone:        h.d.Phone,
			Email:        h.d.Email,
			Address:      h.d.Location.Address,
			DistanceKm:   math.Round(h.distance*100) / 100,
			Score:        score.Total(),
			ScorePercent: score.Percent(),
			Breakdown:    score,
			LastNotified: last,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	return candidates, nil
}

func (m *Matcher) exclude(d donor.Donor, engaged map[types.ID]bool, now time.Time) string {
	switch {
	case engaged[d.ID]:
		return skipEngaged
	case d.LastDonationDate != nil && d.LastDonationDate.Add(donor.CooldownPeriod).After(now):
		return skipCooldown
	case !d.Location.HasPoint():
		return skipNoLocation
	case !d.MedicallyEligible():
		return skipIneligible
	}
	return ""
}

func (m *Matcher) publish(ctx context.Context, event events.Event) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.Publish(ctx, event); err != nil {
		m.logger.Warn("failed to publish event", zap.String("type", event.Type), zap.Error(err))
	}
}
