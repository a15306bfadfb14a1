package matching_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bloodbridge/platform/internal/donor"
	"github.com/bloodbridge/platform/internal/hospital"
	"github.com/bloodbridge/platform/internal/matching"
	"github.com/bloodbridge/platform/internal/memstore"
	"github.com/bloodbridge/platform/internal/request/domain"
	"github.com/bloodbridge/platform/internal/shared/errors"
	"github.com/bloodbridge/platform/internal/shared/events"
	"github.com/bloodbridge/platform/internal/shared/types"
)

var (
	now    = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	origin = types.Point{Lat: 19.0760, Lng: 72.8777}
)

// north returns the point km kilometres due north of origin.
func north(km float64) types.Point {
	return types.Point{Lat: origin.Lat + km*180/(math.Pi*types.EarthRadiusKm), Lng: origin.Lng}
}

func daysAgo(n int) *time.Time {
	at := now.Add(-time.Duration(n) * 24 * time.Hour)
	return &at
}

type fixture struct {
	t         *testing.T
	donors    *memstore.Donors
	hospitals *memstore.Hospitals
	requests  *memstore.Requests
	bus       *events.MemoryBus
	matcher   *matching.Matcher
	hospital  *hospital.Hospital
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:         t,
		donors:    memstore.NewDonors(),
		hospitals: memstore.NewHospitals(),
		requests:  memstore.NewRequests(),
		bus:       events.NewMemoryBus(),
	}
	f.matcher = matching.NewMatcher(f.donors, f.hospitals, f.requests, f.bus, zap.NewNop()).
		WithClock(func() time.Time { return now })

	f.hospital = &hospital.Hospital{
		ID:           types.NewID(),
		Name:         "City Hospital",
		HospitalCode: "CH01",
		Email:        "admin@city.example",
		Phone:        "+912222222222",
		Location:     &types.Location{Address: "1 Main Road", Point: &origin},
	}
	require.NoError(t, f.hospitals.Create(context.Background(), f.hospital))
	return f
}

type donorOpt func(*donor.Donor)

func at(p types.Point) donorOpt {
	return func(d *donor.Donor) { d.Location = &types.Location{Address: "home", Point: &p} }
}

func donated(t *time.Time) donorOpt {
	return func(d *donor.Donor) { d.RecordDonation(*t) }
}

func group(bg types.BloodGroup) donorOpt {
	return func(d *donor.Donor) { d.BloodGroup = bg }
}

func (f *fixture) donor(name string, opts ...donorOpt) *donor.Donor {
	f.t.Helper()
	d := &donor.Donor{
		ID:         types.NewID(),
		Name:       name,
		Email:      name + "@donor.example",
		Phone:      "+919811111111",
		BloodGroup: types.OPositive,
		Age:        30,
		WeightKg:   50,
		HeightCm:   170,
	}
	for _, opt := range opts {
		opt(d)
	}
	require.NoError(f.t, f.donors.Create(context.Background(), d))
	return d
}

func (f *fixture) search(bg types.BloodGroup) *matching.Result {
	f.t.Helper()
	res, err := f.matcher.FindCandidates(context.Background(), matching.Query{HospitalID: f.hospital.ID, BloodGroup: bg})
	require.NoError(f.t, err)
	return res
}

func names(res *matching.Result) []string {
	out := make([]string, len(res.Candidates))
	for i, c := range res.Candidates {
		out[i] = c.Name
	}
	return out
}

func TestFindCandidatesScoresDonor(t *testing.T) {
	f := newFixture(t)
	d := f.donor("asha", at(north(3)), donated(daysAgo(120)))

	res := f.search(types.OPositive)

	require.Len(t, res.Candidates, 1)
	c := res.Candidates[0]
	assert.Equal(t, d.ID, c.DonorID)
	assert.InDelta(t, 3.0, c.DistanceKm, 0.01)
	assert.InDelta(t, 0.46, c.Score, 1e-6)
	assert.Equal(t, 46.0, c.ScorePercent)
	assert.Nil(t, c.LastNotified)
	assert.True(t, c.Notified)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 5.0, res.RadiusKm)

	rec, err := f.requests.Get(context.Background(), res.RequestID, d.ID)
	require.NoError(t, err)
	pending, ok := rec.(domain.Pending)
	require.True(t, ok)
	assert.Equal(t, f.hospital.ID, pending.HospitalID)
	assert.Equal(t, types.OPositive, pending.BloodGroup)
	assert.Equal(t, "sms", pending.Channel)
	assert.Equal(t, domain.DeliveryQueued, pending.Delivery)

	req, err := f.requests.GetRequest(context.Background(), res.RequestID)
	require.NoError(t, err)
	assert.Equal(t, f.hospital.ID, req.HospitalID)

	assert.Equal(t, []string{events.TypeRequestBroadcast}, f.bus.Types())
}

func TestFindCandidatesExclusions(t *testing.T) {
	f := newFixture(t)

	f.donor("eligible", at(north(1)))
	f.donor("other-group", at(north(1)), group(types.ANegative))
	f.donor("cooldown", at(north(1)), donated(daysAgo(30)))
	f.donor("no-location")
	f.donor("too-old", at(north(1)), func(d *donor.Donor) { d.Age = 70 })
	f.donor("too-far", at(north(6)))
	f.donor("bad-coordinates", at(types.Point{Lat: 95, Lng: 72.8}))

	engaged := f.donor("engaged", at(north(1)))
	responded, err := domain.NewPending(types.NewID(), engaged.ID, types.NewID(), types.OPositive, 1, "sms", now.Add(-time.Hour)).
		Respond(domain.DecisionAccepted, now)
	require.NoError(t, err)
	f.requests.Put(responded)

	waiting := f.donor("pending-elsewhere", at(north(1)))
	f.requests.Put(domain.NewPending(types.NewID(), waiting.ID, types.NewID(), types.OPositive, 1, "sms", now.Add(-time.Hour)))

	// A responded record for another blood group does not count.
	crossGroup := f.donor("engaged-for-a-neg", at(north(1)))
	other, err := domain.NewPending(types.NewID(), crossGroup.ID, types.NewID(), types.ANegative, 1, "sms", now.Add(-time.Hour)).
		Respond(domain.DecisionAccepted, now)
	require.NoError(t, err)
	f.requests.Put(other)

	res := f.search(types.OPositive)

	assert.ElementsMatch(t, []string{"eligible", "pending-elsewhere", "engaged-for-a-neg"}, names(res))

	// Donors who only ever had a pending record keep their notification history.
	for _, c := range res.Candidates {
		if c.DonorID == waiting.ID {
			require.NotNil(t, c.LastNotified)
		}
	}
}

func TestFindCandidatesCooldownBoundary(t *testing.T) {
	f := newFixture(t)
	f.donor("just-out", at(north(1)), donated(daysAgo(90)))
	f.donor("one-day-short", at(north(1)), donated(daysAgo(89)))

	res := f.search(types.OPositive)
	assert.Equal(t, []string{"just-out"}, names(res))
}

func TestFindCandidatesOrdering(t *testing.T) {
	f := newFixture(t)
	f.donor("first", at(north(2)))
	f.donor("second", at(north(2)))
	f.donor("closest", at(north(0.5)))
	f.donor("third", at(north(2)))
	f.donor("rested", at(north(2)), donated(daysAgo(200)))

	res := f.search(types.OPositive)

	assert.Equal(t, []string{"rested", "closest", "first", "second", "third"}, names(res))
	for i := 1; i < len(res.Candidates); i++ {
		assert.GreaterOrEqual(t, res.Candidates[i-1].Score, res.Candidates[i].Score)
	}
}

func TestFindCandidatesSharesRequestID(t *testing.T) {
	f := newFixture(t)
	for _, n := range []string{"a", "b", "c"} {
		f.donor(n, at(north(1)))
	}

	res := f.search(types.OPositive)

	records, err := f.requests.ListByRequest(context.Background(), res.RequestID)
	require.NoError(t, err)
	assert.Len(t, records, 3)
	for _, rec := range records {
		assert.Equal(t, res.RequestID, rec.Head().RequestID)
	}
}

func TestFindCandidatesDoesNotDuplicatePending(t *testing.T) {
	f := newFixture(t)
	d := f.donor("repeat", at(north(1)))

	first := f.search(types.OPositive)
	second := f.search(types.OPositive)

	assert.NotEqual(t, first.RequestID, second.RequestID)
	require.Len(t, second.Candidates, 1)
	assert.False(t, second.Candidates[0].Notified)
	assert.Zero(t, second.Created)

	// The first search's record is visible to the second as prior contact.
	require.NotNil(t, second.Candidates[0].LastNotified)
	assert.Equal(t, now, *second.Candidates[0].LastNotified)

	records, err := f.requests.ListByDonor(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestFindCandidatesHospitalWithoutLocation(t *testing.T) {
	f := newFixture(t)
	f.donor("ready", at(north(1)))

	bare := &hospital.Hospital{ID: types.NewID(), Name: "Bare", HospitalCode: "B01", Email: "bare@h.example"}
	require.NoError(t, f.hospitals.Create(context.Background(), bare))

	_, err := f.matcher.FindCandidates(context.Background(), matching.Query{HospitalID: bare.ID, BloodGroup: types.OPositive})
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))

	records, err := f.requests.ListByHospital(context.Background(), bare.ID)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Empty(t, f.bus.Events())
}

func TestFindCandidatesValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		query matching.Query
	}{
		{"missing hospital", matching.Query{BloodGroup: types.OPositive}},
		{"unknown blood group", matching.Query{HospitalID: f.hospital.ID, BloodGroup: "C+"}},
		{"empty blood group", matching.Query{HospitalID: f.hospital.ID}},
		{"negative radius", matching.Query{HospitalID: f.hospital.ID, BloodGroup: types.OPositive, MaxDistanceKm: -1}},
		{"infinite radius", matching.Query{HospitalID: f.hospital.ID, BloodGroup: types.OPositive, MaxDistanceKm: math.Inf(1)}},
		{"unknown channel", matching.Query{HospitalID: f.hospital.ID, BloodGroup: types.OPositive, Channel: "pager"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.matcher.FindCandidates(context.Background(), tt.query)
			require.Error(t, err)
			assert.True(t, errors.IsValidation(err))
		})
	}
}

func TestFindCandidatesRadius(t *testing.T) {
	f := newFixture(t)
	f.donor("near", at(north(4)))
	f.donor("far", at(north(9)))

	res, err := f.matcher.FindCandidates(context.Background(),
		matching.Query{HospitalID: f.hospital.ID, BloodGroup: types.OPositive, MaxDistanceKm: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"near", "far"}, names(res))

	// Beyond 5 km the distance factor is zero whatever the radius.
	assert.Zero(t, res.Candidates[1].Breakdown.Distance)

	f.matcher.WithDefaultRadius(2)
	res = f.search(types.OPositive)
	assert.Empty(t, res.Candidates)
	assert.Equal(t, 2.0, res.RadiusKm)
}
