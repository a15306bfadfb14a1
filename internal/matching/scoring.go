package matching

import (
	"math"
	"time"
)

// Score weights and caps. The weights sum to 1.
const (
	DistanceWeight     = 0.4
	NotificationWeight = 0.3
	DonationWeight     = 0.3

	DistanceCapKm       = 5.0
	NotificationCapDays = 30
	DonationCapDays     = 90
)

// Score is a candidate's ranking broken down by weighted factor.
// A factor whose input is missing contributes nothing.
type Score struct {
	Distance     float64 `json:"distance"`
	Notification float64 `json:"notification"`
	Donation     float64 `json:"donation"`
}

// Total is the composite score in [0, 1].
func (s Score) Total() float64 {
	return s.Distance + s.Notification + s.Donation
}

// Percent is the total scaled to 0-100 and rounded to two places.
func (s Score) Percent() float64 {
	return math.Round(s.Total()*10000) / 100
}

// ScoreDonor ranks a donor at distanceKm from the hospital. lastNotified
// and lastDonation are nil when the donor was never notified or never
// donated; the matching factor is then left out.
func ScoreDonor(distanceKm float64, lastNotified, lastDonation *time.Time, now time.Time) Score {
	var s Score

	s.Distance = DistanceWeight * (1 - math.Min(distanceKm, DistanceCapKm)/DistanceCapKm)

	if lastNotified != nil {
		days := math.Min(float64(wholeDays(now, *lastNotified)), NotificationCapDays)
		s.Notification = NotificationWeight * days / NotificationCapDays
	}

	if lastDonation != nil {
		days := math.Min(float64(wholeDays(now, *lastDonation)), DonationCapDays)
		s.Donation = DonationWeight * days / DonationCapDays
	}

	return s
}

// wholeDays counts complete days from t to now. Timestamps in the future
// count as zero.
func wholeDays(now, t time.Time) int {
	d := now.Sub(t)
	if d <= 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}
