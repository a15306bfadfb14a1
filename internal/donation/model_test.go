package donation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bloodbridge/platform/internal/donor"
	"github.com/bloodbridge/platform/internal/hospital"
	"github.com/bloodbridge/platform/internal/shared/types"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func TestNewRecordSnapshots(t *testing.T) {
	d := &donor.Donor{ID: types.NewID(), Name: "Ravi", BloodGroup: types.BPositive, Phone: "9000000001", Email: "ravi@example.in"}
	h := &hospital.Hospital{ID: types.NewID(), Name: "City Hospital", HospitalCode: "CH-01"}
	reqID := types.NewID()

	rec := NewRecord(reqID, d, h, now)

	assert.Equal(t, reqID, rec.RequestID)
	assert.Equal(t, "Ravi", rec.DonorName)
	assert.Equal(t, types.BPositive, rec.DonorBloodGroup)
	assert.Equal(t, "City Hospital", rec.HospitalName)
	assert.Equal(t, now.AddDate(0, 0, 90), rec.CooldownEnd)
	assert.Equal(t, StatusCompleted, rec.Status)

	// later edits to the donor do not leak into the record
	d.Name = "Ravi K"
	assert.Equal(t, "Ravi", rec.DonorName)
}

func TestCooldown(t *testing.T) {
	rec := &Record{CooldownEnd: now.AddDate(0, 0, 10)}

	assert.Equal(t, CooldownState{Status: "Active", DaysRemaining: 10}, rec.Cooldown(now))
	assert.Equal(t, CooldownState{Status: "Active", DaysRemaining: 10}, rec.Cooldown(now.Add(time.Hour)))
	assert.Equal(t, CooldownState{Status: "Completed"}, rec.Cooldown(now.AddDate(0, 0, 10)))
}

func TestSummarize(t *testing.T) {
	records := []Record{
		{DonorBloodGroup: types.OPositive, HospitalName: "City", CooldownEnd: now.AddDate(0, 0, 5)},
		{DonorBloodGroup: types.OPositive, HospitalName: "Metro", CooldownEnd: now.AddDate(0, 0, -5)},
		{DonorBloodGroup: types.ANegative, HospitalName: "City", CooldownEnd: now.AddDate(0, 0, 60)},
	}

	s := Summarize(records, now)

	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.ByBloodGroup[types.OPositive])
	assert.Equal(t, 2, s.ByHospital["City"])
	assert.Equal(t, 2, s.ActiveCooldowns)
}
