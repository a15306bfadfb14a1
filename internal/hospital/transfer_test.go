package hospital

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloodbridge/platform/internal/shared/errors"
	"github.com/bloodbridge/platform/internal/shared/types"
)

func TestNewTransfer(t *testing.T) {
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	from, to := types.NewID(), types.NewID()

	tr, err := NewTransfer(from, TransferRequest{ToHospitalID: to, BloodGroup: "b-", Message: "  trauma case "}, now)
	require.NoError(t, err)
	assert.Equal(t, TransferPending, tr.Status)
	assert.Equal(t, types.BNegative, tr.BloodGroup)
	assert.Equal(t, 1, tr.Units)
	assert.Equal(t, "trauma case", tr.Message)
	assert.Nil(t, tr.RespondedAt)
}

func TestNewTransferValidation(t *testing.T) {
	from := types.NewID()

	tests := []struct {
		name  string
		req   TransferRequest
		field string
	}{
		{"no target", TransferRequest{BloodGroup: "O+"}, "to_hospital_id"},
		{"own hospital", TransferRequest{ToHospitalID: from, BloodGroup: "O+"}, "to_hospital_id"},
		{"bad group", TransferRequest{ToHospitalID: types.NewID(), BloodGroup: "C+"}, "blood_group"},
		{"negative units", TransferRequest{ToHospitalID: types.NewID(), BloodGroup: "O+", Units: -2}, "units"},
		{"too many units", TransferRequest{ToHospitalID: types.NewID(), BloodGroup: "O+", Units: MaxTransferUnits + 1}, "units"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTransfer(from, tt.req, time.Now())
			require.True(t, errors.IsValidation(err), err)
			appErr, _ := errors.As(err)
			assert.Contains(t, appErr.Details, tt.field)
		})
	}
}

func TestTransferAnswer(t *testing.T) {
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	tr, err := NewTransfer(types.NewID(), TransferRequest{ToHospitalID: types.NewID(), BloodGroup: "A+", Units: 3}, now)
	require.NoError(t, err)

	assert.True(t, errors.IsValidation(tr.Answer("maybe", "", now)))
	assert.Equal(t, TransferPending, tr.Status)

	require.NoError(t, tr.Answer(TransferAccepted, " sending courier ", now.Add(time.Hour)))
	assert.Equal(t, TransferAccepted, tr.Status)
	assert.Equal(t, "sending courier", tr.ResponseMessage)
	require.NotNil(t, tr.RespondedAt)

	assert.True(t, errors.IsNotFound(tr.Answer(TransferRejected, "", now)))
	assert.Equal(t, TransferAccepted, tr.Status)
}
