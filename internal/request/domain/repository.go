package domain

import (
	"context"
	"time"

	"github.com/bloodbridge/platform/internal/shared/types"
)

// Repository defines persistence for broadcasts and donor records. State
// changes are conditional on the current state; a change whose precondition
// no longer holds returns a NotFound error and writes nothing.
type Repository interface {
	// Broadcast operations
	CreateRequest(ctx context.Context, req *BloodRequest) error
	GetRequest(ctx context.Context, requestID types.ID) (*BloodRequest, error)

	// InsertPending stores p unless the donor already has a pending record
	// from the same hospital for the same blood group. Reports whether a
	// row was written.
	InsertPending(ctx context.Context, p Pending) (bool, error)

	// Record queries
	Get(ctx context.Context, requestID, donorID types.ID) (Record, error)
	ListByRequest(ctx context.Context, requestID types.ID) ([]Record, error)
	ListByDonor(ctx context.Context, donorID types.ID) ([]Record, error)
	ListByHospital(ctx context.Context, hospitalID types.ID) ([]Record, error)

	// Transitions
	SaveResponse(ctx context.Context, r Responded) error
	SaveSelection(ctx context.Context, s Selected) error
	SupersedeOthers(ctx context.Context, requestID, selectedDonorID types.ID, at time.Time, reason string) (int64, error)
	SetDeliveryStatus(ctx context.Context, requestID, donorID types.ID, status DeliveryStatus) error

	// SaveForm stores a questionnaire while the donor's record is still an
	// accepted response. A second form for the same donor and request is a
	// Conflict; a record no longer in that state is NotFound.
	SaveForm(ctx context.Context, f *DonationForm) error
	ListForms(ctx context.Context, requestID types.ID) ([]DonationForm, error)

	// Matching support
	EngagedDonors(ctx context.Context, bg types.BloodGroup) (map[types.ID]bool, error)
	LastNotified(ctx context.Context, donorIDs []types.ID) (map[types.ID]time.Time, error)
}
