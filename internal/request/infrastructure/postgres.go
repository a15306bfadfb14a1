package infrastructure

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bloodbridge/platform/internal/request/domain"
	"github.com/bloodbridge/platform/internal/shared/database"
	"github.com/bloodbridge/platform/internal/shared/errors"
	"github.com/bloodbridge/platform/internal/shared/types"
)

// PostgresRepository implements domain.Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const recordColumns = `
	request_id, donor_id, admin_id, blood_group, distance_km, channel, delivery_status, created_at,
	status, response, responded_at, selected_at, rejected_at, rejection_reason`

// CreateRequest stores a broadcast
func (r *PostgresRepository) CreateRequest(ctx context.Context, req *domain.BloodRequest) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO blood_requests (request_id, hospital_id, blood_group, radius_km, channel, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		req.RequestID, req.HospitalID, req.BloodGroup, req.RadiusKm, req.Channel, req.CreatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return errors.Conflict("blood request already exists")
		}
		return errors.Wrap(err, "failed to save blood request")
	}
	return nil
}

// GetRequest loads a broadcast
func (r *PostgresRepository) GetRequest(ctx context.Context, requestID types.ID) (*domain.BloodRequest, error) {
	var req domain.BloodRequest
	err := r.pool.QueryRow(ctx, `
		SELECT request_id, hospital_id, blood_group, radius_km, channel, created_at
		FROM blood_requests WHERE request_id = $1`, requestID,
	).Scan(&req.RequestID, &req.HospitalID, &req.BloodGroup, &req.RadiusKm, &req.Channel, &req.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("blood request", requestID.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load blood request")
	}
	return &req, nil
}

// InsertPending relies on the primary key and the partial unique index on
// pending (admin_id, donor_id, blood_group) to skip duplicates.
func (r *PostgresRepository) InsertPending(ctx context.Context, p domain.Pending) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO donor_notifications (
			request_id, donor_id, admin_id, blood_group, distance_km, channel, delivery_status, created_at, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending')
		ON CONFLICT DO NOTHING`,
		p.RequestID, p.DonorID, p.HospitalID, p.BloodGroup, p.DistanceKm, p.Channel, p.Delivery, p.CreatedAt,
	)
	if err != nil {
		return false, errors.Wrap(err, "failed to insert pending record")
	}
	return tag.RowsAffected() == 1, nil
}

// Get loads one donor's record for a request
func (r *PostgresRepository) Get(ctx context.Context, requestID, donorID types.ID) (domain.Record, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+recordColumns+`
		FROM donor_notifications WHERE request_id = $1 AND donor_id = $2`, requestID, donorID)
	rec, err := scanRecord(row)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("request", requestID.String())
	}
	return rec, err
}

// ListByRequest returns every record of a broadcast
func (r *PostgresRepository) ListByRequest(ctx context.Context, requestID types.ID) ([]domain.Record, error) {
	return r.list(ctx, `WHERE request_id = $1 ORDER BY created_at, donor_id`, requestID)
}

// ListByDonor returns a donor's records, newest first
func (r *PostgresRepository) ListByDonor(ctx context.Context, donorID types.ID) ([]domain.Record, error) {
	return r.list(ctx, `WHERE donor_id = $1 ORDER BY created_at DESC`, donorID)
}

// ListByHospital returns a hospital's records, newest first
func (r *PostgresRepository) ListByHospital(ctx context.Context, hospitalID types.ID) ([]domain.Record, error) {
	return r.list(ctx, `WHERE admin_id = $1 ORDER BY created_at DESC`, hospitalID)
}

func (r *PostgresRepository) list(ctx context.Context, where string, args ...any) ([]domain.Record, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+recordColumns+` FROM donor_notifications `+where, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list records")
	}
	defer rows.Close()

	var out []domain.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveResponse moves a pending record to responded
func (r *PostgresRepository) SaveResponse(ctx context.Context, resp domain.Responded) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE donor_notifications
		SET status = 'responded', response = $3, responded_at = $4
		WHERE request_id = $1 AND donor_id = $2 AND status = 'pending'`,
		resp.RequestID, resp.DonorID, resp.Response, resp.RespondedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to save response")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("pending request", resp.RequestID.String())
	}
	return nil
}

// SaveSelection moves an accepted response to selected. The partial unique
// index on selected rows rejects a second selection for the same request.
func (r *PostgresRepository) SaveSelection(ctx context.Context, sel domain.Selected) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE donor_notifications
		SET status = 'selected', selected_at = $3
		WHERE request_id = $1 AND donor_id = $2 AND status = 'responded' AND response = 'accepted'`,
		sel.RequestID, sel.DonorID, sel.SelectedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return errors.NotFound("unresolved request", sel.RequestID.String())
		}
		return errors.Wrap(err, "failed to save selection")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("accepted response from donor", sel.DonorID.String())
	}
	return nil
}

// SupersedeOthers closes every other accepted response of the request
func (r *PostgresRepository) SupersedeOthers(ctx context.Context, requestID, selectedDonorID types.ID, at time.Time, reason string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE donor_notifications
		SET status = 'rejected', rejected_at = $3, rejection_reason = $4
		WHERE request_id = $1 AND donor_id <> $2 AND status = 'responded' AND response = 'accepted'`,
		requestID, selectedDonorID, at, reason,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to supersede responses")
	}
	return tag.RowsAffected(), nil
}

// SetDeliveryStatus records the outcome of the alert sent for a record
func (r *PostgresRepository) SetDeliveryStatus(ctx context.Context, requestID, donorID types.ID, status domain.DeliveryStatus) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE donor_notifications SET delivery_status = $3
		WHERE request_id = $1 AND donor_id = $2`,
		requestID, donorID, status,
	)
	if err != nil {
		return errors.Wrap(err, "failed to set delivery status")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("request", requestID.String())
	}
	return nil
}

// SaveForm inserts a questionnaire only while the donor's record is an
// accepted response
func (r *PostgresRepository) SaveForm(ctx context.Context, f *domain.DonationForm) error {
	answers, err := json.Marshal(f.Answers)
	if err != nil {
		return errors.Wrap(err, "failed to encode donation form")
	}

	tag, err := r.pool.Exec(ctx, `
		INSERT INTO donation_forms (request_id, donor_id, hospital_id, answers, status, submitted_at)
		SELECT $1, $2, $3, $4, $5, $6
		WHERE EXISTS (
			SELECT 1 FROM donor_notifications
			WHERE request_id = $1 AND donor_id = $2 AND status = 'responded' AND response = 'accepted'
		)`,
		f.RequestID, f.DonorID, f.HospitalID, answers, f.Status, f.SubmittedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return errors.Conflict("form has already been submitted for this request")
		}
		return errors.Wrap(err, "failed to save donation form")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("accepted response from donor", f.DonorID.String())
	}
	return nil
}

// ListForms returns a request's questionnaires, earliest first
func (r *PostgresRepository) ListForms(ctx context.Context, requestID types.ID) ([]domain.DonationForm, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT request_id, donor_id, hospital_id, answers, status, submitted_at
		FROM donation_forms WHERE request_id = $1
		ORDER BY submitted_at, donor_id`, requestID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list donation forms")
	}
	defer rows.Close()

	out := []domain.DonationForm{}
	for rows.Next() {
		var (
			f       domain.DonationForm
			answers []byte
		)
		if err := rows.Scan(&f.RequestID, &f.DonorID, &f.HospitalID, &answers, &f.Status, &f.SubmittedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan donation form")
		}
		if err := json.Unmarshal(answers, &f.Answers); err != nil {
			return nil, errors.Wrap(err, "failed to decode donation form")
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// EngagedDonors returns donors already committed to a request for bg
func (r *PostgresRepository) EngagedDonors(ctx context.Context, bg types.BloodGroup) (map[types.ID]bool, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT donor_id FROM donor_notifications
		WHERE blood_group = $1 AND status IN ('responded', 'selected')`, bg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load engaged donors")
	}
	defer rows.Close()

	out := map[types.ID]bool{}
	for rows.Next() {
		var id types.ID
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan donor id")
		}
		out[id] = true
	}
	return out, rows.Err()
}

// LastNotified returns the newest record time per donor
func (r *PostgresRepository) LastNotified(ctx context.Context, donorIDs []types.ID) (map[types.ID]time.Time, error) {
	out := map[types.ID]time.Time{}
	if len(donorIDs) == 0 {
		return out, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT donor_id, MAX(created_at) FROM donor_notifications
		WHERE donor_id = ANY($1::uuid[])
		GROUP BY donor_id`, types.Strings(donorIDs))
	if err != nil {
		return nil, errors.Wrap(err, "failed to load notification times")
	}
	defer rows.Close()

	for rows.Next() {
		var id types.ID
		var at time.Time
		if err := rows.Scan(&id, &at); err != nil {
			return nil, errors.Wrap(err, "failed to scan notification time")
		}
		out[id] = at
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (domain.Record, error) {
	var (
		rr       domain.Row
		response *string
		reason   *string
	)
	err := row.Scan(
		&rr.RequestID, &rr.DonorID, &rr.HospitalID, &rr.BloodGroup, &rr.DistanceKm, &rr.Channel, &rr.Delivery, &rr.CreatedAt,
		&rr.Status, &response, &rr.RespondedAt, &rr.SelectedAt, &rr.RejectedAt, &reason,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to scan record")
	}
	if response != nil {
		d := domain.Decision(*response)
		rr.Response = &d
	}
	rr.RejectionReason = reason

	rec, err := rr.Decode()
	if err != nil {
		return nil, errors.Internal(err)
	}
	return rec, nil
}
