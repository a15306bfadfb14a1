package hospital

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bloodbridge/platform/internal/shared/database"
	apperrors "github.com/bloodbridge/platform/internal/shared/errors"
	"github.com/bloodbridge/platform/internal/shared/types"
)

// Store is the hospital persistence contract.
type Store interface {
	Create(ctx context.Context, h *Hospital) error
	Get(ctx context.Context, id types.ID) (*Hospital, error)
	List(ctx context.Context) ([]Hospital, error)
	SetStatus(ctx context.Context, id types.ID, status Status, at time.Time) error
	SetInventory(ctx context.Context, id types.ID, inv Inventory, at time.Time) error

	AddUnit(ctx context.Context, u *BloodUnit) error
	GetUnit(ctx context.Context, hospitalID types.ID, code string) (*BloodUnit, error)
	ListUnits(ctx context.Context, hospitalID types.ID) ([]BloodUnit, error)
	UpdateUnit(ctx context.Context, u *BloodUnit) error
	DeleteUnit(ctx context.Context, hospitalID types.ID, code string) error
}

// Repository provides database operations for hospitals and blood units
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new hospital repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// --- Hospital Operations ---

const hospitalColumns = `id, name, hospital_code, admin_name, email, phone,
	address, lat, lng, status, inventory, created_at, updated_at`

// Create inserts a new hospital
func (r *Repository) Create(ctx context.Context, h *Hospital) error {
	address, lat, lng := h.Location.Columns()
	inv, err := json.Marshal(h.Inventory.Normalize())
	if err != nil {
		return apperrors.Wrap(err, "failed to encode inventory")
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO hospitals (`+hospitalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		h.ID, h.Name, h.HospitalCode, h.AdminName, h.Email, h.Phone,
		address, lat, lng, h.Status, inv, h.CreatedAt, h.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.Conflict("hospital with this code or email already exists")
		}
		return apperrors.Wrap(err, "failed to create hospital")
	}
	return nil
}

// Get retrieves a hospital by ID
func (r *Repository) Get(ctx context.Context, id types.ID) (*Hospital, error) {
	h, err := scanHospital(r.pool.QueryRow(ctx, `SELECT `+hospitalColumns+` FROM hospitals WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("hospital", id.String())
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to get hospital")
	}
	return h, nil
}

// List returns all hospitals by name
func (r *Repository) List(ctx context.Context) ([]Hospital, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+hospitalColumns+` FROM hospitals ORDER BY name`)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list hospitals")
	}
	defer rows.Close()

	var hospitals []Hospital
	for rows.Next() {
		h, err := scanHospital(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan hospital")
		}
		hospitals = append(hospitals, *h)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to list hospitals")
	}
	return hospitals, nil
}

// SetStatus changes the account status
func (r *Repository) SetStatus(ctx context.Context, id types.ID, status Status, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE hospitals SET status = $2, updated_at = $3 WHERE id = $1`, id, status, at)
	if err != nil {
		return apperrors.Wrap(err, "failed to update hospital status")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("hospital", id.String())
	}
	return nil
}

// SetInventory replaces the inventory counts
func (r *Repository) SetInventory(ctx context.Context, id types.ID, inv Inventory, at time.Time) error {
	data, err := json.Marshal(inv.Normalize())
	if err != nil {
		return apperrors.Wrap(err, "failed to encode inventory")
	}
	tag, err := r.pool.Exec(ctx, `UPDATE hospitals SET inventory = $2, updated_at = $3 WHERE id = $1`, id, data, at)
	if err != nil {
		return apperrors.Wrap(err, "failed to update inventory")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("hospital", id.String())
	}
	return nil
}

func scanHospital(row pgx.Row) (*Hospital, error) {
	var (
		h        Hospital
		address  string
		lat, lng *float64
		inv      []byte
	)
	err := row.Scan(
		&h.ID, &h.Name, &h.HospitalCode, &h.AdminName, &h.Email, &h.Phone,
		&address, &lat, &lng, &h.Status, &inv, &h.CreatedAt, &h.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	h.Location = types.LocationFromColumns(address, lat, lng)
	if err := json.Unmarshal(inv, &h.Inventory); err != nil {
		return nil, err
	}
	h.Inventory = h.Inventory.Normalize()
	return &h, nil
}

// --- Blood Unit Operations ---

const unitColumns = `hospital_id, unit_code, blood_group, entry_time, expires_at, status, used_at, expired_at`

// AddUnit inserts a unit; codes are unique per hospital
func (r *Repository) AddUnit(ctx context.Context, u *BloodUnit) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO blood_units (`+unitColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.HospitalID, u.Code, u.BloodGroup, u.EntryTime, u.ExpiresAt, u.Status, u.UsedAt, u.ExpiredAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.Conflict("blood ID already exists")
		}
		return apperrors.Wrap(err, "failed to add blood unit")
	}
	return nil
}

// GetUnit retrieves one unit
func (r *Repository) GetUnit(ctx context.Context, hospitalID types.ID, code string) (*BloodUnit, error) {
	u, err := scanUnit(r.pool.QueryRow(ctx, `
		SELECT `+unitColumns+` FROM blood_units WHERE hospital_id = $1 AND unit_code = $2`, hospitalID, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("blood unit", code)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to get blood unit")
	}
	return u, nil
}

// ListUnits returns a hospital's units, most recent entry first
func (r *Repository) ListUnits(ctx context.Context, hospitalID types.ID) ([]BloodUnit, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+unitColumns+` FROM blood_units
		WHERE hospital_id = $1
		ORDER BY entry_time DESC`, hospitalID)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list blood units")
	}
	defer rows.Close()

	var units []BloodUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan blood unit")
		}
		units = append(units, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to list blood units")
	}
	return units, nil
}

// UpdateUnit writes the unit's status fields
func (r *Repository) UpdateUnit(ctx context.Context, u *BloodUnit) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE blood_units SET status = $3, used_at = $4, expired_at = $5
		WHERE hospital_id = $1 AND unit_code = $2`,
		u.HospitalID, u.Code, u.Status, u.UsedAt, u.ExpiredAt,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to update blood unit")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("blood unit", u.Code)
	}
	return nil
}

// DeleteUnit removes a unit
func (r *Repository) DeleteUnit(ctx context.Context, hospitalID types.ID, code string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM blood_units WHERE hospital_id = $1 AND unit_code = $2`, hospitalID, code)
	if err != nil {
		return apperrors.Wrap(err, "failed to delete blood unit")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("blood unit", code)
	}
	return nil
}

func scanUnit(row pgx.Row) (*BloodUnit, error) {
	var u BloodUnit
	if err := row.Scan(&u.HospitalID, &u.Code, &u.BloodGroup, &u.EntryTime, &u.ExpiresAt, &u.Status, &u.UsedAt, &u.ExpiredAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// --- Transfer Operations ---

const transferColumns = `id, from_hospital_id, to_hospital_id, blood_group, units, message,
	status, response_message, created_at, responded_at`

// CreateTransfer inserts a pending transfer
func (r *Repository) CreateTransfer(ctx context.Context, t *Transfer) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO hospital_transfers (`+transferColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.FromHospitalID, t.ToHospitalID, t.BloodGroup, t.Units, t.Message,
		t.Status, t.ResponseMessage, t.CreatedAt, t.RespondedAt,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to create transfer")
	}
	return nil
}

// GetTransfer retrieves a transfer by ID
func (r *Repository) GetTransfer(ctx context.Context, id types.ID) (*Transfer, error) {
	t, err := scanTransfer(r.pool.QueryRow(ctx, `SELECT `+transferColumns+` FROM hospital_transfers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("transfer", id.String())
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to get transfer")
	}
	return t, nil
}

// ListTransfers returns a hospital's incoming or outgoing transfers, newest first
func (r *Repository) ListTransfers(ctx context.Context, hospitalID types.ID, dir Direction) ([]Transfer, error) {
	column := "to_hospital_id"
	if dir == Outgoing {
		column = "from_hospital_id"
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+transferColumns+` FROM hospital_transfers
		WHERE `+column+` = $1
		ORDER BY created_at DESC`, hospitalID)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list transfers")
	}
	defer rows.Close()

	transfers := []Transfer{}
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan transfer")
		}
		transfers = append(transfers, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to list transfers")
	}
	return transfers, nil
}

// AnswerTransfer records the decision while the transfer is still pending
func (r *Repository) AnswerTransfer(ctx context.Context, t *Transfer) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE hospital_transfers
		SET status = $3, response_message = $4, responded_at = $5
		WHERE id = $1 AND to_hospital_id = $2 AND status = 'pending'`,
		t.ID, t.ToHospitalID, t.Status, t.ResponseMessage, t.RespondedAt,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to answer transfer")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("pending transfer", t.ID.String())
	}
	return nil
}

func scanTransfer(row pgx.Row) (*Transfer, error) {
	var t Transfer
	err := row.Scan(
		&t.ID, &t.FromHospitalID, &t.ToHospitalID, &t.BloodGroup, &t.Units, &t.Message,
		&t.Status, &t.ResponseMessage, &t.CreatedAt, &t.RespondedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

var (
	_ Store         = (*Repository)(nil)
	_ TransferStore = (*Repository)(nil)
)
