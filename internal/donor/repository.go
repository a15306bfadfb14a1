package donor

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bloodbridge/platform/internal/shared/database"
	apperrors "github.com/bloodbridge/platform/internal/shared/errors"
	"github.com/bloodbridge/platform/internal/shared/types"
)

// Store is the donor persistence contract.
type Store interface {
	Create(ctx context.Context, d *Donor) error
	Get(ctx context.Context, id types.ID) (*Donor, error)
	// ListByBloodGroup returns donors of exactly bg in registration order.
	ListByBloodGroup(ctx context.Context, bg types.BloodGroup) ([]Donor, error)
	Update(ctx context.Context, d *Donor) error
	// SetCooldown records a completed donation on the donor.
	SetCooldown(ctx context.Context, id types.ID, lastDonation, cooldownEnd time.Time) error
}

// Repository provides database operations for donors
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new donor repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const donorColumns = `id, name, email, phone, blood_group, address, lat, lng,
	age, weight_kg, height_cm, gender, last_donation_date, cooldown_end,
	created_at, updated_at`

// Create inserts a new donor
func (r *Repository) Create(ctx context.Context, d *Donor) error {
	address, lat, lng := d.Location.Columns()

	_, err := r.pool.Exec(ctx, `
		INSERT INTO donors (`+donorColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		d.ID, d.Name, d.Email, d.Phone, d.BloodGroup, address, lat, lng,
		d.Age, d.WeightKg, d.HeightCm, d.Gender, d.LastDonationDate, d.CooldownEnd,
		d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.Conflict("donor with this email already exists")
		}
		return apperrors.Wrap(err, "failed to create donor")
	}
	return nil
}

// Get retrieves a donor by ID
func (r *Repository) Get(ctx context.Context, id types.ID) (*Donor, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+donorColumns+` FROM donors WHERE id = $1`, id)
	d, err := scanDonor(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("donor", id.String())
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to get donor")
	}
	return d, nil
}

// ListByBloodGroup returns donors with exactly bg, oldest registration first.
func (r *Repository) ListByBloodGroup(ctx context.Context, bg types.BloodGroup) ([]Donor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+donorColumns+`
		FROM donors
		WHERE blood_group = $1
		ORDER BY created_at, id`, bg)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list donors")
	}
	defer rows.Close()

	var donors []Donor
	for rows.Next() {
		d, err := scanDonor(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan donor")
		}
		donors = append(donors, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to list donors")
	}
	return donors, nil
}

// Update writes the donor-editable fields (contact, medical, location).
// Donation fields are left alone; see SetCooldown.
func (r *Repository) Update(ctx context.Context, d *Donor) error {
	address, lat, lng := d.Location.Columns()

	tag, err := r.pool.Exec(ctx, `
		UPDATE donors SET
			name = $2, phone = $3, address = $4, lat = $5, lng = $6,
			age = $7, weight_kg = $8, height_cm = $9, gender = $10,
			updated_at = $11
		WHERE id = $1`,
		d.ID, d.Name, d.Phone, address, lat, lng,
		d.Age, d.WeightKg, d.HeightCm, d.Gender, d.UpdatedAt,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to update donor")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("donor", d.ID.String())
	}
	return nil
}

// SetCooldown records a completed donation.
func (r *Repository) SetCooldown(ctx context.Context, id types.ID, lastDonation, cooldownEnd time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE donors
		SET last_donation_date = $2, cooldown_end = $3, updated_at = NOW()
		WHERE id = $1`, id, lastDonation, cooldownEnd)
	if err != nil {
		return apperrors.Wrap(err, "failed to update donor cooldown")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("donor", id.String())
	}
	return nil
}

func scanDonor(row pgx.Row) (*Donor, error) {
	var (
		d        Donor
		address  string
		lat, lng *float64
	)
	err := row.Scan(
		&d.ID, &d.Name, &d.Email, &d.Phone, &d.BloodGroup, &address, &lat, &lng,
		&d.Age, &d.WeightKg, &d.HeightCm, &d.Gender, &d.LastDonationDate, &d.CooldownEnd,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Location = types.LocationFromColumns(address, lat, lng)
	return &d, nil
}

var _ Store = (*Repository)(nil)
