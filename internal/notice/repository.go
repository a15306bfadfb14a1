package notice

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/bloodbridge/platform/internal/shared/errors"
	"github.com/bloodbridge/platform/internal/shared/types"
)

// Store persists notices. SetStatus and Delete only touch notices owned by
// hospitalID and return NotFound otherwise.
type Store interface {
	Create(ctx context.Context, n *Notice) error
	Get(ctx context.Context, id types.ID) (*Notice, error)
	ListByHospital(ctx context.Context, hospitalID types.ID) ([]Notice, error)
	ListActive(ctx context.Context, limit int) ([]Notice, error)
	SetStatus(ctx context.Context, id, hospitalID types.ID, status Status, at time.Time) error
	SetRecipients(ctx context.Context, id types.ID, recipients int) error
	Delete(ctx context.Context, id, hospitalID types.ID) error
}

// Repository stores notices in Postgres
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a notice repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const noticeColumns = `id, hospital_id, title, organization_type, organization_name, description,
	contact_person, contact_number, email, address, lat, lng, event_date,
	requirements, blood_groups_needed, image_url, status, recipients, created_at, updated_at`

// Create inserts a notice
func (r *Repository) Create(ctx context.Context, n *Notice) error {
	address, lat, lng := n.Location.Columns()
	requirements, err := json.Marshal(n.Requirements)
	if err != nil {
		return apperrors.Wrap(err, "failed to encode requirements")
	}
	groups, err := json.Marshal(n.BloodGroupsNeeded)
	if err != nil {
		return apperrors.Wrap(err, "failed to encode blood groups")
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO notices (`+noticeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		n.ID, n.HospitalID, n.Title, n.OrganizationType, n.OrganizationName, n.Description,
		n.ContactPerson, n.ContactNumber, n.Email, address, lat, lng, n.EventDate,
		requirements, groups, n.ImageURL, n.Status, n.Recipients, n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to create notice")
	}
	return nil
}

// Get retrieves a notice by ID
func (r *Repository) Get(ctx context.Context, id types.ID) (*Notice, error) {
	n, err := scanNotice(r.pool.QueryRow(ctx, `SELECT `+noticeColumns+` FROM notices WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("notice", id.String())
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to get notice")
	}
	return n, nil
}

// ListByHospital returns a hospital's notices, newest first
func (r *Repository) ListByHospital(ctx context.Context, hospitalID types.ID) ([]Notice, error) {
	return r.list(ctx, `
		SELECT `+noticeColumns+` FROM notices
		WHERE hospital_id = $1
		ORDER BY created_at DESC`, hospitalID)
}

// ListActive returns up to limit active notices, newest first
func (r *Repository) ListActive(ctx context.Context, limit int) ([]Notice, error) {
	return r.list(ctx, `
		SELECT `+noticeColumns+` FROM notices
		WHERE status = 'active'
		ORDER BY created_at DESC
		LIMIT $1`, limit)
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]Notice, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list notices")
	}
	defer rows.Close()

	notices := []Notice{}
	for rows.Next() {
		n, err := scanNotice(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan notice")
		}
		notices = append(notices, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to list notices")
	}
	return notices, nil
}

// SetStatus activates or deactivates a notice owned by hospitalID
func (r *Repository) SetStatus(ctx context.Context, id, hospitalID types.ID, status Status, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notices SET status = $3, updated_at = $4
		WHERE id = $1 AND hospital_id = $2`, id, hospitalID, status, at)
	if err != nil {
		return apperrors.Wrap(err, "failed to update notice status")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("notice", id.String())
	}
	return nil
}

// SetRecipients records how many donors were notified
func (r *Repository) SetRecipients(ctx context.Context, id types.ID, recipients int) error {
	tag, err := r.pool.Exec(ctx, `UPDATE notices SET recipients = $2 WHERE id = $1`, id, recipients)
	if err != nil {
		return apperrors.Wrap(err, "failed to update notice recipients")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("notice", id.String())
	}
	return nil
}

// Delete removes a notice owned by hospitalID
func (r *Repository) Delete(ctx context.Context, id, hospitalID types.ID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM notices WHERE id = $1 AND hospital_id = $2`, id, hospitalID)
	if err != nil {
		return apperrors.Wrap(err, "failed to delete notice")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("notice", id.String())
	}
	return nil
}

func scanNotice(row pgx.Row) (*Notice, error) {
	var (
		n                    Notice
		address              string
		lat, lng             *float64
		requirements, groups []byte
	)
	err := row.Scan(
		&n.ID, &n.HospitalID, &n.Title, &n.OrganizationType, &n.OrganizationName, &n.Description,
		&n.ContactPerson, &n.ContactNumber, &n.Email, &address, &lat, &lng, &n.EventDate,
		&requirements, &groups, &n.ImageURL, &n.Status, &n.Recipients, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if loc := types.LocationFromColumns(address, lat, lng); loc != nil {
		n.Location = *loc
	}
	if err := json.Unmarshal(requirements, &n.Requirements); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(groups, &n.BloodGroupsNeeded); err != nil {
		return nil, err
	}
	return &n, nil
}

var _ Store = (*Repository)(nil)
