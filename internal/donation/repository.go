package donation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/bloodbridge/platform/internal/shared/errors"
	"github.com/bloodbridge/platform/internal/shared/types"
)

// Store is the donation history persistence contract.
type Store interface {
	// Record inserts r unless a record for the same request already exists.
	// created is false when the insert was skipped.
	Record(ctx context.Context, r *Record) (created bool, err error)
	FindByRequest(ctx context.Context, requestID types.ID) (*Record, error)
	List(ctx context.Context, f Filter) ([]Record, int, error)
	Stats(ctx context.Context, hospitalID *types.ID, now time.Time) (*Stats, error)
}

// Repository provides database operations for donation history
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new donation repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const recordColumns = `id, request_id, donor_id, donor_name, donor_blood_group, donor_phone, donor_email,
	hospital_id, hospital_name, hospital_code, donation_date, cooldown_end, status, created_at`

// Record inserts a history entry, at most one per request
func (r *Repository) Record(ctx context.Context, rec *Record) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO donation_history (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (request_id) DO NOTHING`,
		rec.ID, rec.RequestID, rec.DonorID, rec.DonorName, rec.DonorBloodGroup, rec.DonorPhone, rec.DonorEmail,
		rec.HospitalID, rec.HospitalName, rec.HospitalCode, rec.DonationDate, rec.CooldownEnd, rec.Status, rec.CreatedAt,
	)
	if err != nil {
		return false, apperrors.Wrap(err, "failed to record donation")
	}
	return tag.RowsAffected() == 1, nil
}

// FindByRequest returns the history entry for a request
func (r *Repository) FindByRequest(ctx context.Context, requestID types.ID) (*Record, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM donation_history WHERE request_id = $1`, requestID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("donation", requestID.String())
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to get donation")
	}
	return rec, nil
}

// List returns history entries, newest first, and the unpaginated total
func (r *Repository) List(ctx context.Context, f Filter) ([]Record, int, error) {
	where, args := filterClause(f)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM donation_history`+where, args...).Scan(&total); err != nil {
		return nil, 0, apperrors.Wrap(err, "failed to count donations")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)
	query := fmt.Sprintf(`SELECT `+recordColumns+` FROM donation_history%s
		ORDER BY donation_date DESC LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperrors.Wrap(err, "failed to list donations")
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, apperrors.Wrap(err, "failed to scan donation")
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperrors.Wrap(err, "failed to list donations")
	}
	return records, total, nil
}

// Stats aggregates history, optionally for one hospital
func (r *Repository) Stats(ctx context.Context, hospitalID *types.ID, now time.Time) (*Stats, error) {
	where, args := filterClause(Filter{HospitalID: hospitalID})

	s := &Stats{
		ByBloodGroup: map[types.BloodGroup]int{},
		ByHospital:   map[string]int{},
	}

	args = append(args, now)
	err := r.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT COUNT(*), COUNT(*) FILTER (WHERE cooldown_end > $%d)
		FROM donation_history%s`, len(args), where), args...).Scan(&s.Total, &s.ActiveCooldowns)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to count donations")
	}
	args = args[:len(args)-1]

	if err := r.countBy(ctx, "donor_blood_group", where, args, func(k string, n int) {
		s.ByBloodGroup[types.BloodGroup(k)] = n
	}); err != nil {
		return nil, err
	}
	if err := r.countBy(ctx, "hospital_name", where, args, func(k string, n int) {
		s.ByHospital[k] = n
	}); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *Repository) countBy(ctx context.Context, column, where string, args []any, put func(string, int)) error {
	rows, err := r.pool.Query(ctx, `SELECT `+column+`, COUNT(*) FROM donation_history`+where+` GROUP BY `+column, args...)
	if err != nil {
		return apperrors.Wrap(err, "failed to aggregate donations")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return apperrors.Wrap(err, "failed to scan aggregate")
		}
		put(key, n)
	}
	return rows.Err()
}

func filterClause(f Filter) (string, []any) {
	var (
		clause string
		args   []any
	)
	if f.HospitalID != nil {
		args = append(args, *f.HospitalID)
		clause += fmt.Sprintf(" AND hospital_id = $%d", len(args))
	}
	if f.DonorID != nil {
		args = append(args, *f.DonorID)
		clause += fmt.Sprintf(" AND donor_id = $%d", len(args))
	}
	if clause == "" {
		return "", nil
	}
	return " WHERE" + clause[len(" AND"):], args
}

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID, &rec.RequestID, &rec.DonorID, &rec.DonorName, &rec.DonorBloodGroup, &rec.DonorPhone, &rec.DonorEmail,
		&rec.HospitalID, &rec.HospitalName, &rec.HospitalCode, &rec.DonationDate, &rec.CooldownEnd, &rec.Status, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

var _ Store = (*Repository)(nil)
