package infrastructure

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bloodbridge/platform/internal/shared/database"
	"github.com/bloodbridge/platform/internal/shared/errors"
)

// BackfillResult reports what a backfill run changed.
type BackfillResult struct {
	FromBroadcast int64 `json:"from_broadcast"`
	FromSibling   int64 `json:"from_sibling"`
	Remaining     int64 `json:"remaining"`
}

// BackfillHospitalIDs fills admin_id on records imported without one. The
// originating broadcast is preferred; otherwise a sibling record of the same
// request that does carry a hospital id is used. Safe to run repeatedly.
func BackfillHospitalIDs(ctx context.Context, pool *pgxpool.Pool, dryRun bool) (*BackfillResult, error) {
	res := &BackfillResult{}

	err := database.WithTx(ctx, pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE donor_notifications n
			SET admin_id = b.hospital_id
			FROM blood_requests b
			WHERE n.admin_id IS NULL AND n.request_id = b.request_id`)
		if err != nil {
			return errors.Wrap(err, "failed to backfill from broadcasts")
		}
		res.FromBroadcast = tag.RowsAffected()

		tag, err = tx.Exec(ctx, `
			UPDATE donor_notifications n
			SET admin_id = s.admin_id
			FROM (
				SELECT DISTINCT ON (request_id) request_id, admin_id
				FROM donor_notifications
				WHERE admin_id IS NOT NULL
				ORDER BY request_id, created_at
			) s
			WHERE n.admin_id IS NULL AND n.request_id = s.request_id`)
		if err != nil {
			return errors.Wrap(err, "failed to backfill from sibling records")
		}
		res.FromSibling = tag.RowsAffected()

		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM donor_notifications WHERE admin_id IS NULL`).
			Scan(&res.Remaining); err != nil {
			return errors.Wrap(err, "failed to count remaining records")
		}

		if dryRun {
			return errDryRun
		}
		return nil
	})
	if err == errDryRun {
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// errDryRun rolls the transaction back after counting.
var errDryRun = fmt.Errorf("dry run")
