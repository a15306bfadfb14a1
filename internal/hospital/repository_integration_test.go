//go:build integration

package hospital

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bloodbridge/platform/internal/shared/database"
	"github.com/bloodbridge/platform/internal/shared/errors"
	"github.com/bloodbridge/platform/internal/shared/types"
)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, database.Migrate(ctx, pool, zap.NewNop()))
	return pool
}

func seedHospital(t *testing.T, repo *Repository) *Hospital {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	id := types.NewID()
	h := &Hospital{
		ID: id, Name: "Integration " + id.String()[:8], HospitalCode: id.String(),
		Email: id.String() + "@it.example", Status: StatusActive, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, repo.Create(context.Background(), h))
	return h
}

func TestAnswerTransferIsConditional(t *testing.T) {
	repo := NewRepository(testPool(t))
	ctx := context.Background()
	city, general := seedHospital(t, repo), seedHospital(t, repo)

	now := time.Now().UTC().Truncate(time.Microsecond)
	tr, err := NewTransfer(city.ID, TransferRequest{ToHospitalID: general.ID, BloodGroup: "O-", Units: 2}, now)
	require.NoError(t, err)
	require.NoError(t, repo.CreateTransfer(ctx, tr))

	// Addressed to the wrong hospital.
	wrong := *tr
	wrong.ToHospitalID = city.ID
	require.NoError(t, wrong.Answer(TransferAccepted, "", now))
	assert.True(t, errors.IsNotFound(repo.AnswerTransfer(ctx, &wrong)))

	require.NoError(t, tr.Answer(TransferAccepted, "sending", now))
	require.NoError(t, repo.AnswerTransfer(ctx, tr))

	again := *tr
	again.Status = TransferRejected
	assert.True(t, errors.IsNotFound(repo.AnswerTransfer(ctx, &again)))

	stored, err := repo.GetTransfer(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, TransferAccepted, stored.Status)
	assert.Equal(t, "sending", stored.ResponseMessage)

	outgoing, err := repo.ListTransfers(ctx, city.ID, Outgoing)
	require.NoError(t, err)
	require.Len(t, outgoing, 1)
	incoming, err := repo.ListTransfers(ctx, city.ID, Incoming)
	require.NoError(t, err)
	assert.Empty(t, incoming)
}
