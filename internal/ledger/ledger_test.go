package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"datapack-backend/internal/db"
	"datapack-backend/internal/model"
	"datapack-backend/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gormDB))
	return store.NewGormStore(gormDB)
}

func createAllowance(t *testing.T, s store.Store, ownerID string, capacityMB, consumedMB int64, expiresIn *time.Duration) *model.Allowance {
	a := &model.Allowance{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		Name:       "test pack",
		CapacityMB: capacityMB,
		ConsumedMB: consumedMB,
		Status:     model.AllowanceActive,
	}
	if expiresIn != nil {
		at := time.Now().UTC().Add(*expiresIn)
		a.ExpiresAt = &at
	}
	require.NoError(t, s.CreateAllowance(context.Background(), a))
	return a
}

func days(n int) *time.Duration {
	d := time.Duration(n) * 24 * time.Hour
	return &d
}

func TestAllocate_SoonestExpiryFirst(t *testing.T) {
	s := newTestStore(t)
	l := New(s, 0)
	ctx := context.Background()

	// A expires in 2 days with 500MB left, B in 10 days untouched.
	a := createAllowance(t, s, "owner-1", 1000, 500, days(2))
	b := createAllowance(t, s, "owner-1", 1000, 0, days(10))

	result, err := l.Allocate(ctx, "owner-1", 700)
	require.NoError(t, err)

	require.Len(t, result.Entries, 2)
	assert.Equal(t, a.ID, result.Entries[0].AllowanceID)
	assert.Equal(t, int64(500), result.Entries[0].TakenMB)
	assert.True(t, result.Entries[0].Exhausted)
	assert.Equal(t, b.ID, result.Entries[1].AllowanceID)
	assert.Equal(t, int64(200), result.Entries[1].TakenMB)
	assert.False(t, result.Entries[1].Exhausted)
	assert.Zero(t, result.UnallocatedMB)

	gotA, err := s.GetAllowance(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AllowanceExhausted, gotA.Status)
	assert.Equal(t, int64(1000), gotA.ConsumedMB)

	gotB, err := s.GetAllowance(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AllowanceActive, gotB.Status)
	assert.Equal(t, int64(200), gotB.ConsumedMB)
}

func TestAllocate_NeverExpiringConsumedLast(t *testing.T) {
	s := newTestStore(t)
	l := New(s, 0)
	ctx := context.Background()

	noExpiry := createAllowance(t, s, "owner-1", 1000, 0, nil)
	expiring := createAllowance(t, s, "owner-1", 1000, 0, days(5))

	result, err := l.Allocate(ctx, "owner-1", 1200)
	require.NoError(t, err)

	require.Len(t, result.Entries, 2)
	assert.Equal(t, expiring.ID, result.Entries[0].AllowanceID)
	assert.Equal(t, int64(1000), result.Entries[0].TakenMB)
	assert.Equal(t, noExpiry.ID, result.Entries[1].AllowanceID)
	assert.Equal(t, int64(200), result.Entries[1].TakenMB)
}

func TestAllocate_ShortfallIsDataNotError(t *testing.T) {
	s := newTestStore(t)
	l := New(s, 0)
	ctx := context.Background()

	createAllowance(t, s, "owner-1", 100, 70, days(3))

	result, err := l.Allocate(ctx, "owner-1", 80)
	require.NoError(t, err)
	require.Len(t, result.Entries, 1)
	assert.Equal(t, int64(30), result.Entries[0].TakenMB)
	assert.Equal(t, int64(50), result.UnallocatedMB)
}

func TestAllocate_NoActiveAllowances(t *testing.T) {
	s := newTestStore(t)
	l := New(s, 0)

	_, err := l.Allocate(context.Background(), "owner-without-packs", 50)
	assert.ErrorIs(t, err, ErrQuotaExhausted)
}

func TestAllocate_RejectsNonPositiveAmount(t *testing.T) {
	s := newTestStore(t)
	l := New(s, 0)

	_, err := l.Allocate(context.Background(), "owner-1", 0)
	assert.Error(t, err)
	_, err = l.Allocate(context.Background(), "owner-1", -10)
	assert.Error(t, err)
}

func TestAllocate_NeverExceedsCapacity(t *testing.T) {
	s := newTestStore(t)
	l := New(s, 0)
	ctx := context.Background()

	a := createAllowance(t, s, "owner-1", 250, 0, days(1))

	// Repeated over-large allocations must stop at capacity.
	for i := 0; i < 3; i++ {
		_, err := l.Allocate(ctx, "owner-1", 200)
		if err != nil {
			assert.ErrorIs(t, err, ErrQuotaExhausted)
			break
		}
	}

	got, err := s.GetAllowance(ctx, a.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got.ConsumedMB, int64(0))
	assert.LessOrEqual(t, got.ConsumedMB, got.CapacityMB)
	assert.Equal(t, int64(250), got.ConsumedMB)
	assert.Equal(t, model.AllowanceExhausted, got.Status)
}

func TestConsume_SingleAllowance(t *testing.T) {
	s := newTestStore(t)
	l := New(s, 0)
	ctx := context.Background()

	a := createAllowance(t, s, "owner-1", 100, 0, nil)

	taken, fresh, err := l.Consume(ctx, a.ID, 60)
	require.NoError(t, err)
	assert.Equal(t, int64(60), taken)
	assert.Equal(t, model.AllowanceActive, fresh.Status)

	// Asking for more than remains takes only the remainder and
	// exhausts the allowance.
	taken, fresh, err = l.Consume(ctx, a.ID, 60)
	require.NoError(t, err)
	assert.Equal(t, int64(40), taken)
	assert.Equal(t, model.AllowanceExhausted, fresh.Status)

	// Consuming an exhausted allowance takes nothing.
	taken, fresh, err = l.Consume(ctx, a.ID, 10)
	require.NoError(t, err)
	assert.Zero(t, taken)
	assert.Equal(t, model.AllowanceExhausted, fresh.Status)
}

// flakyStore loses the conditional update a fixed number of times before
// delegating, simulating a concurrent writer winning the race.
type flakyStore struct {
	store.Store
	conflicts int
}

func (f *flakyStore) ApplyConsumption(ctx context.Context, id string, prevConsumedMB, newConsumedMB int64, newStatus model.AllowanceStatus) error {
	if f.conflicts > 0 {
		f.conflicts--
		return store.ErrConflict
	}
	return f.Store.ApplyConsumption(ctx, id, prevConsumedMB, newConsumedMB, newStatus)
}

func TestAllocate_ConflictSurfacedWithoutRetries(t *testing.T) {
	s := newTestStore(t)
	createAllowance(t, s, "owner-1", 100, 0, nil)

	l := New(&flakyStore{Store: s, conflicts: 1}, 0)
	_, err := l.Allocate(context.Background(), "owner-1", 50)
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestAllocate_ConflictRetriedWhenConfigured(t *testing.T) {
	s := newTestStore(t)
	a := createAllowance(t, s, "owner-1", 100, 0, nil)

	l := New(&flakyStore{Store: s, conflicts: 1}, 1)
	result, err := l.Allocate(context.Background(), "owner-1", 50)
	require.NoError(t, err)
	require.Len(t, result.Entries, 1)
	assert.Equal(t, a.ID, result.Entries[0].AllowanceID)
	assert.Equal(t, int64(50), result.Entries[0].TakenMB)
}
