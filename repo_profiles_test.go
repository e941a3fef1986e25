package identity_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	identity "github.com/Hasitha0/EcoTech-sub000"
)

const sqliteCreateProfiles = `CREATE TABLE profiles (
    id TEXT NOT NULL PRIMARY KEY,
    name TEXT NOT NULL,
    email TEXT NOT NULL UNIQUE,
    role TEXT NOT NULL,
    phone TEXT,
    address TEXT,
    district TEXT,
    area TEXT,
    status TEXT NOT NULL,
    account_status TEXT NOT NULL,
    vehicle_type TEXT,
    license_number TEXT,
    deactivated_at TIMESTAMP NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    deleted_at TIMESTAMP NULL
);`

func setupProfilesRepo(t *testing.T) (identity.Profiles, func()) {
	t.Helper()

	db, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	bunDB := bun.NewDB(db, sqlitedialect.New())

	_, err = bunDB.Exec(sqliteCreateProfiles)
	require.NoError(t, err)

	cleanup := func() {
		_ = bunDB.Close()
		_ = db.Close()
	}

	return identity.NewProfilesRepository(bunDB), cleanup
}

func TestProfilesRepositoryCreateAppliesDefaults(t *testing.T) {
	repo, cleanup := setupProfilesRepo(t)
	defer cleanup()
	ctx := context.Background()

	created, err := repo.Create(ctx, &identity.Profile{
		ID:    uuid.New(),
		Email: "fresh@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, identity.RolePublic, created.Role)
	assert.Equal(t, identity.StatusActive, created.Status)
	assert.Equal(t, identity.AccountActive, created.AccountStatus)
	assert.Equal(t, "fresh", created.Name)
}

func TestProfilesRepositoryGetByEmail(t *testing.T) {
	repo, cleanup := setupProfilesRepo(t)
	defer cleanup()
	ctx := context.Background()

	id := uuid.New()
	_, err := repo.Create(ctx, &identity.Profile{
		ID:    id,
		Name:  "Chamari",
		Email: "chamari@example.com",
		Role:  identity.RoleCollector,
	})
	require.NoError(t, err)

	found, err := repo.GetByEmail(ctx, "chamari@example.com")
	require.NoError(t, err)
	assert.Equal(t, id, found.ID)
	assert.Equal(t, identity.RoleCollector, found.Role)
	assert.Equal(t, identity.StatusPendingApproval, found.Status)

	_, err = repo.GetByEmail(ctx, "missing@example.com")
	assert.True(t, repository.IsRecordNotFound(err))

	_, err = repo.GetByEmail(ctx, "not-an-email")
	assert.True(t, repository.IsRecordNotFound(err))
}

func TestProfilesRepositoryCreateIdempotentSameID(t *testing.T) {
	repo, cleanup := setupProfilesRepo(t)
	defer cleanup()
	ctx := context.Background()

	id := uuid.New()
	first, created, err := repo.CreateIdempotent(ctx, &identity.Profile{
		ID:    id,
		Email: "once@example.com",
	})
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := repo.CreateIdempotent(ctx, &identity.Profile{
		ID:    id,
		Email: "once@example.com",
		Role:  identity.RoleCollector,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	// the stored row wins; the retry's role change is discarded
	assert.Equal(t, identity.RolePublic, second.Role)
}

func TestProfilesRepositoryCreateIdempotentConcurrent(t *testing.T) {
	repo, cleanup := setupProfilesRepo(t)
	defer cleanup()
	ctx := context.Background()

	id := uuid.New()

	var wg sync.WaitGroup
	profiles := make([]*identity.Profile, 2)
	createdFlags := make([]bool, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			profiles[i], createdFlags[i], errs[i] = repo.CreateIdempotent(ctx, &identity.Profile{
				ID:    id,
				Email: "race@example.com",
			})
		}(i)
	}
	wg.Wait()

	// both callers observe success over exactly one persisted row
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, id, profiles[0].ID)
	assert.Equal(t, id, profiles[1].ID)

	wins := 0
	for _, created := range createdFlags {
		if created {
			wins++
		}
	}
	assert.Equal(t, 1, wins)
}

func TestProfilesRepositoryCreateIdempotentEmailConflict(t *testing.T) {
	repo, cleanup := setupProfilesRepo(t)
	defer cleanup()
	ctx := context.Background()

	original := uuid.New()
	_, _, err := repo.CreateIdempotent(ctx, &identity.Profile{
		ID:    original,
		Email: "shared@example.com",
	})
	require.NoError(t, err)

	// a different provisional id racing on the same email lands on the
	// existing row
	stored, created, err := repo.CreateIdempotent(ctx, &identity.Profile{
		ID:    uuid.New(),
		Email: "shared@example.com",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, original, stored.ID)
}
