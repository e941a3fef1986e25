package identity

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Profiles() Profiles
	RecyclingCenters() repository.Repository[*RecyclingCenter]
}

func NewRecyclingCentersRepository(db *bun.DB) repository.Repository[*RecyclingCenter] {
	handlers := repository.ModelHandlers[*RecyclingCenter]{
		NewRecord: func() *RecyclingCenter {
			return &RecyclingCenter{}
		},
		GetID: func(record *RecyclingCenter) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *RecyclingCenter, id uuid.UUID) {
			record.ID = id
		},
		GetIdentifier: func() string {
			return "profile_id"
		},
	}
	return repository.NewRepository(db, handlers)
}

type mngr struct {
	db               *bun.DB
	profiles         Profiles
	recyclingCenters repository.Repository[*RecyclingCenter]
}

func NewRepositoryManager(db *bun.DB, opts ...ProfilesOption) RepositoryManager {
	return &mngr{
		db:               db,
		profiles:         NewProfilesRepository(db, opts...),
		recyclingCenters: NewRecyclingCentersRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.profiles == nil {
		return errors.New("repository profiles should be initialized")
	}

	if m.recyclingCenters == nil {
		return errors.New("repository recyclingCenters should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Profiles() Profiles {
	return m.profiles
}

func (m mngr) RecyclingCenters() repository.Repository[*RecyclingCenter] {
	return m.recyclingCenters
}
