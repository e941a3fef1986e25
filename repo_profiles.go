package identity

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Profiles is the store adapter for the profiles table. Creation is
// idempotent: a unique-constraint conflict is reported as "already exists",
// never as an error, because two reconciliation paths may race to
// materialize the same profile.
type Profiles interface {
	repository.Repository[*Profile]

	GetByEmail(ctx context.Context, email string) (*Profile, error)
	GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Profile, error)
	Create(ctx context.Context, record *Profile, criteria ...repository.InsertCriteria) (*Profile, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *Profile, criteria ...repository.InsertCriteria) (*Profile, error)
	CreateIdempotent(ctx context.Context, record *Profile) (*Profile, bool, error)
	CreateIdempotentTx(ctx context.Context, tx bun.IDB, record *Profile) (*Profile, bool, error)
	UpdateAccountStatus(ctx context.Context, id uuid.UUID, status AccountStatus, opts ...AccountStatusOption) (*Profile, error)
	UpdateAccountStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status AccountStatus, opts ...AccountStatusOption) (*Profile, error)
	Deactivate(ctx context.Context, actor ActorRef, profile *Profile, opts ...TransitionOption) (*Profile, error)
	Reinstate(ctx context.Context, actor ActorRef, profile *Profile, opts ...TransitionOption) (*Profile, error)
	MarkDeleted(ctx context.Context, actor ActorRef, profile *Profile, opts ...TransitionOption) (*Profile, error)
}

type profiles struct {
	repository.Repository[*Profile]
	db                  *bun.DB
	stateMachine        AccountStateMachine
	stateMachineOptions []StateMachineOption
}

var (
	_ Profiles                        = (*profiles)(nil)
	_ repository.Repository[*Profile] = (*profiles)(nil)
)

// ProfilesOption configures the repository.
type ProfilesOption func(*profiles)

// WithProfilesStateMachine injects a custom lifecycle machine.
func WithProfilesStateMachine(sm AccountStateMachine) ProfilesOption {
	return func(p *profiles) {
		p.stateMachine = sm
	}
}

// WithProfilesStateMachineOptions forwards options to the lazily built
// lifecycle machine.
func WithProfilesStateMachineOptions(options ...StateMachineOption) ProfilesOption {
	return func(p *profiles) {
		if len(options) == 0 {
			return
		}
		p.stateMachineOptions = append(p.stateMachineOptions, options...)
		p.stateMachine = nil
	}
}

// NewProfilesRepository builds the bun-backed Profiles store.
func NewProfilesRepository(db *bun.DB, opts ...ProfilesOption) Profiles {
	repo := repository.NewRepository[*Profile](db, repository.ModelHandlers[*Profile]{
		NewRecord: func() *Profile { return &Profile{} },
		GetID: func(p *Profile) uuid.UUID {
			if p == nil {
				return uuid.Nil
			}
			return p.ID
		},
		SetID: func(p *Profile, id uuid.UUID) {
			if p != nil {
				p.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	repoProfiles := &profiles{
		Repository: repo,
		db:         db,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repoProfiles)
		}
	}

	return repoProfiles
}

func (a *profiles) GetByEmail(ctx context.Context, email string) (*Profile, error) {
	return a.GetByEmailTx(ctx, a.db, email)
}

func (a *profiles) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Profile, error) {
	email = strings.TrimSpace(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, repository.NewRecordNotFound().WithMetadata(map[string]any{
			"email": email,
		})
	}

	record := &Profile{}
	err := tx.NewSelect().Model(record).
		Where("?TableAlias.email = ?", email).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().WithMetadata(map[string]any{
				"email": email,
			})
		}
		return nil, err
	}

	return record, nil
}

func (a *profiles) Create(ctx context.Context, record *Profile, criteria ...repository.InsertCriteria) (*Profile, error) {
	return a.CreateTx(ctx, a.db, record, criteria...)
}

func (a *profiles) CreateTx(ctx context.Context, tx bun.IDB, record *Profile, criteria ...repository.InsertCriteria) (*Profile, error) {
	prepareProfileDefaults(record)
	return a.Repository.CreateTx(ctx, tx, record, criteria...)
}

// CreateIdempotent inserts the record, treating a duplicate-key conflict as
// "already exists": the stored row is fetched back and returned with
// created=false. This substitutes for a distributed lock when concurrent
// reconciliations race.
func (a *profiles) CreateIdempotent(ctx context.Context, record *Profile) (*Profile, bool, error) {
	return a.CreateIdempotentTx(ctx, a.db, record)
}

func (a *profiles) CreateIdempotentTx(ctx context.Context, tx bun.IDB, record *Profile) (*Profile, bool, error) {
	created, err := a.CreateTx(ctx, tx, record)
	if err == nil {
		return created, true, nil
	}

	if !IsDuplicateKey(err) {
		return nil, false, err
	}

	existing, ferr := a.Repository.GetByIDTx(ctx, tx, record.ID.String())
	if ferr == nil {
		return existing, false, nil
	}

	// Conflict on the email column rather than the primary key.
	if repository.IsRecordNotFound(ferr) {
		if existing, ferr = a.GetByEmailTx(ctx, tx, record.Email); ferr == nil {
			return existing, false, nil
		}
	}

	return nil, false, err
}

func (a *profiles) UpdateAccountStatus(ctx context.Context, id uuid.UUID, status AccountStatus, opts ...AccountStatusOption) (*Profile, error) {
	return a.UpdateAccountStatusTx(ctx, a.db, id, status, opts...)
}

func (a *profiles) UpdateAccountStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status AccountStatus, opts ...AccountStatusOption) (*Profile, error) {
	record := &Profile{
		ID:            id,
		AccountStatus: status,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(record)
		}
	}

	return a.Repository.UpdateTx(ctx, tx, record, repository.UpdateByID(id.String()))
}

func (a *profiles) Deactivate(ctx context.Context, actor ActorRef, profile *Profile, opts ...TransitionOption) (*Profile, error) {
	return a.lifecycleMachine().Transition(ctx, actor, profile, AccountDeactivated, opts...)
}

func (a *profiles) Reinstate(ctx context.Context, actor ActorRef, profile *Profile, opts ...TransitionOption) (*Profile, error) {
	return a.lifecycleMachine().Transition(ctx, actor, profile, AccountActive, opts...)
}

func (a *profiles) MarkDeleted(ctx context.Context, actor ActorRef, profile *Profile, opts ...TransitionOption) (*Profile, error) {
	return a.lifecycleMachine().Transition(ctx, actor, profile, AccountDeleted, opts...)
}

func (a *profiles) lifecycleMachine() AccountStateMachine {
	if a.stateMachine == nil {
		a.stateMachine = NewAccountStateMachine(a, a.stateMachineOptions...)
	}
	return a.stateMachine
}

// AccountStatusOption mutates the profile record before persisting a status
// change.
type AccountStatusOption func(*Profile)

// WithDeactivatedAt sets the DeactivatedAt timestamp during a transition.
func WithDeactivatedAt(at *time.Time) AccountStatusOption {
	return func(p *Profile) {
		p.DeactivatedAt = at
	}
}

func prepareProfileDefaults(record *Profile) {
	if record == nil {
		return
	}

	if record.Role == "" {
		record.Role = RolePublic
	}

	if record.Status == "" {
		if RequiresApproval(record.Role) {
			record.Status = StatusPendingApproval
		} else {
			record.Status = StatusActive
		}
	}

	if record.AccountStatus == "" {
		record.AccountStatus = AccountActive
	}

	if record.Name == "" {
		record.Name = NameFromEmail(record.Email)
	}
}

// RegistrationLabel is a short description for logs and activity metadata.
func RegistrationLabel(p *Profile) string {
	if p == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s (%s/%s)", p.Email, p.Role, p.Status)
}
