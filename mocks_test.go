package identity_test

import (
	"context"
	"database/sql"
	"sync"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/uptrace/bun"

	identity "github.com/Hasitha0/EcoTech-sub000"
)

// MockAuthClient implements identity.AuthClient
type MockAuthClient struct {
	mock.Mock

	mu        sync.Mutex
	callbacks []identity.AuthStateCallback
}

func (m *MockAuthClient) GetSession(ctx context.Context) (*identity.AuthSession, error) {
	args := m.Called(ctx)
	session, _ := args.Get(0).(*identity.AuthSession)
	return session, args.Error(1)
}

func (m *MockAuthClient) GetUser(ctx context.Context) (*identity.AuthUser, error) {
	args := m.Called(ctx)
	user, _ := args.Get(0).(*identity.AuthUser)
	return user, args.Error(1)
}

func (m *MockAuthClient) SetSession(ctx context.Context, accessToken, refreshToken string) (*identity.AuthSession, error) {
	args := m.Called(ctx, accessToken, refreshToken)
	session, _ := args.Get(0).(*identity.AuthSession)
	return session, args.Error(1)
}

func (m *MockAuthClient) VerifyOTP(ctx context.Context, tokenHash, otpType string) (*identity.AuthSession, error) {
	args := m.Called(ctx, tokenHash, otpType)
	session, _ := args.Get(0).(*identity.AuthSession)
	return session, args.Error(1)
}

func (m *MockAuthClient) SignInWithPassword(ctx context.Context, email, password string) (*identity.AuthSession, error) {
	args := m.Called(ctx, email, password)
	session, _ := args.Get(0).(*identity.AuthSession)
	return session, args.Error(1)
}

func (m *MockAuthClient) SignUp(ctx context.Context, params identity.SignUpParams) (*identity.SignUpResult, error) {
	args := m.Called(ctx, params)
	result, _ := args.Get(0).(*identity.SignUpResult)
	return result, args.Error(1)
}

func (m *MockAuthClient) SignOut(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockAuthClient) Resend(ctx context.Context, otpType, email string) error {
	args := m.Called(ctx, otpType, email)
	return args.Error(0)
}

func (m *MockAuthClient) OnAuthStateChange(cb identity.AuthStateCallback) func() {
	m.mu.Lock()
	m.callbacks = append(m.callbacks, cb)
	m.mu.Unlock()
	return func() {}
}

// Emit delivers an auth-state event to every registered callback.
func (m *MockAuthClient) Emit(event identity.AuthStateEvent, session *identity.AuthSession) {
	m.mu.Lock()
	callbacks := append([]identity.AuthStateCallback{}, m.callbacks...)
	m.mu.Unlock()
	for _, cb := range callbacks {
		cb(event, session)
	}
}

// fakeProfiles overrides only the methods exercised by tests; the embedded
// interface keeps it assignable to identity.Profiles.
type fakeProfiles struct {
	identity.Profiles

	mu       sync.Mutex
	byID     map[uuid.UUID]*identity.Profile
	created  []*identity.Profile
	updates  []identity.AccountStatus
	fetchErr error
}

func newFakeProfiles(records ...*identity.Profile) *fakeProfiles {
	f := &fakeProfiles{byID: map[uuid.UUID]*identity.Profile{}}
	for _, record := range records {
		f.byID[record.ID] = record
	}
	return f
}

func (f *fakeProfiles) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (*identity.Profile, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, repository.NewRecordNotFound()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if record, ok := f.byID[uid]; ok {
		return record, nil
	}
	return nil, repository.NewRecordNotFound()
}

func (f *fakeProfiles) GetByEmail(ctx context.Context, email string) (*identity.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, record := range f.byID {
		if record.Email == email {
			return record, nil
		}
	}
	return nil, repository.NewRecordNotFound()
}

func (f *fakeProfiles) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*identity.Profile, error) {
	return f.GetByEmail(ctx, email)
}

func (f *fakeProfiles) CreateIdempotent(ctx context.Context, record *identity.Profile) (*identity.Profile, bool, error) {
	return f.CreateIdempotentTx(ctx, nil, record)
}

func (f *fakeProfiles) CreateIdempotentTx(ctx context.Context, tx bun.IDB, record *identity.Profile) (*identity.Profile, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.byID[record.ID]; ok {
		return existing, false, nil
	}
	for _, existing := range f.byID {
		if existing.Email == record.Email {
			return existing, false, nil
		}
	}
	if record.Role == "" {
		record.Role = identity.RolePublic
	}
	if record.Status == "" {
		if identity.RequiresApproval(record.Role) {
			record.Status = identity.StatusPendingApproval
		} else {
			record.Status = identity.StatusActive
		}
	}
	if record.AccountStatus == "" {
		record.AccountStatus = identity.AccountActive
	}
	f.byID[record.ID] = record
	f.created = append(f.created, record)
	return record, true, nil
}

func (f *fakeProfiles) UpdateAccountStatus(ctx context.Context, id uuid.UUID, status identity.AccountStatus, opts ...identity.AccountStatusOption) (*identity.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.byID[id]
	if !ok {
		return nil, repository.NewRecordNotFound()
	}
	record.AccountStatus = status
	patch := &identity.Profile{ID: id, AccountStatus: status}
	for _, opt := range opts {
		if opt != nil {
			opt(patch)
		}
	}
	record.DeactivatedAt = patch.DeactivatedAt
	f.updates = append(f.updates, status)
	return record, nil
}

func (f *fakeProfiles) Update(ctx context.Context, record *identity.Profile, criteria ...repository.UpdateCriteria) (*identity.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[record.ID] = record
	return record, nil
}

// fakeCenters records recycling-center inserts.
type fakeCenters struct {
	repository.Repository[*identity.RecyclingCenter]

	mu      sync.Mutex
	created []*identity.RecyclingCenter
}

func (f *fakeCenters) CreateTx(ctx context.Context, tx bun.IDB, record *identity.RecyclingCenter, criteria ...repository.InsertCriteria) (*identity.RecyclingCenter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	f.created = append(f.created, record)
	return record, nil
}

// fakeRepoManager wires the fakes behind identity.RepositoryManager; RunInTx
// executes the callback with a zero transaction since the fakes never touch
// the database.
type fakeRepoManager struct {
	profiles *fakeProfiles
	centers  *fakeCenters
}

func newFakeRepoManager(records ...*identity.Profile) *fakeRepoManager {
	return &fakeRepoManager{
		profiles: newFakeProfiles(records...),
		centers:  &fakeCenters{},
	}
}

func (f *fakeRepoManager) Profiles() identity.Profiles { return f.profiles }

func (f *fakeRepoManager) RecyclingCenters() repository.Repository[*identity.RecyclingCenter] {
	return f.centers
}

func (f *fakeRepoManager) Validate() error { return nil }

func (f *fakeRepoManager) MustValidate() {}

func (f *fakeRepoManager) RunInTx(ctx context.Context, opts *sql.TxOptions, fn func(ctx context.Context, tx bun.Tx) error) error {
	return fn(ctx, bun.Tx{})
}

// recordingSink collects activity events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []identity.ActivityEvent
}

func (s *recordingSink) Record(ctx context.Context, event identity.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) types() []identity.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]identity.ActivityEventType, 0, len(s.events))
	for _, event := range s.events {
		out = append(out, event.EventType)
	}
	return out
}
