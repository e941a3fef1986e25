package identity

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ProfileStatus is the approval status of a profile.
type ProfileStatus = string

const (
	// StatusActive profiles have full access for their role.
	StatusActive ProfileStatus = "active"
	// StatusPendingApproval profiles await admin review.
	StatusPendingApproval ProfileStatus = "pending_approval"
	// StatusRejected profiles failed admin review.
	StatusRejected ProfileStatus = "rejected"
)

// AccountStatus is the lifecycle state of an account.
type AccountStatus = string

const (
	AccountActive      AccountStatus = "active"
	AccountDeactivated AccountStatus = "deactivated"
	AccountDeleted     AccountStatus = "deleted"
)

// Profile is the application's durable user record. Its ID always equals a
// verified identity's id; at most one profile exists per identity.
type Profile struct {
	bun.BaseModel `bun:"table:profiles,alias:prf"`
	ID            uuid.UUID     `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Name          string        `bun:"name,notnull" json:"name,omitempty"`
	Email         string        `bun:"email,notnull,unique" json:"email,omitempty"`
	Role          ProfileRole   `bun:"role,notnull" json:"role,omitempty"`
	Phone         string        `bun:"phone" json:"phone,omitempty"`
	Address       string        `bun:"address" json:"address,omitempty"`
	District      string        `bun:"district" json:"district,omitempty"`
	Area          string        `bun:"area" json:"area,omitempty"`
	Status        ProfileStatus `bun:"status,notnull" json:"status,omitempty"`
	AccountStatus AccountStatus `bun:"account_status,notnull" json:"account_status,omitempty"`
	// Collector-specific fields; recycling-center fields live in their own table.
	VehicleType   string     `bun:"vehicle_type" json:"vehicle_type,omitempty"`
	LicenseNumber string     `bun:"license_number" json:"license_number,omitempty"`
	DeactivatedAt *time.Time `bun:"deactivated_at,nullzero" json:"deactivated_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt     *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// EnsureStatus fills in the zero-value statuses for records created before
// the columns existed.
func (p *Profile) EnsureStatus() {
	if p == nil {
		return
	}
	if p.Status == "" {
		p.Status = StatusActive
	}
	if p.AccountStatus == "" {
		p.AccountStatus = AccountActive
	}
}

// RecyclingCenter holds the role-specific record for RECYCLING_CENTER
// profiles, keyed back to the profile.
type RecyclingCenter struct {
	bun.BaseModel  `bun:"table:recycling_centers,alias:rcy"`
	ID             uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	ProfileID      uuid.UUID  `bun:"profile_id,notnull,unique,type:uuid" json:"profile_id,omitempty"`
	Profile        *Profile   `bun:"rel:belongs-to,join:profile_id=id" json:"profile,omitempty"`
	CenterName     string     `bun:"center_name,notnull" json:"center_name,omitempty"`
	OperatingHours string     `bun:"operating_hours" json:"operating_hours,omitempty"`
	AcceptedItems  []string   `bun:"accepted_items,array" json:"accepted_items,omitempty"`
	CreatedAt      *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// PendingRegistration is the transient registration form data cached before
// email verification completes. Keyed by the provisional user id; best
// effort, never authoritative.
type PendingRegistration struct {
	ProvisionalID uuid.UUID `json:"provisional_id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	Role          ProfileRole `json:"role"`
	Phone         string    `json:"phone,omitempty"`
	Address       string    `json:"address,omitempty"`
	AddressLine1  string    `json:"address_line1,omitempty"`
	AddressLine2  string    `json:"address_line2,omitempty"`
	City          string    `json:"city,omitempty"`
	District      string    `json:"district,omitempty"`
	Area          string    `json:"area,omitempty"`
	// Role-specific fields.
	VehicleType    string    `json:"vehicle_type,omitempty"`
	LicenseNumber  string    `json:"license_number,omitempty"`
	CenterName     string    `json:"center_name,omitempty"`
	OperatingHours string    `json:"operating_hours,omitempty"`
	AcceptedItems  []string  `json:"accepted_items,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
}

// ComposedAddress returns the single address field if supplied, otherwise
// the line1/line2/city parts joined in order.
func (p *PendingRegistration) ComposedAddress() string {
	if p == nil {
		return ""
	}
	if strings.TrimSpace(p.Address) != "" {
		return strings.TrimSpace(p.Address)
	}
	parts := make([]string, 0, 3)
	for _, part := range []string{p.AddressLine1, p.AddressLine2, p.City} {
		if s := strings.TrimSpace(part); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

// CurrentUser is the reconciled, in-memory view exposed to the rest of the
// application. Recomputed on every successful reconciliation; never
// persisted.
type CurrentUser struct {
	ID            uuid.UUID     `json:"id"`
	Email         string        `json:"email"`
	Name          string        `json:"name"`
	Role          ProfileRole   `json:"role"`
	Status        ProfileStatus `json:"status"`
	AccountStatus AccountStatus `json:"account_status"`
	Profile       *Profile      `json:"profile,omitempty"`
}

// NewCurrentUser derives the view from a profile record.
func NewCurrentUser(p *Profile) *CurrentUser {
	if p == nil {
		return nil
	}
	p.EnsureStatus()
	return &CurrentUser{
		ID:            p.ID,
		Email:         p.Email,
		Name:          p.Name,
		Role:          p.Role,
		Status:        p.Status,
		AccountStatus: p.AccountStatus,
		Profile:       p,
	}
}

// UserPatch is a partial in-memory update applied after a profile edit that
// has already persisted remotely. Nil fields are left untouched.
type UserPatch struct {
	Name     *string
	Phone    *string
	Address  *string
	District *string
	Area     *string
}

// Apply merges the patch into the view and its embedded profile.
func (p UserPatch) Apply(user *CurrentUser) {
	if user == nil {
		return
	}
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&user.Name, p.Name)
	if user.Profile != nil {
		set(&user.Profile.Name, p.Name)
		set(&user.Profile.Phone, p.Phone)
		set(&user.Profile.Address, p.Address)
		set(&user.Profile.District, p.District)
		set(&user.Profile.Area, p.Area)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NameFromEmail derives a display name from the email local-part, used when
// the manual fallback materializes a minimal profile.
func NameFromEmail(email string) string {
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return email
}
