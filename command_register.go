package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type RegisterMessage struct {
	Name     string      `json:"name"`
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Role     ProfileRole `json:"role"`
	Phone    string      `json:"phone"`

	Address      string `json:"address"`
	AddressLine1 string `json:"address_line1"`
	AddressLine2 string `json:"address_line2"`
	City         string `json:"city"`
	District     string `json:"district"`
	Area         string `json:"area"`

	VehicleType    string   `json:"vehicle_type"`
	LicenseNumber  string   `json:"license_number"`
	CenterName     string   `json:"center_name"`
	OperatingHours string   `json:"operating_hours"`
	AcceptedItems  []string `json:"accepted_items"`

	OnResponse func(r *RegistrationResult)
}

func (e RegisterMessage) Type() string { return "identity.register" }

type RegisterHandler struct {
	manager *Manager
}

func NewRegisterHandler(manager *Manager) *RegisterHandler {
	return &RegisterHandler{manager: manager}
}

func (h *RegisterHandler) Execute(ctx context.Context, event RegisterMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterHandler) execute(ctx context.Context, event RegisterMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	result, err := h.manager.Register(ctx, RegistrationData{
		Name:           event.Name,
		Email:          event.Email,
		Password:       event.Password,
		Role:           event.Role,
		Phone:          event.Phone,
		Address:        event.Address,
		AddressLine1:   event.AddressLine1,
		AddressLine2:   event.AddressLine2,
		City:           event.City,
		District:       event.District,
		Area:           event.Area,
		VehicleType:    event.VehicleType,
		LicenseNumber:  event.LicenseNumber,
		CenterName:     event.CenterName,
		OperatingHours: event.OperatingHours,
		AcceptedItems:  event.AcceptedItems,
	})
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "registration failed")
	}

	if event.OnResponse != nil {
		event.OnResponse(result)
	}

	return nil
}
