package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type ResendVerificationMessage struct {
	Email      string `json:"email" example:"jane@example.com" doc:"Email address awaiting verification"`
	OnResponse func(r *ResendVerificationResponse)
}

func (e ResendVerificationMessage) Type() string { return "identity.verification.resend" }

type ResendVerificationResponse struct {
	Found  bool     `json:"found" example:"true" doc:"Was cached registration data found for the email?"`
	Sent   bool     `json:"sent" example:"true" doc:"Was the verification email dispatched?"`
	Errors []string `json:"errors" example:"['invalid email']" doc:"Error messages."`
}

type ResendVerificationHandler struct {
	manager *Manager
	pending PendingRegistrations
}

func NewResendVerificationHandler(manager *Manager, pending PendingRegistrations) *ResendVerificationHandler {
	return &ResendVerificationHandler{manager: manager, pending: pending}
}

func (h *ResendVerificationHandler) Execute(ctx context.Context, event ResendVerificationMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during verification resend")
	default:
		return h.execute(ctx, event)
	}
}

func (h *ResendVerificationHandler) execute(ctx context.Context, event ResendVerificationMessage) error {
	resp := &ResendVerificationResponse{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	email := normalizeEmail(event.Email)

	if h.pending != nil {
		pending, err := FindPendingByEmail(ctx, h.pending, email)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up pending registration")
		}
		resp.Found = pending != nil
	}

	if err := h.manager.ResendVerification(ctx, email); err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			resp.Errors = append(resp.Errors, richErr.Message)
			if event.OnResponse != nil {
				event.OnResponse(resp)
			}
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resend verification email")
	}

	resp.Sent = true

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}
