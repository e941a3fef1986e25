package identity

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// RegisterIdentityRoutes mounts the JSON identity API on the router.
func RegisterIdentityRoutes[T any](app router.Router[T], opts ...IdentityControllerOption) {

	controller := NewIdentityController(opts...)

	app.
		Get(controller.Routes.Session, controller.SessionShow).
		SetName("identity.session.get")

	app.
		Post(controller.Routes.Login, controller.LoginPost).
		SetName("identity.login.post")

	app.
		Post(controller.Routes.Logout, controller.LogoutPost).
		SetName("identity.logout.post")

	app.
		Post(controller.Routes.Register, controller.RegisterPost).
		SetName("identity.register.post")

	app.
		Get(controller.Routes.Callback, controller.CallbackGet).
		SetName("identity.callback.get")

	app.
		Post(controller.Routes.Resend, controller.ResendPost).
		SetName("identity.resend.post")

	app.
		Post(controller.Routes.Refresh, controller.RefreshPost).
		SetName("identity.refresh.post")

	app.
		Post(controller.Routes.Profile, controller.ProfileCreatePost).
		SetName("identity.profile.post")

	app.
		Patch(controller.Routes.Profile, controller.ProfilePatch).
		SetName("identity.profile.patch")
}

type IdentityControllerRoutes struct {
	Session  string
	Login    string
	Logout   string
	Register string
	Callback string
	Resend   string
	Refresh  string
	Profile  string
}

type IdentityController struct {
	Debug        bool
	Logger       Logger
	Manager      *Manager
	Pending      PendingRegistrations
	Routes       *IdentityControllerRoutes
	ErrorHandler router.ErrorHandler
}

type IdentityControllerOption func(*IdentityController) *IdentityController

func WithControllerManager(m *Manager) IdentityControllerOption {
	return func(c *IdentityController) *IdentityController {
		c.Manager = m
		return c
	}
}

func WithControllerPending(p PendingRegistrations) IdentityControllerOption {
	return func(c *IdentityController) *IdentityController {
		c.Pending = p
		return c
	}
}

func WithControllerLogger(l Logger) IdentityControllerOption {
	return func(c *IdentityController) *IdentityController {
		c.Logger = l
		return c
	}
}

func WithControllerDebug(debug bool) IdentityControllerOption {
	return func(c *IdentityController) *IdentityController {
		c.Debug = debug
		return c
	}
}

func NewIdentityController(opts ...IdentityControllerOption) *IdentityController {
	c := &IdentityController{
		Logger:       defLogger{},
		ErrorHandler: defaultErrHandler,
		Routes: &IdentityControllerRoutes{
			Session:  "/auth/session",
			Login:    "/auth/login",
			Logout:   "/auth/logout",
			Register: "/auth/register",
			Callback: "/auth/callback",
			Resend:   "/auth/resend",
			Refresh:  "/auth/refresh",
			Profile:  "/auth/profile",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Manager == nil {
		panic("Missing Manager in identity controller...")
	}

	return c
}

// SessionShow returns the current bootstrap snapshot.
func (a *IdentityController) SessionShow(ctx router.Context) error {
	snapshot := a.Manager.Current()

	body := router.ViewContext{
		"state":         snapshot.State,
		"loading":       snapshot.Loading,
		"needs_profile": snapshot.NeedsProfile,
		"user":          snapshot.User,
	}
	if snapshot.Err != nil {
		body["error"] = snapshot.Err.Error()
	}

	return ctx.JSON(fiber.StatusOK, body)
}

// LoginRequest payload
type LoginRequest struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Email,
			validation.Required,
			is.Email,
		),
		validation.Field(
			&r.Password,
			validation.Required,
		),
	)
}

func (a *IdentityController) LoginPost(ctx router.Context) error {
	payload := new(LoginRequest)

	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("login parse payload: %v", err)
		return a.ErrorHandler(ctx, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse body").
			WithCode(goerrors.CodeBadRequest))
	}

	if err := payload.Validate(); err != nil {
		return ctx.JSON(fiber.StatusBadRequest, router.ViewContext{
			"validation": formatValidationErrors(err),
		})
	}

	if a.Debug {
		fmt.Println("======= IDENTITY LOGIN ======")
		fmt.Println(print.MaybePrettyJSON(payload))
		fmt.Println("=============================")
	}

	user, err := a.Manager.Login(ctx.Context(), payload.Email, payload.Password)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(fiber.StatusOK, router.ViewContext{
		"user":          user,
		"needs_profile": user == nil,
	})
}

func (a *IdentityController) LogoutPost(ctx router.Context) error {
	if err := a.Manager.Logout(ctx.Context()); err != nil {
		// Local state is already cleared; report the subsystem failure
		// without reviving the session.
		return ctx.JSON(fiber.StatusOK, router.ViewContext{
			"signed_out": true,
			"warning":    err.Error(),
		})
	}
	return ctx.JSON(fiber.StatusOK, router.ViewContext{
		"signed_out": true,
	})
}

func (a *IdentityController) RegisterPost(ctx router.Context) error {
	payload := new(RegisterMessage)

	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("register parse payload: %v", err)
		return a.ErrorHandler(ctx, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse body").
			WithCode(goerrors.CodeBadRequest))
	}

	var res *RegistrationResult
	payload.OnResponse = func(r *RegistrationResult) {
		res = r
	}

	register := NewRegisterHandler(a.Manager)
	if err := register.Execute(ctx.Context(), *payload); err != nil {
		a.Logger.Error("register execute: %v", err)
		return a.ErrorHandler(ctx, err)
	}

	if a.Debug {
		fmt.Println("======= IDENTITY REGISTER ======")
		fmt.Println(print.MaybePrettyJSON(res))
		fmt.Println("================================")
	}

	status := fiber.StatusCreated
	if res != nil && res.NeedsEmailConfirmation {
		status = fiber.StatusAccepted
	}
	return ctx.JSON(status, res)
}

// CallbackGet is the landing route for verification links: tokens arrive in
// the query string or fragment and are exchanged for a session.
func (a *IdentityController) CallbackGet(ctx router.Context) error {
	bundle := ExtractTokenBundle(ctx.OriginalURL())
	if bundle.IsZero() {
		return a.ErrorHandler(ctx, ErrTokenExchangeFailed)
	}

	user, err := a.Manager.ConsumeTokens(ctx.Context(), bundle)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(fiber.StatusOK, router.ViewContext{
		"user":          user,
		"needs_profile": user == nil,
	})
}

// ResendRequest payload
type ResendRequest struct {
	Email string `form:"email" json:"email"`
}

func (a *IdentityController) ResendPost(ctx router.Context) error {
	payload := new(ResendRequest)

	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse body").
			WithCode(goerrors.CodeBadRequest))
	}

	var res *ResendVerificationResponse
	input := ResendVerificationMessage{
		Email: payload.Email,
		OnResponse: func(r *ResendVerificationResponse) {
			res = r
		},
	}

	resend := NewResendVerificationHandler(a.Manager, a.Pending)
	if err := resend.Execute(ctx.Context(), input); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(fiber.StatusOK, res)
}

// RefreshPost re-reconciles the current session against the profile store
// and returns the resulting snapshot.
func (a *IdentityController) RefreshPost(ctx router.Context) error {
	if err := a.Manager.RefreshUser(ctx.Context()); err != nil {
		return a.ErrorHandler(ctx, err)
	}
	return a.SessionShow(ctx)
}

// ProfileCreatePost is the manual materialization path for sessions that
// resolved with needs_profile.
func (a *IdentityController) ProfileCreatePost(ctx router.Context) error {
	payload := new(RegistrationData)

	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse body").
			WithCode(goerrors.CodeBadRequest))
	}

	var data *RegistrationData
	if payload.Name != "" || payload.Role != "" {
		data = payload
	}

	user, err := a.Manager.TriggerProfileCreation(ctx.Context(), data)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(fiber.StatusCreated, router.ViewContext{
		"user": user,
	})
}

// UpdateProfilePayload is the PATCH body; absent fields stay untouched.
type UpdateProfilePayload struct {
	Name     *string `form:"name" json:"name"`
	Phone    *string `form:"phone" json:"phone"`
	Address  *string `form:"address" json:"address"`
	District *string `form:"district" json:"district"`
	Area     *string `form:"area" json:"area"`
}

// Validate will validate the payload
func (r UpdateProfilePayload) Validate() error {
	if r.Name != nil {
		if err := validation.Validate(*r.Name, validation.Required, validation.Length(2, 200)); err != nil {
			return err
		}
	}
	return nil
}

func (a *IdentityController) ProfilePatch(ctx router.Context) error {
	payload := new(UpdateProfilePayload)

	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse body").
			WithCode(goerrors.CodeBadRequest))
	}

	if err := payload.Validate(); err != nil {
		return ctx.JSON(fiber.StatusBadRequest, router.ViewContext{
			"validation": formatValidationErrors(err),
		})
	}

	user, err := a.Manager.UpdateUser(ctx.Context(), UserPatch{
		Name:     payload.Name,
		Phone:    payload.Phone,
		Address:  payload.Address,
		District: payload.District,
		Area:     payload.Area,
	})
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(fiber.StatusOK, router.ViewContext{
		"user": user,
	})
}

// formatValidationErrors flattens ozzo field errors for JSON responses.
func formatValidationErrors(err error) map[string]string {
	out := map[string]string{}
	if err == nil {
		return out
	}
	if fieldErrs, ok := err.(validation.Errors); ok {
		for field, ferr := range fieldErrs {
			out[field] = ferr.Error()
		}
		return out
	}
	out["payload"] = err.Error()
	return out
}

func defaultErrHandler(c router.Context, err error) error {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "An unexpected server error occurred").
			WithCode(goerrors.CodeInternal)
	}

	status := richErr.Code
	if status == 0 {
		status = fiber.StatusInternalServerError
	}

	return c.JSON(status, router.ViewContext{
		"error": router.ViewContext{
			"message":   richErr.Message,
			"text_code": richErr.TextCode,
			"category":  richErr.Category,
		},
	})
}
