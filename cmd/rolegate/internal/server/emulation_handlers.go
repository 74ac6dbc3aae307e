package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/auth"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/services/iam"
)

// StartEmulationBody is the POST /api/role-emulation payload.
type StartEmulationBody struct {
	TargetRole    string  `json:"targetRole" validate:"required"`
	DurationHours float64 `json:"durationHours" validate:"omitempty,gt=0"`
	EmulatedOrgID *string `json:"emulatedOrgId,omitempty" validate:"omitempty,max=128"`
}

// EmulationStateResponse is served by GET /api/role-emulation.
type EmulationStateResponse struct {
	Status          iam.EmulationStatus `json:"status"`
	EmulatableRoles []auth.Role         `json:"emulatableRoles"`
}

// EmulationHandlers serves the role emulation endpoints.
type EmulationHandlers struct {
	iam      iamHandlerService
	validate *validator.Validate
	logger   logrus.FieldLogger
}

// NewEmulationHandlers creates the handler set. logger may be nil.
func NewEmulationHandlers(iamService iamHandlerService, logger logrus.FieldLogger) *EmulationHandlers {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &EmulationHandlers{
		iam:      iamService,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.WithField("component", "emulation_handlers"),
	}
}

// Get handles GET /api/role-emulation
func (h *EmulationHandlers) Get(w http.ResponseWriter, r *http.Request) {
	res, ok := resolutionOrFail(w, r)
	if !ok {
		return
	}
	writeSuccess(w, http.StatusOK, EmulationStateResponse{
		Status:          h.iam.EmulationStatus(res),
		EmulatableRoles: h.iam.EmulatableRoles(),
	})
}

// Start handles POST /api/role-emulation
//
// Authorization: the caller's non-emulated authority must be super admin.
func (h *EmulationHandlers) Start(w http.ResponseWriter, r *http.Request) {
	res, ok := resolutionOrFail(w, r)
	if !ok {
		return
	}

	var body StartEmulationBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeFailure(w, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return
	}
	if err := h.validate.Struct(body); err != nil {
		writeFailure(w, err)
		return
	}

	state, err := h.iam.StartEmulation(r.Context(), res, iam.StartEmulationRequest{
		TargetRole:    body.TargetRole,
		DurationHours: body.DurationHours,
		EmulatedOrgID: body.EmulatedOrgID,
		IPAddress:     r.RemoteAddr,
		UserAgent:     r.UserAgent(),
	})
	if err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"user_id":     res.Effective.UserID,
			"target_role": body.TargetRole,
		}).Warn("role emulation start rejected")
		writeFailure(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, state)
}

// Stop handles DELETE /api/role-emulation
//
// Authorization: the caller must be the emulating identity; expired
// emulation can always be stopped.
func (h *EmulationHandlers) Stop(w http.ResponseWriter, r *http.Request) {
	res, ok := resolutionOrFail(w, r)
	if !ok {
		return
	}
	if err := h.iam.StopEmulation(r.Context(), res); err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, auth.Inactive())
}
