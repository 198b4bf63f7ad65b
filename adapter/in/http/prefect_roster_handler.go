package http

import (
	"bufio"
	"time"

	"prefect_server/core/domain"
	in "prefect_server/core/port/in"
	"prefect_server/infra/middleware"
	"prefect_server/pkg/apperr"
	"prefect_server/pkg/logger"
	"prefect_server/pkg/response"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
)

// RosterHandler handles HTTP requests for roster and attendance operations
type RosterHandler struct {
	service   in.RosterService
	jwtSecret string
	log       *logger.Logger
}

// NewRosterHandler creates a new RosterHandler
func NewRosterHandler(service in.RosterService, jwtSecret string) *RosterHandler {
	return &RosterHandler{
		service:   service,
		jwtSecret: jwtSecret,
		log:       logger.Default().WithField("handler", "roster"),
	}
}

// RegisterPublic registers routes that do not require a session token.
func (h *RosterHandler) RegisterPublic(router fiber.Router) {
	auth := router.Group("/auth")
	auth.Post("/login", h.Login)
	auth.Get("/check", h.CheckAuth)
}

// Register registers token-protected roster routes
func (h *RosterHandler) Register(router fiber.Router) {
	auth := router.Group("/auth")
	auth.Post("/logout", h.Logout)
	auth.Get("/me", h.Me)

	prefects := router.Group("/prefects")
	prefects.Get("/", h.ListPrefects)
	prefects.Post("/", h.AddPrefect)
	prefects.Put("/:id", h.UpdatePrefect)
	prefects.Delete("/:id", h.DeletePrefect)
	prefects.Get("/stream", h.Stream)

	attendance := router.Group("/attendance")
	attendance.Post("/", h.MarkAttendance)
	attendance.Get("/:date", h.GetAttendanceByDate)

	router.Post("/sync", h.SyncToRemote)
}

// =============================================================================
// Authentication
// =============================================================================

// Login authenticates an operator and issues a session token
// @Summary Operator login
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Credentials"
// @Success 200 {object} LoginResponse
// @Router /api/v1/auth/login [post]
func (h *RosterHandler) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}

	identity, err := h.service.Login(c.Context(), req.Email, req.Password)
	if err != nil {
		return err
	}

	token, err := middleware.GenerateToken(h.jwtSecret, identity.Email)
	if err != nil {
		return apperr.InternalWithError(err)
	}

	return response.OK(c, LoginResponse{
		Email: identity.Email,
		Token: token,
	})
}

// Logout ends the session and revokes the presented token
// @Summary Operator logout
// @Tags Auth
// @Success 200
// @Router /api/v1/auth/logout [post]
func (h *RosterHandler) Logout(c *fiber.Ctx) error {
	if err := h.service.Logout(c.Context()); err != nil {
		return err
	}

	if jti, ok := c.Locals("token_id").(string); ok && jti != "" {
		if err := middleware.RevokeToken(c.Context(), jti, middleware.TokenTTL); err != nil {
			h.log.WithError(err).Warn("token revocation failed")
		}
	}

	return response.OK(c, fiber.Map{"message": "logged out"})
}

// CheckAuth reports whether the service considers the session authenticated
// @Summary Check authentication state
// @Tags Auth
// @Produce json
// @Success 200
// @Router /api/v1/auth/check [get]
func (h *RosterHandler) CheckAuth(c *fiber.Ctx) error {
	return response.OK(c, fiber.Map{
		"authenticated": h.service.CheckAuth(c.Context()),
	})
}

// Me returns the current operator identity
// @Summary Current operator
// @Tags Auth
// @Produce json
// @Success 200 {object} domain.Identity
// @Router /api/v1/auth/me [get]
func (h *RosterHandler) Me(c *fiber.Ctx) error {
	identity := h.service.GetCurrentUser()
	if identity == nil {
		// Fallback sessions have no store identity; the token still names
		// the operator.
		if email, ok := c.Locals("operator_email").(string); ok && email != "" {
			identity = &domain.Identity{Email: email}
		}
	}
	if identity == nil {
		return apperr.Unauthorized("no active session")
	}
	return response.OK(c, identity)
}

// =============================================================================
// Roster
// =============================================================================

// ListPrefects returns the full roster
// @Summary List prefects
// @Tags Prefects
// @Produce json
// @Success 200 {array} domain.Prefect
// @Router /api/v1/prefects [get]
func (h *RosterHandler) ListPrefects(c *fiber.Ctx) error {
	prefects, err := h.service.GetPrefects(c.Context())
	if err != nil {
		return err
	}
	if prefects == nil {
		prefects = []domain.Prefect{}
	}
	return response.OK(c, prefects)
}

// AddPrefect creates a new prefect
// @Summary Add a prefect
// @Tags Prefects
// @Accept json
// @Produce json
// @Param request body in.AddPrefectRequest true "Prefect data"
// @Success 201 {object} domain.Prefect
// @Router /api/v1/prefects [post]
func (h *RosterHandler) AddPrefect(c *fiber.Ctx) error {
	var req in.AddPrefectRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}

	prefect, err := h.service.AddPrefect(c.Context(), &req)
	if err != nil {
		return err
	}
	return response.Created(c, prefect)
}

// UpdatePrefect applies a partial edit to a prefect
// @Summary Update a prefect
// @Tags Prefects
// @Accept json
// @Param id path string true "Prefect ID"
// @Param request body in.UpdatePrefectRequest true "Fields to change"
// @Success 200
// @Router /api/v1/prefects/{id} [put]
func (h *RosterHandler) UpdatePrefect(c *fiber.Ctx) error {
	var req in.UpdatePrefectRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}

	if err := h.service.UpdatePrefect(c.Context(), c.Params("id"), &req); err != nil {
		return err
	}
	return response.OK(c, fiber.Map{"message": "prefect updated"})
}

// DeletePrefect removes a prefect and its attendance history
// @Summary Delete a prefect
// @Tags Prefects
// @Param id path string true "Prefect ID"
// @Success 204
// @Router /api/v1/prefects/{id} [delete]
func (h *RosterHandler) DeletePrefect(c *fiber.Ctx) error {
	if err := h.service.DeletePrefect(c.Context(), c.Params("id")); err != nil {
		return err
	}
	return response.NoContent(c)
}

// =============================================================================
// Attendance
// =============================================================================

// MarkAttendance marks a prefect present today
// @Summary Mark attendance
// @Tags Attendance
// @Accept json
// @Produce json
// @Param request body MarkAttendanceRequest true "Prefect to mark"
// @Success 200 {object} MarkAttendanceResponse
// @Router /api/v1/attendance [post]
func (h *RosterHandler) MarkAttendance(c *fiber.Ctx) error {
	var req MarkAttendanceRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}

	marked, err := h.service.MarkAttendance(c.Context(), req.PrefectID)
	if err != nil {
		return err
	}
	return response.OK(c, MarkAttendanceResponse{
		Marked:        marked,
		AlreadyMarked: !marked,
	})
}

// GetAttendanceByDate returns all attendance records for one day
// @Summary Attendance for a date
// @Tags Attendance
// @Produce json
// @Param date path string true "Date (YYYY-MM-DD)"
// @Success 200 {array} domain.AttendanceRecord
// @Router /api/v1/attendance/{date} [get]
func (h *RosterHandler) GetAttendanceByDate(c *fiber.Ctx) error {
	records, err := h.service.GetAttendanceByDate(c.Context(), c.Params("date"))
	if err != nil {
		return err
	}
	if records == nil {
		records = []domain.AttendanceRecord{}
	}
	return response.OK(c, records)
}

// =============================================================================
// Reconciliation
// =============================================================================

// SyncToRemote pushes the local cache into the remote store
// @Summary Reconcile local data to the remote store
// @Tags Sync
// @Produce json
// @Success 200 {object} in.SyncReport
// @Router /api/v1/sync [post]
func (h *RosterHandler) SyncToRemote(c *fiber.Ctx) error {
	report, err := h.service.SyncToRemote(c.Context())
	if err != nil {
		return err
	}
	return response.OK(c, report)
}

// =============================================================================
// Live updates
// =============================================================================

// Stream pushes roster snapshots over SSE after every remote mutation.
func (h *RosterHandler) Stream(c *fiber.Ctx) error {
	snapshots := make(chan []domain.Prefect, 4)
	unsubscribe, err := h.service.SubscribePrefects(c.Context(), func(prefects []domain.Prefect) {
		select {
		case snapshots <- prefects:
		default:
			// A slow client misses an intermediate snapshot, never blocks
			// the publisher. The next event carries the full roster anyway.
		}
	})
	if err != nil {
		return err
	}

	h.log.Info("roster stream client connected")

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("Transfer-Encoding", "chunked")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		defer func() {
			unsubscribe()
			h.log.Info("roster stream client disconnected")
		}()

		w.WriteString("event: connected\n")
		w.WriteString("data: {\"status\":\"connected\"}\n\n")
		w.Flush()

		for {
			select {
			case prefects := <-snapshots:
				data, err := json.Marshal(prefects)
				if err != nil {
					h.log.WithError(err).Error("failed to serialize roster snapshot")
					continue
				}

				w.WriteString("event: prefects\n")
				w.WriteString("data: ")
				w.Write(data)
				w.WriteString("\n\n")

				if err := w.Flush(); err != nil {
					h.log.Debug("client disconnected during write")
					return
				}

			case <-ticker.C:
				w.WriteString(": heartbeat\n\n")
				if err := w.Flush(); err != nil {
					h.log.Debug("client disconnected during heartbeat")
					return
				}
			}
		}
	})

	return nil
}

// =============================================================================
// Request/Response Types
// =============================================================================

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

type MarkAttendanceRequest struct {
	PrefectID string `json:"prefectId"`
}

type MarkAttendanceResponse struct {
	Marked        bool `json:"marked"`
	AlreadyMarked bool `json:"alreadyMarked"`
}
