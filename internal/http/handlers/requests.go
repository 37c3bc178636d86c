package handlers

import (
	"net/http"

	"optiroute/internal/domain"
	"optiroute/internal/domain/models"
	"optiroute/internal/http/middleware"
	"optiroute/internal/services"
	"optiroute/internal/utils"

	"github.com/gin-gonic/gin"
)

// InProgressNotifier is told about accepted requests so the chat channel can
// be opened. It must not block.
type InProgressNotifier interface {
	NotifyRequestInProgress(requestID, clientID, driverID domain.ID) bool
}

type RequestHandler struct {
	Service  services.RequestService
	Notifier InProgressNotifier
}

func NewRequestHandler(svc services.RequestService, notifier InProgressNotifier) *RequestHandler {
	return &RequestHandler{Service: svc, Notifier: notifier}
}

func (h *RequestHandler) svc(c *gin.Context) services.RequestService {
	return h.Service.WithRequestID(middleware.GetRequestID(c))
}

// POST /api/requests
func (h *RequestHandler) Create(c *gin.Context) {
	caller, ok := currentSubject(c)
	if !ok {
		return
	}
	var in models.CreateRequestInput
	if !BindJSONOrError(c, &in) {
		return
	}

	req, err := h.svc(c).Create(c.Request.Context(), in, caller)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

// GET /api/requests
func (h *RequestHandler) List(c *gin.Context) {
	h.respondList(c, func(svc services.RequestService) ([]models.Request, error) {
		return svc.FindAll(c.Request.Context())
	})
}

// GET /api/requests/pending
func (h *RequestHandler) Pending(c *gin.Context) {
	h.respondList(c, func(svc services.RequestService) ([]models.Request, error) {
		return svc.FindPending(c.Request.Context())
	})
}

// GET /api/requests/mine
func (h *RequestHandler) Mine(c *gin.Context) {
	caller, ok := currentSubject(c)
	if !ok {
		return
	}
	h.respondList(c, func(svc services.RequestService) ([]models.Request, error) {
		return svc.FindByUser(c.Request.Context(), caller.UserID)
	})
}

// GET /api/requests/assigned
func (h *RequestHandler) Assigned(c *gin.Context) {
	caller, ok := currentSubject(c)
	if !ok {
		return
	}
	h.respondList(c, func(svc services.RequestService) ([]models.Request, error) {
		return svc.FindByDriver(c.Request.Context(), caller.UserID)
	})
}

// GET /api/requests/users/:userId
func (h *RequestHandler) ByUser(c *gin.Context) {
	userID, ok := parseIDParam(c, "userId")
	if !ok {
		return
	}
	h.respondList(c, func(svc services.RequestService) ([]models.Request, error) {
		return svc.FindByUser(c.Request.Context(), userID)
	})
}

// GET /api/requests/drivers/:driverId
func (h *RequestHandler) ByDriver(c *gin.Context) {
	driverID, ok := parseIDParam(c, "driverId")
	if !ok {
		return
	}
	h.respondList(c, func(svc services.RequestService) ([]models.Request, error) {
		return svc.FindByDriver(c.Request.Context(), driverID)
	})
}

func (h *RequestHandler) respondList(c *gin.Context, load func(services.RequestService) ([]models.Request, error)) {
	out, err := load(h.svc(c))
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// GET /api/requests/:id
func (h *RequestHandler) Get(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	req, err := h.svc(c).FindOne(c.Request.Context(), id)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// PATCH /api/requests/:id
func (h *RequestHandler) Update(c *gin.Context) {
	caller, ok := currentSubject(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var patch models.RequestPatch
	if !BindJSONOrError(c, &patch) {
		return
	}
	if patch.Empty() {
		RespondDomainError(c, domain.ValidationError{Msg: "request body has no updatable fields"})
		return
	}

	rid := middleware.GetRequestID(c)
	res, err := h.svc(c).Update(c.Request.Context(), id, patch, caller)
	if err != nil {
		RespondDomainError(c, err)
		return
	}

	// The state change is committed; opening the chat is best effort.
	if res.Accepted && res.Request.DriverID != nil && h.Notifier != nil {
		if !h.Notifier.NotifyRequestInProgress(res.Request.ID, res.Request.UserID, *res.Request.DriverID) {
			utils.LogEvent(rid, "REQUEST", "notify", "chat channel notification dropped")
		}
	}
	c.JSON(http.StatusOK, res.Request)
}

// DELETE /api/requests/:id
func (h *RequestHandler) Delete(c *gin.Context) {
	caller, ok := currentSubject(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.svc(c).Remove(c.Request.Context(), id, caller); err != nil {
		RespondDomainError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
