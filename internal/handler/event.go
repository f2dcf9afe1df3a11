package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"everactive/internal/model"
	"everactive/internal/service"
)

// EventHandler handles event batch ingestion
type EventHandler struct {
	events *service.EventService
	rules  *service.RuleScheduler
}

// NewEventHandler creates a new event handler
func NewEventHandler(events *service.EventService, rules *service.RuleScheduler) *EventHandler {
	return &EventHandler{events: events, rules: rules}
}

// PushEvents ingests a batch of client events
// @Summary Push events
// @Description Persist a batch of timestamped client events and return the currently triggered rules
// @Tags Events
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body model.PushEventsRequest true "Event batch"
// @Success 200 {object} model.PushEventsResponse
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Router /events [post]
func (h *EventHandler) PushEvents(c *gin.Context) {
	user := CurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req model.PushEventsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.events.PushEvents(c.Request.Context(), *user, req); err != nil {
		if model.IsValidationError(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, model.PushEventsResponse{
		TriggeredRules: h.rules.TriggeredRules(user.ID),
	})
}
