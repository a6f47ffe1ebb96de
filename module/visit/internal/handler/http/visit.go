package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/NTDK5/vibespot-sub000/module/visit/domain"
	"github.com/NTDK5/vibespot-sub000/module/visit/service"
)

type attemptService interface {
	StartAttempt(ctx context.Context, req domain.AttemptRequest) (domain.Snapshot, error)
	CancelAttempt(attemptID string) (domain.Snapshot, error)
	AttemptSnapshot(attemptID string) (domain.Snapshot, error)
	WatchAttempt(attemptID string) (<-chan domain.Snapshot, func(), error)
}

type visitService interface {
	ListVisits(ctx context.Context, userID string) ([]domain.VisitRecord, error)
	HasVisited(ctx context.Context, userID, spotID string) (bool, error)
}

type startAttemptRequest struct {
	UserID       string  `json:"user_id" binding:"required"`
	SpotID       string  `json:"spot_id" binding:"required"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	RadiusMeters float64 `json:"radius_meters"`
	DwellSeconds int     `json:"dwell_seconds"`
}

type visitResponse struct {
	UserID    string `json:"user_id"`
	SpotID    string `json:"spot_id"`
	VisitedAt int64  `json:"visited_at"`
}

type visitedResponse struct {
	UserID  string `json:"user_id"`
	SpotID  string `json:"spot_id"`
	Visited bool   `json:"visited"`
}

type VisitHandler struct {
	attemptSvc attemptService
	visitSvc   visitService
}

func NewVisitHandler(attemptSvc attemptService, visitSvc visitService) *VisitHandler {
	return &VisitHandler{attemptSvc: attemptSvc, visitSvc: visitSvc}
}

func (h *VisitHandler) Register(r *gin.RouterGroup) {
	r.POST("/visits/attempts", h.StartAttempt)
	r.GET("/visits/attempts/:attempt_id", h.GetAttempt)
	r.DELETE("/visits/attempts/:attempt_id", h.CancelAttempt)
	r.GET("/visits/attempts/:attempt_id/stream", h.StreamAttempt)
	r.GET("/users/:user_id/visits", h.ListVisits)
	r.GET("/users/:user_id/visits/:spot_id", h.GetVisited)
}

func (h *VisitHandler) StartAttempt(c *gin.Context) {
	var body startAttemptRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	snap, err := h.attemptSvc.StartAttempt(c.Request.Context(), domain.AttemptRequest{
		UserID:       body.UserID,
		SpotID:       body.SpotID,
		Target:       domain.Coordinate{Lat: body.Latitude, Lon: body.Longitude},
		RadiusMeters: body.RadiusMeters,
		DwellSeconds: body.DwellSeconds,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, snap)
}

func (h *VisitHandler) GetAttempt(c *gin.Context) {
	snap, err := h.attemptSvc.AttemptSnapshot(c.Param("attempt_id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, snap)
}

func (h *VisitHandler) CancelAttempt(c *gin.Context) {
	snap, err := h.attemptSvc.CancelAttempt(c.Param("attempt_id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, snap)
}

// StreamAttempt pushes every snapshot as a server-sent event until the
// attempt reaches a terminal state or the client goes away.
func (h *VisitHandler) StreamAttempt(c *gin.Context) {
	ch, cancel, err := h.attemptSvc.WatchAttempt(c.Param("attempt_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	defer cancel()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case snap, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("snapshot", snap)
			return !snap.Status.Terminal()
		case <-ctx.Done():
			return false
		}
	})
}

func (h *VisitHandler) ListVisits(c *gin.Context) {
	visits, err := h.visitSvc.ListVisits(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		writeError(c, err)
		return
	}

	results := make([]visitResponse, len(visits))
	for i, v := range visits {
		results[i] = visitResponse{
			UserID:    v.UserID,
			SpotID:    v.SpotID,
			VisitedAt: v.VisitedAt.Unix(),
		}
	}
	c.JSON(http.StatusOK, results)
}

// GetVisited tells whether the user already has a committed visit to the
// spot, so a client can skip starting an attempt.
func (h *VisitHandler) GetVisited(c *gin.Context) {
	userID, spotID := c.Param("user_id"), c.Param("spot_id")

	visited, err := h.visitSvc.HasVisited(c.Request.Context(), userID, spotID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, visitedResponse{UserID: userID, SpotID: spotID, Visited: visited})
}

func writeError(c *gin.Context, err error) {
	var se *service.StartError
	switch {
	case errors.As(err, &se):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":           err.Error(),
			"reason":          se.Reason,
			"distance_meters": se.DistanceMeters,
		})
	case errors.Is(err, service.ErrInvalidAttempt):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrAttemptInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrAttemptNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "visit attempt not found"})
	case errors.Is(err, service.ErrShuttingDown):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
