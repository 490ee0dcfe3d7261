package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"parking-sensor-service/internal/config"
	"parking-sensor-service/internal/domain/parking"
	"parking-sensor-service/internal/http/middleware"
	"parking-sensor-service/internal/repository"
	"parking-sensor-service/internal/service"
	"parking-sensor-service/internal/storage"
	"parking-sensor-service/internal/ws"
)

type Handler struct {
	sensorService *service.SensorService
	management    *service.ManagementService
	hub           *ws.Hub
	config        *config.Config
	log           zerolog.Logger
}

func NewHandler(
	sensorService *service.SensorService,
	management *service.ManagementService,
	hub *ws.Hub,
	cfg *config.Config,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		sensorService: sensorService,
		management:    management,
		hub:           hub,
		config:        cfg,
		log:           log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	// Public endpoints
	public := r.Group("/api/v1")
	{
		public.POST("/sensors/webhook", h.sensorWebhook)
		public.GET("/sensors/webhook", h.checkWebhookEndpoint) // reachability probe for devices
		public.GET("/spots/:spotNumber/live", h.liveSpotStatus)
	}

	if h.hub != nil {
		r.GET("/ws/spots/:spotNumber", h.spotStream)
	}

	// Protected endpoints
	protected := r.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.GET("/lots/:lotID/sensors", h.listSensors)
		protected.POST("/lots/:lotID/sensors", h.createSensor)
		protected.POST("/lots/:lotID/photos", h.uploadLotPhoto)
		protected.GET("/events", h.listEvents)
		protected.GET("/events/export", h.exportEvents)
		protected.GET("/bookings/:bookingID/penalties", h.listPenalties)
		protected.POST("/push/subscriptions", h.subscribePush)
	}
}

// spotNumber tolerates firmware that sends the spot as a bare number
// instead of a string.
type spotNumber string

func (s *spotNumber) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		*s = spotNumber(asString)
		return nil
	}
	var asNumber json.Number
	if err := json.Unmarshal(data, &asNumber); err == nil {
		*s = spotNumber(asNumber.String())
		return nil
	}
	return fmt.Errorf("spot_number must be a string or number")
}

// webhookRequest is the duck-typed device payload. Older firmware
// spells center with the British "centre" and may send credentials in
// headers instead of the body.
type webhookRequest struct {
	SensorID       string     `json:"sensor_id"`
	APIKey         string     `json:"api_key"`
	SpotNumber     spotNumber `json:"spot_number"`
	LeftDistance   *float64   `json:"left_distance"`
	CenterDistance *float64   `json:"center_distance"`
	CentreDistance *float64   `json:"centre_distance"`
	RightDistance  *float64   `json:"right_distance"`
	Timestamp      int64      `json:"timestamp"`
}

func (r *webhookRequest) center() *float64 {
	if r.CenterDistance != nil {
		return r.CenterDistance
	}
	return r.CentreDistance
}

func (r *webhookRequest) missingFields() []string {
	var missing []string
	if r.LeftDistance == nil {
		missing = append(missing, "left_distance")
	}
	if r.center() == nil {
		missing = append(missing, "center_distance")
	}
	if r.RightDistance == nil {
		missing = append(missing, "right_distance")
	}
	if r.SpotNumber == "" {
		missing = append(missing, "spot_number")
	}
	return missing
}

func (h *Handler) sensorWebhook(c *gin.Context) {
	var req webhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	// Header credentials win over body credentials.
	if v := c.GetHeader("X-Sensor-ID"); v != "" {
		req.SensorID = v
	}
	if v := c.GetHeader("X-API-Key"); v != "" {
		req.APIKey = v
	}

	if missing := req.missingFields(); len(missing) > 0 {
		c.JSON(http.StatusBadRequest, errorResponse(
			"missing required fields: "+strings.Join(missing, ", ")))
		return
	}

	h.log.Info().
		Str("sensor_id", req.SensorID).
		Str("spot_number", string(req.SpotNumber)).
		Msg("processing sensor reading")

	result, err := h.sensorService.ProcessReading(c.Request.Context(), service.WebhookPayload{
		SensorID:   req.SensorID,
		APIKey:     req.APIKey,
		SpotNumber: string(req.SpotNumber),
		Reading: parking.SensorReading{
			LeftDistanceCm:   *req.LeftDistance,
			CenterDistanceCm: *req.center(),
			RightDistanceCm:  *req.RightDistance,
			Timestamp:        req.Timestamp,
		},
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		case errors.Is(err, service.ErrUnauthorized):
			c.JSON(http.StatusUnauthorized, errorResponse("invalid sensor credentials"))
		default:
			h.log.Error().
				Err(err).
				Str("sensor_id", req.SensorID).
				Str("spot_number", string(req.SpotNumber)).
				Msg("failed to process sensor reading")
			c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status":         "ok",
		"event_id":       result.EventID,
		"event_type":     result.EventType,
		"parking_status": result.Status,
		"stable":         result.Stable,
		"transition":     result.Transition,
		"analysis":       result.Analysis,
		"message":        result.Message,
	})
}

func (h *Handler) checkWebhookEndpoint(c *gin.Context) {
	h.log.Debug().
		Str("remote_addr", c.ClientIP()).
		Str("user_agent", c.Request.UserAgent()).
		Msg("received webhook endpoint check request")

	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"message": "Parking sensor webhook is available",
	})
}

func (h *Handler) liveSpotStatus(c *gin.Context) {
	spot := strings.TrimSpace(c.Param("spotNumber"))

	event, err := h.management.LatestSpotEvent(c.Request.Context(), spot)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(gin.H{
		"spot_number": event.SpotNumber,
		"event_type":  event.EventType,
		"sensor_data": json.RawMessage(event.SensorData),
		"detected_at": event.DetectedAt,
	}))
}

func (h *Handler) spotStream(c *gin.Context) {
	spot := strings.TrimSpace(c.Param("spotNumber"))
	if err := h.hub.Serve(c.Writer, c.Request, spot); err != nil {
		h.log.Warn().
			Err(err).
			Str("spot_number", spot).
			Msg("websocket upgrade failed")
	}
}

func (h *Handler) listSensors(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("unauthorized"))
		return
	}
	lotID, err := uuid.Parse(c.Param("lotID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid lot id"))
		return
	}

	sensors, err := h.management.ListSensors(c.Request.Context(), principal, lotID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(sensors))
}

func (h *Handler) createSensor(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("unauthorized"))
		return
	}
	lotID, err := uuid.Parse(c.Param("lotID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid lot id"))
		return
	}

	var req struct {
		SpotNumber spotNumber `json:"spot_number" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	sensor, err := h.management.CreateSensor(c.Request.Context(), principal, lotID, string(req.SpotNumber))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, successResponse(sensor))
}

func (h *Handler) eventFilter(c *gin.Context) (repository.EventFilter, error) {
	var filter repository.EventFilter

	if raw := strings.TrimSpace(c.Query("lot_id")); raw != "" {
		lotID, err := uuid.Parse(raw)
		if err != nil {
			return filter, fmt.Errorf("%w: invalid lot_id", service.ErrInvalidInput)
		}
		filter.LotID = &lotID
	}
	if spot := strings.TrimSpace(c.Query("spot_number")); spot != "" {
		filter.SpotNumber = &spot
	}
	if eventType := strings.TrimSpace(c.Query("event_type")); eventType != "" {
		filter.EventType = &eventType
	}
	if raw := strings.TrimSpace(c.Query("from")); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("%w: from must be RFC3339", service.ErrInvalidInput)
		}
		filter.From = &from
	}
	if raw := strings.TrimSpace(c.Query("to")); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("%w: to must be RFC3339", service.ErrInvalidInput)
		}
		filter.To = &to
	}

	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			filter.Limit = parsed
		}
	}
	if o := c.Query("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			filter.Offset = parsed
		}
	}
	return filter, nil
}

func (h *Handler) listEvents(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("unauthorized"))
		return
	}

	filter, err := h.eventFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	events, err := h.management.FindEvents(c.Request.Context(), principal, filter)
	if err != nil {
		h.handleError(c, err)
		return
	}

	out := make([]gin.H, 0, len(events))
	for _, event := range events {
		out = append(out, gin.H{
			"id":          event.ID,
			"lot_id":      event.LotID,
			"booking_id":  event.BookingID,
			"spot_number": event.SpotNumber,
			"event_type":  event.EventType,
			"sensor_data": json.RawMessage(event.SensorData),
			"detected_at": event.DetectedAt,
		})
	}

	c.JSON(http.StatusOK, successResponse(out))
}

func (h *Handler) listPenalties(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("unauthorized"))
		return
	}
	bookingID, err := uuid.Parse(c.Param("bookingID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid booking id"))
		return
	}

	penalties, err := h.management.FindPenalties(c.Request.Context(), principal, bookingID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(penalties))
}

func (h *Handler) subscribePush(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("unauthorized"))
		return
	}

	var input service.SubscriptionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	if err := h.management.SubscribePush(c.Request.Context(), principal, input); err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": "ok"})
}

func (h *Handler) uploadLotPhoto(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("unauthorized"))
		return
	}
	lotID, err := uuid.Parse(c.Param("lotID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid lot id"))
		return
	}

	fileHeader, err := c.FormFile("photo")
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("photo file is required"))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("failed to read photo"))
		return
	}
	defer file.Close()

	url, err := h.management.UploadLotPhoto(
		c.Request.Context(),
		principal,
		lotID,
		fileHeader.Filename,
		file,
		fileHeader.Size,
		fileHeader.Header.Get("Content-Type"),
	)
	if err != nil {
		if errors.Is(err, storage.ErrNotConfigured) {
			c.JSON(http.StatusServiceUnavailable, errorResponse("photo storage is not configured"))
			return
		}
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status": "ok",
		"url":    url,
	})
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}
