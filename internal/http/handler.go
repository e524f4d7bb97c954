package http

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"lpr-service/internal/domain/plate"
	"lpr-service/internal/ingest"
	"lpr-service/internal/ocr"
	"lpr-service/internal/repository"
	"lpr-service/internal/service"
)

// PlateReader extracts plate text from an image; nil when OCR is not wired.
type PlateReader interface {
	ReadPlate(ctx context.Context, imageBytes []byte) (string, float64, error)
}

type Handler struct {
	detections *service.DetectionService
	plates     *service.PlateService
	buffer     *ingest.Buffer
	reader     PlateReader
	log        zerolog.Logger
}

func NewHandler(
	detections *service.DetectionService,
	plates *service.PlateService,
	buffer *ingest.Buffer,
	reader PlateReader,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		detections: detections,
		plates:     plates,
		buffer:     buffer,
		reader:     reader,
		log:        log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	public := r.Group("/api/v1")
	{
		public.POST("/detections", h.createDetection)
		public.POST("/detections/sync", h.createDetectionSync)
		public.POST("/detections/image", h.createDetectionFromImage)
		public.GET("/plates", h.listPlates)
		public.GET("/plates/stats", h.plateStats)
		public.GET("/plates/today", h.todaysPlates)
		public.GET("/plates/:id", h.getPlate)
	}

	protected := r.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.PATCH("/plates/:id/verify", h.verifyPlate)
		protected.PATCH("/plates/:id/flag", h.flagPlate)
		protected.DELETE("/plates/:id", h.deletePlate)
	}
}

type detectionRequest struct {
	RawText    string            `json:"raw_text" binding:"required"`
	Confidence float64           `json:"confidence"`
	Location   string            `json:"location"`
	Box        plate.BoundingBox `json:"box"`
	ObservedAt time.Time         `json:"observed_at"`
}

// createDetection validates a raw OCR candidate and queues it for the next
// batch flush.
func (h *Handler) createDetection(c *gin.Context) {
	var req detectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	if req.Location == "" {
		req.Location = "Camera"
	}

	res, queued := h.buffer.Offer(req.RawText, req.Confidence, req.Location, req.Box, req.ObservedAt)
	if !res.Valid {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":  "plate text failed validation",
			"result": res,
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"queued": queued,
		"result": res,
	})
}

type syncDetectionRequest struct {
	PlateText  string            `json:"plate_text"`
	Confidence float64           `json:"confidence"`
	Location   string            `json:"location"`
	Box        plate.BoundingBox `json:"box"`
	ObservedAt time.Time         `json:"observed_at"`
}

// createDetectionSync reconciles an observation immediately, bypassing the
// batch queue. An empty plate_text is allowed and gets a placeholder.
func (h *Handler) createDetectionSync(c *gin.Context) {
	var req syncDetectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	if req.Location == "" {
		req.Location = "Camera"
	}

	obs := plate.Observation{
		PlateText:  req.PlateText,
		Confidence: req.Confidence,
		Location:   req.Location,
		Box:        req.Box,
		ObservedAt: req.ObservedAt,
	}

	id, isNew, err := h.detections.ReconcileIfAllowed(c.Request.Context(), obs)
	if err != nil {
		if errors.Is(err, service.ErrThrottled) {
			c.JSON(http.StatusAccepted, gin.H{"status": "skipped", "reason": "throttled"})
			return
		}
		h.log.Error().Err(err).Msg("failed to reconcile detection")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
		return
	}

	status := http.StatusOK
	if isNew {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{
		"sighting_id": id,
		"is_new":      isNew,
	})
}

type imageDetectionRequest struct {
	ImageBase64 string `json:"image_base64" binding:"required"`
	Location    string `json:"location"`
}

// createDetectionFromImage runs OCR on an uploaded frame and queues the
// extracted plate.
func (h *Handler) createDetectionFromImage(c *gin.Context) {
	if h.reader == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse("image recognition is not configured"))
		return
	}

	var req imageDetectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	if req.Location == "" {
		req.Location = "Camera"
	}

	imageBytes, err := base64.StdEncoding.DecodeString(req.ImageBase64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid base64 image"))
		return
	}

	text, confidence, err := h.reader.ReadPlate(c.Request.Context(), imageBytes)
	if err != nil {
		if errors.Is(err, ocr.ErrNoPlateFound) {
			c.JSON(http.StatusUnprocessableEntity, errorResponse("no plate found in image"))
			return
		}
		h.log.Error().Err(err).Msg("failed to read plate from image")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
		return
	}

	res, queued := h.buffer.Offer(text, confidence, req.Location, plate.BoundingBox{}, time.Now())
	c.JSON(http.StatusAccepted, gin.H{
		"queued": queued,
		"result": res,
	})
}

func (h *Handler) listPlates(c *gin.Context) {
	params := repository.ListParams{
		Page:      queryInt(c, "page", 1),
		Limit:     queryInt(c, "limit", 20),
		Search:    strings.TrimSpace(c.Query("search")),
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}

	result, err := h.plates.List(c.Request.Context(), params)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(result))
}

func (h *Handler) getPlate(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	sighting, err := h.plates.Get(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(sighting))
}

func (h *Handler) plateStats(c *gin.Context) {
	stats, err := h.plates.Stats(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(stats))
}

func (h *Handler) todaysPlates(c *gin.Context) {
	sightings, err := h.plates.Today(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(sightings))
}

type verifyRequest struct {
	PlateText string `json:"plate_text"`
}

func (h *Handler) verifyPlate(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	if err := h.plates.Verify(c.Request.Context(), id, req.PlateText); err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "verified"})
}

type flagRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) flagPlate(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req flagRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	if err := h.plates.Flag(c.Request.Context(), id, req.Reason); err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "flagged"})
}

func (h *Handler) deletePlate(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.plates.Delete(c.Request.Context(), id); err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
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

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, errorResponse("invalid id"))
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}
