package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/pcttracker/internal/geo"
	"github.com/MarcoPoloResearchLab/pcttracker/internal/hikers"
	"github.com/MarcoPoloResearchLab/pcttracker/internal/tracker"
	"github.com/MarcoPoloResearchLab/pcttracker/internal/trail"
	"github.com/MarcoPoloResearchLab/pcttracker/internal/updates"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	updateActionCreate = "create"
	updateActionUpdate = "update"
	updateActionDelete = "delete"
)

type latestResponsePayload struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Timestamp string  `json:"ts"`
	Direction string  `json:"direction"`
}

func (h *httpHandler) handleLatest(c *gin.Context) {
	user, ok := h.hikerBySlug(c)
	if !ok {
		return
	}
	position, found, err := h.tracker.LatestPosition(c.Request.Context(), user.UserID)
	if err != nil {
		h.respondError(c, http.StatusInternalServerError, "latest_failed", err)
		return
	}
	response := latestResponsePayload{Direction: user.HikeDirection().String()}
	if !found {
		c.JSON(http.StatusOK, response)
		return
	}
	response.Lat = position.Lat
	response.Lon = position.Lon
	response.Timestamp = time.Unix(position.ActivityDateSeconds, 0).UTC().Format(time.RFC3339)
	c.Header("Cache-Control", publicCacheControl)
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleStats(c *gin.Context) {
	user, ok := h.hikerBySlug(c)
	if !ok {
		return
	}
	stats, err := h.tracker.Stats(c.Request.Context(), user.UserID)
	if err != nil {
		h.respondError(c, http.StatusInternalServerError, "stats_failed", err)
		return
	}
	c.Header("Cache-Control", publicCacheControl)
	c.JSON(http.StatusOK, stats)
}

func (h *httpHandler) handleTracks(c *gin.Context) {
	user, ok := h.hikerBySlug(c)
	if !ok {
		return
	}
	collection, err := h.tracker.Tracks(c.Request.Context(), user.UserID)
	if err != nil {
		h.respondError(c, http.StatusInternalServerError, "tracks_failed", err)
		return
	}
	c.Header("Cache-Control", publicCacheControl)
	c.JSON(http.StatusOK, collection)
}

type splitResponsePayload struct {
	Direction string        `json:"direction"`
	Position  *positionJSON `json:"position"`
	Completed [][2]float64  `json:"completed"`
	Remaining [][2]float64  `json:"remaining"`
}

type positionJSON struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// handleSplit serves the reference trail split at the hiker's latest position. Coordinates are
// [lon, lat] pairs; ?direction= overrides the hiker's configured direction.
func (h *httpHandler) handleSplit(c *gin.Context) {
	user, ok := h.hikerBySlug(c)
	if !ok {
		return
	}
	direction := user.HikeDirection()
	if raw := strings.TrimSpace(c.Query("direction")); raw != "" {
		parsed, err := trail.ParseDirection(raw)
		if err != nil {
			h.respondError(c, http.StatusBadRequest, "invalid_direction", nil)
			return
		}
		direction = parsed
	}

	progress, err := h.tracker.Progress(c.Request.Context(), user.UserID, direction)
	if err != nil {
		h.respondError(c, http.StatusInternalServerError, "split_failed", err)
		return
	}
	response := splitResponsePayload{
		Direction: progress.Direction.String(),
		Completed: lonLatPairs(progress.Split.Completed),
		Remaining: lonLatPairs(progress.Split.Remaining),
	}
	if progress.Position != nil {
		response.Position = &positionJSON{Lat: progress.Position.Lat, Lon: progress.Position.Lon}
	}
	c.Header("Cache-Control", publicCacheControl)
	c.JSON(http.StatusOK, response)
}

func lonLatPairs(coordinates []geo.Coordinate) [][2]float64 {
	pairs := make([][2]float64, 0, len(coordinates))
	for _, coordinate := range coordinates {
		pairs = append(pairs, coordinate.LonLat())
	}
	return pairs
}

type updatePayload struct {
	ID        string   `json:"id"`
	UserID    string   `json:"user_id"`
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Lat       *float64 `json:"lat"`
	Lon       *float64 `json:"lon"`
	CreatedAt string   `json:"created_at"`
}

func newUpdatePayload(update updates.TrailUpdate) updatePayload {
	return updatePayload{
		ID:        update.UpdateID,
		UserID:    update.UserID,
		Title:     update.Title,
		Body:      update.Body,
		Lat:       update.Lat,
		Lon:       update.Lon,
		CreatedAt: time.Unix(update.CreatedAtSeconds, 0).UTC().Format(time.RFC3339),
	}
}

func (h *httpHandler) handleListUpdates(c *gin.Context) {
	user, ok := h.hikerBySlug(c)
	if !ok {
		return
	}
	listed, err := h.updates.List(c.Request.Context(), user.UserID)
	if err != nil {
		h.logger.Error("failed to list updates", zap.String("user_id", user.UserID), zap.Error(err))
		h.respondError(c, http.StatusInternalServerError, "updates_failed", err)
		return
	}
	response := make([]updatePayload, 0, len(listed))
	for _, update := range listed {
		response = append(response, newUpdatePayload(update))
	}
	c.Header("Cache-Control", publicCacheControl)
	c.JSON(http.StatusOK, response)
}

type updateRequestPayload struct {
	Action string   `json:"action"`
	ID     string   `json:"id"`
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Lat    *float64 `json:"lat"`
	Lon    *float64 `json:"lon"`
}

func (h *httpHandler) handleUpdates(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	var request updateRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondError(c, http.StatusBadRequest, "invalid_request", nil)
		return
	}
	input := updates.Input{Title: request.Title, Body: request.Body, Lat: request.Lat, Lon: request.Lon}
	ctx := c.Request.Context()

	var err error
	switch strings.ToLower(strings.TrimSpace(request.Action)) {
	case updateActionCreate:
		created, createErr := h.updates.Create(ctx, userID, input)
		if createErr == nil {
			c.JSON(http.StatusCreated, newUpdatePayload(created))
			return
		}
		err = createErr
	case updateActionUpdate:
		err = h.updates.Edit(ctx, userID, request.ID, input)
	case updateActionDelete:
		err = h.updates.Delete(ctx, userID, request.ID)
	default:
		h.respondError(c, http.StatusBadRequest, "invalid_action", nil)
		return
	}

	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"ok": true})
	case errors.Is(err, updates.ErrInvalidUpdate):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_update", "message": err.Error()})
	case errors.Is(err, updates.ErrUpdateNotFound):
		h.respondError(c, http.StatusNotFound, "not_found", nil)
	default:
		h.logger.Error("trail update failed", zap.String("user_id", userID), zap.Error(err))
		h.respondError(c, http.StatusInternalServerError, "update_failed", err)
	}
}

type hikerResponsePayload struct {
	UserID         string            `json:"user_id"`
	DisplayName    string            `json:"display_name"`
	Slug           string            `json:"slug"`
	HikeStartDate  *string           `json:"hike_start_date"`
	HikeEndDate    *string           `json:"hike_end_date"`
	Direction      string            `json:"direction"`
	LighterpackURL string            `json:"lighterpack_url"`
	Sync           *syncStatePayload `json:"sync,omitempty"`
}

type syncStatePayload struct {
	Status     string `json:"status"`
	LastSyncAt string `json:"last_sync_at,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}

func newHikerPayload(user hikers.User) hikerResponsePayload {
	return hikerResponsePayload{
		UserID:         user.UserID,
		DisplayName:    user.DisplayName,
		Slug:           user.Slug,
		HikeStartDate:  user.HikeStartDate,
		HikeEndDate:    user.HikeEndDate,
		Direction:      user.HikeDirection().String(),
		LighterpackURL: user.LighterpackURL,
	}
}

func (h *httpHandler) handleMe(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	user, err := h.hikers.Get(c.Request.Context(), userID)
	if err != nil {
		h.respondHikerError(c, err)
		return
	}
	state, err := h.tracker.SyncStatus(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, http.StatusInternalServerError, "sync_status_failed", err)
		return
	}
	response := newHikerPayload(user)
	response.Sync = &syncStatePayload{Status: string(state.Status), LastError: state.LastError}
	if state.LastSyncAtSeconds > 0 {
		response.Sync.LastSyncAt = time.Unix(state.LastSyncAtSeconds, 0).UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, response)
}

type settingsRequestPayload struct {
	HikeStartDate  string  `json:"hike_start_date"`
	HikeEndDate    *string `json:"hike_end_date"`
	Direction      string  `json:"direction"`
	LighterpackURL *string `json:"lighterpack_url"`
}

// handleSettings stores the hike settings. Omitted optional fields keep their stored value; an
// empty end date clears it.
func (h *httpHandler) handleSettings(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	var request settingsRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondError(c, http.StatusBadRequest, "invalid_request", nil)
		return
	}
	if strings.TrimSpace(request.HikeStartDate) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_settings", "message": "hike start date is required"})
		return
	}

	current, err := h.hikers.Get(c.Request.Context(), userID)
	if err != nil {
		h.respondHikerError(c, err)
		return
	}
	settings := hikers.Settings{
		StartDate:      request.HikeStartDate,
		Direction:      request.Direction,
		LighterpackURL: current.LighterpackURL,
	}
	if request.HikeEndDate != nil {
		settings.EndDate = *request.HikeEndDate
	} else if current.HikeEndDate != nil {
		settings.EndDate = *current.HikeEndDate
	}
	if strings.TrimSpace(settings.Direction) == "" {
		settings.Direction = current.HikeDirection().String()
	}
	if request.LighterpackURL != nil {
		settings.LighterpackURL = *request.LighterpackURL
	}

	updated, err := h.hikers.UpdateSettings(c.Request.Context(), userID, settings)
	if err != nil {
		h.respondHikerError(c, err)
		return
	}
	c.JSON(http.StatusOK, newHikerPayload(updated))
}

func (h *httpHandler) respondHikerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, hikers.ErrUserNotFound):
		h.respondError(c, http.StatusNotFound, "not_found", nil)
	case errors.Is(err, hikers.ErrInvalidHikeDate), errors.Is(err, hikers.ErrInvalidSettings):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_settings", "message": err.Error()})
	default:
		h.logger.Error("hiker request failed", zap.Error(err))
		h.respondError(c, http.StatusInternalServerError, "settings_failed", err)
	}
}

func (h *httpHandler) handleSync(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	result, err := h.syncer.SyncUser(c.Request.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, tracker.ErrSyncInProgress):
			h.respondError(c, http.StatusConflict, "sync_in_progress", nil)
		case errors.Is(err, hikers.ErrUserNotFound):
			h.respondError(c, http.StatusNotFound, "not_found", nil)
		case errors.Is(err, hikers.ErrInvalidHikeDate):
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid_settings", "message": err.Error()})
		default:
			h.respondError(c, http.StatusInternalServerError, "sync_failed", err)
		}
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleCronSync(c *gin.Context) {
	if !h.cronAuthorized(c) {
		h.logger.Warn("cron request rejected", zap.Error(errInvalidCronCredentials))
		h.respondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	if h.batch == nil {
		h.respondError(c, http.StatusServiceUnavailable, "batch_unavailable", nil)
		return
	}
	result, err := h.batch.RunBatch(c.Request.Context())
	if err != nil {
		h.logger.Error("cron batch failed", zap.Error(err))
		h.respondError(c, http.StatusInternalServerError, "batch_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"synced":      len(result.Users),
		"succeeded":   result.Succeeded,
		"failed":      result.Failed,
		"interrupted": result.Interrupted,
		"results":     result.Users,
	})
}
