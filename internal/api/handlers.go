package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/susu3304/anklavbot/internal/directory"
	"github.com/susu3304/anklavbot/internal/equity"
	"github.com/susu3304/anklavbot/internal/message"
)

const roomIDLen = 8

func newRoomID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:roomIDLen]
}

// flexID accepts an identifier sent either as a JSON string or a number.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or a number: %w", err)
	}
	*f = flexID(n.String())
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (a *API) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MaxMembers int             `json:"maxMembers"`
		Members    []string        `json:"members"`
		Weights    *equity.Weights `json:"weights"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	members := make([]string, len(req.Members))
	for i, m := range req.Members {
		members[i] = strings.TrimSpace(m)
	}

	var (
		g   *equity.Group
		err error
	)
	// A generated id can collide with a live room; try a few times.
	for attempt := 0; attempt < 3; attempt++ {
		g = &equity.Group{ID: a.newRoomID(), Capacity: req.MaxMembers, Members: members, Weights: req.Weights}
		err = a.store.CreateRoom(r.Context(), g)
		if !errors.Is(err, equity.ErrRoomExists) {
			break
		}
	}
	if errors.Is(err, equity.ErrInvalidInput) && !errors.Is(err, equity.ErrRoomExists) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		a.logger.Error("failed to create room", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create room")
		return
	}

	links := make(map[string]string, len(members))
	for _, m := range members {
		links[m] = a.config.JoinLink(g.ID, m)
	}
	a.logger.Info("room created", zap.String("group", g.ID), zap.Int("capacity", g.Capacity))
	writeJSON(w, http.StatusOK, map[string]any{
		"roomId":  g.ID,
		"members": members,
		"links":   links,
	})
}

func (a *API) handleAddAnswer(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	var req struct {
		ID       flexID              `json:"id"`
		Name     string              `json:"name"`
		Answers  []string            `json:"questions_answers"`
		Self     equity.Capital      `json:"self_input"`
		Partners []equity.PeerRating `json:"partners_input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sub := equity.Submission{
		ID:       string(req.ID),
		Name:     req.Name,
		Answers:  req.Answers,
		Self:     req.Self,
		Partners: req.Partners,
	}

	current, total, err := a.store.AddSubmission(r.Context(), roomID, sub)
	switch {
	case errors.Is(err, equity.ErrGroupNotFound):
		writeError(w, http.StatusNotFound, "room not found")
		return
	case errors.Is(err, equity.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		a.logger.Error("failed to add answer", zap.String("group", roomID), zap.String("participant", sub.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to add answer")
		return
	}

	a.logger.Info("answer added", zap.String("group", roomID), zap.String("participant", sub.ID),
		zap.Int("current", current), zap.Int("total", total))
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "answer added",
		"current": current,
		"total":   total,
	})
}

func (a *API) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	g, err := a.store.GetRoom(r.Context(), roomID)
	if errors.Is(err, equity.ErrGroupNotFound) {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	if err != nil {
		a.logger.Error("failed to get room", zap.String("group", roomID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get room")
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (a *API) handleCheckUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		User *struct {
			ID           flexID `json:"id"`
			Username     string `json:"username"`
			FirstName    string `json:"first_name"`
			LastName     string `json:"last_name"`
			LanguageCode string `json:"language_code"`
		} `json:"user"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.User == nil || req.User.ID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid user data"})
		return
	}
	u := &directory.User{
		ID:           string(req.User.ID),
		Username:     req.User.Username,
		FirstName:    req.User.FirstName,
		LastName:     req.User.LastName,
		LanguageCode: req.User.LanguageCode,
	}
	created, err := a.store.UpsertUser(r.Context(), u)
	if err != nil {
		a.logger.Error("failed to register user", zap.String("participant", u.ID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "internal server error"})
		return
	}
	if a.cache != nil {
		a.cache.Invalidate(u.ID)
	}
	if created {
		a.logger.Info("user registered", zap.String("participant", u.ID))
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "user is in the database"})
}

// handleBid posts a partnership review request for a participant to the
// operator channel.
func (a *API) handleBid(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID flexID `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	id := string(req.ID)
	log := a.logger.With(zap.String("participant", id), zap.String("phase", "lead"))

	u, err := a.store.UserByID(r.Context(), id)
	if errors.Is(err, directory.ErrNotFound) {
		writeError(w, http.StatusBadRequest, "user not found")
		return
	}
	if err != nil {
		log.Error("failed to load user", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	archive, err := a.store.ArchiveByParticipant(r.Context(), id)
	if err != nil && !errors.Is(err, equity.ErrArchiveNotFound) {
		log.Error("failed to load archive", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if a.sender == nil || a.config.LeadChannelID == "" {
		log.Warn("no lead channel configured, dropping lead")
		a.metrics.Lead("dropped")
		writeError(w, http.StatusServiceUnavailable, "lead channel is not configured")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.sendTimeout)
	defer cancel()
	msg := message.Lead(u.Profile(), archive)
	if err := a.sender.Send(ctx, message.Recipient{ChannelID: a.config.LeadChannelID}, msg); err != nil {
		log.Error("lead notification failed", zap.Error(err))
		a.metrics.Lead("failed")
		writeError(w, http.StatusBadGateway, "failed to deliver request")
		return
	}
	a.metrics.Lead("sent")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
