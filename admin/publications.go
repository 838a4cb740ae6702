package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gobwas/glob"
	"github.com/maxpert/termlog/counters"
	"github.com/maxpert/termlog/publication"
)

// handleListPublications handles GET /admin/publications?channel={glob}
func (h *AdminHandlers) handleListPublications(w http.ResponseWriter, r *http.Request) {
	var filter glob.Glob
	if pattern := r.URL.Query().Get("channel"); pattern != "" {
		g, err := glob.Compile(pattern)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "invalid channel pattern: "+err.Error())
			return
		}
		filter = g
	}

	response := []map[string]interface{}{}
	for _, p := range h.source.Publications() {
		if filter != nil && !filter.Match(p.Channel()) {
			continue
		}
		if view := publicationView(p); view != nil {
			response = append(response, view)
		}
	}

	writeJSONResponse(w, response)
}

// handleGetPublication handles GET /admin/publications/{registrationID}
func (h *AdminHandlers) handleGetPublication(w http.ResponseWriter, r *http.Request) {
	registrationID, err := parseRegistrationID(chi.URLParam(r, "registrationID"))
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	p, ok := h.source.Publication(registrationID)
	if !ok {
		writeErrorResponse(w, http.StatusNotFound, "publication not found")
		return
	}

	view := publicationView(p)
	if view == nil {
		writeErrorResponse(w, http.StatusNotFound, "publication closed")
		return
	}
	writeJSONResponse(w, view)
}

// publicationView renders a publication, or nil if it closed while being read
func publicationView(p *publication.Publication) map[string]interface{} {
	position, err := p.Position()
	if err != nil {
		return nil
	}
	limit, err := p.PositionLimit()
	if err != nil {
		return nil
	}

	return map[string]interface{}{
		"registration_id":          p.RegistrationID(),
		"original_registration_id": p.OriginalRegistrationID(),
		"channel":                  p.Channel(),
		"stream_id":                p.StreamID(),
		"session_id":               p.SessionID(),
		"initial_term_id":          p.InitialTermID(),
		"term_length":              p.TermBufferLength(),
		"max_payload_length":       p.MaxPayloadLength(),
		"max_possible_position":    p.MaxPossiblePosition(),
		"position":                 position,
		"position_limit":           limit,
		"connected":                p.IsConnected(),
		"channel_status":           channelStatusName(p.ChannelStatus()),
	}
}

func channelStatusName(status int64) string {
	switch status {
	case counters.ChannelStatusInitializing:
		return "initializing"
	case counters.ChannelStatusActive:
		return "active"
	case counters.ChannelStatusClosing:
		return "closing"
	case counters.ChannelStatusErrored:
		return "errored"
	default:
		return "unknown"
	}
}
