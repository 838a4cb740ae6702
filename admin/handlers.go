package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/maxpert/termlog/publication"
	"github.com/rs/zerolog/log"
)

// PublicationSource is the conductor surface the admin API reads from
type PublicationSource interface {
	Publications() []*publication.Publication
	Publication(registrationID int64) (*publication.Publication, bool)
}

// AdminHandlers handles admin API endpoints
type AdminHandlers struct {
	source  PublicationSource
	metrics http.Handler
}

// NewAdminHandlers creates a new AdminHandlers instance. metrics may be nil
// when Prometheus is disabled.
func NewAdminHandlers(source PublicationSource, metrics http.Handler) *AdminHandlers {
	return &AdminHandlers{
		source:  source,
		metrics: metrics,
	}
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}) {
	response := map[string]interface{}{
		"data": data,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	response := map[string]interface{}{
		"error": message,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

// parseRegistrationID parses a registration ID path parameter
func parseRegistrationID(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("registration ID is required")
	}

	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid registration ID: %w", err)
	}

	return id, nil
}
