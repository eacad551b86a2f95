package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/calico0/parley/internal/history"
)

// TranslationLister reads a user's persisted translation log.
// Implemented by *history.Store.
type TranslationLister interface {
	ListByUser(ctx context.Context, userID int64, limit int) ([]*history.Translation, error)
}

type translationItem struct {
	ID             int64  `json:"id"`
	OriginalText   string `json:"original_text"`
	TranslatedText string `json:"translated_text"`
	SpecialReport  bool   `json:"special_report"`
	CreatedAt      string `json:"created_at"`
}

type translationsResponse struct {
	Translations []translationItem `json:"translations"`
}

// handleTranslations lists the authenticated user's translations in
// chronological order. Accepts an optional ?limit= query parameter.
func (s *Server) handleTranslations(w http.ResponseWriter, r *http.Request) {
	userID := s.identity.userID(r)
	if userID == 0 {
		writeError(w, http.StatusUnauthorized, "auth_required", "login required")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := s.lister.ListByUser(r.Context(), userID, limit)
	if err != nil {
		s.logger.Error("listing translations", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not load translations")
		return
	}

	items := make([]translationItem, 0, len(records))
	for _, rec := range records {
		items = append(items, translationItem{
			ID:             rec.ID,
			OriginalText:   rec.OriginalText,
			TranslatedText: rec.TranslatedText,
			SpecialReport:  rec.SpecialReport,
			CreatedAt:      rec.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, translationsResponse{Translations: items})
}
