package export

import (
	"net/http"

	"bookcatalog/internal/catalog"
	"bookcatalog/internal/httpx"
)

type HTTPHandler struct {
	ops         catalog.Operations
	collections []string
}

func NewHTTPHandler(ops catalog.Operations, collections ...string) *HTTPHandler {
	return &HTTPHandler{ops: ops, collections: collections}
}

// Export handles GET /v1/export
// @Summary Export every collection
// @Description Dumps each collection as a JSON array keyed by collection name.
// @Tags export
// @Produce json
// @Success 200 {object} map[string][]catalog.Document
// @Failure 500 {object} httpx.ErrorResponse
// @Router /v1/export [get]
func (h *HTTPHandler) Export(w http.ResponseWriter, r *http.Request) {
	body, err := Marshal(r.Context(), h.ops, h.collections...)
	if err != nil {
		httpx.JSONError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
