package scan

import (
	"encoding/json"
	"net/http"
	"net/netip"

	"github.com/de-tools/egress-meter/pkg/adapters"
	"github.com/de-tools/egress-meter/pkg/models/api"
	"github.com/de-tools/egress-meter/pkg/services/classifier"
	"github.com/de-tools/egress-meter/pkg/store/scanstate"
	"github.com/rs/zerolog"
)

type Handler struct {
	statePath string
	cls       classifier.Classifier
}

func NewHandler(statePath string, cls classifier.Classifier) *Handler {
	return &Handler{
		statePath: statePath,
		cls:       cls,
	}
}

// GetState reports the persisted scan progress. It reads without the
// run lock, so the view may trail an in-flight scan by one commit.
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := zerolog.Ctx(ctx)

	view, err := scanstate.Peek(h.statePath)
	if err != nil {
		logger.Error().
			Err(err).
			Str("path", h.statePath).
			Msg("failed to read scan state")
		http.Error(w, "failed to read scan state", http.StatusInternalServerError)
		return
	}

	if err := json.NewEncoder(w).Encode(adapters.MapScanStateDomainToApi(view)); err != nil {
		logger.Error().
			Err(err).
			Msg("failed to encode scan state")
	}
}

func (h *Handler) ClassifyIP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := zerolog.Ctx(ctx)

	raw := r.URL.Query().Get("ip")
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		http.Error(w, "invalid 'ip' parameter. Expected an IPv4 or IPv6 address", http.StatusBadRequest)
		return
	}

	tier := h.cls.Classify(addr)
	if err := json.NewEncoder(w).Encode(adapters.MapClassificationDomainToApi(addr, tier)); err != nil {
		logger.Error().
			Err(err).
			Str("ip", raw).
			Msg("failed to encode classification")
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	if err := json.NewEncoder(w).Encode(api.Health{Status: "ok"}); err != nil {
		logger.Error().
			Err(err).
			Msg("failed to encode health response")
	}
}
