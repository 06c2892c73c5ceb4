package admin

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vyrodovalexey/routegw/internal/config"
	"github.com/vyrodovalexey/routegw/internal/observability"
	"github.com/vyrodovalexey/routegw/internal/qos"
)

// maxConfigBytes bounds a posted configuration document.
const maxConfigBytes = 4 << 20

// RouteInfo describes one compiled route.
type RouteInfo struct {
	Name         string `json:"name"`
	Upstream     string `json:"upstream"`
	Downstream   string `json:"downstream"`
	Scheme       string `json:"scheme"`
	Service      string `json:"service"`
	LoadBalancer string `json:"loadBalancer"`
	Cached       bool   `json:"cached"`
	RateLimited  bool   `json:"rateLimited"`
	Breaker      bool   `json:"breaker"`
}

// RoutesResponse lists the current table.
type RoutesResponse struct {
	Version uint64      `json:"version"`
	Routes  []RouteInfo `json:"routes"`
}

// ApplyResponse reports a published configuration.
type ApplyResponse struct {
	Version uint64 `json:"version"`
	Routes  int    `json:"routes"`
}

// PurgeResponse reports a cleared cache region.
type PurgeResponse struct {
	Region  string `json:"region"`
	Removed int    `json:"removed"`
}

type handlers struct {
	opts   Options
	logger observability.Logger
}

// getConfiguration returns the configuration behind the current table,
// as JSON unless ?format=yaml or ?format=toml is given.
func (h *handlers) getConfiguration(w http.ResponseWriter, r *http.Request) {
	if h.opts.Store == nil || !h.opts.Store.Published() {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no configuration published")
		return
	}
	cfg := h.opts.Store.Load().Config()

	format := config.Format(r.URL.Query().Get("format"))
	switch format {
	case "", config.FormatJSON:
		writeJSON(w, http.StatusOK, cfg)
		return
	case config.FormatYAML, config.FormatTOML:
	default:
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "unsupported format: "+string(format))
		return
	}

	data, err := config.Marshal(cfg, format)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	w.Header().Set("Content-Type", contentTypeFor(format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// postConfiguration replaces the active configuration. The document
// format follows the Content-Type header and defaults to JSON.
func (h *handlers) postConfiguration(w http.ResponseWriter, r *http.Request) {
	if h.opts.Applier == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "configuration updates are disabled")
		return
	}

	format, ok := formatFromContentType(r.Header.Get("Content-Type"))
	if !ok {
		writeError(w, http.StatusUnsupportedMediaType, ErrCodeInvalidRequest,
			"unsupported content type: "+r.Header.Get("Content-Type"))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxConfigBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeInvalidRequest, "configuration too large")
			return
		}
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "failed to read request body")
		return
	}

	cfg, err := config.Parse(body, format)
	if err != nil {
		h.logger.Warn("posted configuration rejected", observability.Error(err))
		writeConfigError(w, err)
		return
	}

	table, err := h.opts.Applier.Apply("admin", cfg)
	if err != nil {
		h.logger.Warn("posted configuration rejected", observability.Error(err))
		writeConfigError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ApplyResponse{Version: table.Version(), Routes: table.Len()})
}

func (h *handlers) getRoutes(w http.ResponseWriter, _ *http.Request) {
	resp := RoutesResponse{Routes: []RouteInfo{}}
	if h.opts.Store != nil {
		table := h.opts.Store.Load()
		resp.Version = table.Version()
		for _, route := range table.Routes() {
			resp.Routes = append(resp.Routes, RouteInfo{
				Name:         route.Name,
				Upstream:     route.Upstream.String(),
				Downstream:   route.Downstream.String(),
				Scheme:       route.Scheme,
				Service:      route.ServiceKey(),
				LoadBalancer: route.LoadBalancer,
				Cached:       route.Cache != nil,
				RateLimited:  route.RateLimit != nil,
				Breaker:      route.QoS != nil && route.QoS.HasBreaker(),
			})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) getCircuits(w http.ResponseWriter, _ *http.Request) {
	circuits := []qos.CircuitInfo{}
	if h.opts.Circuits != nil {
		if list := h.opts.Circuits.Circuits(); list != nil {
			circuits = list
		}
	}
	writeJSON(w, http.StatusOK, circuits)
}

func (h *handlers) deleteCacheRegion(w http.ResponseWriter, r *http.Request) {
	if h.opts.Cache == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "response cache is disabled")
		return
	}

	region := chi.URLParam(r, "region")
	removed, err := h.opts.Cache.ClearRegion(r.Context(), region)
	if err != nil {
		h.logger.Error("failed to clear cache region",
			observability.String("region", region),
			observability.Error(err),
		)
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to clear cache region")
		return
	}

	h.logger.Info("cache region cleared",
		observability.String("region", region),
		observability.Int("removed", removed),
	)
	writeJSON(w, http.StatusOK, PurgeResponse{Region: region, Removed: removed})
}

func formatFromContentType(contentType string) (config.Format, bool) {
	if contentType == "" {
		return config.FormatJSON, true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", false
	}
	switch mediaType {
	case "application/json":
		return config.FormatJSON, true
	case "application/yaml", "application/x-yaml", "text/yaml":
		return config.FormatYAML, true
	case "application/toml":
		return config.FormatTOML, true
	default:
		return "", false
	}
}

func contentTypeFor(format config.Format) string {
	switch format {
	case config.FormatYAML:
		return "application/yaml"
	case config.FormatTOML:
		return "application/toml"
	default:
		return "application/json"
	}
}
