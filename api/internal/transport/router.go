package transport

import "net/http"

type Handler interface {
	health(w http.ResponseWriter, r *http.Request)
	amazonMain(w http.ResponseWriter, r *http.Request)
}

type router struct {
	h       Handler
	metrics http.Handler
}

// NewRouter mounts the API. metrics may be nil to leave /metrics unrouted.
func NewRouter(h Handler, metrics http.Handler) *router {
	return &router{h: h, metrics: metrics}
}

func (r *router) MountRoutes(mux *http.ServeMux) *http.ServeMux {
	mux.HandleFunc("/api/health", r.h.health)
	mux.HandleFunc("/api/amazon-main", r.h.amazonMain)
	if r.metrics != nil {
		mux.Handle("/metrics", r.metrics)
	}

	return mux
}
