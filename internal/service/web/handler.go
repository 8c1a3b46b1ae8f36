package web

import (
	"encoding/json"
	"net/http"

	"crawlpool/proxypool/model"
)

// PoolView 是 web 层读取代理池所需的接口，rotator.Rotator 满足它。
type PoolView interface {
	Snapshot() []*model.ValidatedProxy
}

type Handler struct {
	hub  *Hub
	pool PoolView
}

func NewHandler(hub *Hub, pool PoolView) *Handler {
	return &Handler{hub: hub, pool: pool}
}

// HandleStatus 处理 GET /api/status，返回最近一次的爬取统计。
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, h.hub.Latest())
}

type proxiesResponse struct {
	Count   int                     `json:"count"`
	Proxies []*model.ValidatedProxy `json:"proxies"`
}

// HandleProxies 处理 GET /api/proxies，返回当前轮询池。
func (h *Handler) HandleProxies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := proxiesResponse{Proxies: []*model.ValidatedProxy{}}
	if h.pool != nil {
		if snap := h.pool.Snapshot(); snap != nil {
			resp.Proxies = snap
		}
	}
	resp.Count = len(resp.Proxies)
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
