package handlers

import (
	"net/http"
	"time"

	"vsnbridge/types"
)

// Live answers as long as the process serves requests. It does not touch
// the store or the blockchain providers.
func (h *Handlers) Live(w http.ResponseWriter, r *http.Request) {
	clients := h.registry.Clients()
	active := make([]string, 0, len(clients))
	for _, client := range clients {
		active = append(active, client.Blockchain().Key())
	}
	responseJSON(w, &LiveResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(h.started) / time.Second),
		Blockchains:   active,
	}, http.StatusOK)
}

// NodesHealth probes the providers of every configured blockchain.
func (h *Handlers) NodesHealth(w http.ResponseWriter, r *http.Request) {
	clients := h.registry.Clients()
	list := make([]types.NodeHealth, 0, len(clients))
	for _, client := range clients {
		list = append(list, client.GetNodeHealth(r.Context()))
	}
	responseJSON(w, list, http.StatusOK)
}
