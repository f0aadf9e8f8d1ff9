package handlers

import (
	"net/http"

	"vsnbridge/types"

	"github.com/go-chi/chi"
)

// Balance answers the service node's own VSN balance on one blockchain as a
// plain integer in the token's smallest unit.
func (h *Handlers) Balance(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "blockchain")
	for _, b := range types.Blockchains() {
		if b.Key() != key {
			continue
		}
		client, ok := h.registry.Client(b)
		if !ok {
			break
		}
		balance, err := client.ReadOwnVSNBalance(r.Context())
		if err != nil {
			h.logger.Errorf("Error getting balance on %s: %s", b, err.Error())
			responsePlain(w, "error", http.StatusInternalServerError)
			return
		}
		responsePlain(w, balance.String(), http.StatusOK)
		return
	}
	responsePlain(w, "unknown blockchain", http.StatusNotFound)
}
