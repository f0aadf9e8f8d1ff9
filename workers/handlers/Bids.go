package handlers

import (
	"net/http"
	"strconv"

	"vsnbridge/types"
)

func parseBlockchainQuery(r *http.Request, name string) (types.Blockchain, bool) {
	id, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0, false
	}
	b, err := types.ParseBlockchain(id)
	return b, err == nil
}

func (h *Handlers) Bids(w http.ResponseWriter, r *http.Request) {
	source, ok := parseBlockchainQuery(r, "source_blockchain")
	if !ok {
		responseError(w, http.StatusBadRequest, "source_blockchain", "Must be one of the supported blockchain ids.")
		return
	}
	destination, ok := parseBlockchainQuery(r, "destination_blockchain")
	if !ok {
		responseError(w, http.StatusBadRequest, "destination_blockchain", "Must be one of the supported blockchain ids.")
		return
	}

	list := h.bids.CurrentBids(source, destination)
	if list == nil {
		list = []types.ServiceNodeBid{}
	}
	responseJSON(w, list, http.StatusOK)
}
