package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"vsnbridge/transfers"
	"vsnbridge/types"

	"github.com/go-chi/chi"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

func (h *Handlers) Transfer(w http.ResponseWriter, r *http.Request) {
	timeReceived := time.Now()

	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		notAcceptable(w, "", "invalid transfer request: "+err.Error())
		return
	}
	source, err := types.ParseBlockchain(req.SourceBlockchainID)
	if err != nil {
		notAcceptable(w, "source_blockchain_id", "This is not a supported blockchain.")
		return
	}
	destination, err := types.ParseBlockchain(req.DestinationBlockchainID)
	if err != nil {
		notAcceptable(w, "destination_blockchain_id", "This is not a supported blockchain.")
		return
	}
	if req.Bid == nil || req.Bid.Fee == nil {
		notAcceptable(w, "bid", "Missing data for required field.")
		return
	}
	h.logger.WithFields(logrus.Fields{
		"source_blockchain_id":      req.SourceBlockchainID,
		"destination_blockchain_id": req.DestinationBlockchainID,
		"sender_address":            req.SenderAddress,
		"nonce":                     req.Nonce,
	}).Info("new transfer request")

	id, err := h.transfers.InitiateTransfer(r.Context(), transfers.InitiateTransferRequest{
		SourceBlockchain:        source,
		DestinationBlockchain:   destination,
		SenderAddress:           req.SenderAddress,
		RecipientAddress:        req.RecipientAddress,
		SourceTokenAddress:      req.SourceTokenAddress,
		DestinationTokenAddress: req.DestinationTokenAddress,
		Amount:                  req.Amount,
		Nonce:                   req.Nonce,
		ValidUntil:              req.ValidUntil,
		Signature:               req.Signature,
		Bid: types.ServiceNodeBid{
			SourceBlockchain:      source,
			DestinationBlockchain: destination,
			Fee:                   req.Bid.Fee,
			ExecutionTime:         req.Bid.ExecutionTime,
			ValidUntil:            req.Bid.ValidUntil,
			Signature:             req.Bid.Signature,
		},
		TimeReceived: timeReceived,
	})

	var validationErr *transfers.ValidationError
	var nonceErr *transfers.SenderNonceNotUniqueError
	var bidErr *transfers.BidNotAcceptedError
	switch {
	case err == nil:
		responseJSON(w, &TransferResponse{TaskID: id.String()}, http.StatusOK)
	case errors.As(err, &validationErr):
		notAcceptable(w, validationErr.Field, validationErr.Message)
	case errors.As(err, &nonceErr):
		responseError(w, http.StatusConflict, "nonce", fmt.Sprintf("sender nonce %d is not unique", req.Nonce))
	case errors.As(err, &bidErr):
		notAcceptable(w, "bid", "bid has been rejected by service node: "+bidErr.Reason)
	default:
		h.logger.Errorf("unable to process a transfer request: %s", err.Error())
		internalError(w)
	}
}

func (h *Handlers) TransferStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	id, err := uuid.Parse(taskID)
	if err != nil {
		h.logger.Warnf("new transfer status request: task ID %q is not a UUID", taskID)
		responseError(w, http.StatusNotFound, "", fmt.Sprintf("task ID %s is not a UUID", taskID))
		return
	}

	rec, err := h.transfers.FindTransfer(r.Context(), id)
	var notFound *transfers.ResourceNotFoundError
	if errors.As(err, &notFound) {
		h.logger.Warnf("new transfer status request: unknown task ID %q", taskID)
		responseError(w, http.StatusNotFound, "", fmt.Sprintf("task ID %s is unknown", taskID))
		return
	}
	if err != nil {
		h.logger.Errorf("unable to process a transfer status request: %s", err.Error())
		internalError(w)
		return
	}

	responseJSON(w, &TransferStatusResponse{
		TaskID:                  rec.ID.String(),
		SourceBlockchainID:      int(rec.SourceBlockchain),
		DestinationBlockchainID: int(rec.DestinationBlockchain),
		SenderAddress:           rec.SenderAddress,
		RecipientAddress:        rec.RecipientAddress,
		SourceTokenAddress:      rec.SourceTokenAddress,
		DestinationTokenAddress: rec.DestinationTokenAddress,
		Amount:                  rec.Amount,
		Fee:                     rec.Bid.Fee,
		Status:                  rec.Status.PublicStatus(),
		TransferID:              rec.OnChainTransferID,
		TransactionID:           rec.TransactionID,
	}, http.StatusOK)
}
