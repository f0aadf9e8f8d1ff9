package database

import (
	"fmt"
	"math/big"
	"strconv"
	"time"

	"vsnbridge/types"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Transfer is the row of one transfer record. Big integers and nonces are
// stored as decimal strings.
type Transfer struct {
	ID                      uuid.UUID `gorm:"type:uuid;primaryKey"`
	SourceBlockchain        uint8     `gorm:"index"`
	DestinationBlockchain   uint8
	SenderAddress           string `gorm:"index"`
	RecipientAddress        string
	SourceTokenAddress      string
	DestinationTokenAddress string
	Amount                  string `gorm:"not null"`
	Nonce                   string `gorm:"not null"`
	ValidUntil              int64
	Signature               string
	BidFee                  string
	BidExecutionTime        uint64
	BidValidUntil           int64
	BidSignature            string
	Status                  string `gorm:"index;not null"`
	TransactionID           string
	OnChainTransferID       *uint64
	SubmittedAt             *time.Time
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// SenderNonce reserves a (source blockchain, sender, nonce) triple for the
// transfer holding it. The row is removed when that transfer fails.
type SenderNonce struct {
	SourceBlockchain uint8     `gorm:"primaryKey;autoIncrement:false"`
	SenderAddress    string    `gorm:"primaryKey"`
	Nonce            string    `gorm:"primaryKey"`
	TransferID       uuid.UUID `gorm:"type:uuid;uniqueIndex"`
}

// Submission is one signed chain transaction of a transfer.
type Submission struct {
	ID                    uint      `gorm:"primaryKey"`
	InternalTransactionID uuid.UUID `gorm:"type:uuid;index"`
	TransactionID         string    `gorm:"index"`
	RawTransaction        string
	AccountNonce          uint64
	SubmittedAt           time.Time
}

// AutoMigrate creates or updates the tables of the store.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Transfer{}, &SenderNonce{}, &Submission{})
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func nonceString(nonce uint64) string {
	return strconv.FormatUint(nonce, 10)
}

func parseBig(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s %q", field, s)
	}
	return v, nil
}

func fromRecord(rec *types.TransferRecord) *Transfer {
	return &Transfer{
		ID:                      rec.ID,
		SourceBlockchain:        uint8(rec.SourceBlockchain),
		DestinationBlockchain:   uint8(rec.DestinationBlockchain),
		SenderAddress:           rec.SenderAddress,
		RecipientAddress:        rec.RecipientAddress,
		SourceTokenAddress:      rec.SourceTokenAddress,
		DestinationTokenAddress: rec.DestinationTokenAddress,
		Amount:                  bigString(rec.Amount),
		Nonce:                   nonceString(rec.Nonce),
		ValidUntil:              rec.ValidUntil,
		Signature:               rec.Signature,
		BidFee:                  bigString(rec.Bid.Fee),
		BidExecutionTime:        rec.Bid.ExecutionTime,
		BidValidUntil:           rec.Bid.ValidUntil,
		BidSignature:            rec.Bid.Signature,
		Status:                  string(rec.Status),
		TransactionID:           rec.TransactionID,
		OnChainTransferID:       rec.OnChainTransferID,
		SubmittedAt:             rec.SubmittedAt,
		CreatedAt:               rec.CreatedAt,
		UpdatedAt:               rec.UpdatedAt,
	}
}

func (t *Transfer) record() (*types.TransferRecord, error) {
	amount, err := parseBig("amount", t.Amount)
	if err != nil {
		return nil, err
	}
	fee, err := parseBig("bid fee", t.BidFee)
	if err != nil {
		return nil, err
	}
	nonce, err := strconv.ParseUint(t.Nonce, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid nonce %q", t.Nonce)
	}
	return &types.TransferRecord{
		ID:                      t.ID,
		SourceBlockchain:        types.Blockchain(t.SourceBlockchain),
		DestinationBlockchain:   types.Blockchain(t.DestinationBlockchain),
		SenderAddress:           t.SenderAddress,
		RecipientAddress:        t.RecipientAddress,
		SourceTokenAddress:      t.SourceTokenAddress,
		DestinationTokenAddress: t.DestinationTokenAddress,
		Amount:                  amount,
		Nonce:                   nonce,
		ValidUntil:              t.ValidUntil,
		Signature:               t.Signature,
		Bid: types.ServiceNodeBid{
			SourceBlockchain:      types.Blockchain(t.SourceBlockchain),
			DestinationBlockchain: types.Blockchain(t.DestinationBlockchain),
			Fee:                   fee,
			ExecutionTime:         t.BidExecutionTime,
			ValidUntil:            t.BidValidUntil,
			Signature:             t.BidSignature,
		},
		Status:            types.TransferStatus(t.Status),
		TransactionID:     t.TransactionID,
		OnChainTransferID: t.OnChainTransferID,
		SubmittedAt:       t.SubmittedAt,
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
	}, nil
}
