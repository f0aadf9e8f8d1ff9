package types

// TransferStatus is the internal lifecycle state of a transfer.
type TransferStatus string

const (
	StatusAccepted                   TransferStatus = "ACCEPTED"
	StatusFailed                     TransferStatus = "FAILED"
	StatusSourceTransactionSubmitted TransferStatus = "SOURCE_TRANSACTION_SUBMITTED"
	StatusSourceTransactionConfirmed TransferStatus = "SOURCE_TRANSACTION_CONFIRMED"
	StatusSourceTransactionReverted  TransferStatus = "SOURCE_TRANSACTION_REVERTED"
	StatusUnresolvable               TransferStatus = "UNRESOLVABLE"
)

// PublicStatus is the reduced vocabulary reported to API clients.
type PublicStatus string

const (
	PublicStatusAccepted  PublicStatus = "accepted"
	PublicStatusFailed    PublicStatus = "failed"
	PublicStatusSubmitted PublicStatus = "submitted"
	PublicStatusReverted  PublicStatus = "reverted"
	PublicStatusConfirmed PublicStatus = "confirmed"
)

var transitions = map[TransferStatus][]TransferStatus{
	StatusAccepted: {
		StatusAccepted,
		StatusFailed,
		StatusSourceTransactionSubmitted,
		StatusUnresolvable,
	},
	StatusSourceTransactionSubmitted: {
		StatusSourceTransactionSubmitted,
		StatusSourceTransactionConfirmed,
		StatusSourceTransactionReverted,
		StatusUnresolvable,
	},
}

func (s TransferStatus) IsTerminal() bool {
	_, ok := transitions[s]
	return !ok
}

// CanTransitionTo reports whether a record in status s may be written with
// status next. A non-terminal status may be rewritten with itself.
func (s TransferStatus) CanTransitionTo(next TransferStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Predecessors lists the statuses from which s is reachable.
func (s TransferStatus) Predecessors() []TransferStatus {
	var list []TransferStatus
	for from, targets := range transitions {
		for _, to := range targets {
			if to == s {
				list = append(list, from)
			}
		}
	}
	return list
}

// ReleasesNonce reports whether a record in this status no longer occupies
// its (sender, source chain, nonce) slot. Only transfers that never reached
// the chain give the slot back.
func (s TransferStatus) ReleasesNonce() bool {
	return s == StatusFailed
}

func (s TransferStatus) PublicStatus() PublicStatus {
	switch s {
	case StatusAccepted:
		return PublicStatusAccepted
	case StatusSourceTransactionSubmitted:
		return PublicStatusSubmitted
	case StatusSourceTransactionConfirmed:
		return PublicStatusConfirmed
	case StatusSourceTransactionReverted:
		return PublicStatusReverted
	default:
		return PublicStatusFailed
	}
}
