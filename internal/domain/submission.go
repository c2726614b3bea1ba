package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Action enumerates the ledger calls this layer can submit.
type Action string

const (
	ActionPropose          Action = "propose"
	ActionStartRebalance   Action = "start_rebalance"
	ActionSettleRebalance  Action = "settle_rebalance"
	ActionEndFailedAuction Action = "end_failed_auction"
	ActionBid              Action = "bid"
	ActionBidEther         Action = "bid_ether"
	ActionBidCToken        Action = "bid_ctoken"
	ActionUpdateAllocation Action = "update_allocation"
	ActionAdjustFee        Action = "adjust_fee"
	ActionRemoveFeeUpdate  Action = "remove_fee_update"
)

// SubmissionStatus tracks a submitted transaction.
type SubmissionStatus string

const (
	SubmissionPending  SubmissionStatus = "pending"
	SubmissionMined    SubmissionStatus = "mined"
	SubmissionReverted SubmissionStatus = "reverted"
	SubmissionTimedOut SubmissionStatus = "timed_out"
)

// Submission records a transaction accepted by the validators and sent to the
// ledger.
type Submission struct {
	ID          string           `json:"id"`
	Action      Action           `json:"action"`
	Target      common.Address   `json:"target"`
	Sender      common.Address   `json:"sender"`
	TxHash      common.Hash      `json:"tx_hash"`
	Status      SubmissionStatus `json:"status"`
	BlockNumber uint64           `json:"block_number,omitempty"`
	Detail      map[string]any   `json:"detail,omitempty"`
	Error       string           `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// SubmissionResult is returned to callers after a submission.
type SubmissionResult struct {
	SubmissionID string           `json:"submission_id"`
	Action       Action           `json:"action"`
	TxHash       string           `json:"tx_hash"`
	Status       SubmissionStatus `json:"status"`
	BlockNumber  uint64           `json:"block_number,omitempty"`
}
