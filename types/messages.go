package types

import "errors"

// Common errors for payload validation
var (
	ErrEmptyBlockID  = errors.New("block id is required")
	ErrZeroNumBlocks = errors.New("number of blocks must be positive")
	ErrEpochRange    = errors.New("end epoch must not precede start epoch")
)

// Block is the consensus view of a proposed or retrieved block.
type Block struct {
	ID      string `json:"id"`
	Epoch   uint64 `json:"epoch"`
	Round   uint64 `json:"round"`
	Parent  string `json:"parent,omitempty"`
	Payload []byte `json:"payload,omitempty"`
}

// BlockRetrievalStatus describes the outcome of a block retrieval.
type BlockRetrievalStatus int

const (
	// RetrievalSucceeded means all requested blocks were returned.
	RetrievalSucceeded BlockRetrievalStatus = iota
	// RetrievalIDNotFound means the starting block id is unknown to the responder.
	RetrievalIDNotFound
	// RetrievalNotEnoughBlocks means the responder returned fewer blocks than asked.
	RetrievalNotEnoughBlocks
)

func (s BlockRetrievalStatus) String() string {
	switch s {
	case RetrievalSucceeded:
		return "succeeded"
	case RetrievalIDNotFound:
		return "id_not_found"
	case RetrievalNotEnoughBlocks:
		return "not_enough_blocks"
	default:
		return "unknown"
	}
}

// BlockRetrievalRequest asks a peer for a chain of NumBlocks blocks
// ending at BlockID, walking parent links backwards.
type BlockRetrievalRequest struct {
	BlockID   string `json:"block_id"`
	NumBlocks uint64 `json:"num_blocks"`
}

// Validate checks the request has usable fields.
func (r *BlockRetrievalRequest) Validate() error {
	if r.BlockID == "" {
		return ErrEmptyBlockID
	}
	if r.NumBlocks == 0 {
		return ErrZeroNumBlocks
	}
	return nil
}

// BlockRetrievalResponse carries the returned blocks and the retrieval status.
type BlockRetrievalResponse struct {
	Status BlockRetrievalStatus `json:"status"`
	Blocks []Block              `json:"blocks,omitempty"`
}

// EpochRetrievalRequest asks for an EpochChangeProof covering
// [StartEpoch, EndEpoch].
type EpochRetrievalRequest struct {
	StartEpoch uint64 `json:"start_epoch"`
	EndEpoch   uint64 `json:"end_epoch"`
}

// Validate checks the epoch range is well formed.
func (r *EpochRetrievalRequest) Validate() error {
	if r.EndEpoch < r.StartEpoch {
		return ErrEpochRange
	}
	return nil
}

// LedgerInfo is the commit certificate for one epoch boundary.
type LedgerInfo struct {
	Epoch    uint64 `json:"epoch"`
	Round    uint64 `json:"round"`
	CommitID string `json:"commit_id"`
}

// EpochChangeProof is a sequence of LedgerInfo with contiguous increasing
// epoch numbers proving a chain of epoch changes. More signals that the
// responder truncated the proof and the requester should ask again.
type EpochChangeProof struct {
	LedgerInfos []LedgerInfo `json:"ledger_infos"`
	More        bool         `json:"more,omitempty"`
}

// SyncInfo describes basic synchronization metadata: how far the sender
// has progressed in the protocol.
type SyncInfo struct {
	Epoch              uint64 `json:"epoch"`
	HighestRound       uint64 `json:"highest_round"`
	HighestCommitRound uint64 `json:"highest_commit_round"`
}

// Vote is a single participant's vote for a block.
type Vote struct {
	BlockID string  `json:"block_id"`
	Epoch   uint64  `json:"epoch"`
	Round   uint64  `json:"round"`
	Author  Address `json:"author"`
}

// VoteMsg is sent by a voter in response to receiving a proposal.
type VoteMsg struct {
	Vote     Vote     `json:"vote"`
	SyncInfo SyncInfo `json:"sync_info"`
}

// ProposalMsg carries a proposed block together with the proposer's
// synchronization metadata, as required by proposer election.
type ProposalMsg struct {
	Proposal Block    `json:"proposal"`
	Proposer Address  `json:"proposer"`
	SyncInfo SyncInfo `json:"sync_info"`
}
