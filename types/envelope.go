package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope errors
var (
	ErrBadEnvelope = errors.New("envelope carries no payload")
	ErrUnknownKind = errors.New("unknown message kind")
)

// Kind is the structural tag of a consensus message. It is derived from
// the payload the envelope carries, so equal-kind messages always map to
// the same tag regardless of where or when they were constructed. The tag
// is used both for wire framing and for loopback queue keying.
type Kind int

const (
	KindUnknown Kind = iota
	KindBlockRetrievalRequest
	KindBlockRetrievalResponse
	KindEpochRetrievalRequest
	KindEpochChangeProof
	KindProposal
	KindSyncInfo
	KindVote
)

func (k Kind) String() string {
	switch k {
	case KindBlockRetrievalRequest:
		return "block_retrieval_request"
	case KindBlockRetrievalResponse:
		return "block_retrieval_response"
	case KindEpochRetrievalRequest:
		return "epoch_retrieval_request"
	case KindEpochChangeProof:
		return "epoch_change_proof"
	case KindProposal:
		return "proposal"
	case KindSyncInfo:
		return "sync_info"
	case KindVote:
		return "vote"
	default:
		return "unknown"
	}
}

// kindFromString is the inverse of Kind.String for wire decoding.
func kindFromString(s string) Kind {
	switch s {
	case "block_retrieval_request":
		return KindBlockRetrievalRequest
	case "block_retrieval_response":
		return KindBlockRetrievalResponse
	case "epoch_retrieval_request":
		return KindEpochRetrievalRequest
	case "epoch_change_proof":
		return KindEpochChangeProof
	case "proposal":
		return KindProposal
	case "sync_info":
		return KindSyncInfo
	case "vote":
		return KindVote
	default:
		return KindUnknown
	}
}

// ConsensusMsg is the closed set of message variants exchanged between
// consensus participants. An envelope wraps exactly one payload kind and
// is immutable once constructed; every consumption point switches
// exhaustively on Kind().
type ConsensusMsg struct {
	blockReq   *BlockRetrievalRequest
	blockResp  *BlockRetrievalResponse
	epochReq   *EpochRetrievalRequest
	epochProof *EpochChangeProof
	proposal   *ProposalMsg
	syncInfo   *SyncInfo
	vote       *VoteMsg
}

// Constructors wrap one payload each. The payload is owned by the
// envelope from this point on; callers must not mutate it afterwards.

func NewBlockRetrievalRequestMsg(req *BlockRetrievalRequest) ConsensusMsg {
	return ConsensusMsg{blockReq: req}
}

func NewBlockRetrievalResponseMsg(resp *BlockRetrievalResponse) ConsensusMsg {
	return ConsensusMsg{blockResp: resp}
}

func NewEpochRetrievalRequestMsg(req *EpochRetrievalRequest) ConsensusMsg {
	return ConsensusMsg{epochReq: req}
}

func NewEpochChangeProofMsg(proof *EpochChangeProof) ConsensusMsg {
	return ConsensusMsg{epochProof: proof}
}

func NewProposalMsg(p *ProposalMsg) ConsensusMsg {
	return ConsensusMsg{proposal: p}
}

func NewSyncInfoMsg(si *SyncInfo) ConsensusMsg {
	return ConsensusMsg{syncInfo: si}
}

func NewVoteMsg(v *VoteMsg) ConsensusMsg {
	return ConsensusMsg{vote: v}
}

// Kind returns the structural tag of the wrapped payload.
func (m ConsensusMsg) Kind() Kind {
	switch {
	case m.blockReq != nil:
		return KindBlockRetrievalRequest
	case m.blockResp != nil:
		return KindBlockRetrievalResponse
	case m.epochReq != nil:
		return KindEpochRetrievalRequest
	case m.epochProof != nil:
		return KindEpochChangeProof
	case m.proposal != nil:
		return KindProposal
	case m.syncInfo != nil:
		return KindSyncInfo
	case m.vote != nil:
		return KindVote
	default:
		return KindUnknown
	}
}

// Payload accessors return nil when the envelope carries a different kind.

func (m ConsensusMsg) BlockRetrievalRequest() *BlockRetrievalRequest   { return m.blockReq }
func (m ConsensusMsg) BlockRetrievalResponse() *BlockRetrievalResponse { return m.blockResp }
func (m ConsensusMsg) EpochRetrievalRequest() *EpochRetrievalRequest   { return m.epochReq }
func (m ConsensusMsg) EpochChangeProof() *EpochChangeProof             { return m.epochProof }
func (m ConsensusMsg) Proposal() *ProposalMsg                          { return m.proposal }
func (m ConsensusMsg) SyncInfo() *SyncInfo                             { return m.syncInfo }
func (m ConsensusMsg) Vote() *VoteMsg                                  { return m.vote }

// Clone returns an envelope carrying a copy of the payload. Variants
// holding slices (retrieval responses, epoch proofs, block payloads)
// are copied deeply so the clone never aliases the original's backing
// arrays; scalar-only variants copy by value.
func (m ConsensusMsg) Clone() ConsensusMsg {
	switch m.Kind() {
	case KindBlockRetrievalRequest:
		req := *m.blockReq
		return ConsensusMsg{blockReq: &req}
	case KindBlockRetrievalResponse:
		resp := BlockRetrievalResponse{Status: m.blockResp.Status}
		if m.blockResp.Blocks != nil {
			resp.Blocks = make([]Block, len(m.blockResp.Blocks))
			for i, b := range m.blockResp.Blocks {
				resp.Blocks[i] = cloneBlock(b)
			}
		}
		return ConsensusMsg{blockResp: &resp}
	case KindEpochRetrievalRequest:
		req := *m.epochReq
		return ConsensusMsg{epochReq: &req}
	case KindEpochChangeProof:
		proof := EpochChangeProof{More: m.epochProof.More}
		if m.epochProof.LedgerInfos != nil {
			proof.LedgerInfos = append([]LedgerInfo(nil), m.epochProof.LedgerInfos...)
		}
		return ConsensusMsg{epochProof: &proof}
	case KindProposal:
		p := *m.proposal
		p.Proposal = cloneBlock(m.proposal.Proposal)
		return ConsensusMsg{proposal: &p}
	case KindSyncInfo:
		si := *m.syncInfo
		return ConsensusMsg{syncInfo: &si}
	case KindVote:
		v := *m.vote
		return ConsensusMsg{vote: &v}
	default:
		return ConsensusMsg{}
	}
}

func cloneBlock(b Block) Block {
	if b.Payload != nil {
		b.Payload = append([]byte(nil), b.Payload...)
	}
	return b
}

// wireMsg is the JSON framing of an envelope: an explicit kind tag plus
// the payload body.
type wireMsg struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalJSON implements json.Marshaler.
func (m ConsensusMsg) MarshalJSON() ([]byte, error) {
	var payload interface{}
	switch m.Kind() {
	case KindBlockRetrievalRequest:
		payload = m.blockReq
	case KindBlockRetrievalResponse:
		payload = m.blockResp
	case KindEpochRetrievalRequest:
		payload = m.epochReq
	case KindEpochChangeProof:
		payload = m.epochProof
	case KindProposal:
		payload = m.proposal
	case KindSyncInfo:
		payload = m.syncInfo
	case KindVote:
		payload = m.vote
	default:
		return nil, ErrBadEnvelope
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", m.Kind(), err)
	}
	return json.Marshal(wireMsg{Kind: m.Kind().String(), Payload: body})
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *ConsensusMsg) UnmarshalJSON(data []byte) error {
	var wire wireMsg
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if len(wire.Payload) == 0 {
		return ErrBadEnvelope
	}

	decoded := ConsensusMsg{}
	var err error
	switch kindFromString(wire.Kind) {
	case KindBlockRetrievalRequest:
		req := &BlockRetrievalRequest{}
		err = json.Unmarshal(wire.Payload, req)
		decoded.blockReq = req
	case KindBlockRetrievalResponse:
		resp := &BlockRetrievalResponse{}
		err = json.Unmarshal(wire.Payload, resp)
		decoded.blockResp = resp
	case KindEpochRetrievalRequest:
		req := &EpochRetrievalRequest{}
		err = json.Unmarshal(wire.Payload, req)
		decoded.epochReq = req
	case KindEpochChangeProof:
		proof := &EpochChangeProof{}
		err = json.Unmarshal(wire.Payload, proof)
		decoded.epochProof = proof
	case KindProposal:
		p := &ProposalMsg{}
		err = json.Unmarshal(wire.Payload, p)
		decoded.proposal = p
	case KindSyncInfo:
		si := &SyncInfo{}
		err = json.Unmarshal(wire.Payload, si)
		decoded.syncInfo = si
	case KindVote:
		v := &VoteMsg{}
		err = json.Unmarshal(wire.Payload, v)
		decoded.vote = v
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, wire.Kind)
	}
	if err != nil {
		return fmt.Errorf("failed to unmarshal %s payload: %w", wire.Kind, err)
	}

	*m = decoded
	return nil
}
