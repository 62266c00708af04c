package contract

import (
	"fmt"

	"github.com/zmlAEQ/Aequa-dkg/internal/tss/session"
)

// Byte fields are base64 strings in JSON.

type MemberMsg struct {
	PubKey  []byte `json:"pubkey"`
	Address string `json:"address"`
}

type InitMsg struct {
	Members   []MemberMsg   `json:"members"`
	Threshold uint16        `json:"threshold"`
	Dealer    *uint16       `json:"dealer,omitempty"`
	Fee       *session.Coin `json:"fee,omitempty"`
}

type DealerShareMsg struct {
	Commits [][]byte `json:"commits"`
	Rows    [][]byte `json:"rows"`
}

type RowShareMsg struct {
	PKShare  []byte   `json:"pk_share"`
	Accepted []uint16 `json:"accepted"`
}

type ShareDealerMsg struct {
	Share DealerShareMsg `json:"share"`
}

type ShareRowMsg struct {
	Share RowShareMsg `json:"share"`
}

// ComplainMsg accuses a qualified dealer of a bad row. Shared and Proof are
// the wire form of vss.Complaint.
type ComplainMsg struct {
	Dealer uint16 `json:"dealer"`
	Shared []byte `json:"shared"`
	Proof  []byte `json:"proof"`
}

type ResetMsg struct {
	Threshold *uint16     `json:"threshold,omitempty"`
	Members   []MemberMsg `json:"members,omitempty"`
}

type RemoveMemberMsg struct {
	Address string `json:"address"`
}

type RequestRandomMsg struct {
	Input []byte `json:"input"`
}

type ShareSigMsg struct {
	Round uint64 `json:"round"`
	Sig   []byte `json:"sig"`
}

// ExecuteMsg is a tagged union: exactly one field is set.
type ExecuteMsg struct {
	ShareDealer   *ShareDealerMsg   `json:"share_dealer,omitempty"`
	ShareRow      *ShareRowMsg      `json:"share_row,omitempty"`
	Complain      *ComplainMsg      `json:"complain,omitempty"`
	Reset         *ResetMsg         `json:"reset,omitempty"`
	RemoveMember  *RemoveMemberMsg  `json:"remove_member,omitempty"`
	RequestRandom *RequestRandomMsg `json:"request_random,omitempty"`
	ShareSig      *ShareSigMsg      `json:"share_sig,omitempty"`
}

// Action names the variant that is set.
func (m ExecuteMsg) Action() (string, error) {
	var set []string
	if m.ShareDealer != nil {
		set = append(set, "share_dealer")
	}
	if m.ShareRow != nil {
		set = append(set, "share_row")
	}
	if m.Complain != nil {
		set = append(set, "complain")
	}
	if m.Reset != nil {
		set = append(set, "reset")
	}
	if m.RemoveMember != nil {
		set = append(set, "remove_member")
	}
	if m.RequestRandom != nil {
		set = append(set, "request_random")
	}
	if m.ShareSig != nil {
		set = append(set, "share_sig")
	}
	if len(set) != 1 {
		return "", fmt.Errorf("%w: execute needs exactly one variant, got %d", ErrInvalidMsg, len(set))
	}
	return set[0], nil
}

type GetMemberQuery struct {
	Address string `json:"address"`
}

type GetMembersQuery struct {
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
	Order  string `json:"order,omitempty"`
	// IncludeDeleted also lists soft-removed members, whose slots dealers
	// still encrypt rows for.
	IncludeDeleted bool `json:"include_deleted,omitempty"`
}

type GetRoundQuery struct {
	Round uint64 `json:"round"`
}

type Empty struct{}

// QueryMsg is a tagged union: exactly one field is set.
type QueryMsg struct {
	GetMember     *GetMemberQuery  `json:"get_member,omitempty"`
	GetMembers    *GetMembersQuery `json:"get_members,omitempty"`
	GetConfigInfo *Empty           `json:"get_config_info,omitempty"`
	GetRound      *GetRoundQuery   `json:"get_round,omitempty"`
	LatestRound   *Empty           `json:"latest_round,omitempty"`
}

func (q QueryMsg) kind() (string, error) {
	n, kind := 0, ""
	for name, set := range map[string]bool{
		"get_member":      q.GetMember != nil,
		"get_members":     q.GetMembers != nil,
		"get_config_info": q.GetConfigInfo != nil,
		"get_round":       q.GetRound != nil,
		"latest_round":    q.LatestRound != nil,
	} {
		if set {
			n++
			kind = name
		}
	}
	if n != 1 {
		return "", fmt.Errorf("%w: query needs exactly one variant, got %d", ErrInvalidMsg, n)
	}
	return kind, nil
}

type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Response is returned by Instantiate and Execute.
type Response struct {
	Attributes []Attribute `json:"attributes"`
	Data       any         `json:"data,omitempty"`
}

func (r *Response) add(key, value string) *Response {
	r.Attributes = append(r.Attributes, Attribute{Key: key, Value: value})
	return r
}

func (r *Response) attrs() map[string]string {
	out := make(map[string]string, len(r.Attributes))
	for _, a := range r.Attributes {
		out[a.Key] = a.Value
	}
	return out
}

type MemberResponse struct {
	Index       uint16          `json:"index"`
	Address     string          `json:"address"`
	PubKey      []byte          `json:"pubkey"`
	DealerShare *DealerShareMsg `json:"dealer_share,omitempty"`
	RowShare    *RowShareMsg    `json:"row_share,omitempty"`
	Deleted     bool            `json:"deleted,omitempty"`
}

type MembersResponse struct {
	Members []MemberResponse `json:"members"`
}

type ConfigResponse struct {
	Total             uint16         `json:"total"`
	Dealer            uint16         `json:"dealer"`
	Threshold         uint16         `json:"threshold"`
	SharedDealerCount uint16         `json:"shared_dealer_count"`
	SharedRowCount    uint16         `json:"shared_row_count"`
	Status            session.Status `json:"status"`
	Creator           string         `json:"creator"`
	Fee               *session.Coin  `json:"fee,omitempty"`
	GroupPubKey       []byte         `json:"group_pubkey,omitempty"`
	Qualified         []uint16       `json:"qualified,omitempty"`
	Disqualified      []uint16       `json:"disqualified,omitempty"`
}

type RoundResponse struct {
	ID          uint64   `json:"id"`
	Requester   string   `json:"requester"`
	Input       []byte   `json:"input"`
	Signers     []uint16 `json:"signers"`
	Signature   []byte   `json:"signature,omitempty"`
	Randomness  []byte   `json:"randomness,omitempty"`
	RequestedAt int64    `json:"requested_at"`
	CompletedAt int64    `json:"completed_at,omitempty"`
}
