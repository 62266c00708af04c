package contract

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/zmlAEQ/Aequa-dkg/internal/state"
	"github.com/zmlAEQ/Aequa-dkg/internal/tss/combine"
	"github.com/zmlAEQ/Aequa-dkg/internal/tss/core"
	bls381 "github.com/zmlAEQ/Aequa-dkg/internal/tss/core/bls381"
	"github.com/zmlAEQ/Aequa-dkg/internal/tss/poly"
	"github.com/zmlAEQ/Aequa-dkg/internal/tss/session"
	"github.com/zmlAEQ/Aequa-dkg/internal/tss/vss"
	"github.com/zmlAEQ/Aequa-dkg/pkg/bus"
)

const admin = "orai1admin"

type node struct {
	t      *testing.T
	ctx    context.Context
	c      *Contract
	bus    *bus.Bus
	keys   []bls381.KeyPair
	addrs  []string
	shares map[int]*bls381.Scalar
}

func newNode(t *testing.T, store state.Store, n int, threshold uint16) *node {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Unix(1_700_000_000, 0))
	b := bus.New(256)
	nd := &node{t: t, ctx: context.Background(), c: New(store, WithClock(mock), WithBus(b)), bus: b, shares: map[int]*bls381.Scalar{}}
	msg := InitMsg{Threshold: threshold}
	for i := 0; i < n; i++ {
		kp, err := bls381.GenerateKey(rand.Reader)
		require.NoError(t, err)
		addr := fmt.Sprintf("orai1member%02d", i)
		nd.keys = append(nd.keys, kp)
		nd.addrs = append(nd.addrs, addr)
		msg.Members = append(msg.Members, MemberMsg{PubKey: kp.Public.Bytes(), Address: addr})
	}
	var wire InitMsg
	roundTrip(t, msg, &wire)
	_, err := nd.c.Instantiate(nd.ctx, admin, wire)
	require.NoError(t, err)
	return nd
}

// roundTrip pushes v through JSON the way the HTTP layer does.
func roundTrip(t *testing.T, v, out any) {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, out))
}

func (nd *node) exec(sender string, msg ExecuteMsg) (*Response, error) {
	var wire ExecuteMsg
	roundTrip(nd.t, msg, &wire)
	return nd.c.Execute(nd.ctx, sender, wire)
}

func (nd *node) config() ConfigResponse {
	out, err := nd.c.Query(nd.ctx, QueryMsg{GetConfigInfo: &Empty{}})
	require.NoError(nd.t, err)
	return out.(ConfigResponse)
}

func (nd *node) dealMsg() ExecuteMsg {
	cfg := nd.config()
	var pks []bls381.G1Point
	for _, k := range nd.keys {
		pks = append(pks, k.Public)
	}
	d, _, err := vss.Deal(int(cfg.Threshold), pks, rand.Reader)
	require.NoError(nd.t, err)
	commits, rows := d.Wire()
	return ExecuteMsg{ShareDealer: &ShareDealerMsg{Share: DealerShareMsg{Commits: commits, Rows: rows}}}
}

// rowMsg reads the qualified dealers back through queries and folds member
// i's rows.
func (nd *node) rowMsg(i int) ExecuteMsg {
	cfg := nd.config()
	var rows []*poly.Poly
	for _, q := range cfg.Qualified {
		out, err := nd.c.Query(nd.ctx, QueryMsg{GetMember: &GetMemberQuery{Address: nd.addrs[q]}})
		require.NoError(nd.t, err)
		m := out.(MemberResponse)
		require.NotNil(nd.t, m.DealerShare)
		d, err := vss.DecodeDealerShare(m.DealerShare.Commits, m.DealerShare.Rows, int(cfg.Threshold), len(nd.addrs))
		require.NoError(nd.t, err)
		row, err := vss.DecryptRow(nd.keys[i].Secret, uint16(i), d.Rows[i], int(cfg.Threshold))
		require.NoError(nd.t, err)
		require.True(nd.t, vss.VerifyRow(row, d.Commits, uint16(i)))
		rows = append(rows, row)
	}
	s, err := combine.SumRowsAtZero(rows)
	require.NoError(nd.t, err)
	sc := bls381.ScalarFromBlst(s)
	nd.shares[i] = &sc
	pk := bls381.PublicKey(s)
	return ExecuteMsg{ShareRow: &ShareRowMsg{Share: RowShareMsg{PKShare: pk.Bytes(), Accepted: cfg.Qualified}}}
}

func (nd *node) sigMsg(i int, round uint64, input []byte) ExecuteMsg {
	sig, err := bls381.Sign(*nd.shares[i], core.RoundMessage(round, input), []byte(core.DSTSig))
	require.NoError(nd.t, err)
	return ExecuteMsg{ShareSig: &ShareSigMsg{Round: round, Sig: sig.Bytes()}}
}

func attr(r *Response, key string) string {
	return r.attrs()[key]
}

func runScenario(t *testing.T, store state.Store) {
	nd := newNode(t, store, 5, 2)
	sub := nd.bus.Subscribe()
	defer nd.bus.Unsubscribe(sub)

	cfg := nd.config()
	require.Equal(t, uint16(5), cfg.Total)
	require.Equal(t, uint16(3), cfg.Dealer)
	require.Equal(t, session.WaitForDealer, cfg.Status)
	require.Equal(t, admin, cfg.Creator)

	for i := 0; i < 3; i++ {
		resp, err := nd.exec(nd.addrs[i], nd.dealMsg())
		require.NoError(t, err)
		require.Equal(t, "share_dealer", attr(resp, "action"))
		require.Equal(t, nd.addrs[i], attr(resp, "member"))
	}
	require.Equal(t, session.WaitForRow, nd.config().Status)
	require.Equal(t, []uint16{0, 1, 2}, nd.config().Qualified)

	for i := 0; i < 5; i++ {
		_, err := nd.exec(nd.addrs[i], nd.rowMsg(i))
		require.NoError(t, err)
	}
	cfg = nd.config()
	require.Equal(t, session.WaitForRequest, cfg.Status)
	require.Equal(t, uint16(5), cfg.SharedRowCount)
	require.Len(t, cfg.GroupPubKey, bls381.G1Size)

	input := []byte("block 42")
	resp, err := nd.exec("orai1anyone", ExecuteMsg{RequestRandom: &RequestRandomMsg{Input: input}})
	require.NoError(t, err)
	require.Equal(t, "1", attr(resp, "round"))

	_, err = nd.c.Query(nd.ctx, QueryMsg{LatestRound: &Empty{}})
	require.ErrorIs(t, err, session.ErrNoRound)

	for _, i := range []int{4, 1, 3} {
		resp, err = nd.exec(nd.addrs[i], nd.sigMsg(i, 1, input))
		require.NoError(t, err)
	}
	require.NotEmpty(t, attr(resp, "randomness"))

	out, err := nd.c.Query(nd.ctx, QueryMsg{LatestRound: &Empty{}})
	require.NoError(t, err)
	r := out.(RoundResponse)
	require.Equal(t, uint64(1), r.ID)
	require.Equal(t, []uint16{1, 3, 4}, r.Signers)
	gpk, err := bls381.G1FromBytes(cfg.GroupPubKey)
	require.NoError(t, err)
	sig, err := bls381.G2FromBytes(r.Signature)
	require.NoError(t, err)
	require.True(t, bls381.Verify(gpk, sig, core.RoundMessage(1, input), []byte(core.DSTSig)))

	var kinds []bus.Kind
	for len(sub) > 0 {
		kinds = append(kinds, (<-sub).Kind)
	}
	require.Contains(t, kinds, bus.KindPhase)
	require.Contains(t, kinds, bus.KindRandomness)
	require.Contains(t, kinds, bus.KindExecute)
}

func TestScenario_MemoryStore(t *testing.T) {
	runScenario(t, state.NewMemoryStore())
}

func TestScenario_BoltStore(t *testing.T) {
	s, err := state.OpenBolt(filepath.Join(t.TempDir(), "dkg.db"))
	require.NoError(t, err)
	defer s.Close()
	runScenario(t, s)
}

func TestInstantiate_Once(t *testing.T) {
	nd := newNode(t, state.NewMemoryStore(), 3, 1)
	_, err := nd.c.Instantiate(nd.ctx, admin, InitMsg{Threshold: 1, Members: []MemberMsg{{PubKey: nd.keys[0].Public.Bytes(), Address: "x"}}})
	require.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestInstantiate_RejectsBadInput(t *testing.T) {
	c := New(state.NewMemoryStore())
	ctx := context.Background()
	_, err := c.Instantiate(ctx, admin, InitMsg{Threshold: 1, Members: []MemberMsg{{PubKey: []byte{1, 2, 3}, Address: "a"}}})
	require.ErrorIs(t, err, ErrInvalidMsg)

	kp, err := bls381.GenerateKey(rand.Reader)
	require.NoError(t, err)
	_, err = c.Instantiate(ctx, admin, InitMsg{Threshold: 2, Members: []MemberMsg{{PubKey: kp.Public.Bytes(), Address: "a"}}})
	require.ErrorIs(t, err, session.ErrInvalidThreshold)

	_, err = c.Query(ctx, QueryMsg{GetConfigInfo: &Empty{}})
	require.ErrorIs(t, err, ErrNotInitialized)
	_, err = c.Execute(ctx, "a", ExecuteMsg{RemoveMember: &RemoveMemberMsg{Address: "a"}})
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestExecute_ExactlyOneVariant(t *testing.T) {
	nd := newNode(t, state.NewMemoryStore(), 3, 1)
	_, err := nd.c.Execute(nd.ctx, admin, ExecuteMsg{})
	require.ErrorIs(t, err, ErrInvalidMsg)
	_, err = nd.c.Execute(nd.ctx, admin, ExecuteMsg{Reset: &ResetMsg{}, RemoveMember: &RemoveMemberMsg{Address: "x"}})
	require.ErrorIs(t, err, ErrInvalidMsg)
	_, err = nd.c.Query(nd.ctx, QueryMsg{})
	require.ErrorIs(t, err, ErrInvalidMsg)
}

func TestExecute_FailureLeavesStoreUntouched(t *testing.T) {
	nd := newNode(t, state.NewMemoryStore(), 3, 1)
	_, err := nd.exec(nd.addrs[0], nd.dealMsg())
	require.NoError(t, err)
	before := nd.config()

	bad := nd.dealMsg()
	bad.ShareDealer.Share.Rows = bad.ShareDealer.Share.Rows[:2]
	_, err = nd.exec(nd.addrs[1], bad)
	require.ErrorIs(t, err, vss.ErrInvalidShare)

	_, err = nd.exec(nd.addrs[1], ExecuteMsg{Reset: &ResetMsg{}})
	require.ErrorIs(t, err, session.ErrUnauthorized)

	_, err = nd.exec("orai1stranger", nd.dealMsg())
	require.ErrorIs(t, err, session.ErrNoMember)

	require.Equal(t, before, nd.config())
}

func TestReset_DropsStaleRecords(t *testing.T) {
	store := state.NewMemoryStore()
	nd := newNode(t, store, 4, 1)
	_, err := nd.exec(nd.addrs[0], nd.dealMsg())
	require.NoError(t, err)

	two := uint16(2)
	members := []MemberMsg{}
	for i := 0; i < 3; i++ {
		members = append(members, MemberMsg{PubKey: nd.keys[i].Public.Bytes(), Address: nd.addrs[i]})
	}
	resp, err := nd.exec(admin, ExecuteMsg{Reset: &ResetMsg{Threshold: &two, Members: members}})
	require.NoError(t, err)
	require.Equal(t, "3", attr(resp, "total"))

	cfg := nd.config()
	require.Equal(t, uint16(3), cfg.Total)
	require.Equal(t, uint16(2), cfg.Threshold)
	require.Equal(t, uint16(3), cfg.Dealer)
	require.Zero(t, cfg.SharedDealerCount)

	var keys int
	require.NoError(t, store.View(func(tx state.Tx) error {
		return tx.ForEach(prefixMember, func(_, _ []byte) error { keys++; return nil })
	}))
	require.Equal(t, 3, keys)

	_, err = nd.c.Query(nd.ctx, QueryMsg{GetMember: &GetMemberQuery{Address: nd.addrs[3]}})
	require.ErrorIs(t, err, session.ErrNoMember)
}

func TestGetMembers_Paging(t *testing.T) {
	nd := newNode(t, state.NewMemoryStore(), 5, 1)
	_, err := nd.exec(admin, ExecuteMsg{RemoveMember: &RemoveMemberMsg{Address: nd.addrs[1]}})
	require.NoError(t, err)

	page := func(q GetMembersQuery) []string {
		out, err := nd.c.Query(nd.ctx, QueryMsg{GetMembers: &q})
		require.NoError(t, err)
		var addrs []string
		for _, m := range out.(MembersResponse).Members {
			addrs = append(addrs, m.Address)
		}
		return addrs
	}
	require.Equal(t, []string{nd.addrs[0], nd.addrs[2], nd.addrs[3], nd.addrs[4]}, page(GetMembersQuery{}))
	require.Equal(t, []string{nd.addrs[2], nd.addrs[3]}, page(GetMembersQuery{Limit: 2, Offset: 1}))
	require.Equal(t, []string{nd.addrs[4], nd.addrs[3]}, page(GetMembersQuery{Limit: 2, Order: "desc"}))
	require.Nil(t, page(GetMembersQuery{Offset: 10}))
	require.Equal(t, nd.addrs[:3], page(GetMembersQuery{Limit: 3, IncludeDeleted: true}))

	_, err = nd.c.Query(nd.ctx, QueryMsg{GetMembers: &GetMembersQuery{Order: "sideways"}})
	require.ErrorIs(t, err, ErrInvalidMsg)
}

func TestComplain_DisqualifiesDealerOverTheWire(t *testing.T) {
	nd := newNode(t, state.NewMemoryStore(), 4, 1)
	bad := nd.dealMsg()
	rows := bad.ShareDealer.Share.Rows
	rows[3][len(rows[3])-1] ^= 0x01
	_, err := nd.exec(nd.addrs[0], bad)
	require.NoError(t, err)
	_, err = nd.exec(nd.addrs[1], nd.dealMsg())
	require.NoError(t, err)
	require.Equal(t, []uint16{0, 1}, nd.config().Qualified)

	c, err := vss.NewComplaint(nd.keys[3].Secret, 3, rows[3], rand.Reader)
	require.NoError(t, err)
	shared, proof := c.Wire()
	_, err = nd.exec(nd.addrs[3], ExecuteMsg{Complain: &ComplainMsg{Dealer: 0, Shared: shared, Proof: proof[1:]}})
	require.ErrorIs(t, err, vss.ErrInvalidComplaint)

	resp, err := nd.exec(nd.addrs[3], ExecuteMsg{Complain: &ComplainMsg{Dealer: 0, Shared: shared, Proof: proof}})
	require.NoError(t, err)
	require.Equal(t, "complain", attr(resp, "action"))
	require.Equal(t, "0", attr(resp, "dealer"))
	require.Equal(t, string(session.WaitForRow), attr(resp, "status"))

	cfg := nd.config()
	require.Equal(t, []uint16{1}, cfg.Qualified)
	require.Equal(t, []uint16{0}, cfg.Disqualified)
	for i := range nd.addrs {
		_, err := nd.exec(nd.addrs[i], nd.rowMsg(i))
		require.NoError(t, err)
	}
	require.Equal(t, session.WaitForRequest, nd.config().Status)
}
