package dkg

import (
	"context"
	"crypto/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zmlAEQ/Aequa-dkg/internal/tss/combine"
	"github.com/zmlAEQ/Aequa-dkg/internal/tss/core"
	bls381 "github.com/zmlAEQ/Aequa-dkg/internal/tss/core/bls381"
	"github.com/zmlAEQ/Aequa-dkg/internal/tss/vss"
)

func committee(t *testing.T, n int) ([]*Participant, []bls381.G1Point) {
	t.Helper()
	var ps []*Participant
	var pks []bls381.G1Point
	for i := 0; i < n; i++ {
		kp, err := bls381.GenerateKey(rand.Reader)
		require.NoError(t, err)
		dir := t.TempDir()
		p, err := NewParticipant(Config{
			SessionID:    "epoch-1",
			Address:      "orai1member" + string(rune('a'+i)),
			SecretKey:    kp.Secret.Bytes(),
			KeySharePath: filepath.Join(dir, "keyshare.dat"),
			SessionDir:   dir,
		})
		require.NoError(t, err)
		require.Equal(t, kp.Public, p.PubKey())
		ps = append(ps, p)
		pks = append(pks, p.PubKey())
	}
	return ps, pks
}

func TestParticipant_DealAcceptSign(t *testing.T) {
	ctx := context.Background()
	const threshold = 1
	ps, pks := committee(t, 4)

	var dealers []Dealer
	for _, i := range []uint16{2, 0} {
		d, err := ps[i].Deal(ctx, pks, threshold)
		require.NoError(t, err)
		dealers = append(dealers, Dealer{Index: i, Share: d})
	}

	var pkShares []combine.G1Share
	for i, p := range ps {
		rs, err := p.AcceptRows(ctx, uint16(i), threshold, append([]Dealer(nil), dealers...))
		require.NoError(t, err)
		require.Equal(t, []uint16{0, 2}, rs.Accepted)
		pkShares = append(pkShares, combine.G1Share{Index: uint16(i), Value: rs.PKShare})
	}

	ks, err := ps[1].keys.LoadKeyShare(ctx)
	require.NoError(t, err)
	group, err := bls381.G1FromBytes(ks.GroupPubKey)
	require.NoError(t, err)
	interpolated, err := combine.CombineG1(pkShares[1:], threshold+1)
	require.NoError(t, err)
	require.Equal(t, group, interpolated)

	input := []byte("beacon")
	var sigs []combine.G2Share
	for _, i := range []int{3, 1} {
		sig, err := ps[i].SignRound(ctx, 5, input)
		require.NoError(t, err)
		sigs = append(sigs, combine.G2Share{Index: uint16(i), Value: sig})
	}
	sig, err := combine.CombineSignatures(sigs, threshold+1)
	require.NoError(t, err)
	require.True(t, bls381.Verify(group, sig, core.RoundMessage(5, input), []byte(core.DSTSig)))
}

func TestParticipant_DealResumesPolynomial(t *testing.T) {
	ctx := context.Background()
	ps, pks := committee(t, 3)
	a, err := ps[0].Deal(ctx, pks, 1)
	require.NoError(t, err)
	b, err := ps[0].Deal(ctx, pks, 1)
	require.NoError(t, err)
	require.True(t, a.Commits[0].Equal(b.Commits[0]))
	require.NotEqual(t, a.Rows[1], b.Rows[1])

	c, err := ps[0].Deal(ctx, pks, 2)
	require.NoError(t, err)
	require.Equal(t, 2, c.Commits[0].Degree())
}

func TestParticipant_AcceptRowsRejectsWithoutFolding(t *testing.T) {
	ctx := context.Background()
	ps, pks := committee(t, 3)
	d0, err := ps[0].Deal(ctx, pks, 1)
	require.NoError(t, err)
	d1, err := ps[1].Deal(ctx, pks, 1)
	require.NoError(t, err)

	forged := &vss.DealerShare{Commits: d0.Commits, Rows: d1.Rows}
	_, err = ps[2].AcceptRows(ctx, 2, 1, []Dealer{{Index: 0, Share: forged}, {Index: 1, Share: d1}, {Index: 4}})
	require.ErrorIs(t, err, ErrRejected)
	require.Contains(t, err.Error(), "dealer 0")
	require.Contains(t, err.Error(), "dealer 4")
	var rej *RejectedError
	require.ErrorAs(t, err, &rej)
	require.Len(t, rej.Complaints, 1, "dealer 4 published no row to complain about")
	require.Equal(t, uint16(0), rej.Complaints[0].Dealer)
	require.NoError(t, vss.CheckComplaint(pks[2], 2, forged.Rows[2], forged.Commits, 1, rej.Complaints[0].Complaint))

	_, err = ps[2].keys.LoadKeyShare(ctx)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = ps[2].SignRound(ctx, 1, nil)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = ps[2].AcceptRows(ctx, 2, 1, nil)
	require.ErrorIs(t, err, ErrRejected)

	// once dealer 0 is disqualified the remaining rows fold
	rs, err := ps[2].AcceptRows(ctx, 2, 1, []Dealer{{Index: 1, Share: d1}})
	require.NoError(t, err)
	require.Equal(t, []uint16{1}, rs.Accepted)
	ks, err := ps[2].keys.LoadKeyShare(ctx)
	require.NoError(t, err)
	require.Equal(t, []uint16{1}, ks.Qualified)
}

func TestConfig_Validate(t *testing.T) {
	kp, err := bls381.GenerateKey(rand.Reader)
	require.NoError(t, err)
	good := Config{SessionID: "s", Address: "a", SecretKey: kp.Secret.Bytes()}
	require.NoError(t, good.Validate())

	for name, mutate := range map[string]func(*Config){
		"session": func(c *Config) { c.SessionID = "" },
		"address": func(c *Config) { c.Address = "" },
		"short":   func(c *Config) { c.SecretKey = c.SecretKey[:31] },
		"zero":    func(c *Config) { c.SecretKey = make([]byte, 32) },
	} {
		c := good
		mutate(&c)
		require.Error(t, c.Validate(), name)
	}
}
