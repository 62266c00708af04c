package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zmlAEQ/Aequa-dkg/internal/api"
	"github.com/zmlAEQ/Aequa-dkg/internal/contract"
	"github.com/zmlAEQ/Aequa-dkg/internal/state"
	"github.com/zmlAEQ/Aequa-dkg/internal/tss/core"
	bls381 "github.com/zmlAEQ/Aequa-dkg/internal/tss/core/bls381"
	"github.com/zmlAEQ/Aequa-dkg/internal/tss/session"
	"github.com/zmlAEQ/Aequa-dkg/internal/tss/vss"
	"github.com/zmlAEQ/Aequa-dkg/pkg/bus"
)

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	b := bus.New(64)
	c := contract.New(state.NewMemoryStore(), contract.WithBus(b))
	srv := httptest.NewServer(api.New("127.0.0.1:0", c, b).Handler())
	defer srv.Close()

	dir := t.TempDir()
	var out bytes.Buffer
	require.NoError(t, run(ctx, []string{"keygen", "-n", "4", "-t", "1", "-out", dir, "-endpoint", srv.URL, "-admin", "dkg1admin"}, &out))
	require.Contains(t, out.String(), "wrote 4 member configs")

	raw, err := os.ReadFile(filepath.Join(dir, "genesis.json"))
	require.NoError(t, err)
	var gen struct {
		Sender string           `json:"sender"`
		Msg    contract.InitMsg `json:"msg"`
	}
	require.NoError(t, json.Unmarshal(raw, &gen))
	require.Len(t, gen.Msg.Members, 4)
	_, err = c.Instantiate(ctx, gen.Sender, gen.Msg)
	require.NoError(t, err)

	member := func(i int) string { return filepath.Join(dir, fmt.Sprintf("dkg1member%04d.json", i)) }
	for i := 0; i < 2; i++ {
		out.Reset()
		require.NoError(t, run(ctx, []string{"deal", "-config", member(i)}, &out))
		require.Contains(t, out.String(), "action=share_dealer")
	}
	for i := 0; i < 4; i++ {
		out.Reset()
		require.NoError(t, run(ctx, []string{"accept", "-config", member(i)}, &out))
	}
	require.Contains(t, out.String(), "status="+string(session.WaitForRequest))

	out.Reset()
	require.NoError(t, run(ctx, []string{"request", "-endpoint", srv.URL, "-sender", "dkg1anyone", "-input", "cafe"}, &out))
	require.Contains(t, out.String(), "round=1")

	for _, i := range []int{3, 1} {
		out.Reset()
		require.NoError(t, run(ctx, []string{"sign", "-config", member(i), "-round", "1"}, &out))
	}
	require.Contains(t, out.String(), "randomness=")

	res, err := c.Query(ctx, contract.QueryMsg{LatestRound: &contract.Empty{}})
	require.NoError(t, err)
	r := res.(contract.RoundResponse)
	cfgRes, err := c.Query(ctx, contract.QueryMsg{GetConfigInfo: &contract.Empty{}})
	require.NoError(t, err)
	gpk, err := bls381.G1FromBytes(cfgRes.(contract.ConfigResponse).GroupPubKey)
	require.NoError(t, err)
	sig, err := bls381.G2FromBytes(r.Signature)
	require.NoError(t, err)
	require.True(t, bls381.Verify(gpk, sig, core.RoundMessage(1, []byte{0xca, 0xfe}), []byte(core.DSTSig)))
}

func TestRun_Errors(t *testing.T) {
	ctx := context.Background()
	var out bytes.Buffer
	require.Error(t, run(ctx, nil, &out))
	require.ErrorContains(t, run(ctx, []string{"nope"}, &out), "unknown command")
	require.Error(t, run(ctx, []string{"keygen", "-n", "3", "-t", "3", "-out", t.TempDir()}, &out))
	require.Error(t, run(ctx, []string{"deal", "-config", filepath.Join(t.TempDir(), "missing.json")}, &out))

	srv := httptest.NewServer(api.New("127.0.0.1:0", contract.New(state.NewMemoryStore()), nil).Handler())
	defer srv.Close()
	err := run(ctx, []string{"request", "-endpoint", srv.URL, "-sender", "x", "-input", "00"}, &out)
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 404, apiErr.Status)
	require.True(t, strings.Contains(apiErr.Msg, "not initialized"))
}

func TestAcceptComplainsAboutBadDealer(t *testing.T) {
	ctx := context.Background()
	c := contract.New(state.NewMemoryStore())
	srv := httptest.NewServer(api.New("127.0.0.1:0", c, bus.New(8)).Handler())
	defer srv.Close()

	dir := t.TempDir()
	var out bytes.Buffer
	require.NoError(t, run(ctx, []string{"keygen", "-n", "3", "-t", "1", "-out", dir, "-endpoint", srv.URL}, &out))
	raw, err := os.ReadFile(filepath.Join(dir, "genesis.json"))
	require.NoError(t, err)
	var gen struct {
		Sender string           `json:"sender"`
		Msg    contract.InitMsg `json:"msg"`
	}
	require.NoError(t, json.Unmarshal(raw, &gen))
	_, err = c.Instantiate(ctx, gen.Sender, gen.Msg)
	require.NoError(t, err)

	var pks []bls381.G1Point
	for _, m := range gen.Msg.Members {
		pk, err := bls381.G1FromBytes(m.PubKey)
		require.NoError(t, err)
		pks = append(pks, pk)
	}
	bad, _, err := vss.Deal(1, pks, rand.Reader)
	require.NoError(t, err)
	bad.Rows[2][len(bad.Rows[2])-1] ^= 0x01
	commits, rows := bad.Wire()
	_, err = c.Execute(ctx, gen.Msg.Members[0].Address, contract.ExecuteMsg{ShareDealer: &contract.ShareDealerMsg{
		Share: contract.DealerShareMsg{Commits: commits, Rows: rows},
	}})
	require.NoError(t, err)

	member := func(i int) string { return filepath.Join(dir, fmt.Sprintf("dkg1member%04d.json", i)) }
	require.NoError(t, run(ctx, []string{"deal", "-config", member(1)}, &out))

	out.Reset()
	require.NoError(t, run(ctx, []string{"accept", "-config", member(2)}, &out))
	require.Contains(t, out.String(), "action=complain")
	require.Contains(t, out.String(), "action=share_row")
	for _, i := range []int{0, 1} {
		out.Reset()
		require.NoError(t, run(ctx, []string{"accept", "-config", member(i)}, &out))
	}
	require.Contains(t, out.String(), "status="+string(session.WaitForRequest))

	res, err := c.Query(ctx, contract.QueryMsg{GetConfigInfo: &contract.Empty{}})
	require.NoError(t, err)
	cfg := res.(contract.ConfigResponse)
	require.Equal(t, []uint16{1}, cfg.Qualified)
	require.Equal(t, []uint16{0}, cfg.Disqualified)
}
