// Command dkgctl is the member-side tool: it generates committee keys, deals,
// acknowledges rows and signs randomness rounds against a dkg-node.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/zmlAEQ/Aequa-dkg/internal/contract"
	bls381 "github.com/zmlAEQ/Aequa-dkg/internal/tss/core/bls381"
	"github.com/zmlAEQ/Aequa-dkg/internal/tss/dkg"
	"github.com/zmlAEQ/Aequa-dkg/internal/tss/vss"
)

const usage = `usage: dkgctl <command> [flags]

commands:
  keygen   generate member configs and a genesis Init message
  deal     publish this member's dealer share
  accept   verify the qualified rows, complain about bad ones, publish the public key share
  request  open a randomness round
  sign     publish this member's partial signature for a round`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w\n%s", flag.ErrHelp, usage)
	}
	cmd, args := args[0], args[1:]
	switch cmd {
	case "keygen":
		return keygen(args, out)
	case "deal":
		return withParticipant(ctx, cmd, args, out, deal)
	case "accept":
		return withParticipant(ctx, cmd, args, out, accept)
	case "sign":
		return withParticipant(ctx, cmd, args, out, sign)
	case "request":
		return request(ctx, args, out)
	default:
		return fmt.Errorf("%w: unknown command %q\n%s", flag.ErrHelp, cmd, usage)
	}
}

func keygen(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	var (
		n        = fs.Int("n", 4, "Committee size")
		t        = fs.Int("t", 2, "Threshold (threshold+1 members sign)")
		dir      = fs.String("out", "dkg-keys", "Output directory")
		endpoint = fs.String("endpoint", "http://127.0.0.1:4700", "dkg-node API base URL")
		admin    = fs.String("admin", "dkg1admin", "Creator address written to the genesis message")
		session  = fs.String("session", "epoch-1", "Session id")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *n <= 1 || *t <= 0 || *t >= *n {
		return fmt.Errorf("%w: invalid n/t", flag.ErrHelp)
	}
	if err := os.MkdirAll(*dir, 0o700); err != nil {
		return err
	}
	threshold := uint16(*t)
	gen := map[string]any{"sender": *admin}
	msg := contract.InitMsg{Threshold: threshold}
	for i := 0; i < *n; i++ {
		kp, err := bls381.GenerateKey(rand.Reader)
		if err != nil {
			return err
		}
		addr := fmt.Sprintf("dkg1member%04d", i)
		memberDir, err := filepath.Abs(filepath.Join(*dir, addr))
		if err != nil {
			return err
		}
		cfg := dkg.Config{
			SessionID:    *session,
			Address:      addr,
			SecretKey:    kp.Secret.Bytes(),
			KeySharePath: filepath.Join(memberDir, "keyshare.dat"),
			SessionDir:   memberDir,
			Endpoint:     *endpoint,
		}
		if err := writeJSON(filepath.Join(*dir, addr+".json"), cfg); err != nil {
			return err
		}
		msg.Members = append(msg.Members, contract.MemberMsg{PubKey: kp.Public.Bytes(), Address: addr})
	}
	gen["msg"] = msg
	if err := writeJSON(filepath.Join(*dir, "genesis.json"), gen); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %d member configs and genesis.json to %s\n", *n, *dir)
	return nil
}

type participantCmd func(ctx context.Context, p *dkg.Participant, c *client, fs *flag.FlagSet, out io.Writer) error

func withParticipant(ctx context.Context, name string, args []string, out io.Writer, fn participantCmd) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	cfgPath := fs.String("config", "", "Member config (JSON)")
	fs.Uint64("round", 0, "Round id (sign)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := dkg.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}
	if cfg.Endpoint == "" {
		return errors.New("config has no endpoint")
	}
	p, err := dkg.NewParticipant(cfg)
	if err != nil {
		return err
	}
	return fn(ctx, p, newClient(cfg.Endpoint), fs, out)
}

func deal(ctx context.Context, p *dkg.Participant, c *client, _ *flag.FlagSet, out io.Writer) error {
	cfg, err := c.config(ctx)
	if err != nil {
		return err
	}
	members, err := c.members(ctx)
	if err != nil {
		return err
	}
	pks := make([]bls381.G1Point, len(members))
	for i, m := range members {
		if int(m.Index) != i {
			return fmt.Errorf("member list has index %d at position %d", m.Index, i)
		}
		if pks[i], err = bls381.G1FromBytes(m.PubKey); err != nil {
			return fmt.Errorf("member %d pubkey: %w", i, err)
		}
	}
	share, err := p.Deal(ctx, pks, int(cfg.Threshold))
	if err != nil {
		return err
	}
	commits, rows := share.Wire()
	resp, err := c.execute(ctx, p.Address(), contract.ExecuteMsg{ShareDealer: &contract.ShareDealerMsg{
		Share: contract.DealerShareMsg{Commits: commits, Rows: rows},
	}})
	if err != nil {
		return err
	}
	return printAttrs(out, resp)
}

// qualifiedDealers reads the committee and the qualified dealers' shares.
func qualifiedDealers(ctx context.Context, p *dkg.Participant, c *client) (uint16, int, []dkg.Dealer, error) {
	cfg, err := c.config(ctx)
	if err != nil {
		return 0, 0, nil, err
	}
	members, err := c.members(ctx)
	if err != nil {
		return 0, 0, nil, err
	}
	self := -1
	for _, m := range members {
		if m.Address == p.Address() {
			self = int(m.Index)
		}
	}
	if self < 0 {
		return 0, 0, nil, fmt.Errorf("%s is not a member", p.Address())
	}
	t, n := int(cfg.Threshold), len(members)
	var dealers []dkg.Dealer
	for _, q := range cfg.Qualified {
		if int(q) >= n || members[q].DealerShare == nil {
			return 0, 0, nil, fmt.Errorf("qualified dealer %d has no share", q)
		}
		d, err := vss.DecodeDealerShare(members[q].DealerShare.Commits, members[q].DealerShare.Rows, t, n)
		if err != nil {
			return 0, 0, nil, fmt.Errorf("dealer %d: %w", q, err)
		}
		dealers = append(dealers, dkg.Dealer{Index: q, Share: d})
	}
	return uint16(self), t, dealers, nil
}

// accept folds the qualified rows and publishes the public key share. Dealers
// whose rows fail are complained about first, then the remaining rows are
// folded.
func accept(ctx context.Context, p *dkg.Participant, c *client, _ *flag.FlagSet, out io.Writer) error {
	complained := false
	for {
		self, t, dealers, err := qualifiedDealers(ctx, p, c)
		if err != nil {
			return err
		}
		rs, err := p.AcceptRows(ctx, self, t, dealers)
		var rej *dkg.RejectedError
		if errors.As(err, &rej) && len(rej.Complaints) > 0 && !complained {
			fmt.Fprintln(out, err.Error())
			for _, dc := range rej.Complaints {
				shared, proof := dc.Complaint.Wire()
				resp, err := c.execute(ctx, p.Address(), contract.ExecuteMsg{Complain: &contract.ComplainMsg{
					Dealer: dc.Dealer, Shared: shared, Proof: proof,
				}})
				if err != nil {
					return fmt.Errorf("complain about dealer %d: %w", dc.Dealer, err)
				}
				if err := printAttrs(out, resp); err != nil {
					return err
				}
			}
			complained = true
			continue
		}
		if err != nil {
			return err
		}
		resp, err := c.execute(ctx, p.Address(), contract.ExecuteMsg{ShareRow: &contract.ShareRowMsg{
			Share: contract.RowShareMsg{PKShare: rs.PKShare.Bytes(), Accepted: rs.Accepted},
		}})
		if err != nil {
			return err
		}
		return printAttrs(out, resp)
	}
}

func sign(ctx context.Context, p *dkg.Participant, c *client, fs *flag.FlagSet, out io.Writer) error {
	id, err := strconv.ParseUint(fs.Lookup("round").Value.String(), 10, 64)
	if err != nil || id == 0 {
		return fmt.Errorf("%w: -round is required", flag.ErrHelp)
	}
	r, err := c.round(ctx, id)
	if err != nil {
		return err
	}
	sig, err := p.SignRound(ctx, r.ID, r.Input)
	if err != nil {
		return err
	}
	resp, err := c.execute(ctx, p.Address(), contract.ExecuteMsg{ShareSig: &contract.ShareSigMsg{Round: r.ID, Sig: sig.Bytes()}})
	if err != nil {
		return err
	}
	return printAttrs(out, resp)
}

func request(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("request", flag.ContinueOnError)
	var (
		endpoint = fs.String("endpoint", "http://127.0.0.1:4700", "dkg-node API base URL")
		sender   = fs.String("sender", "", "Requester address")
		input    = fs.String("input", "", "Round input (hex)")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	raw, err := hex.DecodeString(*input)
	if err != nil {
		return fmt.Errorf("input: %w", err)
	}
	resp, err := newClient(*endpoint).execute(ctx, *sender, contract.ExecuteMsg{RequestRandom: &contract.RequestRandomMsg{Input: raw}})
	if err != nil {
		return err
	}
	return printAttrs(out, resp)
}

func printAttrs(out io.Writer, resp *contract.Response) error {
	for _, a := range resp.Attributes {
		if _, err := fmt.Fprintf(out, "%s=%s\n", a.Key, a.Value); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
