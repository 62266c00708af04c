package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/zmlAEQ/Aequa-dkg/internal/contract"
)

// client talks to the dkg-node API.
type client struct {
	base string
	http *http.Client
}

func newClient(base string) *client {
	return &client{base: strings.TrimRight(base, "/"), http: &http.Client{Timeout: 30 * time.Second}}
}

type apiError struct {
	Status int
	Msg    string
}

func (e *apiError) Error() string { return fmt.Sprintf("api %d: %s", e.Status, e.Msg) }

func (c *client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &e)
		return &apiError{Status: resp.StatusCode, Msg: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func (c *client) execute(ctx context.Context, sender string, msg contract.ExecuteMsg) (*contract.Response, error) {
	var resp contract.Response
	err := c.do(ctx, http.MethodPost, "/v1/execute", map[string]any{"sender": sender, "msg": msg}, &resp)
	return &resp, err
}

func (c *client) config(ctx context.Context) (contract.ConfigResponse, error) {
	var cfg contract.ConfigResponse
	err := c.do(ctx, http.MethodGet, "/v1/config", nil, &cfg)
	return cfg, err
}

// members pages through every registry slot in index order.
func (c *client) members(ctx context.Context) ([]contract.MemberResponse, error) {
	const limit = 100
	var all []contract.MemberResponse
	for offset := 0; ; offset += limit {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(limit))
		q.Set("offset", strconv.Itoa(offset))
		q.Set("include_deleted", "true")
		var page contract.MembersResponse
		if err := c.do(ctx, http.MethodGet, "/v1/members?"+q.Encode(), nil, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Members...)
		if len(page.Members) < limit {
			return all, nil
		}
	}
}

func (c *client) round(ctx context.Context, id uint64) (contract.RoundResponse, error) {
	var r contract.RoundResponse
	err := c.do(ctx, http.MethodGet, "/v1/rounds/"+strconv.FormatUint(id, 10), nil, &r)
	return r, err
}
