package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"vaultScope/internal/model"
)

const (
	DefaultPageSize = 1000
	endBlock        = "99999999"
)

var defaultBackoff = []time.Duration{
	1 * time.Second,
	3 * time.Second,
	10 * time.Second,
	30 * time.Second,
}

// ErrRateLimited is returned when every backoff step hit the rate limit.
var ErrRateLimited = errors.New("explorer rate limit reached")

// Config holds the explorer endpoint settings.
type Config struct {
	BaseURL  string
	APIKey   string
	ChainID  uint64
	PageSize int
	Backoff  []time.Duration
}

// Client reads an account's token transfers from an etherscan-compatible API.
type Client struct {
	httpClient *http.Client
	cfg        Config
	logger     *zap.Logger
}

type response struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type tokenTx struct {
	BlockNumber     string `json:"blockNumber"`
	TimeStamp       string `json:"timeStamp"`
	Hash            string `json:"hash"`
	From            string `json:"from"`
	To              string `json:"to"`
	ContractAddress string `json:"contractAddress"`
	Value           string `json:"value"`
	FunctionName    string `json:"functionName"`
}

type normalTx struct {
	BlockNumber  string `json:"blockNumber"`
	Hash         string `json:"hash"`
	FunctionName string `json:"functionName"`
}

func NewClient(hc *http.Client, cfg Config, logger *zap.Logger) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Backoff == nil {
		cfg.Backoff = defaultBackoff
	}
	return &Client{httpClient: hc, cfg: cfg, logger: logger}
}

// Transfers returns every token transfer touching account from fromBlock on,
// in block order, with the calling function name attached where the account
// sent the transaction.
func (c *Client) Transfers(ctx context.Context, account string, fromBlock uint64) ([]model.RawTransferRecord, error) {
	account = strings.ToLower(account)

	var tokens []tokenTx
	if err := c.paged(ctx, "tokentx", account, fromBlock, func(raw json.RawMessage) (int, uint64, error) {
		var page []tokenTx
		if err := json.Unmarshal(raw, &page); err != nil {
			return 0, 0, fmt.Errorf("decode tokentx: %w", err)
		}
		last, err := lastBlock(len(page), func(i int) string { return page[i].BlockNumber })
		if err != nil {
			return 0, 0, err
		}
		tokens = appendPage(tokens, page, func(i int) string { return page[i].BlockNumber }, len(page) == c.cfg.PageSize)
		return len(page), last, nil
	}); err != nil {
		return nil, err
	}

	names := make(map[string]string)
	if err := c.paged(ctx, "txlist", account, fromBlock, func(raw json.RawMessage) (int, uint64, error) {
		var page []normalTx
		if err := json.Unmarshal(raw, &page); err != nil {
			return 0, 0, fmt.Errorf("decode txlist: %w", err)
		}
		for _, tx := range page {
			if tx.FunctionName != "" {
				names[strings.ToLower(tx.Hash)] = tx.FunctionName
			}
		}
		last, err := lastBlock(len(page), func(i int) string { return page[i].BlockNumber })
		return len(page), last, err
	}); err != nil {
		return nil, err
	}

	out := make([]model.RawTransferRecord, 0, len(tokens))
	for _, tx := range tokens {
		rec, err := toRecord(tx)
		if err != nil {
			return nil, err
		}
		if rec.FunctionName == "" {
			rec.FunctionName = names[rec.Hash]
		}
		out = append(out, rec)
	}
	c.logger.Info("explorer transfers fetched",
		zap.String("account", account),
		zap.Uint64("from", fromBlock),
		zap.Int("transfers", len(out)),
		zap.Int("named_txs", len(names)),
	)
	return out, nil
}

// paged walks an account listing by start block. A full page is cut at its
// last block and the next request starts from that block again, so a block is
// never split across pages.
func (c *Client) paged(ctx context.Context, action, account string, fromBlock uint64, handle func(json.RawMessage) (int, uint64, error)) error {
	start := fromBlock
	for {
		values := url.Values{
			"module":     []string{"account"},
			"action":     []string{action},
			"address":    []string{account},
			"startblock": []string{strconv.FormatUint(start, 10)},
			"endblock":   []string{endBlock},
			"page":       []string{"1"},
			"offset":     []string{strconv.Itoa(c.cfg.PageSize)},
			"sort":       []string{"asc"},
		}
		res, err := c.requestWithBackoff(ctx, values)
		if err != nil {
			return fmt.Errorf("%s from %d: %w", action, start, err)
		}
		n, last, err := handle(res.Result)
		if err != nil {
			return err
		}
		if n < c.cfg.PageSize {
			return nil
		}
		next := last
		if last <= start {
			// a single block filled the page
			c.logger.Warn("explorer page holds a single block, results may be truncated",
				zap.String("action", action),
				zap.Uint64("block", last),
			)
			next = last + 1
		}
		start = next
	}
}

// appendPage adds a page to acc. When the page is full its trailing block is
// left out, it will be fetched again with the next page. A page made of one
// block is kept whole.
func appendPage[T any](acc, page []T, block func(int) string, full bool) []T {
	if !full || len(page) == 0 {
		return append(acc, page...)
	}
	last := block(len(page) - 1)
	cut := len(page)
	for cut > 0 && block(cut-1) == last {
		cut--
	}
	if cut == 0 {
		return append(acc, page...)
	}
	return append(acc, page[:cut]...)
}

func lastBlock(n int, block func(int) string) (uint64, error) {
	if n == 0 {
		return 0, nil
	}
	v, err := strconv.ParseUint(block(n-1), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse block number %q: %w", block(n-1), err)
	}
	return v, nil
}

func toRecord(tx tokenTx) (model.RawTransferRecord, error) {
	block, err := strconv.ParseUint(tx.BlockNumber, 10, 64)
	if err != nil {
		return model.RawTransferRecord{}, fmt.Errorf("parse block number %q: %w", tx.BlockNumber, err)
	}
	var ts uint64
	if tx.TimeStamp != "" {
		ts, err = strconv.ParseUint(tx.TimeStamp, 10, 64)
		if err != nil {
			return model.RawTransferRecord{}, fmt.Errorf("parse timestamp %q: %w", tx.TimeStamp, err)
		}
	}
	value, ok := new(big.Int).SetString(tx.Value, 10)
	if !ok {
		return model.RawTransferRecord{}, fmt.Errorf("parse value %q of %s", tx.Value, tx.Hash)
	}
	return model.RawTransferRecord{
		Hash:            tx.Hash,
		From:            tx.From,
		To:              tx.To,
		ContractAddress: tx.ContractAddress,
		Value:           value,
		BlockNumber:     block,
		Timestamp:       ts,
		FunctionName:    tx.FunctionName,
	}.Normalize(), nil
}

func (c *Client) request(ctx context.Context, values url.Values) (*response, error) {
	if c.cfg.APIKey != "" {
		values.Set("apikey", c.cfg.APIKey)
	}
	if c.cfg.ChainID != 0 {
		values.Set("chainid", strconv.FormatUint(c.cfg.ChainID, 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"?"+values.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "vaultscope")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("response status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	parsed := &response{}
	if err := json.Unmarshal(body, parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return parsed, nil
}

// requestWithBackoff retries while the explorer reports its rate limit.
func (c *Client) requestWithBackoff(ctx context.Context, values url.Values) (*response, error) {
	for attempt := 0; ; attempt++ {
		res, err := c.request(ctx, values)
		if err != nil {
			return nil, err
		}
		if res.Status == "1" {
			return res, nil
		}

		result := resultText(res.Result)
		switch {
		case isEmpty(res, result):
			res.Result = json.RawMessage("[]")
			return res, nil
		case !strings.HasPrefix(result, "Max rate limit reached"):
			return nil, fmt.Errorf("explorer: %s: %s", res.Message, result)
		case attempt >= len(c.cfg.Backoff):
			return nil, ErrRateLimited
		}

		wait := c.cfg.Backoff[attempt]
		c.logger.Info("rate limit reached, backing off", zap.Duration("backoff", wait))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func resultText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// isEmpty matches the status "0" reply the explorer sends for an empty listing.
func isEmpty(res *response, result string) bool {
	if strings.HasPrefix(res.Message, "No transactions found") {
		return true
	}
	return strings.TrimSpace(result) == "[]"
}
