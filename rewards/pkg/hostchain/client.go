package hostchain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/malbeclabs/truebw/rewards/pkg/metrics"
	"github.com/malbeclabs/truebw/rewards/pkg/tbw"
	"github.com/malbeclabs/truebw/utils/pkg/retry"
)

const (
	voteTransactionType = 3
	maxPages            = 10_000
)

var (
	// ErrWalletNotFound is returned when the node does not know a wallet.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrNotValidator is returned when a wallet is not a registered validator.
	ErrNotValidator = errors.New("wallet is not a registered validator")
)

type Config struct {
	Logger  *slog.Logger
	BaseURL string

	HTTPClient *http.Client
	Timeout    time.Duration

	// RequestsPerSecond limits the request rate to the node; zero disables the limit.
	RequestsPerSecond float64
	Burst             int

	PageLimit int
	Retry     retry.Config
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.BaseURL == "" {
		return errors.New("base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return fmt.Errorf("invalid base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 100
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return nil
}

// Client reads wallets, votes and forged blocks from the host node's public REST API.
type Client struct {
	log     *slog.Logger
	cfg     Config
	baseURL string
	limiter *rate.Limiter

	epochMu sync.Mutex
	epoch   *time.Time
}

func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Client{
		log:     cfg.Logger,
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		limiter: rate.NewLimiter(limit, cfg.Burst),
	}, nil
}

// ListVotersFor returns every wallet currently voting for the validator.
func (c *Client) ListVotersFor(ctx context.Context, validatorPK string) ([]tbw.Wallet, error) {
	var voters []tbw.Wallet
	for pageNum := 1; pageNum <= maxPages; pageNum++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(pageNum))
		q.Set("limit", strconv.Itoa(c.cfg.PageLimit))

		var resp page[walletJSON]
		if err := c.get(ctx, "voters", "/api/delegates/"+url.PathEscape(validatorPK)+"/voters", q, &resp); err != nil {
			return nil, fmt.Errorf("failed to list voters of %s: %w", validatorPK, err)
		}
		for _, w := range resp.Data {
			wallet, err := w.toWallet()
			if err != nil {
				return nil, err
			}
			// The node's index can lag a vote change; keep only current voters.
			if wallet.VoteTarget != validatorPK {
				continue
			}
			voters = append(voters, wallet)
		}
		if len(resp.Data) == 0 || pageNum >= resp.Meta.PageCount {
			break
		}
	}
	c.log.Debug("hostchain: listed voters", "validator", validatorPK, "count", len(voters))
	return voters, nil
}

// FindByPublicKey returns the wallet with the given public key.
func (c *Client) FindByPublicKey(ctx context.Context, publicKey string) (*tbw.Wallet, error) {
	var resp single[walletJSON]
	if err := c.get(ctx, "wallet", "/api/wallets/"+url.PathEscape(publicKey), nil, &resp); err != nil {
		var se *retry.StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrWalletNotFound, publicKey)
		}
		return nil, fmt.Errorf("failed to get wallet %s: %w", publicKey, err)
	}
	wallet, err := resp.Data.toWallet()
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

// Validator returns a registered validator's wallet, including the aggregate vote balance the
// node tracks for it.
func (c *Client) Validator(ctx context.Context, validatorPK string) (*tbw.Wallet, error) {
	wallet, err := c.FindByPublicKey(ctx, validatorPK)
	if err != nil {
		return nil, err
	}
	if wallet.Validator == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotValidator, validatorPK)
	}
	return wallet, nil
}

// MostRecentVote returns the latest vote transaction sent by a wallet. ok is false when the
// wallet never voted.
func (c *Client) MostRecentVote(ctx context.Context, walletPK string) (tbw.VoteEvent, bool, error) {
	q := url.Values{}
	q.Set("type", strconv.Itoa(voteTransactionType))
	q.Set("senderPublicKey", walletPK)
	q.Set("orderBy", "timestamp:desc")
	q.Set("limit", "1")

	var resp page[transactionJSON]
	if err := c.get(ctx, "votes", "/api/transactions", q, &resp); err != nil {
		return tbw.VoteEvent{}, false, fmt.Errorf("failed to get votes of %s: %w", walletPK, err)
	}
	if len(resp.Data) == 0 {
		return tbw.VoteEvent{}, false, nil
	}

	epoch, err := c.Epoch(ctx)
	if err != nil {
		return tbw.VoteEvent{}, false, err
	}
	last := resp.Data[0]
	return tbw.VoteEvent{
		WalletPublicKey: walletPK,
		Timestamp:       EventTime(epoch, last.Timestamp.Epoch),
	}, true, nil
}

// BlocksForgedBy returns up to one page of blocks forged by the validator above sinceHeight,
// in ascending height order.
func (c *Client) BlocksForgedBy(ctx context.Context, validatorPK string, sinceHeight uint64) ([]tbw.Block, error) {
	q := url.Values{}
	q.Set("generatorPublicKey", validatorPK)
	q.Set("height.from", strconv.FormatUint(sinceHeight+1, 10))
	q.Set("orderBy", "height:asc")
	q.Set("limit", strconv.Itoa(c.cfg.PageLimit))

	var resp page[blockJSON]
	if err := c.get(ctx, "blocks", "/api/blocks", q, &resp); err != nil {
		return nil, fmt.Errorf("failed to list blocks forged by %s: %w", validatorPK, err)
	}

	blocks := make([]tbw.Block, 0, len(resp.Data))
	for _, b := range resp.Data {
		if b.Height <= sinceHeight || b.Generator.PublicKey != validatorPK {
			continue
		}
		block, err := b.toBlock()
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Height < blocks[j].Height })
	return blocks, nil
}

// Epoch returns the chain's genesis epoch. It is fetched once and cached.
func (c *Client) Epoch(ctx context.Context) (time.Time, error) {
	c.epochMu.Lock()
	defer c.epochMu.Unlock()
	if c.epoch != nil {
		return *c.epoch, nil
	}

	var resp single[configurationJSON]
	if err := c.get(ctx, "configuration", "/api/node/configuration", nil, &resp); err != nil {
		return time.Time{}, fmt.Errorf("failed to get node configuration: %w", err)
	}
	epoch, err := time.Parse(time.RFC3339, resp.Data.Constants.Epoch)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid chain epoch %q: %w", resp.Data.Constants.Epoch, err)
	}
	epoch = epoch.UTC()
	c.epoch = &epoch
	return epoch, nil
}

// EventTime converts a timestamp in seconds since the chain epoch to an absolute time.
func EventTime(epoch time.Time, seconds int64) time.Time {
	return epoch.Add(time.Duration(seconds) * time.Second).UTC()
}

func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	start := time.Now()
	err := retry.Do(ctx, c.cfg.Retry, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		return c.doGet(ctx, u, out)
	})
	metrics.RecordHostChainRequest(endpoint, time.Since(start), err)
	if err != nil {
		c.log.Debug("hostchain: request failed", "endpoint", endpoint, "url", u, "error", err)
	}
	return err
}

func (c *Client) doGet(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &retry.StatusError{Code: resp.StatusCode, URL: u}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
