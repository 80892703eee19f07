package hostchain

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/truebw/utils/pkg/retry"
	truebwtesting "github.com/malbeclabs/truebw/utils/pkg/testing"
)

const (
	testValidatorPK = "02abababababababababababababababababababababababababababababababab"
	testVoterPK     = "03cdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcd"
)

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		Logger:    truebwtesting.NewLogger(),
		BaseURL:   srv.URL + "/",
		PageLimit: 2,
		Retry:     retry.Config{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond},
	})
	require.NoError(t, err)
	return c
}

func TestTBW_HostChain_NewClient(t *testing.T) {
	t.Parallel()

	t.Run("returns error when logger is missing", func(t *testing.T) {
		t.Parallel()
		c, err := NewClient(Config{BaseURL: "http://localhost:4003"})
		require.Error(t, err)
		require.Nil(t, c)
		require.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when base url is missing", func(t *testing.T) {
		t.Parallel()
		c, err := NewClient(Config{Logger: truebwtesting.NewLogger()})
		require.Error(t, err)
		require.Nil(t, c)
		require.Contains(t, err.Error(), "base url is required")
	})

	t.Run("fills defaults", func(t *testing.T) {
		t.Parallel()
		c, err := NewClient(Config{Logger: truebwtesting.NewLogger(), BaseURL: "http://localhost:4003"})
		require.NoError(t, err)
		require.Equal(t, 100, c.cfg.PageLimit)
		require.Equal(t, 10*time.Second, c.cfg.Timeout)
		require.Equal(t, retry.DefaultConfig(), c.cfg.Retry)
	})
}

func TestTBW_HostChain_Normalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw, want string
	}{
		{"", "0"},
		{"0", "0"},
		{"100000000", "1"},
		{"1", "0.00000001"},
		{"123456789012", "1234.56789012"},
	}
	for _, tt := range tests {
		got, err := Normalize(tt.raw)
		require.NoError(t, err)
		require.True(t, decimal.RequireFromString(tt.want).Equal(got), "normalize(%q) = %s", tt.raw, got)
	}

	_, err := Normalize("12abc")
	require.Error(t, err)
}

func TestTBW_HostChain_ListVotersFor(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/delegates/{pk}/voters", func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		require.Equal(t, testValidatorPK, r.PathValue("pk"))
		require.Equal(t, "2", r.URL.Query().Get("limit"))

		pageNum, _ := strconv.Atoi(r.URL.Query().Get("page"))
		pages := map[int][]map[string]any{
			1: {
				{"address": "AVoter1", "publicKey": "pk1", "balance": "50000000000", "attributes": map[string]any{"vote": testValidatorPK}},
				{"address": "AVoter2", "publicKey": "pk2", "balance": "10000000000", "attributes": map[string]any{"vote": testValidatorPK, "stakePower": "5000000000"}},
			},
			2: {
				{"address": "AVoter3", "publicKey": "pk3", "balance": "100000000", "attributes": map[string]any{"vote": "other"}},
			},
		}
		writeJSON(t, w, map[string]any{
			"meta": map[string]any{"pageCount": 2, "totalCount": 3},
			"data": pages[pageNum],
		})
	})
	c := testClient(t, mux)

	voters, err := c.ListVotersFor(t.Context(), testValidatorPK)
	require.NoError(t, err)
	require.Equal(t, int32(2), requests.Load())
	require.Len(t, voters, 2)

	require.Equal(t, "AVoter1", voters[0].Address)
	require.True(t, decimal.NewFromInt(500).Equal(voters[0].Balance))
	require.False(t, voters[0].StakePower.Valid)

	require.Equal(t, "AVoter2", voters[1].Address)
	require.True(t, voters[1].StakePower.Valid)
	require.True(t, decimal.NewFromInt(50).Equal(voters[1].StakePower.Decimal))
	require.Nil(t, voters[1].Validator)
}

func TestTBW_HostChain_Validator(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/wallets/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch r.PathValue("id") {
		case testValidatorPK:
			writeJSON(t, w, map[string]any{"data": map[string]any{
				"address": "AValidator", "publicKey": testValidatorPK, "balance": "0",
				"attributes": map[string]any{"validator": map[string]any{"voteBalance": "120000000000"}},
			}})
		case testVoterPK:
			writeJSON(t, w, map[string]any{"data": map[string]any{
				"address": "AVoter1", "publicKey": testVoterPK, "balance": "1",
			}})
		default:
			http.NotFound(w, r)
		}
	})
	c := testClient(t, mux)

	v, err := c.Validator(t.Context(), testValidatorPK)
	require.NoError(t, err)
	require.NotNil(t, v.Validator)
	require.True(t, decimal.NewFromInt(1200).Equal(v.Validator.VoteBalance))

	_, err = c.Validator(t.Context(), testVoterPK)
	require.ErrorIs(t, err, ErrNotValidator)

	_, err = c.FindByPublicKey(t.Context(), "unknown")
	require.ErrorIs(t, err, ErrWalletNotFound)
}

func TestTBW_HostChain_MostRecentVote(t *testing.T) {
	t.Parallel()

	var configRequests atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/node/configuration", func(w http.ResponseWriter, _ *http.Request) {
		configRequests.Add(1)
		writeJSON(t, w, map[string]any{"data": map[string]any{
			"constants": map[string]any{"epoch": "2017-03-21T13:00:00.000Z"},
		}})
	})
	mux.HandleFunc("GET /api/transactions", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		require.Equal(t, "3", q.Get("type"))
		require.Equal(t, "timestamp:desc", q.Get("orderBy"))
		if q.Get("senderPublicKey") != testVoterPK {
			writeJSON(t, w, map[string]any{"meta": map[string]any{"pageCount": 0}, "data": []any{}})
			return
		}
		writeJSON(t, w, map[string]any{
			"meta": map[string]any{"pageCount": 1},
			"data": []any{
				map[string]any{"id": "tx2", "senderPublicKey": testVoterPK, "timestamp": map[string]any{"epoch": 86400}},
			},
		})
	})
	c := testClient(t, mux)

	vote, ok, err := c.MostRecentVote(t.Context(), testVoterPK)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, testVoterPK, vote.WalletPublicKey)
	require.Equal(t, time.Date(2017, 3, 22, 13, 0, 0, 0, time.UTC), vote.Timestamp)

	_, _, err = c.MostRecentVote(t.Context(), testVoterPK)
	require.NoError(t, err)
	require.Equal(t, int32(1), configRequests.Load())

	_, ok, err = c.MostRecentVote(t.Context(), "never-voted")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTBW_HostChain_BlocksForgedBy(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/blocks", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		require.Equal(t, testValidatorPK, q.Get("generatorPublicKey"))
		require.Equal(t, "11", q.Get("height.from"))
		writeJSON(t, w, map[string]any{
			"meta": map[string]any{"pageCount": 1},
			"data": []any{
				map[string]any{"height": 14, "forged": map[string]any{"reward": "200000000", "fee": "10000000"}, "generator": map[string]any{"publicKey": testValidatorPK}},
				map[string]any{"height": 12, "forged": map[string]any{"reward": "200000000", "fee": "0"}, "generator": map[string]any{"publicKey": testValidatorPK}},
				map[string]any{"height": 13, "forged": map[string]any{"reward": "200000000", "fee": "0"}, "generator": map[string]any{"publicKey": "someone-else"}},
				map[string]any{"height": 10, "forged": map[string]any{"reward": "200000000", "fee": "0"}, "generator": map[string]any{"publicKey": testValidatorPK}},
			},
		})
	})
	c := testClient(t, mux)

	blocks, err := c.BlocksForgedBy(t.Context(), testValidatorPK, 10)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	require.Equal(t, uint64(12), blocks[0].Height)
	require.Equal(t, uint64(14), blocks[1].Height)
	require.True(t, decimal.RequireFromString("2.1").Equal(blocks[1].Income()))
}

func TestTBW_HostChain_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/wallets/{id}", func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(t, w, map[string]any{"data": map[string]any{"address": "AVoter1", "publicKey": testVoterPK, "balance": "1"}})
	})
	c := testClient(t, mux)

	w, err := c.FindByPublicKey(t.Context(), testVoterPK)
	require.NoError(t, err)
	require.Equal(t, "AVoter1", w.Address)
	require.Equal(t, int32(3), attempts.Load())
}

func TestTBW_HostChain_ChainClock(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(at)
	cc := NewChainClock(clock)
	require.Equal(t, at, cc.Now())

	clock.Advance(time.Hour)
	require.Equal(t, at.Add(time.Hour), cc.Now())

	require.Equal(t, time.Date(2017, 3, 21, 13, 1, 0, 0, time.UTC),
		EventTime(time.Date(2017, 3, 21, 13, 0, 0, 0, time.UTC), 60))
}
