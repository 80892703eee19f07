package hostchain

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/malbeclabs/truebw/rewards/pkg/tbw"
)

// subunitExp is the exponent of the smallest unit of the host chain currency (1e-8).
const subunitExp = -8

type page[T any] struct {
	Meta struct {
		PageCount  int `json:"pageCount"`
		TotalCount int `json:"totalCount"`
	} `json:"meta"`
	Data []T `json:"data"`
}

type single[T any] struct {
	Data T `json:"data"`
}

type walletJSON struct {
	Address    string `json:"address"`
	PublicKey  string `json:"publicKey"`
	Balance    string `json:"balance"`
	Attributes struct {
		Vote       string `json:"vote"`
		StakePower string `json:"stakePower"`
		Validator  *struct {
			VoteBalance string `json:"voteBalance"`
		} `json:"validator"`
	} `json:"attributes"`
}

type transactionJSON struct {
	ID              string `json:"id"`
	SenderPublicKey string `json:"senderPublicKey"`
	Timestamp       struct {
		Epoch int64 `json:"epoch"`
	} `json:"timestamp"`
}

type blockJSON struct {
	Height uint64 `json:"height"`
	Forged struct {
		Reward string `json:"reward"`
		Fee    string `json:"fee"`
	} `json:"forged"`
	Generator struct {
		PublicKey string `json:"publicKey"`
	} `json:"generator"`
}

type configurationJSON struct {
	Constants struct {
		Epoch string `json:"epoch"`
	} `json:"constants"`
}

// Normalize converts an integer amount of subunits to whole coins.
func Normalize(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return d.Shift(subunitExp), nil
}

func (w walletJSON) toWallet() (tbw.Wallet, error) {
	balance, err := Normalize(w.Balance)
	if err != nil {
		return tbw.Wallet{}, fmt.Errorf("wallet %s balance: %w", w.Address, err)
	}
	wallet := tbw.Wallet{
		Address:    w.Address,
		PublicKey:  w.PublicKey,
		Balance:    balance,
		VoteTarget: w.Attributes.Vote,
	}
	if w.Attributes.StakePower != "" {
		stake, err := Normalize(w.Attributes.StakePower)
		if err != nil {
			return tbw.Wallet{}, fmt.Errorf("wallet %s stake power: %w", w.Address, err)
		}
		wallet.StakePower = decimal.NewNullDecimal(stake)
	}
	if v := w.Attributes.Validator; v != nil {
		voteBalance, err := Normalize(v.VoteBalance)
		if err != nil {
			return tbw.Wallet{}, fmt.Errorf("wallet %s vote balance: %w", w.Address, err)
		}
		wallet.Validator = &tbw.ValidatorAttributes{VoteBalance: voteBalance}
	}
	return wallet, nil
}

func (b blockJSON) toBlock() (tbw.Block, error) {
	fee, err := Normalize(b.Forged.Fee)
	if err != nil {
		return tbw.Block{}, fmt.Errorf("block %d fee: %w", b.Height, err)
	}
	reward, err := Normalize(b.Forged.Reward)
	if err != nil {
		return tbw.Block{}, fmt.Errorf("block %d reward: %w", b.Height, err)
	}
	return tbw.Block{Height: b.Height, TotalFee: fee, Reward: reward}, nil
}
