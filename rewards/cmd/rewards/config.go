package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/malbeclabs/truebw/rewards/pkg/tbw"
)

type validatorInputs struct {
	PublicKey             string
	SharePercentage       string
	Blacklist             []string
	MaturityThresholdDays int
	MaturityStages        int
	LicenseFeeCut         string
}

// validatorOptions parses and validates the per-process validator options.
func validatorOptions(in validatorInputs) (tbw.Options, error) {
	if in.SharePercentage == "" {
		return tbw.Options{}, fmt.Errorf("--share-percentage is required")
	}
	share, err := decimal.NewFromString(in.SharePercentage)
	if err != nil {
		return tbw.Options{}, fmt.Errorf("invalid share percentage %q: %w", in.SharePercentage, err)
	}
	opts := tbw.Options{
		ValidatorPublicKey:        in.PublicKey,
		SharePercentage:           share,
		VoteMaturityThresholdDays: in.MaturityThresholdDays,
		VoteMaturityStages:        in.MaturityStages,
	}
	for _, addr := range in.Blacklist {
		if addr = strings.TrimSpace(addr); addr != "" {
			opts.Blacklist = append(opts.Blacklist, addr)
		}
	}
	if in.LicenseFeeCut != "" {
		cut, err := decimal.NewFromString(in.LicenseFeeCut)
		if err != nil {
			return tbw.Options{}, fmt.Errorf("invalid license fee cut %q: %w", in.LicenseFeeCut, err)
		}
		opts.LicenseFeeCut = decimal.NewNullDecimal(cut)
	}
	if err := opts.Validate(); err != nil {
		return tbw.Options{}, err
	}
	return opts, nil
}

func overrideString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func overrideStringSlice(dst *[]string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = strings.Split(v, ",")
	}
}

func overrideInt(dst *int, env string) error {
	v := os.Getenv(env)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", env, err)
	}
	*dst = n
	return nil
}

func overrideUint64(dst *uint64, env string) error {
	v := os.Getenv(env)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", env, err)
	}
	*dst = n
	return nil
}
