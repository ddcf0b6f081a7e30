package domain

import (
	"errors"

	"github.com/holiman/uint256"
)

// ErrAmountOverflow is returned when a fee or total does not fit in a u64.
var ErrAmountOverflow = errors.New("amount overflow")

// ComputeFee returns floor(amount * bps / 10000) using 256-bit intermediates.
func ComputeFee(amount uint64, bps uint16) (uint64, error) {
	product := new(uint256.Int).Mul(uint256.NewInt(amount), uint256.NewInt(uint64(bps)))
	fee := product.Div(product, uint256.NewInt(BpsDenominator))
	if !fee.IsUint64() {
		return 0, ErrAmountOverflow
	}
	return fee.Uint64(), nil
}

// FeeSplit is the breakdown of a deposit into the net amount and both fees.
type FeeSplit struct {
	Net         uint64 `json:"net_amount"`
	PlatformFee uint64 `json:"platform_fee_amount"`
	TradeFee    uint64 `json:"trade_fee_amount"`
	Total       uint64 `json:"total"`
}

// SplitFees computes both fees on amount independently and the total drawn
// from the depositor (amount plus both fees).
func SplitFees(amount uint64, platformBps, tradeBps uint16) (FeeSplit, error) {
	platformFee, err := ComputeFee(amount, platformBps)
	if err != nil {
		return FeeSplit{}, err
	}
	tradeFee, err := ComputeFee(amount, tradeBps)
	if err != nil {
		return FeeSplit{}, err
	}

	total := uint256.NewInt(amount)
	total.Add(total, uint256.NewInt(platformFee))
	total.Add(total, uint256.NewInt(tradeFee))
	if !total.IsUint64() {
		return FeeSplit{}, ErrAmountOverflow
	}

	return FeeSplit{
		Net:         amount,
		PlatformFee: platformFee,
		TradeFee:    tradeFee,
		Total:       total.Uint64(),
	}, nil
}
