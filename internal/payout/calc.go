package payout

import (
	"errors"

	"github.com/shopspring/decimal"
	commissiondomain "github.com/smallbiznis/disburse/internal/commission/domain"
)

var (
	ErrNegativeAmount = errors.New("negative_amount")
	ErrInvalidFee     = errors.New("invalid_fee_percent")
)

var hundred = decimal.NewFromInt(100)

// Amounts is the money breakdown for one payout.
type Amounts struct {
	Gross decimal.Decimal `json:"gross"`
	Fee   decimal.Decimal `json:"fee"`
	Net   decimal.Decimal `json:"net"`
}

// Calculate splits a gross payout into fee and net using half-up rounding to
// cents. The fee is rounded first and the net is derived by subtraction, so
// fee plus net always reproduces the gross exactly.
func Calculate(gross decimal.Decimal, feePercent decimal.Decimal) (Amounts, error) {
	if gross.IsNegative() {
		return Amounts{}, ErrNegativeAmount
	}
	if feePercent.IsNegative() || feePercent.GreaterThan(hundred) {
		return Amounts{}, ErrInvalidFee
	}

	gross = gross.Round(2)
	fee := gross.Mul(feePercent).Div(hundred).Round(2)
	net := gross.Sub(fee)

	return Amounts{
		Gross: gross,
		Fee:   fee,
		Net:   net,
	}, nil
}

// Payout is the calculated outcome for one aggregate.
type Payout struct {
	AffiliateID string          `json:"affiliate_id"`
	Gross       decimal.Decimal `json:"gross_amount"`
	Fee         decimal.Decimal `json:"fee_amount"`
	Net         decimal.Decimal `json:"net_amount"`
	Eligible    bool            `json:"eligible"`
	Reason      string          `json:"reason,omitempty"`
}

// BatchTotals summarizes a set of aggregates at a given fee.
type BatchTotals struct {
	TotalGross      decimal.Decimal `json:"total_gross_amount"`
	TotalFee        decimal.Decimal `json:"total_fee_amount"`
	TotalNet        decimal.Decimal `json:"total_net_amount"`
	EligibleCount   int             `json:"eligible_count"`
	IneligibleCount int             `json:"ineligible_count"`
}

// CalculatePayout computes the fee breakdown for one aggregate. Eligibility
// mirrors the aggregate: a net-positive aggregate under the threshold stays
// ineligible.
func CalculatePayout(aggregate commissiondomain.Aggregate, feePercent decimal.Decimal) (Payout, error) {
	amounts, err := Calculate(aggregate.TotalAmount, feePercent)
	if err != nil {
		return Payout{}, err
	}
	return Payout{
		AffiliateID: aggregate.AffiliateID.String(),
		Gross:       amounts.Gross,
		Fee:         amounts.Fee,
		Net:         amounts.Net,
		Eligible:    aggregate.CanPayout,
		Reason:      aggregate.Reason,
	}, nil
}

// CalculateBatchTotal sums eligible aggregates only, but reports both counts.
func CalculateBatchTotal(aggregates []commissiondomain.Aggregate, feePercent decimal.Decimal) (BatchTotals, error) {
	totals := BatchTotals{
		TotalGross: decimal.Zero,
		TotalFee:   decimal.Zero,
		TotalNet:   decimal.Zero,
	}
	for _, aggregate := range aggregates {
		payout, err := CalculatePayout(aggregate, feePercent)
		if err != nil {
			return BatchTotals{}, err
		}
		if !payout.Eligible {
			totals.IneligibleCount++
			continue
		}
		totals.EligibleCount++
		totals.TotalGross = totals.TotalGross.Add(payout.Gross)
		totals.TotalFee = totals.TotalFee.Add(payout.Fee)
		totals.TotalNet = totals.TotalNet.Add(payout.Net)
	}
	return totals, nil
}

// BatchTotal sums per-payout amounts without intermediate rounding.
func BatchTotal(items []Amounts) Amounts {
	total := Amounts{
		Gross: decimal.Zero,
		Fee:   decimal.Zero,
		Net:   decimal.Zero,
	}
	for _, item := range items {
		total.Gross = total.Gross.Add(item.Gross)
		total.Fee = total.Fee.Add(item.Fee)
		total.Net = total.Net.Add(item.Net)
	}
	return total
}
