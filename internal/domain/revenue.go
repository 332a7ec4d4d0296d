package domain

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// RevenueShare is the platform/company split of one payment. The two parts
// always sum to the original amount.
type RevenueShare struct {
	PlatformShare decimal.Decimal `json:"platform_share"`
	CompanyShare  decimal.Decimal `json:"company_share"`
}

// ComputeShare splits amount by percentage. The platform part is rounded
// half-to-even to cents; the company receives the exact remainder.
func ComputeShare(amount, percentage decimal.Decimal) RevenueShare {
	platform := amount.Mul(percentage).Div(hundred).RoundBank(2)
	return RevenueShare{
		PlatformShare: platform,
		CompanyShare:  amount.Sub(platform),
	}
}

// MinorUnits converts a major-unit amount to cents, rounding half-to-even.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).RoundBank(0).IntPart()
}

// MajorUnits converts cents to a two-place decimal string ("12.34").
func MajorUnits(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}
