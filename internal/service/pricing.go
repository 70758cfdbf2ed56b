package service

import (
	"github.com/shopspring/decimal"

	"github.com/set-night/dermassist/internal/domain"
)

var perMillion = decimal.NewFromInt(1_000_000)

// Pricing converts token counts into a USD estimate. Prices are per 1M tokens.
type Pricing struct {
	PromptPerMTok     decimal.Decimal
	CompletionPerMTok decimal.Decimal
}

func (p Pricing) Cost(promptTokens, completionTokens int) decimal.Decimal {
	promptCost := decimal.NewFromInt(int64(promptTokens)).Mul(p.PromptPerMTok).Div(perMillion)
	completionCost := decimal.NewFromInt(int64(completionTokens)).Mul(p.CompletionPerMTok).Div(perMillion)
	return promptCost.Add(completionCost)
}

// Price fills in the Cost of u.
func (p Pricing) Price(u domain.Usage) domain.Usage {
	u.Cost = p.Cost(u.PromptTokens, u.CompletionTokens)
	return u
}
