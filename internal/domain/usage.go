package domain

import "github.com/shopspring/decimal"

// Usage is token accounting for one or more completion calls.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	Cost             decimal.Decimal
}

func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		Cost:             u.Cost.Add(other.Cost),
	}
}

func (u Usage) TotalTokens() int {
	return u.PromptTokens + u.CompletionTokens
}
