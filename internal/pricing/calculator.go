// Package pricing converts AI token usage into credits.
package pricing

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var (
	// ErrNegativeTokens is returned when a token count is below zero.
	ErrNegativeTokens = errors.New("pricing: negative token count")
	// ErrDurationOutOfRange is returned by Estimate for a negative or
	// implausibly long video.
	ErrDurationOutOfRange = errors.New("pricing: duration out of range")
)

// MaxEstimateSeconds bounds Estimate at one week of footage.
const MaxEstimateSeconds = 7 * 24 * 60 * 60

// Rates holds the price table. Prices are USD per one million tokens.
type Rates struct {
	InputUSDPerMillion        float64 `toml:"input_usd_per_million"`
	OutputUSDPerMillion       float64 `toml:"output_usd_per_million"`
	Markup                    float64 `toml:"markup"`
	CreditsPerUSD             int64   `toml:"credits_per_usd"`
	MinimumCredits            int64   `toml:"minimum_credits"`
	TokensPerSecond           int64   `toml:"tokens_per_second"`
	EstimatedCompletionTokens int64   `toml:"estimated_completion_tokens"`
}

// DefaultRates mirrors the gemini-2.5-flash list price with a 10x markup.
func DefaultRates() Rates {
	return Rates{
		InputUSDPerMillion:        0.10,
		OutputUSDPerMillion:       0.40,
		Markup:                    10,
		CreditsPerUSD:             1000,
		MinimumCredits:            5,
		TokensPerSecond:           300,
		EstimatedCompletionTokens: 1000,
	}
}

// Validate rejects tables that would produce negative or free charges.
func (r Rates) Validate() error {
	switch {
	case r.InputUSDPerMillion < 0 || r.OutputUSDPerMillion < 0:
		return errors.New("pricing: prices must be >= 0")
	case r.Markup <= 0:
		return errors.New("pricing: markup must be > 0")
	case r.CreditsPerUSD <= 0:
		return errors.New("pricing: credits_per_usd must be > 0")
	case r.MinimumCredits < 1:
		return errors.New("pricing: minimum_credits must be >= 1")
	case r.TokensPerSecond < 0 || r.EstimatedCompletionTokens < 0:
		return errors.New("pricing: estimate parameters must be >= 0")
	}
	return nil
}

var million = decimal.NewFromInt(1_000_000)

// Calculator is pure and safe for concurrent use.
type Calculator struct {
	rates         Rates
	input, output decimal.Decimal
	markup        decimal.Decimal
	perUSD        decimal.Decimal
}

func NewCalculator(r Rates) (*Calculator, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &Calculator{
		rates:  r,
		input:  decimal.NewFromFloat(r.InputUSDPerMillion),
		output: decimal.NewFromFloat(r.OutputUSDPerMillion),
		markup: decimal.NewFromFloat(r.Markup),
		perUSD: decimal.NewFromInt(r.CreditsPerUSD),
	}, nil
}

// Rates returns the table the calculator was built with.
func (c *Calculator) Rates() Rates { return c.rates }

// MinimumCharge is the smallest amount Cost can return. Starting an analysis
// requires at least this balance.
func (c *Calculator) MinimumCharge() int64 { return c.rates.MinimumCredits }

// Cost returns the credits charged for an analysis:
// ceil((p/1e6*in + c/1e6*out) * markup * creditsPerUSD), floored at the
// minimum charge.
func (c *Calculator) Cost(promptTokens, completionTokens int64) (int64, error) {
	if promptTokens < 0 || completionTokens < 0 {
		return 0, fmt.Errorf("%w: prompt=%d completion=%d", ErrNegativeTokens, promptTokens, completionTokens)
	}
	usd := decimal.NewFromInt(promptTokens).Div(million).Mul(c.input).
		Add(decimal.NewFromInt(completionTokens).Div(million).Mul(c.output))
	credits := usd.Mul(c.markup).Mul(c.perUSD).Ceil().IntPart()
	if credits < c.rates.MinimumCredits {
		credits = c.rates.MinimumCredits
	}
	return credits, nil
}

// Estimate is an advisory pre-upload quote for a video of the given length.
func (c *Calculator) Estimate(durationSeconds int64) (int64, error) {
	if durationSeconds < 0 || durationSeconds > MaxEstimateSeconds {
		return 0, fmt.Errorf("%w: %d seconds (max %d)", ErrDurationOutOfRange, durationSeconds, MaxEstimateSeconds)
	}
	if tps := c.rates.TokensPerSecond; tps > 0 && durationSeconds > math.MaxInt64/tps {
		return 0, fmt.Errorf("%w: %d seconds overflows the token estimate", ErrDurationOutOfRange, durationSeconds)
	}
	return c.Cost(durationSeconds*c.rates.TokensPerSecond, c.rates.EstimatedCompletionTokens)
}

// CreditsForPayment converts a settled payment into credits at face value.
func (c *Calculator) CreditsForPayment(amountCents int64) int64 {
	if amountCents <= 0 {
		return 0
	}
	return decimal.NewFromInt(amountCents).Mul(c.perUSD).Div(decimal.NewFromInt(100)).Floor().IntPart()
}
