package provider

// Pricing is the per-million-token price list of one model, in USD.
type Pricing struct {
	InputPerMTok      float64 `json:"input_per_mtok" yaml:"input_per_mtok" mapstructure:"input_per_mtok"`
	OutputPerMTok     float64 `json:"output_per_mtok" yaml:"output_per_mtok" mapstructure:"output_per_mtok"`
	CacheWritePerMTok float64 `json:"cache_write_per_mtok" yaml:"cache_write_per_mtok" mapstructure:"cache_write_per_mtok"`
	CacheReadPerMTok  float64 `json:"cache_read_per_mtok" yaml:"cache_read_per_mtok" mapstructure:"cache_read_per_mtok"`
}

// Cost prices a usage record.
func (p Pricing) Cost(u Usage) float64 {
	return (float64(u.InputTokens)*p.InputPerMTok +
		float64(u.OutputTokens)*p.OutputPerMTok +
		float64(u.CacheWriteTokens)*p.CacheWritePerMTok +
		float64(u.CacheReadTokens)*p.CacheReadPerMTok) / 1_000_000
}

// DefaultPricing holds list prices for the models the default tiers use.
// Local models are free.
var DefaultPricing = map[string]Pricing{
	"claude-opus-4-20250514":   {InputPerMTok: 15, OutputPerMTok: 75, CacheWritePerMTok: 18.75, CacheReadPerMTok: 1.5},
	"claude-sonnet-4-20250514": {InputPerMTok: 3, OutputPerMTok: 15, CacheWritePerMTok: 3.75, CacheReadPerMTok: 0.3},
	"claude-3-5-haiku-latest":  {InputPerMTok: 0.8, OutputPerMTok: 4, CacheWritePerMTok: 1, CacheReadPerMTok: 0.08},
	"gpt-4o":                   {InputPerMTok: 2.5, OutputPerMTok: 10, CacheReadPerMTok: 1.25},
	"gpt-4o-mini":              {InputPerMTok: 0.15, OutputPerMTok: 0.6, CacheReadPerMTok: 0.075},
}

// LookupPricing returns the list price for model, or zero pricing when the
// model is unknown.
func LookupPricing(model string) Pricing {
	return DefaultPricing[model]
}
