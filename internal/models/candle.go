package models

// Candle is an immutable OHLCV bar.
type Candle struct {
	OpenTime int64   `json:"open_time"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
}

// MaxCandlesRetained bounds the per-symbol candle ring buffer.
const MaxCandlesRetained = 200
