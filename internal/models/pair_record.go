package models

import "time"

// PairConfig is the persisted configuration half of a pair record.
type PairConfig struct {
	Symbol    string           `json:"symbol"`
	Exchange  string           `json:"exchange"`
	Direction string           `json:"direction"`
	Settings  StrategySettings `json:"settings"`
}

// PairRecord is one row of the pairs_state table.
type PairRecord struct {
	PairID    string    `db:"pair_id"`
	Config    PairConfig
	Runtime   PairRuntime
	UpdatedAt time.Time `db:"updated_at"`
}

// ExchangeCredentials holds an API key/secret pair for one exchange.
type ExchangeCredentials struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

// AppState is the persisted singleton row of the app_state table.
type AppState struct {
	AutoResumeRunningPairs bool                            `json:"auto_resume_running_pairs"`
	Credentials            map[string]ExchangeCredentials  `json:"credentials"`
}
