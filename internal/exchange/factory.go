package exchange

// Credentials holds the API key pair used to construct a live adapter.
type Credentials struct {
	APIKey    string
	APISecret string
}

// New builds the Exchange implementation registered under name. Unknown or
// unimplemented venues fall back to StubExchange rather than failing
// construction, so a pair can be configured against them ahead of time.
func New(name string, creds Credentials, maxRequestsPerSecond float64) Exchange {
	switch name {
	case "binance":
		return NewBinance(creds.APIKey, creds.APISecret, maxRequestsPerSecond)
	default:
		return NewStubExchange(name)
	}
}
