package models

// Worker lifecycle states.
const (
	StateIdle     = "IDLE"
	StateEntering = "ENTERING"
	StateOpen     = "OPEN"
	StateClosing  = "CLOSING"
	StateError    = "ERROR"
)

// ValidTransitions enumerates the legal state-machine edges for a pair worker.
var ValidTransitions = map[string][]string{
	StateIdle:     {StateEntering, StateError},
	StateEntering: {StateOpen, StateIdle, StateError},
	StateOpen:     {StateOpen, StateClosing, StateError},
	StateClosing:  {StateIdle, StateError},
	StateError:    {StateIdle},
}

// CanTransition reports whether moving from `from` to `to` is a legal edge.
func CanTransition(from, to string) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Directions.
const (
	DirectionLong  = "LONG"
	DirectionShort = "SHORT"
)

// PairRuntime is the mutable per-worker state, persisted as runtime_json.
type PairRuntime struct {
	IsRunning    bool   `json:"is_running"`
	State        string `json:"state"`
	PositionOpen bool   `json:"position_open"`
	Direction    string `json:"direction,omitempty"`

	EntryPrice    float64 `json:"entry_price"`
	AveragePrice  float64 `json:"average_price"`
	TotalQty      float64 `json:"total_qty"`
	TotalCost     float64 `json:"total_cost"`
	LastOrderUSDT float64 `json:"last_order_usdt"`

	SafetyOrdersUsed int `json:"safety_orders_used"`

	TakeProfitPrice float64 `json:"take_profit_price"`
	StopLossPrice   float64 `json:"stop_loss_price"`

	BreakEvenArmed bool    `json:"break_even_armed"`
	BreakEvenPrice float64 `json:"break_even_price"`

	LastCloseTimestamp int64   `json:"last_close_timestamp"`
	LastClosePrice     float64 `json:"last_close_price"`

	NeedsResync bool `json:"needs_resync"`

	LastKnownPrice float64 `json:"last_known_price"`
}

// ResetToFlat zeroes every position-scoped field, matching the source's
// _reset_position_state.
func (r *PairRuntime) ResetToFlat() {
	r.PositionOpen = false
	r.Direction = ""
	r.EntryPrice = 0
	r.AveragePrice = 0
	r.TotalQty = 0
	r.TotalCost = 0
	r.LastOrderUSDT = 0
	r.SafetyOrdersUsed = 0
	r.TakeProfitPrice = 0
	r.StopLossPrice = 0
	r.BreakEvenArmed = false
	r.BreakEvenPrice = 0
}
