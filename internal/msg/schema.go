package msg

// FillMsg is one agent execution of a replay run
type FillMsg struct {
	EventID      string  `json:"event_id"`
	RunID        string  `json:"run_id"`
	Seq          int     `json:"seq"`
	TsNanos      int64   `json:"ts_nanos"`
	Side         string  `json:"side"` // "BUY" or "SELL"
	PriceTicks   int64   `json:"price_ticks"`
	Price        string  `json:"price"` // dollars, exact decimal
	Qty          int64   `json:"qty"`
	CashDelta    float64 `json:"cash_delta"`
	Inventory    int64   `json:"inventory"`
	Cash         float64 `json:"cash"`
}

// RunSummaryMsg closes a replay run
type RunSummaryMsg struct {
	EventID       string  `json:"event_id"`
	RunID         string  `json:"run_id"`
	Strategy      string  `json:"strategy"`
	TapePath      string  `json:"tape_path"`
	Events        int     `json:"events"`
	EventsApplied int     `json:"events_applied"`
	Quotes        int     `json:"quotes"`
	Fills         int     `json:"fills"`
	Inventory     int64   `json:"inventory"`
	Cash          float64 `json:"cash"`
	FilledBuy     int64   `json:"filled_buy"`
	FilledSell    int64   `json:"filled_sell"`
	FinalMid      float64 `json:"final_mid"`
	MarkToMarket  float64 `json:"mark_to_market"`
	Sigma         float64 `json:"sigma"`
	TsUnixMillis  int64   `json:"ts_unix_millis"`
}
