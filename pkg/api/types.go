package api

// Wire types for the read-only REST surface and the WebSocket fan-out.
// These are the external shapes only; internal reads always go through
// pkg/position.Store's own snapshot types.

// PositionView is the REST/WS wire shape for a domain.Position.
type PositionView struct {
	ID               string `json:"id"`
	Owner            string `json:"owner"`
	Symbol           string `json:"symbol"`
	Side             string `json:"side"`
	Size             string `json:"size"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	LiquidationPrice string `json:"liquidationPrice"`
	Margin           string `json:"margin"`
	UnrealizedPnL    string `json:"unrealizedPnl"`
	RealizedPnL      string `json:"realizedPnl"`
	FundingAccrued   string `json:"fundingAccrued"`
	Leverage         uint16 `json:"leverage"`
	Status           string `json:"status"`
	OpenedAt         int64  `json:"openedAt"`
	LastUpdate       int64  `json:"lastUpdate"`
}

// PriceView is one symbol's cached price snapshot.
type PriceView struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// StatisticsView mirrors position.Statistics for the wire.
type StatisticsView struct {
	TotalPositions int `json:"totalPositions"`
	OpenPositions  int `json:"openPositions"`
	Symbols        int `json:"symbols"`
	Owners         int `json:"owners"`
}

// PositionUpdateView is the WebSocket payload for a monitor.PositionUpdate.
type PositionUpdateView struct {
	Type        string `json:"type"` // "position"
	Position    PositionView `json:"position"`
	MarginRatio string `json:"marginRatio"`
}

// PriceTickView is the WebSocket payload for a domain.PriceTick.
type PriceTickView struct {
	Type      string `json:"type"` // "price"
	Symbol    string `json:"symbol"`
	Price     string `json:"price"`
	Timestamp int64  `json:"timestamp"`
}

// AlertView is the WebSocket payload for a domain.Alert.
type AlertView struct {
	Type             string `json:"type"` // "alert"
	PositionID       string `json:"positionId"`
	Symbol           string `json:"symbol"`
	Side             string `json:"side"`
	LiquidationPrice string `json:"liquidationPrice"`
	CurrentPrice     string `json:"currentPrice"`
	Kind             string `json:"kind"`
}

// WSSubscribeRequest is sent by a client to subscribe/unsubscribe.
// Channels are "prices", "positions", "alerts", optionally suffixed
// with ":<symbol>" for a per-symbol filter.
type WSSubscribeRequest struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
}

// ErrorResponse is returned for all REST errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
