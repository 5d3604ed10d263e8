package stream

// TradeEvent is a single buy or sell observed on an asset's bonding curve.
type TradeEvent struct {
	Mint         string  `json:"mint"`
	IsBuy        bool    `json:"is_buy"`
	SolAmount    float64 `json:"sol_amount"`
	TokenAmount  float64 `json:"token_amount"`
	SolInCurve   float64 `json:"sol_in_curve"`
	MarketCapSol float64 `json:"market_cap_sol"`
}

// MigrationEvent signals an asset completing its bonding curve and moving to
// a new trading stage (e.g. an AMM pool).
type MigrationEvent struct {
	Mint  string `json:"mint"`
	Stage string `json:"stage"`
}

// NewTokenEvent is a fresh listing announced by the stream.
type NewTokenEvent struct {
	Mint   string `json:"mint"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
	URI    string `json:"uri"`
}

// frame is the raw wire shape shared by all upstream event kinds. The txType
// field discriminates: "buy"/"sell" are trades, "create" is a new listing,
// "migrate" is a migration. Frames with an empty txType are server acks.
type frame struct {
	TxType             string  `json:"txType"`
	Mint               string  `json:"mint"`
	SolAmount          float64 `json:"solAmount"`
	TokenAmount        float64 `json:"tokenAmount"`
	VSolInBondingCurve float64 `json:"vSolInBondingCurve"`
	MarketCapSol       float64 `json:"marketCapSol"`
	Name               string  `json:"name"`
	Symbol             string  `json:"symbol"`
	URI                string  `json:"uri"`
	Pool               string  `json:"pool"`
	Message            string  `json:"message"`
}

// controlMessage is the client→server subscription frame.
type controlMessage struct {
	Method string   `json:"method"`
	Keys   []string `json:"keys,omitempty"`
}

const (
	methodSubscribeTokenTrade   = "subscribeTokenTrade"
	methodUnsubscribeTokenTrade = "unsubscribeTokenTrade"
	methodSubscribeNewToken     = "subscribeNewToken"
	methodSubscribeMigration    = "subscribeMigration"
)
