// Package esa holds the JSON shapes of the exchange stream protocol.
// Field names follow the wire format; behaviour lives elsewhere.
package esa

import "time"

// Operation tags carried in the "op" field of every frame.
const (
	OpAuthentication     = "authentication"
	OpHeartbeat          = "heartbeat"
	OpMarketSubscription = "marketSubscription"
	OpOrderSubscription  = "orderSubscription"
	OpConnection         = "connection"
	OpStatus             = "status"
	OpMarketChange       = "mcm"
	OpOrderChange        = "ocm"
)

// Status codes.
const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
)

// Change types and segment types as they appear on the wire.
const (
	ChangeTypeSubImage   = "SUB_IMAGE"
	ChangeTypeResubDelta = "RESUB_DELTA"
	ChangeTypeHeartbeat  = "HEARTBEAT"

	SegmentTypeStart = "SEG_START"
	SegmentTypeSeg   = "SEG"
	SegmentTypeEnd   = "SEG_END"
)

// Market data fields for MarketDataFilter.Fields.
const (
	FieldBestOffersDisp = "EX_BEST_OFFERS_DISP"
	FieldBestOffers     = "EX_BEST_OFFERS"
	FieldAllOffers      = "EX_ALL_OFFERS"
	FieldTraded         = "EX_TRADED"
	FieldTradedVol      = "EX_TRADED_VOL"
	FieldLTP            = "EX_LTP"
	FieldMarketDef      = "EX_MARKET_DEF"
	FieldSPTraded       = "SP_TRADED"
	FieldSPProjected    = "SP_PROJECTED"
)

// Market statuses.
const (
	MarketStatusInactive  = "INACTIVE"
	MarketStatusOpen      = "OPEN"
	MarketStatusSuspended = "SUSPENDED"
	MarketStatusClosed    = "CLOSED"
)

// AuthenticationMessage authenticates the connection.
type AuthenticationMessage struct {
	Op      string `json:"op"`
	ID      int    `json:"id"`
	AppKey  string `json:"appKey"`
	Session string `json:"session"`
}

// HeartbeatMessage keeps an idle connection alive.
type HeartbeatMessage struct {
	Op string `json:"op"`
	ID int    `json:"id"`
}

// MarketSubscriptionMessage subscribes to market changes. Clk/InitialClk are
// set only when resuming an earlier subscription.
type MarketSubscriptionMessage struct {
	Op                  string            `json:"op"`
	ID                  int               `json:"id"`
	Clk                 string            `json:"clk,omitempty"`
	InitialClk          string            `json:"initialClk,omitempty"`
	HeartbeatMs         *int64            `json:"heartbeatMs,omitempty"`
	ConflateMs          *int64            `json:"conflateMs,omitempty"`
	SegmentationEnabled *bool             `json:"segmentationEnabled,omitempty"`
	MarketFilter        *MarketFilter     `json:"marketFilter,omitempty"`
	MarketDataFilter    *MarketDataFilter `json:"marketDataFilter,omitempty"`
}

// OrderSubscriptionMessage subscribes to order changes for the account.
type OrderSubscriptionMessage struct {
	Op                  string       `json:"op"`
	ID                  int          `json:"id"`
	Clk                 string       `json:"clk,omitempty"`
	InitialClk          string       `json:"initialClk,omitempty"`
	HeartbeatMs         *int64       `json:"heartbeatMs,omitempty"`
	ConflateMs          *int64       `json:"conflateMs,omitempty"`
	SegmentationEnabled *bool        `json:"segmentationEnabled,omitempty"`
	OrderFilter         *OrderFilter `json:"orderFilter,omitempty"`
}

// MarketFilter selects markets for a market subscription.
type MarketFilter struct {
	MarketIDs         []string `json:"marketIds,omitempty"`
	BspMarket         *bool    `json:"bspMarket,omitempty"`
	BettingTypes      []string `json:"bettingTypes,omitempty"`
	EventTypeIDs      []string `json:"eventTypeIds,omitempty"`
	EventIDs          []string `json:"eventIds,omitempty"`
	TurnInPlayEnabled *bool    `json:"turnInPlayEnabled,omitempty"`
	MarketTypes       []string `json:"marketTypes,omitempty"`
	Venues            []string `json:"venues,omitempty"`
	CountryCodes      []string `json:"countryCodes,omitempty"`
	RaceTypes         []string `json:"raceTypes,omitempty"`
}

// MarketDataFilter selects the ladders and fields that are streamed.
type MarketDataFilter struct {
	LadderLevels int      `json:"ladderLevels,omitempty"`
	Fields       []string `json:"fields,omitempty"`
}

// OrderFilter narrows an order subscription.
type OrderFilter struct {
	IncludeOverallPosition        *bool    `json:"includeOverallPosition,omitempty"`
	CustomerStrategyRefs          []string `json:"customerStrategyRefs,omitempty"`
	PartitionMatchedByStrategyRef *bool    `json:"partitionMatchedByStrategyRef,omitempty"`
}

// ConnectionMessage is sent once by the server when a connection opens.
type ConnectionMessage struct {
	Op           string `json:"op"`
	ID           *int   `json:"id,omitempty"`
	ConnectionID string `json:"connectionId"`
}

// StatusMessage replies to a request, or reports an asynchronous fault when ID is nil.
type StatusMessage struct {
	Op                   string `json:"op"`
	ID                   *int   `json:"id,omitempty"`
	StatusCode           string `json:"statusCode"`
	ErrorCode            string `json:"errorCode,omitempty"`
	ErrorMessage         string `json:"errorMessage,omitempty"`
	ConnectionClosed     bool   `json:"connectionClosed,omitempty"`
	ConnectionID         string `json:"connectionId,omitempty"`
	ConnectionsAvailable *int   `json:"connectionsAvailable,omitempty"`
}

// IsSuccess reports a SUCCESS status code.
func (s *StatusMessage) IsSuccess() bool {
	return s != nil && s.StatusCode == StatusSuccess
}

// MarketChangeMessage is one wire frame of market changes.
type MarketChangeMessage struct {
	Op          string          `json:"op"`
	ID          int             `json:"id"`
	Ct          string          `json:"ct,omitempty"`
	SegmentType string          `json:"segmentType,omitempty"`
	Clk         string          `json:"clk,omitempty"`
	InitialClk  string          `json:"initialClk,omitempty"`
	ConflateMs  *int64          `json:"conflateMs,omitempty"`
	HeartbeatMs *int64          `json:"heartbeatMs,omitempty"`
	Pt          int64           `json:"pt,omitempty"`
	Status      *int            `json:"status,omitempty"`
	Mc          []*MarketChange `json:"mc,omitempty"`
}

// MarketChange carries the change for one market.
type MarketChange struct {
	ID               string            `json:"id"`
	Img              bool              `json:"img,omitempty"`
	Tv               *float64          `json:"tv,omitempty"`
	Con              bool              `json:"con,omitempty"`
	MarketDefinition *MarketDefinition `json:"marketDefinition,omitempty"`
	Rc               []*RunnerChange   `json:"rc,omitempty"`
}

// RunnerChange carries ladder and scalar changes for one runner. Ladders
// are [price, size] pairs; leveled ladders are [level, price, size] triples.
type RunnerChange struct {
	ID    int64       `json:"id"`
	Hc    float64     `json:"hc,omitempty"`
	Atb   [][]float64 `json:"atb,omitempty"`
	Atl   [][]float64 `json:"atl,omitempty"`
	Trd   [][]float64 `json:"trd,omitempty"`
	Spb   [][]float64 `json:"spb,omitempty"`
	Spl   [][]float64 `json:"spl,omitempty"`
	Batb  [][]float64 `json:"batb,omitempty"`
	Batl  [][]float64 `json:"batl,omitempty"`
	Bdatb [][]float64 `json:"bdatb,omitempty"`
	Bdatl [][]float64 `json:"bdatl,omitempty"`
	Ltp   *float64    `json:"ltp,omitempty"`
	Spn   *float64    `json:"spn,omitempty"`
	Spf   *float64    `json:"spf,omitempty"`
	Tv    *float64    `json:"tv,omitempty"`
}

// MarketDefinition is always sent whole.
type MarketDefinition struct {
	Status                string              `json:"status,omitempty"`
	Version               int64               `json:"version,omitempty"`
	EventID               string              `json:"eventId,omitempty"`
	EventTypeID           string              `json:"eventTypeId,omitempty"`
	MarketType            string              `json:"marketType,omitempty"`
	BettingType           string              `json:"bettingType,omitempty"`
	CountryCode           string              `json:"countryCode,omitempty"`
	Venue                 string              `json:"venue,omitempty"`
	Timezone              string              `json:"timezone,omitempty"`
	MarketTime            *time.Time          `json:"marketTime,omitempty"`
	OpenDate              *time.Time          `json:"openDate,omitempty"`
	SuspendTime           *time.Time          `json:"suspendTime,omitempty"`
	SettledTime           *time.Time          `json:"settledTime,omitempty"`
	InPlay                bool                `json:"inPlay,omitempty"`
	TurnInPlayEnabled     bool                `json:"turnInPlayEnabled,omitempty"`
	BspMarket             bool                `json:"bspMarket,omitempty"`
	BspReconciled         bool                `json:"bspReconciled,omitempty"`
	Complete              bool                `json:"complete,omitempty"`
	CrossMatching         bool                `json:"crossMatching,omitempty"`
	RunnersVoidable       bool                `json:"runnersVoidable,omitempty"`
	NumberOfWinners       int                 `json:"numberOfWinners,omitempty"`
	NumberOfActiveRunners int                 `json:"numberOfActiveRunners,omitempty"`
	BetDelay              int                 `json:"betDelay,omitempty"`
	Regulators            []string            `json:"regulators,omitempty"`
	Runners               []*RunnerDefinition `json:"runners,omitempty"`
}

// RunnerDefinition is always sent whole, inside a MarketDefinition.
type RunnerDefinition struct {
	ID               int64      `json:"id"`
	Hc               float64    `json:"hc,omitempty"`
	Status           string     `json:"status,omitempty"`
	SortPriority     int        `json:"sortPriority,omitempty"`
	RemovalDate      *time.Time `json:"removalDate,omitempty"`
	AdjustmentFactor *float64   `json:"adjustmentFactor,omitempty"`
	Bsp              *float64   `json:"bsp,omitempty"`
}

// OrderChangeMessage is one wire frame of order changes.
type OrderChangeMessage struct {
	Op          string               `json:"op"`
	ID          int                  `json:"id"`
	Ct          string               `json:"ct,omitempty"`
	SegmentType string               `json:"segmentType,omitempty"`
	Clk         string               `json:"clk,omitempty"`
	InitialClk  string               `json:"initialClk,omitempty"`
	ConflateMs  *int64               `json:"conflateMs,omitempty"`
	HeartbeatMs *int64               `json:"heartbeatMs,omitempty"`
	Pt          int64                `json:"pt,omitempty"`
	Status      *int                 `json:"status,omitempty"`
	Oc          []*OrderMarketChange `json:"oc,omitempty"`
}

// OrderMarketChange carries the order changes for one market.
type OrderMarketChange struct {
	ID        string               `json:"id"`
	AccountID int64                `json:"accountId,omitempty"`
	Closed    bool                 `json:"closed,omitempty"`
	FullImage bool                 `json:"fullImage,omitempty"`
	Orc       []*OrderRunnerChange `json:"orc,omitempty"`
}

// OrderRunnerChange carries unmatched orders and matched ladders for one runner.
type OrderRunnerChange struct {
	ID        int64       `json:"id"`
	Hc        float64     `json:"hc,omitempty"`
	FullImage bool        `json:"fullImage,omitempty"`
	Uo        []*Order    `json:"uo,omitempty"`
	Mb        [][]float64 `json:"mb,omitempty"`
	Ml        [][]float64 `json:"ml,omitempty"`
}

// Order is an unmatched (or recently completed) order.
type Order struct {
	ID     string  `json:"id"`
	P      float64 `json:"p"`
	S      float64 `json:"s"`
	Side   string  `json:"side"`
	Status string  `json:"status"`
	Pt     string  `json:"pt,omitempty"`
	Ot     string  `json:"ot,omitempty"`
	Pd     int64   `json:"pd,omitempty"`
	Md     int64   `json:"md,omitempty"`
	Avp    float64 `json:"avp,omitempty"`
	Sm     float64 `json:"sm,omitempty"`
	Sr     float64 `json:"sr,omitempty"`
	Sl     float64 `json:"sl,omitempty"`
	Sc     float64 `json:"sc,omitempty"`
	Sv     float64 `json:"sv,omitempty"`
	Rac    string  `json:"rac,omitempty"`
	Rc     string  `json:"rc,omitempty"`
	Rfo    string  `json:"rfo,omitempty"`
	Rfs    string  `json:"rfs,omitempty"`
	Bsp    float64 `json:"bsp,omitempty"`
}
