package models

// Requests for the HTTP API. Dates are parsed by the handler so that
// several layouts can be accepted.

type CandlesRequest struct {
	InstrumentToken int64  `query:"instrument_token" json:"instrument_token" validate:"required,gt=0"`
	FromDate        string `query:"from_date" json:"from_date" validate:"required"`
	ToDate          string `query:"to_date" json:"to_date" validate:"required"`
	Interval        string `query:"interval" json:"interval" default:"1m" validate:"oneof=1m 5m 15m 1h 1d"`
}

type BackfillTriggerRequest struct {
	InstrumentToken int64  `query:"instrument_token" json:"instrument_token" validate:"required,gt=0"`
	FromDate        string `query:"from_date" json:"from_date"`
	ToDate          string `query:"to_date" json:"to_date"`
	Interval        string `query:"interval" json:"interval" default:"1m" validate:"oneof=1m 5m 15m 1h 1d"`
	Days            int    `query:"days" json:"days" default:"7" validate:"gte=1,lte=365"`
}

type BackfillStatusRequest struct {
	InstrumentToken int64 `query:"instrument_token" json:"instrument_token" validate:"gte=0"`
}

type TicksRequest struct {
	InstrumentToken int64  `query:"instrument_token" json:"instrument_token" validate:"required,gt=0"`
	FromDate        string `query:"from_date" json:"from_date" validate:"required"`
	ToDate          string `query:"to_date" json:"to_date" validate:"required"`
	Limit           int    `query:"limit" json:"limit" default:"1000" validate:"gte=1,lte=100000"`
}

type InstrumentListRequest struct {
	Limit  int `query:"limit" json:"limit" default:"1000" validate:"gte=1,lte=10000"`
	Offset int `query:"offset" json:"offset" default:"0" validate:"gte=0"`
}

type InstrumentSearchRequest struct {
	Query string `query:"q" json:"q" validate:"required,min=1"`
	Limit int    `query:"limit" json:"limit" default:"50" validate:"gte=1,lte=1000"`
}

type InstrumentTokenRequest struct {
	Token int64 `param:"token" validate:"required,gt=0"`
}

type SubscriptionRequest struct {
	InstrumentTokens []int64 `json:"instrument_tokens" validate:"required,min=1,max=3000,dive,gt=0"`
}
