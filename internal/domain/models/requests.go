package models

// Requests for analytics HTTP endpoints. Defined in domain for consistency and reuse.

type RiskRequest struct {
	Subject   string `query:"subject" json:"subject" validate:"required"`
	Days      int    `query:"days" json:"days" default:"90" validate:"gte=20,lte=1825"`
	Benchmark string `query:"benchmark" json:"benchmark"`
}

type CorrelationsRequest struct {
	Portfolio string `query:"portfolio" json:"portfolio" validate:"required"`
	Days      int    `query:"days" json:"days" default:"90" validate:"gte=30,lte=1825"`
}

type VolForecastRequest struct {
	Ticker     string  `query:"ticker" json:"ticker" validate:"required"`
	Horizon    int     `query:"horizon" json:"horizon" default:"10" validate:"gte=1,lte=90"`
	Confidence float64 `query:"confidence" json:"confidence" default:"0.95" validate:"gt=0.5,lt=1"`
}

type RegimeForecastRequest struct {
	Horizon int `query:"horizon" json:"horizon" default:"5" validate:"gte=1,lte=60"`
}
