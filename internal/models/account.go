package models

// Account представляет состояние счёта одного инструмента.
//
// Инвариант: Available = Balance - маржа под открытыми позициями.
type Account struct {
	Balance            float64     `json:"balance"`
	Available          float64     `json:"available"`
	Positions          []*Position `json:"positions"`
	DailyPnl           float64     `json:"daily_pnl"`
	DailyPnlPercentage float64     `json:"daily_pnl_percentage"`
}

// Candle представляет один бар рыночных данных
type Candle struct {
	Symbol    string  `json:"symbol"`
	Timestamp int64   `json:"timestamp"` // unix millis начала бара
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}
