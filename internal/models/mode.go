package models

// Режимы работы InstrumentEngine (state machine)
const (
	ModeNormal        = "normal"         // обычная торговля
	ModeRiskReduction = "risk_reduction" // урезанные лимиты после стресса
	ModeStandby       = "standby"        // анализ без новых ордеров
	ModeEmergency     = "emergency"      // резкое движение цены: сократить позиции
	ModeKillSwitch    = "kill_switch"    // внешняя остановка торговли
)
