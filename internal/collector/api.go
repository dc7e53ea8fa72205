package collector

// GatewayResponse models the top-level structure of the logger gateway's response.
type GatewayResponse struct {
	Code int `json:"code"`
	Data struct {
		Page     int            `json:"page"`
		PageSize int            `json:"pageSize"`
		Total    int            `json:"total"`
		Items    []GatewayEvent `json:"items"`
	} `json:"data"`
}

// GatewayEvent is one run/stop record as reported by a field logger.
// Timestamp is either RFC 3339 or "2006-01-02 15:04:05" in the configured zone.
type GatewayEvent struct {
	AssetID         string  `json:"assetId"`
	EventType       string  `json:"eventType"`
	PreviousState   string  `json:"previousState"`
	NewState        string  `json:"newState"`
	Timestamp       string  `json:"timestamp"`
	DurationSeconds float64 `json:"durationSeconds"`
}
