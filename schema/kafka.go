package schema

type KafkaRegistrationEvent struct {
	RunId          string `json:"runId"`
	Network        string `json:"network"`
	Name           string `json:"name"`
	Owner          string `json:"owner"`
	Duration       int64  `json:"duration"`
	Stage          string `json:"stage"` // last stage reached
	Kind           string `json:"kind"`  // failure kind, empty on success
	CommitTxHash   string `json:"commitTxHash,omitempty"`
	RegisterTxHash string `json:"registerTxHash,omitempty"`
	CostWei        string `json:"costWei,omitempty"`
	Timestamp      int64  `json:"timestamp"`
}
