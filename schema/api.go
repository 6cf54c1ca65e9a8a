package schema

const (
	MaxBatchAvailability = 50
	DefaultMinNameLength = 5
	DefaultYears         = 1
)

type RespHealth struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Network string `json:"network"`
}

type RespAvailability struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

type ReqBatchAvailability struct {
	Names []string `json:"names"`
}

type RespPrice struct {
	Name       string  `json:"name"`
	Years      float64 `json:"years"`
	BaseWei    string  `json:"baseWei"`
	PremiumWei string  `json:"premiumWei"`
	TotalWei   string  `json:"totalWei"`
	TotalEth   string  `json:"totalEth"`
}

type ReqRegister struct {
	Name        string  `json:"name"`
	Owner       string  `json:"owner"`
	Years       *float64 `json:"years,omitempty"` // absent means DefaultYears
	MaxPriceWei string  `json:"maxPriceWei"`
}

type RespRegister struct {
	Success        bool   `json:"success"`
	Name           string `json:"name"`
	Owner          string `json:"owner"`
	DurationSecond int64  `json:"durationSeconds"`
	CommitTxHash   string `json:"commitTxHash"`
	RegisterTxHash string `json:"registerTxHash"`
	EnsCostEth     string `json:"ensCostEth"`
}

type RespUsage struct {
	Service       string            `json:"service"`
	Description   string            `json:"description"`
	Usage         map[string]any    `json:"usage"`
	FreeEndpoints map[string]string `json:"freeEndpoints"`
}

type RespErr struct {
	Err     string             `json:"error"`
	Kind    string             `json:"kind,omitempty"`
	Pending *PendingCommitment `json:"pending,omitempty"`
}

func (r RespErr) Error() string {
	return r.Err
}
