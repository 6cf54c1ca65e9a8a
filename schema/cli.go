package schema

// Config is the yaml file layout. Every field can also come from the environment.
type Config struct {
	Network       string `yaml:"network"`
	RpcUrl        string `yaml:"rpcUrl"`
	PrivateKey    string `yaml:"privateKey"`
	Confirmations uint64 `yaml:"confirmations"`

	Port          string `yaml:"port"`
	MetricPort    string `yaml:"metricPort"`
	MinNameLength int    `yaml:"minNameLength"`
	CacheTTL      int    `yaml:"cacheTTL"`  // seconds
	RateLimit     string `yaml:"rateLimit"` // ulule format, e.g "60-M"
	SentryDsn     string `yaml:"sentryDsn"`

	Recovery Recovery `yaml:"recovery"`
	Kafka    Kafka    `yaml:"kafka"`
}

type Recovery struct {
	LogPath string `yaml:"logPath"` // empty: stderr
	BoltDir string `yaml:"boltDir"` // empty: journal disabled
}

type Kafka struct {
	Start bool   `yaml:"start"`
	Uri   string `yaml:"uri"`
}
