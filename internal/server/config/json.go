package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/contractvault/internal/flagx"
	"github.com/dmitrijs2005/contractvault/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations use
// timex.Duration so both "30s" and integer nanoseconds are accepted.
// Absent (zero) fields leave the current value untouched.
type JsonConfig struct {
	HTTPAddress      string         `json:"http_address"`
	DatabaseDSN      string         `json:"database_dsn"`
	AuditDatabaseDSN string         `json:"audit_database_dsn"`
	JWTSecret        string         `json:"jwt_secret"`
	EnvelopeSecret   string         `json:"envelope_secret"`
	S3AccessKey      string         `json:"s3_access_key"`
	S3SecretKey      string         `json:"s3_secret_key"`
	S3Region         string         `json:"s3_region"`
	S3BaseEndpoint   string         `json:"s3_base_endpoint"`
	PrimaryBucket    string         `json:"primary_bucket"`
	FallbackBucket   string         `json:"fallback_bucket"`
	FallbackDir      string         `json:"fallback_dir"`
	WORMBucket       string         `json:"worm_bucket"`
	RetentionYears   int            `json:"retention_years"`
	StorageTimeout   timex.Duration `json:"storage_timeout"`
	RetractionWindow timex.Duration `json:"retraction_window"`
	OTPGatewayURL    string         `json:"otp_gateway_url"`
	OTPTimeout       timex.Duration `json:"otp_timeout"`
	RateLimitRPS     float64        `json:"rate_limit_rps"`
	RateLimitBurst   int            `json:"rate_limit_burst"`
	TrustedProxies   string         `json:"trusted_proxies"`
	SweepPageSize    int            `json:"sweep_page_size"`
	ShutdownTimeout  timex.Duration `json:"shutdown_timeout"`
	LogLevel         string         `json:"log_level"`
}

// parseJson overlays values from the JSON file named by -c/-config (or
// $CONTRACTVAULT_CONFIG). No path means nothing to load. An unreadable file
// or invalid JSON panics: the process must not start half-configured.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	c.apply(config)
}

func (c *JsonConfig) apply(config *Config) {
	setString(&config.HTTPAddress, c.HTTPAddress)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.AuditDatabaseDSN, c.AuditDatabaseDSN)
	setString(&config.JWTSecret, c.JWTSecret)
	setString(&config.EnvelopeSecret, c.EnvelopeSecret)
	setString(&config.S3AccessKey, c.S3AccessKey)
	setString(&config.S3SecretKey, c.S3SecretKey)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.PrimaryBucket, c.PrimaryBucket)
	setString(&config.FallbackBucket, c.FallbackBucket)
	setString(&config.FallbackDir, c.FallbackDir)
	setString(&config.WORMBucket, c.WORMBucket)
	setString(&config.OTPGatewayURL, c.OTPGatewayURL)
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.TrustedProxies, c.TrustedProxies)

	setNonZero(&config.RetentionYears, c.RetentionYears)
	setNonZero(&config.RateLimitRPS, c.RateLimitRPS)
	setNonZero(&config.RateLimitBurst, c.RateLimitBurst)
	setNonZero(&config.SweepPageSize, c.SweepPageSize)

	setNonZero(&config.StorageTimeout, c.StorageTimeout.Duration)
	setNonZero(&config.RetractionWindow, c.RetractionWindow.Duration)
	setNonZero(&config.OTPTimeout, c.OTPTimeout.Duration)
	setNonZero(&config.ShutdownTimeout, c.ShutdownTimeout.Duration)
}

func setString(dst *string, v string) { setNonZero(dst, v) }

func setNonZero[T comparable](dst *T, v T) {
	var zero T
	if v != zero {
		*dst = v
	}
}
