package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/contractvault/internal/flagx"
)

var knownFlags = []string{
	"-a", "-d", "-A", "-s", "-k", "-u", "-p", "-g", "-e",
	"-b", "-f", "-F", "-w", "-y", "-T", "-R", "-o", "-l", "-P",
}

// parseFlags populates Config fields from command-line flags.
//
//	-a string     HTTP bind address (e.g., ":8080")
//	-d string     contract database DSN
//	-A string     audit database DSN
//	-s string     JWT HMAC secret
//	-k string     envelope secret
//	-u / -p       S3 access key / secret key
//	-g string     S3 region
//	-e string     S3 base endpoint
//	-b / -f / -w  primary / fallback / WORM bucket
//	-F string     local fallback directory
//	-y int        WORM retention in years
//	-T duration   storage call timeout
//	-R duration   retraction window
//	-o string     OTP gateway URL
//	-l string     log level (debug, info, warn, error)
//	-P string     trusted proxy CIDRs, comma-separated
//
// os.Args is filtered through flagx.FilterArgs first so that flags owned by
// other parsers (-c/-config) do not collide.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], knownFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddress, "a", config.HTTPAddress, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "contract database DSN")
	fs.StringVar(&config.AuditDatabaseDSN, "A", config.AuditDatabaseDSN, "audit database DSN")
	fs.StringVar(&config.JWTSecret, "s", config.JWTSecret, "JWT secret key")
	fs.StringVar(&config.EnvelopeSecret, "k", config.EnvelopeSecret, "envelope secret")
	fs.StringVar(&config.S3AccessKey, "u", config.S3AccessKey, "S3 access key")
	fs.StringVar(&config.S3SecretKey, "p", config.S3SecretKey, "S3 secret key")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.PrimaryBucket, "b", config.PrimaryBucket, "primary bucket")
	fs.StringVar(&config.FallbackBucket, "f", config.FallbackBucket, "fallback bucket")
	fs.StringVar(&config.FallbackDir, "F", config.FallbackDir, "local fallback directory")
	fs.StringVar(&config.WORMBucket, "w", config.WORMBucket, "WORM archive bucket")
	fs.IntVar(&config.RetentionYears, "y", config.RetentionYears, "WORM retention (years)")
	fs.DurationVar(&config.StorageTimeout, "T", config.StorageTimeout, "storage call timeout")
	fs.DurationVar(&config.RetractionWindow, "R", config.RetractionWindow, "retraction window")
	fs.StringVar(&config.OTPGatewayURL, "o", config.OTPGatewayURL, "OTP gateway URL")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.StringVar(&config.TrustedProxies, "P", config.TrustedProxies, "trusted proxy CIDRs")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
