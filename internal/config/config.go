package config // package config loads application configuration from environment variables

import (
	"log"     // log is used to report configuration errors and halt execution
	"os"      // os provides access to environment variables
	"strconv" // strconv converts strings to other types
	"time"    // time expresses the reservation and sweep durations
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  The types reflect how the values are used in
// the application: strings for identifiers and secrets, durations for the
// reservation lifecycle.
type Config struct {
	Env    string // application environment (e.g. "dev", "prod")
	Port   string // HTTP port to listen on
	DBUser string // database username
	DBPass string // database password (optional)
	DBHost string // database host address
	DBPort string // database port number
	DBName string // database name

	DBMaxOpenConns    int           // connection pool ceiling
	DBMaxIdleConns    int           // idle connections kept around
	DBConnMaxLifetime time.Duration // recycle connections after this age

	JWTSecret string // secret used to verify buyer/admin JWTs

	PaymentBaseURL       string // base URL of the payment gateway REST API
	PaymentKeyID         string // gateway merchant key id
	PaymentKeySecret     string // gateway merchant key secret (signs confirmations)
	PaymentWebhookSecret string // secret that signs webhook deliveries
	Currency             string // ISO currency code for payment intents

	TaxRateBP       int           // tax rate in basis points of the subtotal
	ReservationTTL  time.Duration // how long claimed keys stay reserved
	ClientCountdown time.Duration // countdown shown to the buyer, must be < ReservationTTL
	SweepInterval   time.Duration // how often the expiry sweep re-scans storage
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.  The reservation TTL
// must be strictly longer than the client-side countdown: a reservation
// that expires while the buyer's screen still shows time left would race a
// legitimate late confirmation.  The relationship is enforced here, once,
// instead of being assumed across the codebase.
func Load() Config {
	cfg := Config{
		Env:    must("APP_ENV"),      // environment (dev/test/prod)
		Port:   must("APP_PORT"),     // port to bind the HTTP server
		DBUser: must("DB_USER"),      // database user
		DBPass: os.Getenv("DB_PASS"), // database password (empty allowed)
		DBHost: must("DB_HOST"),      // database host
		DBPort: must("DB_PORT"),      // database port
		DBName: must("DB_NAME"),      // database name

		// Reserve/settle transactions hold row locks on the key
		// tables, so the pool size is tuned per deployment.
		DBMaxOpenConns:    envInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:    envInt("DB_MAX_IDLE_CONNS", 25),
		DBConnMaxLifetime: envDur("DB_CONN_MAX_LIFETIME", 30*time.Minute),

		JWTSecret: must("JWT_SECRET"), // secret for verifying JWTs

		PaymentBaseURL:       must("PAYMENT_BASE_URL"),       // gateway API root
		PaymentKeyID:         must("PAYMENT_KEY_ID"),         // merchant key id
		PaymentKeySecret:     must("PAYMENT_KEY_SECRET"),     // merchant key secret
		PaymentWebhookSecret: must("PAYMENT_WEBHOOK_SECRET"), // webhook signing secret
		Currency:             envStr("PAYMENT_CURRENCY", "INR"),

		TaxRateBP:       envInt("TAX_RATE_BP", 1800),                          // 18% GST by default
		ReservationTTL:  secondsEnv("RESERVATION_TTL_SEC", 240*time.Second),   // key lock lifetime
		ClientCountdown: secondsEnv("CLIENT_COUNTDOWN_SEC", 180*time.Second),  // buyer-facing countdown
		SweepInterval:   secondsEnv("EXPIRY_SWEEP_INTERVAL_SEC", 30*time.Second), // storage re-scan cadence
	}
	if cfg.ReservationTTL <= cfg.ClientCountdown {
		log.Fatalf("RESERVATION_TTL_SEC (%s) must be strictly greater than CLIENT_COUNTDOWN_SEC (%s)",
			cfg.ReservationTTL, cfg.ClientCountdown)
	}
	if cfg.TaxRateBP < 0 {
		log.Fatalf("TAX_RATE_BP must not be negative: %d", cfg.TaxRateBP)
	}
	return cfg
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// secondsEnv reads an optional integer environment variable expressed in
// seconds and returns it as a duration, or the default when unset.
func secondsEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Fatalf("invalid seconds value for %s: %q", key, v)
	}
	return time.Duration(n) * time.Second
}
