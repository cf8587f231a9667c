// Package config loads the runtime configuration from the environment.
// Every knob has a development default so the service boots on a laptop
// with nothing but `go run`.
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	AppPort     string
	DatabaseURL string // empty selects the in-memory store
	KafkaBroker string // empty disables event publishing
	KafkaTopic  string
	RedisAddr   string // empty selects the in-memory replay recorder
	ReplayTTL   time.Duration

	JWTSecret       string
	OrderServiceURL string
	GatewayTimeout  time.Duration

	VNPayTmnCode    string
	VNPayHashSecret string
	VNPayPayURL     string

	MoMoPartnerCode string
	MoMoAccessKey   string
	MoMoSecretKey   string
	MoMoEndpoint    string
	MoMoIPNURL      string

	StripeAPIKey        string
	StripeWebhookSecret string
	StripeTolerance     time.Duration

	ManualSecret         string
	ManualConfirmPageURL string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return def
}

func Load() Config {
	return Config{
		AppPort:     getenv("APP_PORT", "8080"),
		DatabaseURL: getenv("DATABASE_URL", ""),
		KafkaBroker: getenv("KAFKA_BROKER", ""),
		KafkaTopic:  getenv("KAFKA_TOPIC", "payment-events"),
		RedisAddr:   getenv("REDIS_ADDR", ""),
		ReplayTTL:   getDuration("REPLAY_TTL", 48*time.Hour),

		JWTSecret:       getenv("JWT_SECRET", "dev-secret-change-me"),
		OrderServiceURL: getenv("ORDER_SERVICE_URL", "http://localhost:8081"),
		GatewayTimeout:  getDuration("GATEWAY_TIMEOUT", 10*time.Second),

		VNPayTmnCode:    getenv("VNPAY_TMN_CODE", ""),
		VNPayHashSecret: getenv("VNPAY_HASH_SECRET", ""),
		VNPayPayURL:     getenv("VNPAY_PAY_URL", "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"),

		MoMoPartnerCode: getenv("MOMO_PARTNER_CODE", ""),
		MoMoAccessKey:   getenv("MOMO_ACCESS_KEY", ""),
		MoMoSecretKey:   getenv("MOMO_SECRET_KEY", ""),
		MoMoEndpoint:    getenv("MOMO_ENDPOINT", "https://test-payment.momo.vn/v2/gateway/api/create"),
		MoMoIPNURL:      getenv("MOMO_IPN_URL", ""),

		StripeAPIKey:        getenv("STRIPE_API_KEY", ""),
		StripeWebhookSecret: getenv("STRIPE_WEBHOOK_SECRET", ""),
		StripeTolerance:     getDuration("STRIPE_TOLERANCE", 5*time.Minute),

		ManualSecret:         getenv("MANUAL_SECRET", "manual-dev-secret"),
		ManualConfirmPageURL: getenv("MANUAL_CONFIRM_PAGE_URL", "http://localhost:8080/manual-confirm"),
	}
}
