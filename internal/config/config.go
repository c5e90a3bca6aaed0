// Package config defines the global configuration structure for the Tailored
// Letters platform. Configuration is loaded once at process initialization and
// is immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format causes the application to fail
// immediately on startup (fail fast). Provider credentials are deliberately
// NOT required: when a key is absent the corresponding collaborator is simply
// not constructed and its endpoints answer 503 instead of crashing the whole
// service.
package config

import (
	"time"

	"tailoredletters/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the platform.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"tailoredletters-api"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server     ServerConfig
	Mongo      MongoConfig
	Billing    BillingConfig
	Email      EmailConfig
	Generation GenerationConfig
	Auth       AuthConfig
	Security   SecurityConfig
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// ClientURL is the public web app origin used to build checkout redirect
	// URLs (no trailing slash), e.g. https://www.tailoredlettersai.com.
	ClientURL string `envconfig:"CLIENT_URL" validate:"required,url"`
}

// MongoConfig holds document store connection and pool tuning parameters.
type MongoConfig struct {
	URI      SecretString `envconfig:"MONGODB_URI" validate:"required"`
	Database string       `envconfig:"MONGODB_DATABASE" default:"coverletters"`

	// Tuning Parameters
	MaxPoolSize    uint64        `envconfig:"MONGODB_MAX_POOL_SIZE" default:"20"`
	MinPoolSize    uint64        `envconfig:"MONGODB_MIN_POOL_SIZE" default:"2"`
	ConnectTimeout time.Duration `envconfig:"MONGODB_CONNECT_TIMEOUT" default:"10s"`
}

// BillingConfig holds Stripe payment integration credentials.
// None of the keys are required: without them checkout initiation and webhook
// reconciliation answer 503 rather than preventing startup.
type BillingConfig struct {
	StripeSecretKey      SecretString `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret  SecretString `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripePublishableKey string       `envconfig:"STRIPE_PUBLISHABLE_KEY"`
}

// EmailConfig holds email delivery provider credentials. The API key is
// optional; payment confirmation emails are skipped when it is absent.
type EmailConfig struct {
	SendGridAPIKey SecretString `envconfig:"SENDGRID_API_KEY"`
	FromAddress    string       `envconfig:"EMAIL_FROM_ADDRESS" default:"support@tailoredlettersai.com"`
	FromName       string       `envconfig:"EMAIL_FROM_NAME" default:"Tailored Letters"`
}

// GenerationConfig holds the text-generation backend credentials and the
// plan-to-model policy. The API key is optional; generation answers 503
// when it is absent.
type GenerationConfig struct {
	OpenAIAPIKey SecretString  `envconfig:"OPENAI_API_KEY"`
	FreeModel    string        `envconfig:"GENERATION_FREE_MODEL" default:"gpt-3.5-turbo"`
	PaidModel    string        `envconfig:"GENERATION_PAID_MODEL" default:"gpt-4o"`
	MaxTokens    int           `envconfig:"GENERATION_MAX_TOKENS" default:"700"`
	Temperature  float32       `envconfig:"GENERATION_TEMPERATURE" default:"0.7"`
	Timeout      time.Duration `envconfig:"GENERATION_TIMEOUT" default:"60s"`
}

// AuthConfig holds token signing configuration.
type AuthConfig struct {
	JWTSecret SecretString  `envconfig:"JWT_SECRET" validate:"required,min=32"`
	TokenTTL  time.Duration `envconfig:"AUTH_TOKEN_TTL" default:"1h"`
}

// SecurityConfig holds CORS settings.
type SecurityConfig struct {
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}
