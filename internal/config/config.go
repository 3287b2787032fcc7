package config

import (
	"context"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

var ErrEndpointNotConfigured = errors.New("generation endpoint is not configured: set FASTAPI_URL or FASTAPI_URL_PARAMETER")

type ParameterClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

type Config struct {
	ServiceName string
	LogLevel    string

	// Generation endpoint
	Endpoint          string
	EndpointParameter string

	// Optional side effects
	AuditTable     string
	AuditTTLDays   int
	AlertsTopicArn string

	OTLPEndpoint string
}

// Load reads the environment (and a local .env, if any) and resolves the
// generation endpoint. params may be nil when no SSM lookup is wanted.
func Load(ctx context.Context, params ParameterClient) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServiceName:       getEnvOrDefault("SERVICE_NAME", "simplechat"),
		LogLevel:          getEnvOrDefault("LOG_LEVEL", "info"),
		Endpoint:          strings.TrimSpace(os.Getenv("FASTAPI_URL")),
		EndpointParameter: strings.TrimSpace(os.Getenv("FASTAPI_URL_PARAMETER")),
		AuditTable:        strings.TrimSpace(os.Getenv("CHAT_AUDIT_TABLE")),
		AuditTTLDays:      getEnvAsIntOrDefault("CHAT_AUDIT_TTL_DAYS", 30),
		AlertsTopicArn:    strings.TrimSpace(os.Getenv("CHAT_ALERTS_TOPIC_ARN")),
		OTLPEndpoint:      strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
	}

	if cfg.Endpoint == "" && cfg.EndpointParameter != "" {
		if params == nil {
			return nil, errors.Errorf("FASTAPI_URL_PARAMETER=%s set but no SSM client available", cfg.EndpointParameter)
		}
		v, err := resolveParameter(ctx, params, cfg.EndpointParameter)
		if err != nil {
			return nil, err
		}
		cfg.Endpoint = v
	}

	if err := validateEndpoint(cfg.Endpoint); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolveParameter(ctx context.Context, params ParameterClient, name string) (string, error) {
	out, err := params.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", errors.Wrapf(err, "ssm GetParameter %s", name)
	}
	if out.Parameter == nil {
		return "", errors.Errorf("ssm parameter %s has no value", name)
	}
	return strings.TrimSpace(aws.ToString(out.Parameter.Value)), nil
}

func validateEndpoint(raw string) error {
	if raw == "" {
		return ErrEndpointNotConfigured
	}
	u, err := url.Parse(raw)
	if err != nil {
		return errors.Wrap(err, "invalid generation endpoint")
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.Errorf("invalid generation endpoint %q: want an absolute http(s) URL", raw)
	}
	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}
