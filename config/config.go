/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5011"

	DefaultMerchantAccountID      = "default-merchant"
	DefaultCurrency               = "USD"
	DefaultReleaseIntervalSeconds = 300
	DefaultLockTimeoutSeconds     = 30
	DefaultLockWaitSeconds        = 5
	DefaultNotificationQueue      = "escrow_notifications"
	DefaultReleaseQueue           = "escrow_releases"
	DefaultMonitoringPort         = "5014"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"ESCROW_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"ESCROW_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"ESCROW_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"ESCROW_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"ESCROW_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"ESCROW_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"ESCROW_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"ESCROW_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"ESCROW_REDIS_SKIP_TLS_VERIFY"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"ESCROW_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"ESCROW_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"ESCROW_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"ESCROW_SLACK_WEBHOOK_URL"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url" envconfig:"ESCROW_WEBHOOK_URL"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type QueueConfig struct {
	NotificationQueue string `json:"notification_queue" envconfig:"ESCROW_NOTIFICATION_QUEUE"`
	ReleaseQueue      string `json:"release_queue" envconfig:"ESCROW_RELEASE_QUEUE"`
	MaxRetryAttempts  int    `json:"max_retry_attempts" envconfig:"ESCROW_QUEUE_MAX_RETRY_ATTEMPTS"`
	MonitoringPort    string `json:"monitoring_port" envconfig:"ESCROW_QUEUE_MONITORING_PORT"`
}

// EscrowConfig holds the settings of the escrow core itself.
type EscrowConfig struct {
	MerchantAccountID      string `json:"merchant_account_id" envconfig:"ESCROW_MERCHANT_ACCOUNT_ID"`
	DefaultCurrency        string `json:"default_currency" envconfig:"ESCROW_DEFAULT_CURRENCY"`
	ReleaseIntervalSeconds int    `json:"release_interval_seconds" envconfig:"ESCROW_RELEASE_INTERVAL_SECONDS"`
	LockTimeoutSeconds     int    `json:"lock_timeout_seconds" envconfig:"ESCROW_LOCK_TIMEOUT_SECONDS"`
	LockWaitSeconds        int    `json:"lock_wait_seconds" envconfig:"ESCROW_LOCK_WAIT_SECONDS"`
}

type OtelExporter struct {
	OtelExporterOtlpProtocol string `json:"otel_exporter_otlp_protocol" envconfig:"OTEL_EXPORTER_OTLP_PROTOCOL"`
	OtelExporterOtlpEndpoint string `json:"otel_exporter_otlp_endpoint" envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OtelExporterOtlpHeaders  string `json:"otel_exporter_otlp_headers" envconfig:"OTEL_EXPORTER_OTLP_HEADERS"`
}

type Configuration struct {
	ProjectName     string           `json:"project_name" envconfig:"ESCROW_PROJECT_NAME"`
	EnableTelemetry bool             `json:"enable_telemetry" envconfig:"ESCROW_ENABLE_TELEMETRY"`
	Server          ServerConfig     `json:"server"`
	DataSource      DataSourceConfig `json:"data_source"`
	Redis           RedisConfig      `json:"redis"`
	Notification    Notification     `json:"notification"`
	RateLimit       RateLimitConfig  `json:"rate_limit"`
	Queue           QueueConfig      `json:"queue"`
	Escrow          EscrowConfig     `json:"escrow"`
	OtelExporter    OtelExporter     `json:"otel_exporter"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("escrow", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called escrow.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Escrow Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	cnf.Escrow.applyDefaults()
	cnf.Queue.applyDefaults()

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

func (e *EscrowConfig) applyDefaults() {
	if e.MerchantAccountID == "" {
		e.MerchantAccountID = DefaultMerchantAccountID
	}
	if e.DefaultCurrency == "" {
		e.DefaultCurrency = DefaultCurrency
	}
	e.DefaultCurrency = strings.ToUpper(strings.TrimSpace(e.DefaultCurrency))
	if e.ReleaseIntervalSeconds <= 0 {
		e.ReleaseIntervalSeconds = DefaultReleaseIntervalSeconds
	}
	if e.LockTimeoutSeconds <= 0 {
		e.LockTimeoutSeconds = DefaultLockTimeoutSeconds
	}
	if e.LockWaitSeconds <= 0 {
		e.LockWaitSeconds = DefaultLockWaitSeconds
	}
}

func (q *QueueConfig) applyDefaults() {
	if q.NotificationQueue == "" {
		q.NotificationQueue = DefaultNotificationQueue
	}
	if q.ReleaseQueue == "" {
		q.ReleaseQueue = DefaultReleaseQueue
	}
	if q.MaxRetryAttempts <= 0 {
		q.MaxRetryAttempts = 5
	}
	if q.MonitoringPort == "" {
		q.MonitoringPort = DefaultMonitoringPort
	}
}

// SetOtelExporterEnvs exports the configured OTLP settings so the OpenTelemetry
// SDK picks them up.
func SetOtelExporterEnvs() error {
	cnf, err := Fetch()
	if err != nil {
		return err
	}
	envs := map[string]string{
		"OTEL_EXPORTER_OTLP_PROTOCOL": cnf.OtelExporter.OtelExporterOtlpProtocol,
		"OTEL_EXPORTER_OTLP_ENDPOINT": cnf.OtelExporter.OtelExporterOtlpEndpoint,
		"OTEL_EXPORTER_OTLP_HEADERS":  cnf.OtelExporter.OtelExporterOtlpHeaders,
	}
	for k, v := range envs {
		if v == "" {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return err
		}
	}
	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	mockConfig.Escrow.applyDefaults()
	mockConfig.Queue.applyDefaults()
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
