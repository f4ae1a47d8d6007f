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
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5005"

	DefaultFeeReserveLamports   = 5000
	DefaultPollIntervalMs       = 1000
	DefaultMaxPollAttempts      = 30
	DefaultRequestTimeoutSec    = 45
	DefaultWorkerIntervalSec    = 300
	DefaultBatchSize            = 50
	DefaultStuckThresholdSec    = 600
	DefaultReconcileIntervalSec = 600
	DefaultExpiryWindowSec      = 300
	DefaultLedgerDecimals       = 9

	// PersistTimeoutSec bounds the store writes that record a payout outcome.
	PersistTimeoutSec = 10
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"PRIZEPAY_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"PRIZEPAY_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"PRIZEPAY_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"PRIZEPAY_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"PRIZEPAY_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"PRIZEPAY_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"PRIZEPAY_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"PRIZEPAY_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"PRIZEPAY_REDIS_SKIP_TLS_VERIFY"`
}

// LedgerConfig points at the Solana RPC node and the treasury that funds payouts.
type LedgerConfig struct {
	RPCEndpoint        string `json:"rpc_endpoint" envconfig:"PRIZEPAY_LEDGER_RPC_ENDPOINT"`
	TreasuryAddress    string `json:"treasury_address" envconfig:"PRIZEPAY_LEDGER_TREASURY_ADDRESS"`
	TreasuryPrivateKey string `json:"treasury_private_key" envconfig:"PRIZEPAY_LEDGER_TREASURY_PRIVATE_KEY"`
	Commitment         string `json:"commitment" envconfig:"PRIZEPAY_LEDGER_COMMITMENT"`
	Decimals           int32  `json:"decimals" envconfig:"PRIZEPAY_LEDGER_DECIMALS"`
	RPCTimeoutSec      int    `json:"rpc_timeout_sec" envconfig:"PRIZEPAY_LEDGER_RPC_TIMEOUT_SEC"`
}

type PayoutConfig struct {
	FeeReserveLamports   uint64 `json:"fee_reserve_lamports" envconfig:"PRIZEPAY_PAYOUT_FEE_RESERVE_LAMPORTS"`
	PollIntervalMs       int    `json:"poll_interval_ms" envconfig:"PRIZEPAY_PAYOUT_POLL_INTERVAL_MS"`
	MaxPollAttempts      int    `json:"max_poll_attempts" envconfig:"PRIZEPAY_PAYOUT_MAX_POLL_ATTEMPTS"`
	RequestTimeoutSec    int    `json:"request_timeout_sec" envconfig:"PRIZEPAY_PAYOUT_REQUEST_TIMEOUT_SEC"`
	WorkerIntervalSec    int    `json:"worker_interval_sec" envconfig:"PRIZEPAY_PAYOUT_WORKER_INTERVAL_SEC"`
	BatchSize            int    `json:"batch_size" envconfig:"PRIZEPAY_PAYOUT_BATCH_SIZE"`
	SerializeSubmissions bool   `json:"serialize_submissions" envconfig:"PRIZEPAY_PAYOUT_SERIALIZE_SUBMISSIONS"`
	StuckThresholdSec    int    `json:"stuck_threshold_sec" envconfig:"PRIZEPAY_PAYOUT_STUCK_THRESHOLD_SEC"`
	ReconcileIntervalSec int    `json:"reconcile_interval_sec" envconfig:"PRIZEPAY_PAYOUT_RECONCILE_INTERVAL_SEC"`
	ExpiryWindowSec      int    `json:"expiry_window_sec" envconfig:"PRIZEPAY_PAYOUT_EXPIRY_WINDOW_SEC"`
}

// TreasuryConfig holds the alerting thresholds, in SOL, for the treasury balance.
type TreasuryConfig struct {
	NoticeBalance   decimal.Decimal            `json:"notice_balance" envconfig:"PRIZEPAY_TREASURY_NOTICE_BALANCE"`
	WarningBalance  decimal.Decimal            `json:"warning_balance" envconfig:"PRIZEPAY_TREASURY_WARNING_BALANCE"`
	CriticalBalance decimal.Decimal            `json:"critical_balance" envconfig:"PRIZEPAY_TREASURY_CRITICAL_BALANCE"`
	PrizeSizes      map[string]decimal.Decimal `json:"prize_sizes" ignored:"true"`
}

type QueueConfig struct {
	WebhookQueue   string `json:"webhook_queue" envconfig:"PRIZEPAY_QUEUE_WEBHOOK_QUEUE"`
	MonitoringPort string `json:"monitoring_port" envconfig:"PRIZEPAY_QUEUE_MONITORING_PORT"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"PRIZEPAY_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"PRIZEPAY_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"PRIZEPAY_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"PRIZEPAY_SLACK_WEBHOOK_URL"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url" envconfig:"PRIZEPAY_WEBHOOK_URL"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName     string           `json:"project_name" envconfig:"PRIZEPAY_PROJECT_NAME"`
	EnableTelemetry bool             `json:"enable_telemetry" envconfig:"PRIZEPAY_ENABLE_TELEMETRY"`
	Server          ServerConfig     `json:"server"`
	DataSource      DataSourceConfig `json:"data_source"`
	Redis           RedisConfig      `json:"redis"`
	Ledger          LedgerConfig     `json:"ledger"`
	Payout          PayoutConfig     `json:"payout"`
	Treasury        TreasuryConfig   `json:"treasury"`
	Queue           QueueConfig      `json:"queue"`
	Notification    Notification     `json:"notification"`
	RateLimit       RateLimitConfig  `json:"rate_limit"`
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
	err = envconfig.Process("prizepay", &cnf)
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
		return nil, errors.New("config not loaded from file. Create a json file called prizepay.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Prizepay"
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Ledger.RPCEndpoint = strings.TrimSpace(cnf.Ledger.RPCEndpoint)
	cnf.Ledger.TreasuryAddress = strings.TrimSpace(cnf.Ledger.TreasuryAddress)
	cnf.Ledger.TreasuryPrivateKey = strings.TrimSpace(cnf.Ledger.TreasuryPrivateKey)

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Ledger.RPCEndpoint == "" {
		log.Println("Error: Ledger RPC endpoint is empty. It's a required field.")
		return errors.New("ledger RPC endpoint is required")
	}

	if cnf.Ledger.TreasuryAddress == "" {
		log.Println("Error: Treasury address is empty. It's a required field.")
		return errors.New("treasury address is required")
	}

	if cnf.Payout.SerializeSubmissions && cnf.Redis.Dns == "" {
		return errors.New("redis DNS is required when payout.serialize_submissions is enabled")
	}

	// Set default value for Port if it's empty
	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Server.SecretKey == "" {
		log.Println("Warning: Server secret key is empty. Payout creation is refused until it is set.")
	}

	cnf.setLedgerDefaults()
	cnf.setPayoutDefaults()
	cnf.setTreasuryDefaults()

	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "payout_webhooks"
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5006"
	}

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

	// Set default cleanup interval if not specified
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

func (cnf *Configuration) setLedgerDefaults() {
	if cnf.Ledger.Commitment == "" {
		cnf.Ledger.Commitment = "confirmed"
	}
	if cnf.Ledger.Decimals == 0 {
		cnf.Ledger.Decimals = DefaultLedgerDecimals
	}
	if cnf.Ledger.RPCTimeoutSec == 0 {
		cnf.Ledger.RPCTimeoutSec = 30
	}
}

func (cnf *Configuration) setPayoutDefaults() {
	p := &cnf.Payout
	if p.FeeReserveLamports == 0 {
		p.FeeReserveLamports = DefaultFeeReserveLamports
	}
	if p.PollIntervalMs <= 0 {
		p.PollIntervalMs = DefaultPollIntervalMs
	}
	if p.MaxPollAttempts <= 0 {
		p.MaxPollAttempts = DefaultMaxPollAttempts
	}
	if p.RequestTimeoutSec <= 0 {
		p.RequestTimeoutSec = DefaultRequestTimeoutSec
	}
	if p.WorkerIntervalSec <= 0 {
		p.WorkerIntervalSec = DefaultWorkerIntervalSec
	}
	if p.BatchSize <= 0 {
		p.BatchSize = DefaultBatchSize
	}
	if p.StuckThresholdSec <= 0 {
		p.StuckThresholdSec = DefaultStuckThresholdSec
	}
	if p.ReconcileIntervalSec <= 0 {
		p.ReconcileIntervalSec = DefaultReconcileIntervalSec
	}
	if p.ExpiryWindowSec <= 0 {
		p.ExpiryWindowSec = DefaultExpiryWindowSec
	}

	// The poll loop must fit inside the per-request timeout or it can never run to the bound.
	minTimeout := (p.PollIntervalMs*p.MaxPollAttempts)/1000 + 5
	if p.RequestTimeoutSec < minTimeout {
		log.Printf("Warning: Payout request timeout %ds is shorter than the confirmation window. Raising it to %ds", p.RequestTimeoutSec, minTimeout)
		p.RequestTimeoutSec = minTimeout
	}

	// A claim younger than one full execution is still owned by a worker.
	minStuck := p.RequestTimeoutSec + PersistTimeoutSec + 1
	if p.StuckThresholdSec < minStuck {
		log.Printf("Warning: Payout stuck threshold %ds does not cover a full execution. Raising it to %ds", p.StuckThresholdSec, minStuck)
		p.StuckThresholdSec = minStuck
	}
}

func (cnf *Configuration) setTreasuryDefaults() {
	t := &cnf.Treasury
	if t.NoticeBalance.IsZero() {
		t.NoticeBalance = decimal.NewFromInt(2)
	}
	if t.WarningBalance.IsZero() {
		t.WarningBalance = decimal.NewFromInt(1)
	}
	if t.CriticalBalance.IsZero() {
		t.CriticalBalance = decimal.RequireFromString("0.5")
	}
	if len(t.PrizeSizes) == 0 {
		t.PrizeSizes = map[string]decimal.Decimal{
			"sol_gem_small":  decimal.RequireFromString("0.025"),
			"sol_gem_medium": decimal.RequireFromString("0.1"),
			"sol_gem_large":  decimal.RequireFromString("0.25"),
		}
	}
}

// PollInterval is the wait between two confirmation status checks.
func (p PayoutConfig) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalMs) * time.Millisecond
}

func (p PayoutConfig) RequestTimeout() time.Duration {
	return time.Duration(p.RequestTimeoutSec) * time.Second
}

func (p PayoutConfig) WorkerInterval() time.Duration {
	return time.Duration(p.WorkerIntervalSec) * time.Second
}

func (p PayoutConfig) StuckThreshold() time.Duration {
	return time.Duration(p.StuckThresholdSec) * time.Second
}

func (p PayoutConfig) ReconcileInterval() time.Duration {
	return time.Duration(p.ReconcileIntervalSec) * time.Second
}

// ExpiryWindow is how long after submission an unseen transfer can still land.
func (p PayoutConfig) ExpiryWindow() time.Duration {
	return time.Duration(p.ExpiryWindowSec) * time.Second
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
