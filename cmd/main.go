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

package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/blnkfinance/prizepay"
	"github.com/blnkfinance/prizepay/config"
	"github.com/blnkfinance/prizepay/database"
	"github.com/blnkfinance/prizepay/internal/chain"
	redlock "github.com/blnkfinance/prizepay/internal/lock"
	"github.com/blnkfinance/prizepay/internal/notification"
	redis_db "github.com/blnkfinance/prizepay/internal/redis-db"
)

// Prizepay represents the CLI application, encapsulating the root Cobra command.
type Prizepay struct {
	cmd *cobra.Command
}

// prizepayInstance holds what every command needs once configuration is loaded.
type prizepayInstance struct {
	prizepay *prizepay.Prizepay
	cnf      *config.Configuration
	closers  []func() error
}

func (p *prizepayInstance) close() {
	for _, c := range p.closers {
		if err := c(); err != nil {
			logrus.WithError(err).Warn("error releasing resource")
		}
	}
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads configuration and wires the service before any command runs.
func preRun(app *prizepayInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		if err := setupPrizepay(app, cnf); err != nil {
			notification.New(cnf.Notification.Slack.WebhookUrl).Notify(notification.Alert{
				Title:    "prizepay failed to start",
				Severity: notification.SeverityCritical,
				Message:  err.Error(),
			})
			log.Fatal(err)
		}
		app.cnf = cnf
		return nil
	}
}

// setupPrizepay builds the ledger client around the treasury signer and hands
// both to the service. Without a private key the client can read but not pay.
func setupPrizepay(app *prizepayInstance, cfg *config.Configuration) error {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return fmt.Errorf("error getting datasource: %v", err)
	}

	var treasury *chain.Treasury
	if cfg.Ledger.TreasuryPrivateKey != "" {
		treasury, err = chain.NewTreasury(cfg.Ledger.TreasuryPrivateKey, cfg.Ledger.TreasuryAddress)
		if err != nil {
			return fmt.Errorf("error loading treasury key: %w", err)
		}
	} else {
		logrus.Warn("no treasury private key configured, payouts will be rejected")
	}

	ledger := chain.NewClient(cfg.Ledger.RPCEndpoint, treasury, chain.Options{
		Commitment: cfg.Ledger.Commitment,
		Timeout:    time.Duration(cfg.Ledger.RPCTimeoutSec) * time.Second,
	})

	opts := []prizepay.Option{
		prizepay.WithNotifier(notification.New(cfg.Notification.Slack.WebhookUrl)),
	}

	if cfg.Redis.Dns != "" && cfg.Notification.Webhook.Url != "" {
		connOpt, err := redis_db.AsynqConnOpt(cfg.Redis.Dns, cfg.Redis.SkipTLSVerify)
		if err != nil {
			return fmt.Errorf("error parsing redis DNS: %v", err)
		}
		webhooks := prizepay.NewWebhookQueue(connOpt, cfg.Queue.WebhookQueue)
		app.closers = append(app.closers, webhooks.Close)
		opts = append(opts, prizepay.WithWebhooks(webhooks))
	}

	if cfg.Payout.SerializeSubmissions {
		rdb, err := redis_db.NewRedisClient(cfg.Redis.Dns, cfg.Redis.SkipTLSVerify)
		if err != nil {
			return fmt.Errorf("error connecting to redis: %v", err)
		}
		app.closers = append(app.closers, rdb.Close)
		// the lock outlives the balance and in-flight reads, one broadcast and the reference write
		ttl := 2*time.Duration(cfg.Ledger.RPCTimeoutSec)*time.Second + 2*config.PersistTimeoutSec*time.Second
		opts = append(opts, prizepay.WithSubmissionGate(redlock.NewSubmissionGate(rdb.Client(), cfg.Ledger.TreasuryAddress, ttl, ttl)))
	}

	newPrizepay, err := prizepay.NewPrizepay(db, ledger, cfg.Ledger.TreasuryAddress, opts...)
	if err != nil {
		return fmt.Errorf("error creating prizepay: %v", err)
	}
	app.prizepay = newPrizepay
	return nil
}

// NewCLI creates the command-line interface with the server, workers, migrate,
// balance and reconcile commands.
func NewCLI() *Prizepay {
	var configFile string
	p := &prizepayInstance{}

	var rootCmd = &cobra.Command{
		Use:   "prizepay",
		Short: "Prize payouts from a Solana treasury",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./prizepay.json", "Configuration file for prizepay")
	rootCmd.PersistentPreRunE = preRun(p, &configFile)
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) { p.close() }

	rootCmd.AddCommand(serverCommands(p))
	rootCmd.AddCommand(workerCommands(p))
	rootCmd.AddCommand(migrateCommands(p))
	rootCmd.AddCommand(balanceCommands(p))
	rootCmd.AddCommand(reconcileCommands(p))
	rootCmd.AddCommand(drainCommands(p))
	rootCmd.AddCommand(configCommands())

	return &Prizepay{cmd: rootCmd}
}

func (w Prizepay) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
