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

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/blnkfinance/escrow"
	"github.com/blnkfinance/escrow/config"
	"github.com/blnkfinance/escrow/database"
	"github.com/blnkfinance/escrow/internal/notification"
)

// Escrow is the CLI application, wrapping the root cobra command.
type Escrow struct {
	cmd *cobra.Command
}

// escrowInstance carries the service and configuration shared by the subcommands.
type escrowInstance struct {
	escrow *escrow.Escrow
	cnf    *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and builds the escrow service before any command runs.
func preRun(app *escrowInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newEscrow, err := setupEscrow(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.escrow = newEscrow
		app.cnf = cnf
		return nil
	}
}

// setupEscrow connects to the store and wires redis locking and the task
// queue when redis is configured.
func setupEscrow(cfg *config.Configuration) (*escrow.Escrow, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newEscrow, err := escrow.NewEscrowFromConfig(db, cfg)
	if err != nil {
		return nil, fmt.Errorf("error creating escrow: %v", err)
	}
	return newEscrow, nil
}

// NewCLI builds the root command and its start, workers, migrate, ledger and config subcommands.
func NewCLI() *Escrow {
	var configFile string
	e := &escrowInstance{}

	var rootCmd = &cobra.Command{
		Use:   "escrow",
		Short: "Escrow service for retailer and wholesaler orders",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./escrow.json", "Configuration file for the escrow service")
	rootCmd.PersistentPreRunE = preRun(e, &configFile)

	rootCmd.AddCommand(serverCommands(e))
	rootCmd.AddCommand(workerCommands(e))
	rootCmd.AddCommand(migrateCommands(e))
	rootCmd.AddCommand(ledgerCommands(e))
	rootCmd.AddCommand(configCommands())

	return &Escrow{cmd: rootCmd}
}

func (w Escrow) executeCLI() {
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
