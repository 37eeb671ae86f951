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
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/blnkfinance/escrow"
	"github.com/blnkfinance/escrow/model"
)

// operator is the principal the CLI acts as.
var operator = model.Principal{ID: "cli", Role: model.RoleAdmin}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		log.Fatalf("Error printing result: %v\n", err)
	}
	fmt.Println(string(data))
}

// ledgerCommands groups operator commands over the ledger and the release sweep.
func ledgerCommands(e *escrowInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "inspect the escrow ledger",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "balance",
		Short: "print the escrow account balance",
		Run: func(cmd *cobra.Command, args []string) {
			balance, err := e.escrow.GetEscrowBalance(context.Background(), operator)
			if err != nil {
				log.Fatal(err)
			}
			printJSON(balance)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "entries [transaction_ref]",
		Short: "print the ledger entries of a transaction",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			entries, err := e.escrow.GetTransactionLedger(context.Background(), operator, args[0])
			if err != nil {
				log.Fatal(err)
			}
			printJSON(entries)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "run one release sweep now",
		Run: func(cmd *cobra.Command, args []string) {
			printJSON(escrow.NewReleaseScheduler(e.escrow, 0).RunOnce(context.Background()))
		},
	})

	return cmd
}
