package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Push unsynced local records to the ledger",
	Long: `Push all unsynced sessions, cards, and drills to your ledger
namespace as one atomic commit. Tables are provisioned on first use.

Local records stay queryable whether or not the push succeeds; a failed
push leaves them unsynced for the next attempt.`,
	Run: func(cmd *cobra.Command, args []string) {
		eng, cfg, err := openEngine()
		if err != nil {
			fatalf("%v", err)
		}
		defer eng.Close()

		conn, err := dialLedger(cfg)
		if err != nil {
			fatalf("%v", err)
		}
		defer conn.Close()

		result, err := eng.SyncToLedger(context.Background(), conn)
		if err != nil {
			fatalf("sync failed: %v", err)
		}
		if result.SyncedSessions == 0 && result.SyncedCards == 0 && result.SyncedDrills == 0 {
			fmt.Println("Already up to date.")
			return
		}
		fmt.Printf("Synced %d sessions, %d cards, %d drills\n",
			result.SyncedSessions, result.SyncedCards, result.SyncedDrills)
	},
}

var importForce bool

var importCmd = &cobra.Command{
	Use:     "import",
	GroupID: "sync",
	Short:   "Rebuild local state from the ledger",
	Long: `Replace all local records with your practice history from the
ledger. Use this to recover on a new device.

Unsynced local changes are discarded, so the command refuses to run
while changes are pending unless --force is given.`,
	Run: func(cmd *cobra.Command, args []string) {
		eng, cfg, err := openEngine()
		if err != nil {
			fatalf("%v", err)
		}
		defer eng.Close()

		ctx := context.Background()
		if !importForce {
			status, err := eng.GetSyncStatus(ctx)
			if err != nil {
				fatalf("%v", err)
			}
			if status.PendingChanges > 0 {
				fatalf("%d unsynced local changes would be lost; sync first or pass --force",
					status.PendingChanges)
			}
		}

		conn, err := dialLedger(cfg)
		if err != nil {
			fatalf("%v", err)
		}
		defer conn.Close()

		result, err := eng.ImportFromLedger(ctx, conn)
		if err != nil {
			fatalf("import failed: %v", err)
		}
		fmt.Printf("Imported %d sessions, %d cards, %d drills\n",
			result.ImportedSessions, result.ImportedCards, result.ImportedDrills)
	},
}

var remoteCmd = &cobra.Command{
	Use:     "remote",
	GroupID: "sync",
	Short:   "Inspect and provision ledger tables",
}

var remoteCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check whether the ledger holds data for this address",
	Run: func(cmd *cobra.Command, args []string) {
		eng, cfg, err := openEngine()
		if err != nil {
			fatalf("%v", err)
		}
		defer eng.Close()

		conn, err := dialLedger(cfg)
		if err != nil {
			fatalf("%v", err)
		}
		defer conn.Close()

		has, err := eng.HasRemoteData(context.Background(), conn, conn.Address())
		if err != nil {
			fatalf("%v", err)
		}
		if has {
			fmt.Printf("Ledger has data for %s. Run 'vl import' to recover it.\n", conn.Address())
		} else {
			fmt.Printf("No ledger data for %s yet.\n", conn.Address())
		}
	},
}

var remoteProvisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Create this address's ledger tables ahead of the first sync",
	Run: func(cmd *cobra.Command, args []string) {
		eng, cfg, err := openEngine()
		if err != nil {
			fatalf("%v", err)
		}
		defer eng.Close()

		conn, err := dialLedger(cfg)
		if err != nil {
			fatalf("%v", err)
		}
		defer conn.Close()

		reg, err := eng.ProvisionRemoteTables(context.Background(), conn)
		if err != nil {
			fatalf("provisioning failed: %v", err)
		}
		fmt.Printf("Provisioned tables for %s:\n", reg.Owner)
		fmt.Printf("  %s\n  %s\n  %s\n", reg.SessionsTable, reg.CardsTable, reg.DrillsTable)
	},
}

func init() {
	importCmd.Flags().BoolVar(&importForce, "force", false, "discard unsynced local changes")
	remoteCmd.AddCommand(remoteCheckCmd, remoteProvisionCmd)
	rootCmd.AddCommand(syncCmd, importCmd, remoteCmd)
}
