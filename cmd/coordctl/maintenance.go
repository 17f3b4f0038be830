package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	auditEntityType string
	auditEntityID   string
	auditLimit      int
	auditSince      string
)

var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "Record lock maintenance",
}

var locksSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Reclaim expired record lock rows",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.close()
		n, err := env.locks.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("reclaimed %d expired lock rows\n", n)
		return nil
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the audit trail",
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show recent audit entries, newest first",
	RunE:  runAuditTail,
}

func init() {
	locksCmd.AddCommand(locksSweepCmd)
	rootCmd.AddCommand(locksCmd)

	auditTailCmd.Flags().StringVar(&auditEntityType, "entity-type", "", "filter by entity type")
	auditTailCmd.Flags().StringVar(&auditEntityID, "entity-id", "", "filter by entity id")
	auditTailCmd.Flags().IntVar(&auditLimit, "limit", 20, "max entries")
	auditTailCmd.Flags().StringVar(&auditSince, "since", "", "RFC3339 lower bound (ignored with entity filter)")
	auditCmd.AddCommand(auditTailCmd)
	rootCmd.AddCommand(auditCmd)
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	env, err := openEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer env.close()

	enc := json.NewEncoder(os.Stdout)
	if auditEntityType != "" || auditEntityID != "" {
		if auditEntityType == "" || auditEntityID == "" {
			return fmt.Errorf("--entity-type and --entity-id go together")
		}
		entries, err := env.auditStore.ListByEntity(cmd.Context(), auditEntityType, auditEntityID, auditLimit)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	}

	from := time.Time{}
	if auditSince != "" {
		if from, err = time.Parse(time.RFC3339, auditSince); err != nil {
			return fmt.Errorf("invalid --since: %w", err)
		}
	}
	entries, err := env.auditStore.ListByTime(cmd.Context(), from, time.Now().UTC(), auditLimit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}
