package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"charterops.org/internal/access"
)

var (
	periodYear   int
	periodEntity string
	periodBy     string
	periodAllow  []string
	periodNotes  string
)

var periodLockCmd = &cobra.Command{
	Use:   "period-lock",
	Short: "Administer fiscal period locks",
}

var periodEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Freeze a fiscal period for an entity type",
	RunE:  runPeriodEnable,
}

var periodDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Reopen a fiscal period for an entity type",
	RunE:  runPeriodDisable,
}

var periodStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the lock state of a fiscal period",
	RunE:  runPeriodStatus,
}

func init() {
	periodLockCmd.PersistentFlags().IntVar(&periodYear, "year", 0, "fiscal year")
	periodLockCmd.PersistentFlags().StringVar(&periodEntity, "entity", "", "entity type (invoices, receipts, payroll)")
	periodEnableCmd.Flags().StringVar(&periodBy, "by", "coordctl", "principal enabling the lock")
	periodEnableCmd.Flags().StringSliceVar(&periodAllow, "allow", nil, "actions left open (default view; pass an empty value to freeze everything)")
	periodEnableCmd.Flags().StringVar(&periodNotes, "notes", "", "reason for the close")
	periodDisableCmd.Flags().StringVar(&periodBy, "by", "coordctl", "principal disabling the lock")

	periodLockCmd.AddCommand(periodEnableCmd, periodDisableCmd, periodStatusCmd)
	rootCmd.AddCommand(periodLockCmd)
}

func requirePeriodKey() error {
	if periodYear == 0 || periodEntity == "" {
		return fmt.Errorf("--year and --entity are required")
	}
	return nil
}

func runPeriodEnable(cmd *cobra.Command, args []string) error {
	if err := requirePeriodKey(); err != nil {
		return err
	}
	env, err := openEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer env.close()

	// --allow="" freezes everything; leaving the flag off defaults to view.
	var allow []access.Action
	if cmd.Flags().Changed("allow") {
		allow = make([]access.Action, 0, len(periodAllow))
	}
	for _, raw := range periodAllow {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		action := access.Action(raw)
		if !access.ValidAction(action) {
			return fmt.Errorf("unknown action %q", raw)
		}
		allow = append(allow, action)
	}
	lock, err := env.periods.EnableLock(cmd.Context(), periodYear, periodEntity, periodBy, allow, periodNotes)
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(lock)
}

func runPeriodDisable(cmd *cobra.Command, args []string) error {
	if err := requirePeriodKey(); err != nil {
		return err
	}
	env, err := openEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer env.close()

	if err := env.periods.DisableLock(cmd.Context(), periodYear, periodEntity, periodBy); err != nil {
		return err
	}
	fmt.Printf("period %d/%s reopened\n", periodYear, periodEntity)
	return nil
}

func runPeriodStatus(cmd *cobra.Command, args []string) error {
	if err := requirePeriodKey(); err != nil {
		return err
	}
	env, err := openEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer env.close()

	status, err := env.periods.Get(cmd.Context(), periodYear, periodEntity)
	if err != nil {
		return err
	}
	if status.Open {
		fmt.Printf("period %d/%s is open\n", periodYear, periodEntity)
		return nil
	}
	return json.NewEncoder(os.Stdout).Encode(status.Lock)
}
