package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/pitabwire/bugtriage/internal/config"
	"github.com/pitabwire/bugtriage/internal/execution"
	"github.com/pitabwire/bugtriage/model"
)

func repairCmd(configPath *string) *cobra.Command {
	var (
		allActive bool
		dryRun    bool
	)

	cmd := &cobra.Command{
		Use:   "repair [task-id...]",
		Short: "Rebuild execution snapshots from their audit trail",
		Long: `repair replays the audit trail of each named task's execution and
rewrites the snapshot when its step pointer, status, or context disagree
with the trail. With --all-active every active execution is checked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !allActive {
				return errors.New("name at least one task id or pass --all-active")
			}

			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if cfg.Database.Driver != config.DriverPostgres {
				return fmt.Errorf("repair requires the postgres driver, configured %q", cfg.Database.Driver)
			}

			ctx := context.Background()
			st, err := openStores(ctx, cfg.Database, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			r := &repairer{manager: execution.NewManager(st.executions), out: cmd.OutOrStdout(), dryRun: dryRun}
			if allActive {
				return r.allActive(ctx)
			}
			return r.tasks(ctx, args)
		},
	}
	cmd.Flags().BoolVar(&allActive, "all-active", false, "check every active execution")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report drift without rewriting snapshots")
	return cmd
}

type repairer struct {
	manager *execution.Manager
	out     io.Writer
	dryRun  bool
}

func (r *repairer) tasks(ctx context.Context, taskIDs []string) error {
	var errs []error
	for _, taskID := range taskIDs {
		exec, err := r.manager.GetByTask(ctx, taskID)
		if err != nil {
			fmt.Fprintf(r.out, "error   %s: %v\n", taskID, err)
			errs = append(errs, err)
			continue
		}
		if err := r.one(ctx, exec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *repairer) allActive(ctx context.Context) error {
	execs, err := r.manager.Store().FindActive(ctx, execution.Filters{})
	if err != nil {
		return err
	}
	var errs []error
	for _, exec := range execs {
		if err := r.one(ctx, exec); err != nil {
			errs = append(errs, err)
		}
	}
	fmt.Fprintf(r.out, "checked %d active executions\n", len(execs))
	return errors.Join(errs...)
}

func (r *repairer) one(ctx context.Context, exec model.WorkflowExecution) error {
	if r.dryRun {
		trail, err := r.manager.GetAuditTrail(ctx, exec.ID)
		if err != nil {
			fmt.Fprintf(r.out, "error   %s: %v\n", exec.TaskID, err)
			return err
		}
		if drift := execution.Verify(exec, trail); drift != nil {
			fmt.Fprintf(r.out, "drift   %s (%s): %v\n", exec.TaskID, exec.ID, drift)
			return nil
		}
		fmt.Fprintf(r.out, "ok      %s (%s)\n", exec.TaskID, exec.ID)
		return nil
	}

	repaired, changed, err := r.manager.Repair(ctx, exec.ID)
	if err != nil {
		fmt.Fprintf(r.out, "error   %s: %v\n", exec.TaskID, err)
		return err
	}
	if changed {
		fmt.Fprintf(r.out, "fixed   %s (%s) now at %s, %s\n", exec.TaskID, exec.ID, repaired.CurrentStepID, repaired.Status)
		return nil
	}
	fmt.Fprintf(r.out, "ok      %s (%s)\n", exec.TaskID, exec.ID)
	return nil
}
