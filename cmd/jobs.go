package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/valet/internal/config"
	"github.com/nextlevelbuilder/valet/internal/scheduler"
)

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect scheduled jobs",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List jobs in the durable store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobsList()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a job by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobsRemove(args[0])
		},
	})
	return cmd
}

func openJobStore() (*scheduler.Store, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	return scheduler.OpenStore(cfg.Agent.StateDir)
}

func runJobsList() error {
	store, err := openJobStore()
	if err != nil {
		return err
	}
	jobs := store.List()
	if len(jobs) == 0 {
		fmt.Println("no jobs")
		return nil
	}
	for _, job := range jobs {
		state := "enabled"
		if !job.Enabled {
			state = "disabled"
		}
		fmt.Printf("%s  %-20s %-24s %s\n", job.ID, job.Name, job.Schedule.Describe(), state)
		if job.State.NextRunAt > 0 {
			fmt.Printf("    next: %s\n", time.UnixMilli(job.State.NextRunAt).Format(time.RFC3339))
		}
		if job.State.LastRunAt > 0 {
			fmt.Printf("    last: %s (%s)\n",
				time.UnixMilli(job.State.LastRunAt).Format(time.RFC3339), job.State.LastStatus)
		}
		if job.State.LastError != "" {
			fmt.Printf("    error: %s\n", job.State.LastError)
		}
	}
	return nil
}

func runJobsRemove(id string) error {
	store, err := openJobStore()
	if err != nil {
		return err
	}
	removed, err := store.Remove(id)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("no job %s", id)
	}
	fmt.Println("removed", id)
	return nil
}
