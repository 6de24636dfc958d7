package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/clintrovert/trackerbatch/internal/batch"
	"github.com/clintrovert/trackerbatch/internal/config"
	"github.com/clintrovert/trackerbatch/internal/runner"
)

var (
	tasksPath    string
	outputFormat string
	forceWrite   bool
	templatePath string
)

func init() {
	// run command
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Authorize and apply the tasks file",
		RunE:  runTasks,
	}
	runCmd.Flags().StringVar(&tasksPath, "tasks", "", "tasks file (default batch.tasks_file from config)")
	runCmd.Flags().StringVarP(&outputFormat, "output", "o", "text", "report format: text or json")
	rootCmd.AddCommand(runCmd)

	// template-config command
	templateConfigCmd := &cobra.Command{
		Use:   "template-config",
		Short: "Write an example config file",
		RunE:  runTemplateConfig,
	}
	templateConfigCmd.Flags().BoolVar(&forceWrite, "force", false, "overwrite an existing file")
	rootCmd.AddCommand(templateConfigCmd)

	// template-tasks command
	templateTasksCmd := &cobra.Command{
		Use:   "template-tasks",
		Short: "Write an example tasks file",
		RunE:  runTemplateTasks,
	}
	templateTasksCmd.Flags().BoolVar(&forceWrite, "force", false, "overwrite an existing file")
	templateTasksCmd.Flags().StringVar(&templatePath, "path", batch.DefaultTasksFile, "tasks file to write, .yaml for YAML")
	rootCmd.AddCommand(templateTasksCmd)
}

func runTasks(cmd *cobra.Command, _ []string) error {
	if outputFormat != "text" && outputFormat != "json" {
		return fmt.Errorf("unknown output format %q", outputFormat)
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyLogLevel(logger, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := runner.NewRunner(cfg, logger, runner.WithPrompt(cmd.InOrStdin(), cmd.ErrOrStderr()))
	report, runErr := r.Run(ctx, tasksPath)
	if report == nil {
		return runErr
	}

	out := cmd.OutOrStdout()
	if outputFormat == "json" {
		err = report.WriteJSON(out)
	} else {
		err = report.WriteText(out)
	}
	if err != nil {
		return errors.Join(runErr, err)
	}

	if errors.Is(ctx.Err(), context.Canceled) {
		logger.Warn("run interrupted, report covers attempted items only")
	}
	return runErr
}

func runTemplateConfig(cmd *cobra.Command, _ []string) error {
	if err := config.WriteTemplate(configPath, forceWrite); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "config file %s created\n", configPath)
	return nil
}

func runTemplateTasks(cmd *cobra.Command, _ []string) error {
	if err := batch.WriteTemplate(templatePath, forceWrite); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "tasks file %s created\n", templatePath)
	return nil
}
