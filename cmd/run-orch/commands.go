package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/run-orchestrator/internal/broadcast"
	"github.com/hochfrequenz/run-orchestrator/internal/config"
	"github.com/hochfrequenz/run-orchestrator/internal/domain"
	"github.com/hochfrequenz/run-orchestrator/internal/history"
	"github.com/hochfrequenz/run-orchestrator/internal/pipeline"
	"github.com/hochfrequenz/run-orchestrator/internal/registry"
	"github.com/hochfrequenz/run-orchestrator/internal/runner"
	"github.com/hochfrequenz/run-orchestrator/internal/stage"
	"github.com/hochfrequenz/run-orchestrator/web/api"
)

var (
	submitProject string
	submitType    string
	validateProj  string
	validatePR    int
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestrator server",
		RunE:  runServe,
	}
	rootCmd.AddCommand(serveCmd)

	submitCmd := &cobra.Command{
		Use:   "submit INSTRUCTION",
		Short: "Submit an agent run",
		Args:  cobra.ExactArgs(1),
		RunE:  runSubmit,
	}
	submitCmd.Flags().StringVar(&submitProject, "project", "", "project id (required)")
	submitCmd.Flags().StringVar(&submitType, "type", "regular", "run type: regular, plan or pull-request")
	rootCmd.AddCommand(submitCmd)

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Submit a pull request validation",
		RunE:  runValidate,
	}
	validateCmd.Flags().StringVar(&validateProj, "project", "", "project id (required)")
	validateCmd.Flags().IntVar(&validatePR, "pr", 0, "pull request number (required)")
	rootCmd.AddCommand(validateCmd)

	cancelCmd := &cobra.Command{
		Use:   "cancel RUN",
		Short: "Request cancellation of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  runCancel,
	}
	rootCmd.AddCommand(cancelCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show orchestrator status",
		RunE:  runStatus,
	}
	rootCmd.AddCommand(statusCmd)

	logsCmd := &cobra.Command{
		Use:   "logs ENTITY",
		Short: "Show the log history of a run or pipeline",
		Args:  cobra.ExactArgs(1),
		RunE:  runLogs,
	}
	rootCmd.AddCommand(logsCmd)
}

func loadConfig() (*config.Config, string, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	return cfg, path, err
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, cfgPath, err := loadConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(fileDir(cfg.General.HistoryDB), 0o755); err != nil {
		return err
	}
	hist, err := history.New(cfg.General.HistoryDB)
	if err != nil {
		return fmt.Errorf("opening history db: %w", err)
	}
	defer hist.Close()

	reg := registry.New(cfg.Retention())
	reg.SetArchiver(hist)
	hub := broadcast.NewHub(reg)

	stages := stage.NewRegistry()
	defs, err := stage.LoadDefinitions(cfg.General.ExecutorsFile)
	if err != nil {
		return fmt.Errorf("loading executors: %w", err)
	}
	if err := stage.RegisterCommands(stages, defs); err != nil {
		return err
	}
	if len(defs) > 0 {
		log.Printf("[serve] %d command executors registered", len(defs))
	}

	policy := retryPolicy(cfg)
	run := runner.New(reg, stages, hub, policy)
	pipes := pipeline.New(reg, stages, hub, policy)
	run.SetValidationStarter(pipes)

	sweeper, err := registry.NewSweeper(reg, cfg.General.EvictionSchedule, func(ids []string) {
		for _, id := range ids {
			hub.CloseEntity(id)
		}
	})
	if err != nil {
		return fmt.Errorf("eviction schedule: %w", err)
	}

	watcher, err := config.NewWatcher(cfgPath, func(c *config.Config) {
		reg.SetRetention(c.Retention())
	})
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}

	srv := api.NewServer(reg, run, pipes, hub, cfg.ListenAddr())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error { return watcher.Run(gctx) })

	log.Printf("[serve] listening on %s", cfg.ListenAddr())
	err = g.Wait()

	// Drain driving tasks, then flush everything to the archive.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	run.Shutdown(shutdownCtx)
	pipes.Shutdown(shutdownCtx)
	reg.Shutdown()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func retryPolicy(cfg *config.Config) stage.RetryPolicy {
	policy := stage.DefaultRetryPolicy()
	if cfg.Retry.Attempts > 0 {
		policy.Attempts = cfg.Retry.Attempts
	}
	if cfg.Retry.InitialBackoffSeconds > 0 {
		policy.InitialBackoff = time.Duration(cfg.Retry.InitialBackoffSeconds) * time.Second
	}
	if cfg.Retry.MaxBackoffSeconds > 0 {
		policy.MaxBackoff = time.Duration(cfg.Retry.MaxBackoffSeconds) * time.Second
	}
	return policy
}

func fileDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

func postJSON(path string, payload, reply interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := http.Post(serverURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return errors.New(apiErr.Error)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(reply)
}

func getJSON(path string, reply interface{}) error {
	resp, err := http.Get(serverURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return errors.New(apiErr.Error)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(reply)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	if submitProject == "" {
		return errors.New("--project is required")
	}

	var reply api.SubmitRunResponse
	err := postJSON("/api/runs", api.SubmitRunRequest{
		ProjectID:   submitProject,
		Instruction: args[0],
		RunType:     submitType,
	}, &reply)
	if err != nil {
		return err
	}

	fmt.Printf("Run %s submitted (%s)\n", reply.ID, reply.Status)
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	if validateProj == "" {
		return errors.New("--project is required")
	}
	if validatePR <= 0 {
		return errors.New("--pr is required")
	}

	var reply api.SubmitValidationResponse
	err := postJSON("/api/validations", api.SubmitValidationRequest{
		ProjectID: validateProj,
		PRNumber:  validatePR,
	}, &reply)
	if err != nil {
		return err
	}

	fmt.Printf("Validation %s submitted (%s)\n", reply.ID, reply.Status)
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	var reply api.CancelResponse
	if err := postJSON("/api/runs/"+args[0]+"/cancel", struct{}{}, &reply); err != nil {
		return err
	}
	fmt.Printf("Run %s is %s\n", reply.ID, reply.Status)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	var reply api.StatusResponse
	if err := getJSON("/api/status", &reply); err != nil {
		return err
	}

	fmt.Println("Runs:")
	printCounts(reply.Runs)
	fmt.Println("Pipelines:")
	printCounts(reply.Pipelines)
	fmt.Printf("Subscribers: %d\n", reply.Subscribers)
	return nil
}

func printCounts(counts map[string]int) {
	if len(counts) == 0 {
		fmt.Println("  (none)")
		return
	}
	statuses := make([]string, 0, len(counts))
	for status := range counts {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		fmt.Printf("  %-10s %d\n", status, counts[status])
	}
}

func runLogs(cmd *cobra.Command, args []string) error {
	var snap domain.Snapshot
	if err := getJSON("/api/runs/"+args[0], &snap); err != nil {
		// Fall back to pipelines for pipeline ids.
		if err := getJSON("/api/validations/"+args[0], &snap); err != nil {
			return err
		}
	}

	fmt.Printf("%s %s: %s (%d%%)\n", snap.EntityType, snap.EntityID, snap.Status, snap.Progress)
	for _, entry := range snap.Logs {
		fmt.Printf("%s [%s] %s\n", entry.Timestamp.Format(time.RFC3339), entry.Level, entry.Message)
	}
	return nil
}
