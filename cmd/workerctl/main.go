// Copyright 2025 Jinn Network
//
// workerctl is the operator-facing CLI surface (spec §6 "CLI surface"):
// status, sync, list, help. It talks to the same durable ledger the worker
// process writes to, not to a running worker over HTTP, so it keeps working
// for maintenance even while the worker is stopped.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/Jinn-Network/jinn-node-sub004/pkg/database"
	"github.com/Jinn-Network/jinn-node-sub004/pkg/domain"
	"github.com/Jinn-Network/jinn-node-sub004/pkg/gitops"
)

// cliConfig is workerctl's own, deliberately narrow configuration: only the
// overrides spec §6 documents, read directly from the environment rather
// than through pkg/config's full Validate pass (workerctl has no chain or
// agent dependencies to validate).
type cliConfig struct {
	workspacePath string // WORKSPACE_PATH
	repoURL       string // REPO_URL
	sshHostAlias  string // SSH_HOST_ALIAS
	gatewayURL    string // IPFS_GATEWAY_URL
	databaseURL   string // DATABASE_URL
}

func loadCLIConfig() cliConfig {
	return cliConfig{
		workspacePath: envOr("WORKSPACE_PATH", "./data/workspace"),
		repoURL:       os.Getenv("REPO_URL"),
		sshHostAlias:  os.Getenv("SSH_HOST_ALIAS"),
		gatewayURL:    os.Getenv("IPFS_GATEWAY_URL"),
		databaseURL:   os.Getenv("DATABASE_URL"),
	}
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := log.New(os.Stderr, "[workerctl] ", 0)

	if len(os.Args) < 2 {
		printHelp()
		os.Exit(1)
	}

	cfg := loadCLIConfig()
	ctx := context.Background()

	var err error
	switch os.Args[1] {
	case "status":
		err = runStatus(ctx, cfg)
	case "sync":
		err = runSync(ctx, cfg)
	case "list":
		err = runList(ctx, cfg)
	case "help", "-h", "--help":
		printHelp()
		return
	default:
		logger.Printf("unknown command %q", os.Args[1])
		printHelp()
		os.Exit(1)
	}

	if err != nil {
		logger.Printf("%v", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println(`workerctl: operator CLI for the jinn compute worker

Usage:
  workerctl <command>

Commands:
  status    Show claim-lease and counter summary from the durable ledger
  sync      Clone or fetch the configured repository into the workspace
  list      List every claim lease recorded in the durable ledger
  help      Show this help message

Environment overrides (all optional):
  WORKSPACE_PATH     Local git workspace root (default ./data/workspace)
  REPO_URL           Repository to sync (required for "sync")
  SSH_HOST_ALIAS     Rewrite git@github.com to this alias over SSH
  IPFS_GATEWAY_URL   Content store gateway, reported by "status"
  DATABASE_URL       Postgres DSN for the durable ledger (required for
                     "status" and "list")`)
}

func openDatabase(cfg cliConfig) (*database.Client, error) {
	if cfg.databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set; this worker has no durable ledger to query")
	}
	return database.NewClient(cfg.databaseURL)
}

func runStatus(ctx context.Context, cfg cliConfig) error {
	client, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	leases := database.NewLeaseRepository(client)
	all, err := leases.List(ctx)
	if err != nil {
		return fmt.Errorf("list claim leases: %w", err)
	}

	var delivered, pending int
	for _, lease := range all {
		if lease.Delivered {
			delivered++
		} else {
			pending++
		}
	}

	counters := database.NewCounterRepository(client)
	idleCycles, err := counters.Get(ctx, "idle_cycles")
	if err != nil {
		return fmt.Errorf("read idle_cycles counter: %w", err)
	}
	processedJobs, err := counters.Get(ctx, "processed_jobs")
	if err != nil {
		return fmt.Errorf("read processed_jobs counter: %w", err)
	}

	fmt.Printf("content gateway:  %s\n", orNone(cfg.gatewayURL))
	fmt.Printf("workspace:        %s\n", cfg.workspacePath)
	fmt.Printf("claim leases:     %d total, %d delivered, %d pending\n", len(all), delivered, pending)
	fmt.Printf("processed jobs:   %d\n", processedJobs)
	fmt.Printf("idle cycles:      %d\n", idleCycles)
	return nil
}

func runList(ctx context.Context, cfg cliConfig) error {
	client, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	leases := database.NewLeaseRepository(client)
	all, err := leases.List(ctx)
	if err != nil {
		return fmt.Errorf("list claim leases: %w", err)
	}
	if len(all) == 0 {
		fmt.Println("no claim leases recorded")
		return nil
	}
	for _, lease := range all {
		fmt.Printf("%s  claimed=%s  delivered=%t%s\n",
			lease.RequestID,
			lease.ClaimedAt.Format(time.RFC3339),
			lease.Delivered,
			deliveredAtSuffix(lease.DeliveredAt),
		)
	}
	return nil
}

func deliveredAtSuffix(t sql.NullTime) string {
	if !t.Valid {
		return ""
	}
	return "  delivered_at=" + t.Time.Format(time.RFC3339)
}

// runSync clones REPO_URL into the configured workspace if absent, or
// fetches it if present, reusing C7's git sub-pipeline (spec §4.6 "Clone if
// absent, fetch if present") as an ad hoc operator maintenance action
// rather than a job-scoped step.
func runSync(ctx context.Context, cfg cliConfig) error {
	if cfg.repoURL == "" {
		return fmt.Errorf("REPO_URL is not set; nothing to sync")
	}
	if err := gitops.ValidateRemote(cfg.repoURL); err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.workspacePath, 0o755); err != nil {
		return fmt.Errorf("create workspace %s: %w", cfg.workspacePath, err)
	}

	svc := gitops.New(cfg.workspacePath, cfg.sshHostAlias)
	dir, err := svc.EnsureClone(ctx, domain.CodeMetadata{RepositoryURL: cfg.repoURL})
	if err != nil {
		return fmt.Errorf("sync %s: %w", cfg.repoURL, err)
	}
	fmt.Printf("synced %s into %s\n", cfg.repoURL, dir)
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "(not configured)"
	}
	return s
}
