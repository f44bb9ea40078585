// Command collect-admin runs one-off collection maintenance against the database.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"vodcms-collect-api/config"
	"vodcms-collect-api/middleware"
	"vodcms-collect-api/services"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envFlag := &cli.StringFlag{Name: "env", Usage: "path to the .env file", Value: ".env"}

	app := &cli.Command{
		Name:  "collect-admin",
		Usage: "collection engine maintenance",
		Flags: []cli.Flag{envFlag},
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "create or update the collect tables",
				Action: migrateAction,
			},
			{
				Name:   "enqueue-due",
				Usage:  "create runs for scheduled jobs that are due",
				Flags:  []cli.Flag{&cli.StringFlag{Name: "lock-name", Usage: "MySQL advisory lock name (empty to disable)", Value: services.DefaultSchedulerLockID}},
				Action: enqueueDueAction,
			},
			{
				Name:  "reap",
				Usage: "fail running runs that stopped reporting",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "stale-seconds", Usage: "inactivity threshold", Value: services.DefaultStaleSeconds},
					&cli.IntFlag{Name: "limit", Usage: "maximum runs per pass", Value: services.DefaultReapLimit},
				},
				Action: reapAction,
			},
			{
				Name:  "create-run",
				Usage: "start a run of a job",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "job-id", Usage: "collect job id", Required: true},
					&cli.StringFlag{Name: "source-ids", Usage: "comma-separated source ids (default: the job's sources)"},
				},
				Action: createRunAction,
			},
			{
				Name:   "cancel-run",
				Usage:  "fail a pending or running run",
				Flags:  []cli.Flag{runIDFlag()},
				Action: cancelRunAction,
			},
			{
				Name:   "task-stats",
				Usage:  "print task counters of a run as JSON",
				Flags:  []cli.Flag{runIDFlag()},
				Action: taskStatsAction,
			},
			{
				Name:   "run-collector",
				Usage:  "invoke the collector binary once",
				Action: runCollectorAction,
			},
			{
				Name:  "issue-token",
				Usage: "sign an admin API token",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "subject", Usage: "token subject", Value: "operator"},
					&cli.StringFlag{Name: "role", Usage: "role claim", Value: middleware.RoleAdmin},
					&cli.DurationFlag{Name: "ttl", Usage: "token lifetime", Value: 24 * time.Hour},
				},
				Action: issueTokenAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatalf("collect-admin: %v", err)
	}
}

func runIDFlag() cli.Flag {
	return &cli.IntFlag{Name: "run-id", Usage: "collect run id", Required: true}
}

func loadEnv(cmd *cli.Command) {
	if err := godotenv.Load(cmd.String("env")); err != nil {
		log.Println("No .env file found, using environment variables")
	}
}

func connect(cmd *cli.Command) *services.CollectRunService {
	loadEnv(cmd)
	config.ReloadMailerConfig()
	config.InitDB()
	runs := services.NewCollectRunService(config.DB)
	if n := services.NewMailRunNotifier(); n != nil {
		runs.WithNotifier(n)
	}
	return runs
}

func migrateAction(_ context.Context, cmd *cli.Command) error {
	loadEnv(cmd)
	config.InitDB()
	return config.AutoMigrate(config.DB)
}

func enqueueDueAction(ctx context.Context, cmd *cli.Command) error {
	runs := connect(cmd)
	jobs := services.NewCollectJobService(config.DB, runs)
	scheduler := services.NewScheduler(config.DB, runs, jobs, nil, config.LoadCollector(), cmd.String("lock-name"))
	scheduler.Tick(ctx, time.Now())
	return nil
}

func reapAction(ctx context.Context, cmd *cli.Command) error {
	runs := connect(cmd)
	ids, err := runs.ReapStaleRuns(ctx, int(cmd.Int("stale-seconds")), int(cmd.Int("limit")))
	if err != nil {
		return err
	}
	fmt.Printf("Reaped %d run(s): %v\n", len(ids), ids)
	return nil
}

func createRunAction(ctx context.Context, cmd *cli.Command) error {
	runs := connect(cmd)

	var sourceIDs []uint
	for _, part := range strings.Split(cmd.String("source-ids"), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id64, err := strconv.ParseUint(part, 10, 64)
		if err != nil || id64 == 0 {
			return fmt.Errorf("invalid source id '%s'", part)
		}
		sourceIDs = append(sourceIDs, uint(id64))
	}

	run, err := runs.CreateRun(ctx, uint(cmd.Int("job-id")), sourceIDs)
	if err != nil {
		return err
	}
	fmt.Printf("Run %d created (status=%d)\n", run.ID, run.Status)
	if run.Message != "" {
		fmt.Println(run.Message)
	}
	return nil
}

func cancelRunAction(ctx context.Context, cmd *cli.Command) error {
	runs := connect(cmd)
	runID := uint(cmd.Int("run-id"))
	if err := runs.CancelRun(ctx, runID); err != nil {
		if errors.Is(err, services.ErrCollectRunFinished) {
			return fmt.Errorf("run %d already finished", runID)
		}
		return err
	}
	fmt.Printf("Run %d cancelled\n", runID)
	return nil
}

func taskStatsAction(ctx context.Context, cmd *cli.Command) error {
	runs := connect(cmd)
	stats, err := runs.Tasks().Stats(ctx, uint(cmd.Int("run-id")))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}

func runCollectorAction(ctx context.Context, cmd *cli.Command) error {
	runs := connect(cmd)
	runner := services.NewCollectorRunner(runs, config.LoadCollector())
	return runner.RunOnce(ctx)
}

func issueTokenAction(_ context.Context, cmd *cli.Command) error {
	loadEnv(cmd)
	token, err := middleware.IssueToken(cmd.String("subject"), cmd.String("role"), cmd.Duration("ttl"))
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
