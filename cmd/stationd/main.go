package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/stationledger/stationledger/cmd/stationd/cli"
	"github.com/stationledger/stationledger/internal/app"
	"github.com/stationledger/stationledger/internal/ledger"
	"github.com/stationledger/stationledger/internal/shared"
	"github.com/stationledger/stationledger/internal/station"
	"github.com/stationledger/stationledger/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	args := os.Args[1:]
	command := "worker"
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}

	switch command {
	case "worker":
		err = runWorker(ctx, cfg, logger)
	case "install":
		err = runInstall(ctx, cfg, logger, args)
	case "jobs":
		err = runJobs(ctx, cfg, args)
	default:
		err = fmt.Errorf("unknown command %q (expected worker, install or jobs)", command)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("command failed", slog.String("command", command), slog.Any("error", err))
		os.Exit(1)
	}
}

func runWorker(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}

	audit := shared.NewAuditLogger(pool)
	ledgerService := ledger.NewService(ledger.NewRepository(pool), audit)

	integrityJob := jobs.NewGLIntegrityJob(jobs.NewIntegrityDB(pool), redisClient, logger, nil)
	lockMonthJob := jobs.NewLockMonthJob(ledgerService, redisClient, logger, nil)

	integrityTask, err := jobs.NewGLIntegrityTask(uuid.Nil)
	if err != nil {
		return fmt.Errorf("build integrity task: %w", err)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskGLIntegrity, Handler: integrityJob.Handle},
			{Type: jobs.TaskLockMonth, Handler: lockMonthJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "45 1 * * *", Task: integrityTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		return fmt.Errorf("init worker: %w", err)
	}
	return worker.Run(ctx)
}

func runInstall(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: stationd install <company-uuid>")
	}
	companyID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("parse company id: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	installer := station.NewInstaller(pool, redisClient, logger).WithLockTTL(cfg.InstallLockTTL)
	if err := installer.EnsureInstalled(ctx, companyID); err != nil {
		return err
	}
	logger.Info("station installed", slog.String("company_id", companyID.String()))
	return nil
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: stationd jobs <integrity|lock-month|stats>")
	}
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer jobsCLI.Close()

	switch args[0] {
	case "integrity":
		companyID := uuid.Nil
		if len(args) > 1 {
			companyID, err = uuid.Parse(args[1])
			if err != nil {
				return fmt.Errorf("parse company id: %w", err)
			}
		}
		info, err := jobsCLI.TriggerIntegrity(ctx, companyID)
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", jobs.TaskGLIntegrity, info.ID, info.Queue)
		return nil
	case "lock-month":
		fs := flag.NewFlagSet("lock-month", flag.ContinueOnError)
		company := fs.String("company", "", "company uuid")
		txType := fs.String("type", ledger.TypeDailyClose, "transaction type to lock")
		year := fs.Int("year", 0, "calendar year")
		month := fs.Int("month", 0, "calendar month (1-12)")
		actor := fs.String("actor", "", "acting user uuid")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		companyID, err := uuid.Parse(*company)
		if err != nil {
			return fmt.Errorf("parse company id: %w", err)
		}
		actorID, err := uuid.Parse(*actor)
		if err != nil {
			return fmt.Errorf("parse actor id: %w", err)
		}
		info, err := jobsCLI.TriggerLockMonth(ctx, jobs.LockMonthPayload{
			CompanyID: companyID,
			TxType:    *txType,
			Year:      *year,
			Month:     *month,
			ActorID:   actorID,
		})
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", jobs.TaskLockMonth, info.ID, info.Queue)
		return nil
	case "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		return nil
	default:
		return fmt.Errorf("unknown jobs subcommand %q", args[0])
	}
}
