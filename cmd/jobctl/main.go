package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"ugcserver/internal/adapter/repo"
	"ugcserver/internal/domain"
	"ugcserver/internal/infra"
)

func main() {
	var (
		idFlag     string
		failFlag   bool
		reasonFlag string
		reapFlag   time.Duration
	)

	flag.StringVar(&idFlag, "id", "", "job ID to inspect (UUID)")
	flag.BoolVar(&failFlag, "fail", false, "mark the job given by -id as failed")
	flag.StringVar(&reasonFlag, "reason", "cancelled by operator", "failure reason used with -fail and -reap")
	flag.DurationVar(&reapFlag, "reap", 0, "fail running jobs idle for longer than this duration")
	flag.Parse()

	jobID := strings.TrimSpace(idFlag)
	reason := strings.TrimSpace(reasonFlag)
	if jobID == "" && reapFlag <= 0 {
		exitWithError(errors.New("either -id or -reap must be provided"))
	}
	if failFlag && jobID == "" {
		exitWithError(errors.New("-fail requires -id"))
	}
	if (failFlag || reapFlag > 0) && reason == "" {
		exitWithError(errors.New("-reason must not be empty"))
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("failed to connect database: %w", err))
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "jobctl").Logger()
	jobs := repo.NewJobRepository(infra.NewSQLRunner(pool, logger))

	if reapFlag > 0 {
		n, err := jobs.FailStale(ctx, time.Now().Add(-reapFlag), reason)
		if err != nil {
			exitWithError(fmt.Errorf("failed to reap jobs: %w", err))
		}
		fmt.Printf("%d stale job(s) marked failed\n", n)
	}
	if jobID == "" {
		return
	}

	if failFlag {
		if err := jobs.Fail(ctx, jobID, reason); err != nil {
			exitWithError(fmt.Errorf("failed to fail job: %w", err))
		}
	}

	job, err := jobs.GetByID(ctx, jobID)
	if errors.Is(err, domain.ErrNotFound) {
		exitWithError(fmt.Errorf("job %s not found", jobID))
	}
	if err != nil {
		exitWithError(fmt.Errorf("failed to load job: %w", err))
	}

	out, err := json.MarshalIndent(describe(job), "", "  ")
	if err != nil {
		exitWithError(fmt.Errorf("failed to encode job: %w", err))
	}
	fmt.Println(string(out))
}

func describe(job *domain.Job) map[string]any {
	view := map[string]any{
		"id":        job.ID,
		"status":    job.Status,
		"step":      job.Step,
		"progress":  job.Progress(),
		"request":   job.Request,
		"steps":     job.Steps,
		"createdAt": job.CreatedAt,
		"updatedAt": job.UpdatedAt,
	}
	if len(job.Result) > 0 {
		view["result"] = job.Result
	}
	if job.FailedReason != "" {
		view["failedReason"] = job.FailedReason
	}
	return view
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
