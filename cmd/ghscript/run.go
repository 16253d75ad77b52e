package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/alekspetrov/ghscript/internal/config"
	"github.com/alekspetrov/ghscript/internal/facade"
	"github.com/alekspetrov/ghscript/internal/github"
	"github.com/alekspetrov/ghscript/internal/history"
	"github.com/alekspetrov/ghscript/internal/logging"
	"github.com/alekspetrov/ghscript/internal/metadata"
	"github.com/alekspetrov/ghscript/internal/sandbox"
)

func newRunCmd() *cobra.Command {
	var (
		timeoutSeconds int
		jsonOutput     bool
	)

	cmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Execute a script file (or stdin with -)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			script, err := readScript(args[0])
			if err != nil {
				return err
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := logging.Init(cfg.Logging); err != nil {
				return err
			}

			if timeoutSeconds > 0 {
				cfg.Sandbox.TimeoutSeconds = timeoutSeconds
			}

			outcome, err := execute(cmd, cfg, script)
			if err != nil {
				return err
			}
			return printOutcome(outcome, jsonOutput)
		},
	}

	cmd.Flags().IntVar(&timeoutSeconds, "timeout", 0, "execution budget in seconds (overrides config)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the full outcome envelope as JSON")
	return cmd
}

// readScript loads the script text from a file, or stdin when path is "-".
func readScript(path string) (string, error) {
	if path == "-" {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(raw), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read script: %w", err)
	}
	return string(raw), nil
}

// execute wires the client, cache, facade and executor together and runs
// the script once.
func execute(cmd *cobra.Command, cfg *config.Config, script string) (sandbox.Outcome, error) {
	token, err := cfg.ResolveToken()
	if err != nil {
		return sandbox.Outcome{}, err
	}

	maxAge, err := cfg.Cache.MaxAgeDuration()
	if err != nil {
		return sandbox.Outcome{}, err
	}

	client := github.NewClient(token)
	cache := metadata.New(client, metadata.Options{
		Owner:         cfg.Repository.Owner,
		Repo:          cfg.Repository.Name,
		ProjectID:     cfg.Project.ID,
		ProjectNumber: cfg.Project.Number,
		ProjectTitle:  cfg.Project.Title,
		Dir:           cfg.Cache.Dir,
		MaxAge:        maxAge,
	})
	fac := facade.New(client, cache, cfg.Repository.Owner, cfg.Repository.Name)

	execID := uuid.New().String()
	logger := slog.Default().With("execution_id", execID)

	executor := sandbox.NewExecutor(time.Duration(cfg.Sandbox.TimeoutSeconds) * time.Second)
	sc := sandbox.NewContext(fac, logger)

	start := time.Now()
	outcome := executor.Execute(cmd.Context(), script, sc)
	elapsed := time.Since(start)

	logger.Info("script executed", "ok", outcome.OK(), "duration_ms", elapsed.Milliseconds())

	if cfg.History.Enabled {
		recordHistory(cfg, execID, script, outcome, elapsed)
	}

	return outcome, nil
}

// recordHistory persists the execution; failures are logged, never fatal.
func recordHistory(cfg *config.Config, execID, script string, outcome sandbox.Outcome, elapsed time.Duration) {
	store, err := history.NewStore(cfg.History.Path)
	if err != nil {
		slog.Warn("history store unavailable", "error", err)
		return
	}
	defer func() { _ = store.Close() }()

	sum := sha256.Sum256([]byte(script))
	exec := &history.Execution{
		ID:         execID,
		ScriptSHA:  hex.EncodeToString(sum[:]),
		Outcome:    "value",
		DurationMS: elapsed.Milliseconds(),
		CreatedAt:  time.Now().UTC(),
	}
	if !outcome.OK() {
		exec.Outcome = string(outcome.Failure.Kind)
		exec.Error = outcome.Failure.Message
	}
	if err := store.Record(exec); err != nil {
		slog.Warn("execution not recorded", "error", err)
	}
}

// printOutcome renders the outcome. Failures exit non-zero through the
// returned error so shells can branch on it.
func printOutcome(outcome sandbox.Outcome, jsonOutput bool) error {
	if jsonOutput {
		raw, err := json.MarshalIndent(outcome, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(raw))
		if !outcome.OK() {
			return fmt.Errorf("%s: %s", outcome.Failure.Kind, outcome.Failure.Message)
		}
		return nil
	}

	if !outcome.OK() {
		return fmt.Errorf("%s: %s", outcome.Failure.Kind, outcome.Failure.Message)
	}
	if outcome.Undefined {
		return nil
	}
	raw, err := json.MarshalIndent(outcome.Value, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}
