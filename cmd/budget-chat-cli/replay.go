package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/openaip/budget-chat/internal/app"
	"github.com/openaip/budget-chat/internal/compose"
	"github.com/openaip/budget-chat/internal/intent"
	"github.com/openaip/budget-chat/internal/routing"
	"github.com/openaip/budget-chat/internal/scope"
	"github.com/openaip/budget-chat/internal/storage"
)

// ReplayFile is a YAML list of questions with optional expectations.
type ReplayFile struct {
	Account ReplayAccount `yaml:"account"`
	Cases   []ReplayCase  `yaml:"cases"`
}

// ReplayAccount is the account every case is asked as.
type ReplayAccount struct {
	UserID    string `yaml:"user_id"`
	ScopeKind string `yaml:"scope_kind"`
	ScopeID   string `yaml:"scope_id"`
}

// ReplayCase is one question.
type ReplayCase struct {
	Question     string `yaml:"question"`
	ExpectRoute  string `yaml:"expect_route"`
	ExpectStatus string `yaml:"expect_status"`
}

// ReplayResult is the outcome of one case.
type ReplayResult struct {
	Question  string `json:"question"`
	Intent    string `json:"intent"`
	Route     string `json:"route"`
	Status    string `json:"status"`
	LatencyMs int64  `json:"latencyMs"`
	Passed    bool   `json:"passed"`
	Mismatch  string `json:"mismatch,omitempty"`
	Error     string `json:"error,omitempty"`
}

type questionRouter interface {
	Route(ctx context.Context, req routing.Request) (compose.Draft, error)
}

// LoadReplayFile parses a replay file.
func LoadReplayFile(path string) (*ReplayFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read replay file: %w", err)
	}
	var f ReplayFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse replay file: %w", err)
	}
	if len(f.Cases) == 0 {
		return nil, fmt.Errorf("replay file %s has no cases", path)
	}
	return &f, nil
}

// runReplay routes every case without persisting anything.
func runReplay(ctx context.Context, f *ReplayFile, dir *scope.Directory, router questionRouter, bar *ProgressBar) []ReplayResult {
	account := scope.Account{
		UserID:    f.Account.UserID,
		ScopeKind: storage.ScopeType(f.Account.ScopeKind),
		ScopeID:   f.Account.ScopeID,
	}

	results := make([]ReplayResult, 0, len(f.Cases))
	for _, c := range f.Cases {
		req := routing.Request{
			Question:  c.Question,
			Intent:    intent.Classify(c.Question),
			Scope:     scope.Resolve(c.Question, account, dir),
			Directory: dir,
			Account:   account,
		}

		res := ReplayResult{Question: c.Question, Intent: string(req.Intent.Intent)}
		d, err := router.Route(ctx, req)
		if err != nil {
			res.Error = err.Error()
		} else {
			reply := compose.Compose(d)
			res.Route = reply.Meta.Route
			res.Status = string(reply.Status)
			res.LatencyMs = reply.Meta.LatencyMs
		}
		res.Passed, res.Mismatch = check(c, res)
		results = append(results, res)
		bar.Add()
	}
	bar.Finish()
	return results
}

func check(c ReplayCase, res ReplayResult) (bool, string) {
	if res.Error != "" {
		return false, "error"
	}
	if c.ExpectRoute != "" && c.ExpectRoute != res.Route {
		return false, fmt.Sprintf("route %s, want %s", res.Route, c.ExpectRoute)
	}
	if c.ExpectStatus != "" && c.ExpectStatus != res.Status {
		return false, fmt.Sprintf("status %s, want %s", res.Status, c.ExpectStatus)
	}
	return true, ""
}

func newReplayCmd() *cobra.Command {
	var failOnMismatch bool

	cmd := &cobra.Command{
		Use:   "replay [file.yaml]",
		Short: "Route a file of questions and report the chosen paths",
		Long: `Replay classifies, resolves and routes each question in a YAML file against
the configured database. Nothing is persisted and no quota is consumed.
Cases may declare expect_route and expect_status.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := LoadReplayFile(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			dir, err := a.Directory.Load(ctx)
			if err != nil {
				return fmt.Errorf("load directory: %w", err)
			}

			bar := ui.NewProgressBar(len(f.Cases), "Replaying")
			results := runReplay(ctx, f, dir, a.Router, bar)

			failed := 0
			for _, r := range results {
				if !r.Passed {
					failed++
				}
			}

			if outputJSON {
				if err := printJSON(map[string]interface{}{"results": results, "failed": failed}); err != nil {
					return err
				}
			} else {
				for _, r := range results {
					switch {
					case r.Error != "":
						ui.Error("%s: %s", r.Question, r.Error)
					case !r.Passed:
						ui.Warning("%s: %s", r.Question, r.Mismatch)
					default:
						ui.Success("%-60s %-18s %s", r.Question, r.Route, r.Status)
					}
				}
				ui.Info("%d of %d cases passed", len(results)-failed, len(results))
			}

			if failOnMismatch && failed > 0 {
				return fmt.Errorf("%d replay cases failed", failed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&failOnMismatch, "fail-on-mismatch", false, "exit non-zero when any case fails")
	return cmd
}
