package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	cl "encore/internal/cli"
	"encore/internal/config"

	"github.com/spf13/cobra"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "encore-ctl",
		Short:        "Operator client for the encore worker",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "admin API base URL")

	root.AddCommand(
		newLoginCmd(&apiBase),
		newLogoutCmd(),
		newJobsCmd(&apiBase),
		newRunCmd(&apiBase),
		newWatchCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

// session loads the saved token. A base URL saved at login wins over the
// default but not over an explicit --api flag.
func session(cmd *cobra.Command, apiBase *string) (cl.Session, error) {
	sess, err := cl.LoadSession()
	if err != nil {
		return sess, fmt.Errorf("login required: %w", err)
	}
	if sess.BaseURL != "" && !cmd.Flags().Changed("api") {
		*apiBase = sess.BaseURL
	}
	return sess, nil
}

func newLoginCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Store the operator token after checking it against the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := promptSecret("Operator token")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			if _, err := client.Jobs(ctx, token); err != nil {
				return err
			}
			if err := cl.SaveSession(cl.Session{
				Token:   token,
				BaseURL: client.BaseURL,
				SavedAt: time.Now().UTC(),
			}); err != nil {
				return err
			}
			printSuccess("Login successful.")
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the local operator token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newJobsCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List scheduled jobs and their cursors",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			jobs, err := newClient(apiBase).Jobs(ctx, sess.Token)
			if err != nil {
				return err
			}
			renderJobs(jobs, time.Now())
			return nil
		},
	}
}

func newRunCmd(apiBase *string) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "run <job>",
		Short: "Run a job now, outside its window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			name := strings.TrimSpace(args[0])
			if reason == "" {
				if reason, err = promptOptional("Reason (optional)"); err != nil {
					return err
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Minute)
			defer cancel()
			out, err := newClient(apiBase).RunJob(ctx, sess.Token, name, reason)
			if err != nil {
				return err
			}
			renderRun(out)
			if !out.OK {
				return fmt.Errorf("job %s failed", name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "note recorded in the worker log")
	return cmd
}

func newWatchCmd(apiBase *string) *cobra.Command {
	var every time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live view of job cursors",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			if every < time.Second {
				return fmt.Errorf("--every must be at least 1s")
			}
			return runWatch(newClient(apiBase), sess.Token, every)
		},
	}
	cmd.Flags().DurationVar(&every, "every", 10*time.Second, "refresh interval")
	return cmd
}
