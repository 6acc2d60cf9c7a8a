package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/metorial/scriptforge/internal/cli"
)

var (
	serverURL  string
	outputJSON bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "forgectl",
	Short: "CLI for the scriptforge service",
	Long: `forgectl is a command-line interface for the scriptforge API.

It provides commands to track repositories, trigger and inspect catalog
synchronization, and submit and watch script executions.`,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check service health",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := cli.NewClient(serverURL)
		data, err := client.Health()
		if err != nil {
			return err
		}

		if outputJSON {
			return cli.FormatJSON(data)
		}

		fmt.Printf("Status: %s\n", data["status"])
		fmt.Printf("Database: %s\n", data["database"])
		return nil
	},
}

var reposCmd = &cobra.Command{
	Use:   "repos",
	Short: "Manage tracked repositories",
}

var listReposCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked repositories",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := cli.NewClient(serverURL)
		data, err := client.ListRepos()
		if err != nil {
			return err
		}

		if outputJSON {
			return cli.FormatJSON(data)
		}
		return cli.FormatReposTable(data)
	},
}

var addRepoCmd = &cobra.Command{
	Use:   "add [owner/name]",
	Short: "Track a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		branch, _ := cmd.Flags().GetString("branch")

		client := cli.NewClient(serverURL)
		data, err := client.AddRepo(args[0], branch)
		if err != nil {
			return err
		}

		if outputJSON {
			return cli.FormatJSON(data)
		}
		fmt.Printf("Tracking %s (id %v)\n", args[0], data["id"])
		return nil
	},
}

var getRepoCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Show one tracked repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		client := cli.NewClient(serverURL)
		data, err := client.GetRepo(id)
		if err != nil {
			return err
		}
		return cli.FormatJSON(data)
	},
}

var disableRepoCmd = &cobra.Command{
	Use:   "disable [id]",
	Short: "Soft-disable a repository, preserving its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		client := cli.NewClient(serverURL)
		data, err := client.DisableRepo(id)
		if err != nil {
			return err
		}
		if outputJSON {
			return cli.FormatJSON(data)
		}
		fmt.Println("Repository disabled")
		return nil
	},
}

var enableRepoCmd = &cobra.Command{
	Use:   "enable [id]",
	Short: "Re-enable a disabled repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		client := cli.NewClient(serverURL)
		data, err := client.EnableRepo(id)
		if err != nil {
			return err
		}
		if outputJSON {
			return cli.FormatJSON(data)
		}
		fmt.Println("Repository enabled")
		return nil
	},
}

var scriptsCmd = &cobra.Command{
	Use:   "scripts [repo-id]",
	Short: "List cataloged scripts for a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		client := cli.NewClient(serverURL)
		data, err := client.ListScripts(id)
		if err != nil {
			return err
		}
		if outputJSON {
			return cli.FormatJSON(data)
		}
		return cli.FormatScriptsTable(data)
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Trigger and inspect synchronization",
}

var syncRunCmd = &cobra.Command{
	Use:   "run [repo-id]",
	Short: "Sync one repository, or all active repositories with --all",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := cli.NewClient(serverURL)

		all, _ := cmd.Flags().GetBool("all")
		if all {
			data, err := client.SyncAll()
			if err != nil {
				return err
			}
			return cli.FormatJSON(data)
		}

		if len(args) != 1 {
			return fmt.Errorf("repository id required (or pass --all)")
		}
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		data, err := client.SyncRepo(id)
		if err != nil {
			return err
		}
		if outputJSON {
			return cli.FormatJSON(data)
		}
		return cli.FormatSyncRunTable(data)
	},
}

var syncCancelCmd = &cobra.Command{
	Use:   "cancel [repo-id]",
	Short: "Cancel an in-flight sync",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		client := cli.NewClient(serverURL)
		data, err := client.CancelSync(id)
		if err != nil {
			return err
		}
		if outputJSON {
			return cli.FormatJSON(data)
		}
		fmt.Printf("Cancelled: %v\n", data["cancelled"])
		return nil
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status [repo-id]",
	Short: "Show a repository's sync status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		client := cli.NewClient(serverURL)
		data, err := client.SyncStatus(id)
		if err != nil {
			return err
		}
		return cli.FormatJSON(data)
	},
}

var syncHistoryCmd = &cobra.Command{
	Use:   "history [repo-id]",
	Short: "Show a repository's sync history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		client := cli.NewClient(serverURL)
		data, err := client.SyncHistory(id, limit)
		if err != nil {
			return err
		}
		if outputJSON {
			return cli.FormatJSON(data)
		}
		return cli.FormatHistoryTable(data)
	},
}

var execCmd = &cobra.Command{
	Use:   "exec",
	Short: "Submit and inspect script executions",
}

var execSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a script for execution",
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		scriptIDFlag, _ := cmd.Flags().GetInt64("script-id")
		paramFlags, _ := cmd.Flags().GetStringSlice("param")

		var scriptID *int64
		if scriptIDFlag > 0 {
			scriptID = &scriptIDFlag
		}

		content := ""
		name := ""
		if file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read script file: %w", err)
			}
			content = string(data)
			name = file
		}

		params := make(map[string]string)
		for _, p := range paramFlags {
			key, value, ok := strings.Cut(p, "=")
			if !ok {
				return fmt.Errorf("invalid --param %q, want name=value", p)
			}
			params[key] = value
		}

		client := cli.NewClient(serverURL)
		data, err := client.SubmitExecution(scriptID, content, name, params)
		if err != nil {
			return err
		}
		if outputJSON {
			return cli.FormatJSON(data)
		}
		fmt.Printf("Execution submitted: %s\n", data["execution_id"])
		return nil
	},
}

var execGetCmd = &cobra.Command{
	Use:   "get [execution-id]",
	Short: "Show one execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := cli.NewClient(serverURL)
		data, err := client.GetExecution(args[0])
		if err != nil {
			return err
		}
		if outputJSON {
			return cli.FormatJSON(data)
		}
		return cli.FormatExecutionDetail(data)
	},
}

var execListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent executions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client := cli.NewClient(serverURL)
		data, err := client.ListExecutions(limit)
		if err != nil {
			return err
		}
		if outputJSON {
			return cli.FormatJSON(data)
		}
		return cli.FormatExecutionsTable(data)
	},
}

var execRunningCmd = &cobra.Command{
	Use:   "running",
	Short: "List executions currently running",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := cli.NewClient(serverURL)
		data, err := client.ListRunning()
		if err != nil {
			return err
		}
		return cli.FormatJSON(data)
	},
}

var execCancelCmd = &cobra.Command{
	Use:   "cancel [execution-id]",
	Short: "Cancel a running execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := cli.NewClient(serverURL)
		data, err := client.CancelExecution(args[0])
		if err != nil {
			return err
		}
		if outputJSON {
			return cli.FormatJSON(data)
		}
		fmt.Printf("Cancelled: %v\n", data["cancelled"])
		return nil
	},
}

var execMetricsCmd = &cobra.Command{
	Use:   "metrics [execution-id]",
	Short: "Show an execution's metrics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := cli.NewClient(serverURL)
		data, err := client.ExecutionMetrics(args[0])
		if err != nil {
			return err
		}
		return cli.FormatJSON(data)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Analyze a script without executing it",
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		scriptIDFlag, _ := cmd.Flags().GetInt64("script-id")

		var scriptID *int64
		if scriptIDFlag > 0 {
			scriptID = &scriptIDFlag
		}

		content := ""
		name := ""
		if file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read script file: %w", err)
			}
			content = string(data)
			name = file
		}

		client := cli.NewClient(serverURL)
		data, err := client.Validate(scriptID, content, name)
		if err != nil {
			return err
		}
		return cli.FormatJSON(data)
	},
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}

func init() {
	defaultServerURL := os.Getenv("FORGED_URL")
	if defaultServerURL == "" {
		defaultServerURL = "http://localhost:8080"
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", defaultServerURL, "scriptforge server URL")
	rootCmd.PersistentFlags().BoolVarP(&outputJSON, "json", "j", false, "Output in JSON format")

	addRepoCmd.Flags().StringP("branch", "b", "", "Override the default branch")
	syncRunCmd.Flags().Bool("all", false, "Sync every active repository")
	syncHistoryCmd.Flags().IntP("limit", "l", 50, "Number of runs to retrieve (max: 1000)")
	execListCmd.Flags().IntP("limit", "l", 50, "Number of executions to retrieve (max: 1000)")
	execSubmitCmd.Flags().StringP("file", "f", "", "Script file to submit")
	execSubmitCmd.Flags().Int64("script-id", 0, "Cataloged script id to run")
	execSubmitCmd.Flags().StringSlice("param", nil, "Script parameter name=value (repeatable)")
	validateCmd.Flags().StringP("file", "f", "", "Script file to validate")
	validateCmd.Flags().Int64("script-id", 0, "Cataloged script id to validate")

	reposCmd.AddCommand(listReposCmd, getRepoCmd, addRepoCmd, disableRepoCmd, enableRepoCmd)
	syncCmd.AddCommand(syncRunCmd, syncCancelCmd, syncStatusCmd, syncHistoryCmd)
	execCmd.AddCommand(execSubmitCmd, execGetCmd, execListCmd, execRunningCmd, execCancelCmd, execMetricsCmd)

	rootCmd.AddCommand(healthCmd, reposCmd, scriptsCmd, syncCmd, execCmd, validateCmd)
}
