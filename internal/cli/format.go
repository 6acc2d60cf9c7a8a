package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

func FormatJSON(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func FormatReposTable(data map[string]interface{}) error {
	repos, ok := data["repositories"].([]interface{})
	if !ok {
		return fmt.Errorf("invalid repositories data")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tREPOSITORY\tBRANCH\tSTATUS\tLAST SYNC")

	for _, item := range repos {
		repo := item.(map[string]interface{})
		fmt.Fprintf(w, "%s\t%s/%s\t%s\t%s\t%s\n",
			formatNumber(repo["id"]),
			getString(repo["owner"]),
			getString(repo["name"]),
			getString(repo["default_branch"]),
			getString(repo["status"]),
			formatTime(repo["last_sync_at"]),
		)
	}

	return w.Flush()
}

func FormatSyncRunTable(run map[string]interface{}) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Run:\t%s\n", formatNumber(run["id"]))
	fmt.Fprintf(w, "Trigger:\t%s\n", getString(run["trigger"]))
	fmt.Fprintf(w, "Status:\t%s\n", getString(run["status"]))
	fmt.Fprintf(w, "Processed:\t%s\n", formatNumber(run["processed"]))
	fmt.Fprintf(w, "Added:\t%s\n", formatNumber(run["added"]))
	fmt.Fprintf(w, "Updated:\t%s\n", formatNumber(run["updated"]))
	fmt.Fprintf(w, "Removed:\t%s\n", formatNumber(run["removed"]))
	if msg := getString(run["error"]); msg != "" {
		fmt.Fprintf(w, "Error:\t%s\n", msg)
	}
	fmt.Fprintf(w, "Started:\t%s\n", formatTime(run["started_at"]))
	fmt.Fprintf(w, "Completed:\t%s\n", formatTime(run["completed_at"]))
	return w.Flush()
}

func FormatHistoryTable(data map[string]interface{}) error {
	runs, ok := data["runs"].([]interface{})
	if !ok {
		return fmt.Errorf("invalid history data")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tTRIGGER\tSTATUS\tPROCESSED\tADDED\tUPDATED\tREMOVED\tSTARTED")

	for _, item := range runs {
		run := item.(map[string]interface{})
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			formatNumber(run["id"]),
			getString(run["trigger"]),
			getString(run["status"]),
			formatNumber(run["processed"]),
			formatNumber(run["added"]),
			formatNumber(run["updated"]),
			formatNumber(run["removed"]),
			formatTime(run["started_at"]),
		)
	}

	return w.Flush()
}

func FormatScriptsTable(data map[string]interface{}) error {
	scripts, ok := data["scripts"].([]interface{})
	if !ok {
		return fmt.Errorf("invalid scripts data")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPATH\tBRANCH\tSHA\tMODIFIED")

	for _, item := range scripts {
		script := item.(map[string]interface{})
		sha := getString(script["sha"])
		if len(sha) > 8 {
			sha = sha[:8]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			formatNumber(script["id"]),
			getString(script["path"]),
			getString(script["branch"]),
			sha,
			formatTime(script["modified_at"]),
		)
	}

	return w.Flush()
}

func FormatExecutionsTable(data map[string]interface{}) error {
	execs, ok := data["executions"].([]interface{})
	if !ok {
		return fmt.Errorf("invalid executions data")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSCRIPT\tSTATUS\tEXIT\tDURATION\tSTARTED")

	for _, item := range execs {
		e := item.(map[string]interface{})
		exit := "-"
		if code, ok := e["exit_code"].(float64); ok {
			exit = formatNumber(code)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%sms\t%s\n",
			getString(e["id"]),
			getString(e["script_name"]),
			getString(e["status"]),
			exit,
			formatNumber(e["duration_ms"]),
			formatTime(e["started_at"]),
		)
	}

	return w.Flush()
}

func FormatExecutionDetail(e map[string]interface{}) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Execution:\t%s\n", getString(e["id"]))
	fmt.Fprintf(w, "Script:\t%s\n", getString(e["script_name"]))
	fmt.Fprintf(w, "Status:\t%s\n", getString(e["status"]))
	fmt.Fprintf(w, "Host:\t%s\n", getString(e["hostname"]))
	fmt.Fprintf(w, "Runtime:\t%s\n", getString(e["runtime_version"]))
	if code, ok := e["exit_code"].(float64); ok {
		fmt.Fprintf(w, "Exit Code:\t%s\n", formatNumber(code))
	}
	fmt.Fprintf(w, "Duration:\t%sms\n", formatNumber(e["duration_ms"]))
	if msg := getString(e["error"]); msg != "" {
		fmt.Fprintf(w, "Error:\t%s\n", msg)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if out := getString(e["stdout"]); out != "" {
		fmt.Printf("\n--- stdout ---\n%s\n", out)
	}
	if errOut := getString(e["stderr"]); errOut != "" {
		fmt.Printf("\n--- stderr ---\n%s\n", errOut)
	}
	return nil
}

func getString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func formatNumber(v interface{}) string {
	switch n := v.(type) {
	case float64:
		return fmt.Sprintf("%d", int64(n))
	case int64:
		return fmt.Sprintf("%d", n)
	case int:
		return fmt.Sprintf("%d", n)
	default:
		return "0"
	}
}

func formatTime(v interface{}) string {
	if s, ok := v.(string); ok {
		t, err := time.Parse(time.RFC3339, s)
		if err == nil {
			return t.Local().Format("2006-01-02 15:04:05")
		}
		return s
	}
	return "-"
}
