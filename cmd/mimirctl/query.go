package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	queryStrategy  string
	queryLimit     int
	queryNoCache   bool
	queryHighlight bool
)

var queryCmd = &cobra.Command{
	Use:   "query [natural language query]",
	Short: "Run a natural-language search",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := args[0]
		for _, a := range args[1:] {
			q += " " + a
		}

		body := map[string]any{
			"query": q,
			"options": map[string]any{
				"use_cache":           !queryNoCache,
				"enable_highlighting": queryHighlight,
			},
		}
		if queryStrategy != "" {
			body["options"].(map[string]any)["strategy"] = queryStrategy
		}
		if queryLimit > 0 {
			body["options"].(map[string]any)["limit"] = queryLimit
		}
		payload, _ := json.Marshal(body)

		resp, err := http.Post(baseURL()+"/search/natural-language", "application/json", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		var result struct {
			RequestID string `json:"request_id"`
			Execution struct {
				SQLQuery        string  `json:"sql_query"`
				ExecutionTimeMs float64 `json:"execution_time_ms"`
				StrategyUsed    string  `json:"strategy_used"`
			} `json:"execution"`
			Data      []map[string]any `json:"data"`
			TotalRows int              `json:"total_rows"`
			Success   bool             `json:"success"`
			Error     *struct {
				Kind    string   `json:"kind"`
				Message string   `json:"message"`
				Reasons []string `json:"reasons"`
			} `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return err
		}

		if !result.Success {
			if result.Error != nil {
				return fmt.Errorf("search failed (%s): %s %v", result.Error.Kind, result.Error.Message, result.Error.Reasons)
			}
			return fmt.Errorf("search failed with status %d", resp.StatusCode)
		}

		fmt.Printf("strategy=%s rows=%d time=%.0fms\nsql: %s\n\n",
			result.Execution.StrategyUsed, result.TotalRows, result.Execution.ExecutionTimeMs, result.Execution.SQLQuery)
		printRows(result.Data)
		return nil
	},
}

func printRows(rows []map[string]any) {
	if len(rows) == 0 {
		fmt.Println("(no rows)")
		return
	}

	cols := make([]string, 0, len(rows[0]))
	for c := range rows[0] {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for i, c := range cols {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, c)
	}
	fmt.Fprintln(w)
	for _, row := range rows {
		for i, c := range cols {
			if i > 0 {
				fmt.Fprint(w, "\t")
			}
			fmt.Fprintf(w, "%v", row[c])
		}
		fmt.Fprintln(w)
	}
	w.Flush()
}

func init() {
	queryCmd.Flags().StringVar(&queryStrategy, "strategy", "", "generation strategy: llm_first, rule_first, hybrid, llm_only, rule_only")
	queryCmd.Flags().IntVar(&queryLimit, "limit", 0, "row limit (max 100)")
	queryCmd.Flags().BoolVar(&queryNoCache, "no-cache", false, "bypass the result cache")
	queryCmd.Flags().BoolVar(&queryHighlight, "highlight", false, "highlight matched tokens")
	rootCmd.AddCommand(queryCmd)
}
