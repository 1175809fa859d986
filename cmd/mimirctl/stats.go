package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

func getJSON(path string, out any) error {
	resp, err := http.Get(baseURL() + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var popularCmd = &cobra.Command{
	Use:   "popular",
	Short: "Show the most popular queries",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		var body struct {
			Popular []struct {
				NormalizedQuery string  `json:"normalized_query"`
				Count           int64   `json:"count"`
				AvgResponseTime float64 `json:"avg_response_time"`
				SuccessRate     float64 `json:"success_rate"`
			} `json:"popular"`
		}
		if err := getJSON("/search/popular?limit="+strconv.Itoa(limit), &body); err != nil {
			return err
		}
		for _, p := range body.Popular {
			fmt.Printf("%6d  %5.1f%%  %6.3fs  %s\n", p.Count, p.SuccessRate*100, p.AvgResponseTime, p.NormalizedQuery)
		}
		return nil
	},
}

var failuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "Show failing query patterns",
	RunE: func(cmd *cobra.Command, args []string) error {
		minRate, _ := cmd.Flags().GetFloat64("min-rate")
		var body struct {
			Failures []struct {
				NormalizedQuery string  `json:"normalized_query"`
				Count           int64   `json:"count"`
				FailureRate     float64 `json:"failure_rate"`
			} `json:"failures"`
		}
		if err := getJSON(fmt.Sprintf("/search/failures?min_rate=%v", minRate), &body); err != nil {
			return err
		}
		for _, f := range body.Failures {
			fmt.Printf("%6d  %5.1f%%  %s\n", f.Count, f.FailureRate*100, f.NormalizedQuery)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show search and cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		var body map[string]any
		if err := getJSON("/search/stats", &body); err != nil {
			return err
		}
		pretty, _ := json.MarshalIndent(body, "", "  ")
		fmt.Println(string(pretty))
		return nil
	},
}

var invalidateCmd = &cobra.Command{
	Use:   "invalidate [pattern]",
	Short: "Invalidate cache entries whose query matches the pattern",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pattern := ""
		if len(args) > 0 {
			pattern = args[0]
		}
		resp, err := http.Post(baseURL()+"/search/cache/invalidate?pattern="+url.QueryEscape(pattern), "application/json", nil)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		var body struct {
			Removed int `json:"removed"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return err
		}
		fmt.Printf("removed %d entries\n", body.Removed)
		return nil
	},
}

func init() {
	popularCmd.Flags().Int("limit", 10, "number of queries to show")
	failuresCmd.Flags().Float64("min-rate", 0.2, "minimum failure rate")
	rootCmd.AddCommand(popularCmd, failuresCmd, statsCmd, invalidateCmd)
}
