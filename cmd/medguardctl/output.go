package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/medguard-ai/medguard/aggregate"
)

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to marshal JSON: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func printTable(headers []string, rows [][]string) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(headers, "\t"))
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	w.Flush()
}

func printMessage(msg string) {
	fmt.Println(msg)
}

// printResult prints a summary of res followed by its per-photo scores.
func printResult(res *aggregate.Result) {
	if flagJSON {
		printJSON(res)
		return
	}

	printMessage(fmt.Sprintf("Scan:         %s", res.ScanID))
	printMessage(fmt.Sprintf("Authenticity: %s (%d%%)", res.Authenticity, res.Probability))
	if res.DetectedDrug.Name != "" {
		printMessage(fmt.Sprintf("Drug:         %s %s", res.DetectedDrug.Name, res.DetectedDrug.Variant))
	}
	printMessage(fmt.Sprintf("Penjelasan:   %s", res.Penjelasan))
	printMessage(fmt.Sprintf("Saran:        %s", res.Saran))
	if res.Peringatan != nil {
		printMessage(fmt.Sprintf("Peringatan:   %s", *res.Peringatan))
	}

	if len(res.PerPhotoScores) > 0 {
		roles := make([]string, 0, len(res.PerPhotoScores))
		for r := range res.PerPhotoScores {
			roles = append(roles, r)
		}
		sort.Strings(roles)

		rows := make([][]string, 0, len(roles))
		for _, r := range roles {
			rows = append(rows, []string{r, fmt.Sprintf("%.4f", res.PerPhotoScores[r])})
		}
		printMessage("")
		printTable([]string{"PHOTO", "SCORE"}, rows)
	}

	if len(res.Temuan) > 0 {
		rows := make([][]string, 0, len(res.Temuan))
		for _, f := range res.Temuan {
			rows = append(rows, []string{string(f.Severity), f.Photo, f.Message})
		}
		printMessage("")
		printTable([]string{"SEVERITY", "PHOTO", "FINDING"}, rows)
	}
}
