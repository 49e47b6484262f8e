package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Result formats accepted by --output.
const (
	formatJSON  = "json"
	formatYAML  = "yaml"
	formatTable = "table"
)

// outputFormat returns the validated --output value.
func outputFormat() (string, error) {
	f := strings.ToLower(strings.TrimSpace(viper.GetString("output")))
	switch f {
	case "":
		return formatJSON, nil
	case formatJSON, formatYAML, formatTable:
		return f, nil
	default:
		return "", exitError(foundry.ExitInvalidArgument, "Invalid --output value",
			fmt.Errorf("expected json, yaml or table, got %q", f))
	}
}

// printResult writes v as indented JSON or as YAML. YAML is produced from
// the JSON encoding so both formats share field names. The table format
// falls back to JSON for single results.
func printResult(w io.Writer, v any) error {
	format, err := outputFormat()
	if err != nil {
		return err
	}
	return writeFormatted(w, format, v)
}

func writeFormatted(w io.Writer, format string, v any) error {
	if format != formatYAML {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(v)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return enc.Close()
}

// listFormat picks the format for a list command: a table unless --json or
// an explicit --output asks otherwise.
func listFormat(cmd *cobra.Command) (string, error) {
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return formatJSON, nil
	}
	if !cmd.Flags().Changed("output") {
		return formatTable, nil
	}
	return outputFormat()
}

// shortID truncates a uuid for table output.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}
