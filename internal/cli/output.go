package cli

import (
	"fmt"

	"github.com/noteflowhq/noteflow/internal/canon"
)

// printResult renders a command result honoring --format: canonical JSON
// for machines, the text callback for humans.
func printResult(opts *RootOptions, jsonValue map[string]any, text func()) error {
	if opts.Format == "json" {
		data, err := canon.Marshal(jsonValue)
		if err != nil {
			return fmt.Errorf("encode output: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}
	text()
	return nil
}
