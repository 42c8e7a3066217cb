package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/noteflowhq/noteflow/internal/event"
	"github.com/noteflowhq/noteflow/internal/schema"
)

// NewValidateCommand checks event JSON against the payload schema without
// touching any store. Input is a stream of {"type": ..., "payload": {...}}
// objects from the named files, or stdin when the argument is "-".
func NewValidateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>...",
		Short: "Validate event JSON against the payload schema",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args)
		},
	}
}

type rawEvent struct {
	Type    event.Type      `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func runValidate(opts *RootOptions, paths []string) error {
	validator, err := schema.NewValidator()
	if err != nil {
		return err
	}

	var checked, invalid int64
	failures := []string{}

	for _, path := range paths {
		events, err := readEvents(path)
		if err != nil {
			return err
		}
		for i, re := range events {
			checked++
			if err := validator.Validate(re.Type, re.Payload); err != nil {
				invalid++
				failures = append(failures, fmt.Sprintf("%s[%d]: %v", path, i, err))
			}
		}
	}

	printErr := printResult(opts, map[string]any{
		"checked":  checked,
		"invalid":  invalid,
		"failures": failures,
	}, func() {
		for _, f := range failures {
			fmt.Println("FAIL", f)
		}
		fmt.Printf("checked %d events, %d invalid\n", checked, invalid)
	})
	if printErr != nil {
		return printErr
	}
	if invalid > 0 {
		return fmt.Errorf("%d of %d events failed validation", invalid, checked)
	}
	return nil
}

func readEvents(path string) ([]rawEvent, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var events []rawEvent
	for {
		var re rawEvent
		if err := dec.Decode(&re); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if re.Type == "" {
			return nil, fmt.Errorf("parse %s: event missing type", path)
		}
		events = append(events, re)
	}
	return events, nil
}
