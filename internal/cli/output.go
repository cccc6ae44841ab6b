package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"
)

// render writes v as indented JSON for --output json, or calls text with
// the app writer otherwise.
func render(c *cli.Context, v any, text func(w io.Writer)) error {
	w := c.App.Writer
	switch format := c.String("output"); format {
	case OutputJSON:
		output, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		_, err = fmt.Fprintln(w, string(output))
		return err
	case OutputText, "":
		text(w)
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
