package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/janekbaraniewski/usagerecon/internal/recon"
)

// WriteJSON writes the whole run result, indented.
func WriteJSON(w io.Writer, res *recon.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("report: encode result: %w", err)
	}
	return nil
}
