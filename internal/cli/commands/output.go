package commands

import (
	"encoding/json"
	"io"
	"text/tabwriter"
	"time"

	"github.com/labportal/labportal/internal/cli/userconfig"
)

const dateLayout = "2006-01-02 15:04"

// render writes v as indented JSON when the portal is in json mode and
// otherwise hands a tabwriter to table
func render(w io.Writer, p *Portal, v any, table func(tw *tabwriter.Writer)) error {
	if p.Format == userconfig.OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	table(tw)
	return tw.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(dateLayout)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
