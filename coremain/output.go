package coremain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pmkol/rdapx/pkg/batch"
	"github.com/pmkol/rdapx/pkg/bootstrap"
	"github.com/pmkol/rdapx/pkg/rdap"
	"github.com/pmkol/rdapx/pkg/rdaperr"
)

func writeOutput(w io.Writer, format string, v any) error {
	switch strings.ToLower(format) {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown output format %q", format)
}

type errorView struct {
	Code    string `json:"code" yaml:"code"`
	Message string `json:"message" yaml:"message"`
	Hint    string `json:"hint,omitempty" yaml:"hint,omitempty"`
}

type resultView struct {
	ID         string         `json:"id" yaml:"id"`
	Type       rdap.QueryType `json:"type" yaml:"type"`
	Query      string         `json:"query" yaml:"query"`
	Response   rdap.Response  `json:"response,omitempty" yaml:"response,omitempty"`
	Error      *errorView     `json:"error,omitempty" yaml:"error,omitempty"`
	DurationMS int64          `json:"durationMs" yaml:"durationMs"`
}

func newResultViews(results []batch.Result) []resultView {
	out := make([]resultView, 0, len(results))
	for _, r := range results {
		v := resultView{
			ID:         r.ID,
			Type:       r.Type,
			Query:      r.Query,
			Response:   r.Response,
			DurationMS: r.Duration.Milliseconds(),
		}
		if r.Err != nil {
			v.Error = &errorView{Code: rdaperr.CodeOf(r.Err), Message: r.Err.Error(), Hint: rdaperr.HintOf(r.Err)}
		}
		out = append(out, v)
	}
	return out
}

// writeTableSummary prints one line per cached registry table.
func writeTableSummary(ctx context.Context, w io.Writer, d *bootstrap.Discovery) error {
	for _, reg := range bootstrap.Registries {
		t, err := d.Table(ctx, reg)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%-5s version=%s publication=%s services=%d\n",
			reg, t.Version, t.Publication, len(t.Services)); err != nil {
			return err
		}
	}
	return nil
}
