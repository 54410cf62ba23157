// Package render provides output rendering for the formbridge CLI.
//
// Format selection:
//   - If output is a TTY, default to table
//   - If output is not a TTY, default to json
//   - --format always overrides the default
//
// --no-color affects table output only; TUI views carry their own styling.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/ajolex/surveycto-vc-agent/cli/tui"
	"github.com/ajolex/surveycto-vc-agent/iox"
	"github.com/ajolex/surveycto-vc-agent/lode"
	"github.com/ajolex/surveycto-vc-agent/status"
)

// Format represents an output format.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a format string, returning an error for invalid formats.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "table":
		return FormatTable, nil
	case "yaml":
		return FormatYAML, nil
	case "":
		return "", nil
	default:
		return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
	}
}

// Renderer handles output formatting.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// NewRenderer creates a renderer from the --format and --no-color flags.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}
	if format == "" {
		if isTTY(os.Stdout) {
			format = FormatTable
		} else {
			format = FormatJSON
		}
	}
	return &Renderer{
		format:  format,
		noColor: c.Bool("no-color"),
		out:     c.App.Writer,
	}, nil
}

// NewRendererWithWriter creates a renderer with a custom writer.
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{format: format, noColor: noColor, out: out}
}

// Render outputs data in the configured format.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	case FormatTable:
		return r.renderTable(data)
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

// RenderTUI starts the TUI view for viewType.
func (r *Renderer) RenderTUI(viewType string, data any) error {
	if !tui.IsTUISupported(viewType) {
		return fmt.Errorf("--tui is not supported for %s", viewType)
	}
	return tui.Run(viewType, data)
}

func (r *Renderer) renderTable(data any) error {
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	defer iox.DiscardErr(w.Flush)

	switch d := data.(type) {
	case *status.Report:
		r.reportTable(w, d)
	case []lode.OutcomeRecord:
		r.historyTable(w, d)
	case []string:
		if len(d) == 0 {
			fmt.Fprintln(w, "(no results)")
		}
		for _, s := range d {
			fmt.Fprintln(w, s)
		}
	default:
		r.structTable(w, data)
	}
	return nil
}

func (r *Renderer) reportTable(w io.Writer, s *status.Report) {
	fmt.Fprintf(w, "version:\t%s\n", s.Version)
	fmt.Fprintf(w, "listen:\t%s\n", s.Listen)
	fmt.Fprintf(w, "uptime:\t%s\n", s.Uptime)
	fmt.Fprintf(w, "connections:\t%d\n", s.Connections)

	if d := s.Deployment; d != nil {
		fmt.Fprintf(w, "deployment:\t%s\n", d.ID)
		fmt.Fprintf(w, "  form:\t%s (%s)\n", d.FormID, d.FileName)
		fmt.Fprintf(w, "  server:\t%s\n", d.ServerURL)
		fmt.Fprintf(w, "  bytes:\t%d in %d attachments\n", d.PayloadBytes, d.Attachments)
		fmt.Fprintf(w, "  state:\t%s\n", r.colorState(d.State))
		if d.TargetTabID != 0 {
			fmt.Fprintf(w, "  tab:\t%d\n", d.TargetTabID)
		}
		if d.Result != "" {
			fmt.Fprintf(w, "  result:\t%s\n", d.Result)
		}
	} else {
		fmt.Fprintf(w, "deployment:\t(none)\n")
	}

	if len(s.Relays) == 0 {
		fmt.Fprintf(w, "panels:\t(none)\n")
	}
	for _, rs := range s.Relays {
		state := "lost"
		if rs.Alive {
			state = "alive"
		}
		fmt.Fprintf(w, "panel %s:\t%s, %d pending\n", rs.Sheet, r.colorState(state), rs.Pending)
	}

	m := s.Metrics
	fmt.Fprintf(w, "deployments:\t%d staged, %d delivered, %d succeeded, %d failed\n",
		m.DeploymentsStaged, m.PayloadsDelivered, m.UploadsSucceeded, m.UploadsFailed)
	fmt.Fprintf(w, "requests:\t%d sent, %d resolved, %d timed out, %d unreachable\n",
		m.RequestsSent, m.RequestsResolved, m.RequestsTimedOut, m.PeerUnreachable)
}

func (r *Renderer) historyTable(w io.Writer, records []lode.OutcomeRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, "(no results)")
		return
	}
	fmt.Fprintln(w, "completed_at\tform_id\tfile_name\tresult\tduration\tmessage")
	for _, rec := range records {
		result := "failed"
		if rec.Success {
			result = "ok"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.CompletedAt, rec.FormID, rec.FileName, r.colorState(result),
			time.Duration(rec.DurationMs)*time.Millisecond, rec.Message)
	}
}

// structTable prints one "name: value" row per field of a struct or map.
func (r *Renderer) structTable(w io.Writer, data any) {
	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			fmt.Fprintln(w, "(none)")
			return
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			fmt.Fprintf(w, "%s:\t%s\n", fieldName(t.Field(i)), formatValue(v.Field(i)))
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			fmt.Fprintf(w, "%v:\t%s\n", iter.Key().Interface(), formatValue(iter.Value()))
		}
	default:
		fmt.Fprintf(w, "%v\n", data)
	}
}

func fieldName(f reflect.StructField) string {
	if tag := f.Tag.Get("json"); tag != "" {
		name, _, _ := strings.Cut(tag, ",")
		if name != "" && name != "-" {
			return name
		}
	}
	return strings.ToLower(f.Name)
}

func formatValue(v reflect.Value) string {
	if !v.IsValid() {
		return ""
	}
	if v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.String {
			parts := make([]string, v.Len())
			for i := range parts {
				parts[i] = v.Index(i).String()
			}
			return strings.Join(parts, ", ")
		}
		return fmt.Sprintf("[%d items]", v.Len())
	case reflect.Map:
		return fmt.Sprintf("{%d keys}", v.Len())
	case reflect.Struct:
		if t, ok := v.Interface().(time.Time); ok {
			return t.Format(time.RFC3339)
		}
		return "{...}"
	default:
		return fmt.Sprintf("%v", v.Interface())
	}
}

const (
	ansiGreen = "\x1b[32m"
	ansiAmber = "\x1b[33m"
	ansiRed   = "\x1b[31m"
	ansiReset = "\x1b[0m"
)

func (r *Renderer) colorState(state string) string {
	if r.noColor {
		return state
	}
	switch state {
	case "succeeded", "alive", "ok":
		return ansiGreen + state + ansiReset
	case "staged", "bound":
		return ansiAmber + state + ansiReset
	case "failed", "lost":
		return ansiRed + state + ansiReset
	}
	return state
}

// isTTY returns true if f is a terminal.
func isTTY(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
