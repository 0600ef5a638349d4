package cli

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"

	"github.com/toyz/waypoint/pkg/waypoint"
)

var methodColors = map[string]*color.Color{
	http.MethodGet:    color.New(color.FgGreen),
	http.MethodPost:   color.New(color.FgYellow),
	http.MethodPut:    color.New(color.FgBlue),
	http.MethodPatch:  color.New(color.FgCyan),
	http.MethodDelete: color.New(color.FgRed),
}

// cell is a table cell; styled may carry color codes, text never does.
type cell struct {
	text   string
	styled string
}

func plain(s string) cell { return cell{text: s, styled: s} }

// PrintRoutes writes the route table in match order. Columns are sized on
// the uncolored text so color codes do not skew the alignment.
func PrintRoutes(w io.Writer, routes []waypoint.RouteInfo) error {
	rows := [][]cell{{plain("METHOD"), plain("PATH"), plain("HANDLER"), plain("GUARDS"), plain("MIDDLEWARE")}}
	for _, r := range routes {
		method := plain(r.Method)
		if c, ok := methodColors[r.Method]; ok {
			method.styled = c.Sprint(r.Method)
		}
		handler := plain(r.ControllerName + "." + r.HandlerName)
		if r.Deprecated {
			handler.text += " (deprecated)"
			handler.styled += color.New(color.Faint).Sprint(" (deprecated)")
		}
		rows = append(rows, []cell{method, plain(r.Path), handler, plain(dash(r.Guards)), plain(dash(r.Middlewares))})
	}

	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, c := range row {
			widths[i] = max(widths[i], utf8.RuneCountInString(c.text))
		}
	}
	var b strings.Builder
	for _, row := range rows {
		for i, c := range row {
			b.WriteString(c.styled)
			if i < len(row)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-utf8.RuneCountInString(c.text)+2))
			}
		}
		b.WriteByte('\n')
	}
	_, err := fmt.Fprintf(w, "%s\n%d routes\n", b.String(), len(routes))
	return err
}

func dash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ",")
}
