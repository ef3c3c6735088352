package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/a-h/templ"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/conneroisu/devloop/internal/types"
	"github.com/conneroisu/devloop/internal/workspace"
)

var titleCaser = cases.Title(language.English)

func (s *DevServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	var statuses []types.GroupStatus
	if s.status != nil {
		statuses = s.status.Statuses()
	}

	snapshot, err := s.ws.Snapshot()
	if err != nil {
		s.logger.Warn(r.Context(), err, "Cannot snapshot destination")
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	if err := StatusPage(statuses, snapshot).Render(r.Context(), w); err != nil {
		s.logger.Error(r.Context(), err, "Cannot render status page")
	}
}

// StatusPage renders group states and output digests.
func StatusPage(statuses []types.GroupStatus, snapshot map[string]uint64) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<!DOCTYPE html><html><head><meta charset="utf-8"><title>devloop status</title>`+
			`<style>body{font-family:sans-serif;margin:2rem}table{border-collapse:collapse}`+
			`td,th{padding:.25rem .75rem;border-bottom:1px solid #ddd;text-align:left}`+
			`.failed{color:#b00}.compiling{color:#a60}</style></head><body><h1>devloop</h1>`); err != nil {
			return err
		}

		if err := groupTable(statuses).Render(ctx, w); err != nil {
			return err
		}
		if err := outputTable(snapshot).Render(ctx, w); err != nil {
			return err
		}

		_, err := io.WriteString(w, `</body></html>`)
		return err
	})
}

func groupTable(statuses []types.GroupStatus) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<h2>Asset groups</h2><table><tr><th>Group</th><th>Class</th><th>State</th>`+
			`<th>Compiles</th><th>Failures</th><th>Last success</th><th>Last error</th></tr>`); err != nil {
			return err
		}

		for _, st := range statuses {
			lastSuccess := "never"
			if !st.LastSuccess.IsZero() {
				lastSuccess = st.LastSuccess.Format(time.TimeOnly)
			}
			state := string(st.State)
			if st.Pending {
				state += " (pending)"
			}

			row := fmt.Sprintf(`<tr class="%s"><td>%s</td><td>%s</td><td>%s</td><td>%d</td><td>%d</td><td>%s</td><td><pre>%s</pre></td></tr>`,
				templ.EscapeString(string(st.State)),
				templ.EscapeString(titleCaser.String(st.Name)),
				templ.EscapeString(st.Class.String()),
				templ.EscapeString(state),
				st.Compiles,
				st.Failures,
				templ.EscapeString(lastSuccess),
				templ.EscapeString(st.LastError))
			if _, err := io.WriteString(w, row); err != nil {
				return err
			}
		}

		_, err := io.WriteString(w, `</table>`)
		return err
	})
}

func outputTable(snapshot map[string]uint64) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<h2>Outputs</h2><table><tr><th>File</th><th>Digest</th></tr>`); err != nil {
			return err
		}

		for _, name := range workspace.Files(snapshot) {
			row := fmt.Sprintf(`<tr><td><a href="/%s">%s</a></td><td><code>%016x</code></td></tr>`,
				templ.EscapeString(name), templ.EscapeString(name), snapshot[name])
			if _, err := io.WriteString(w, row); err != nil {
				return err
			}
		}

		_, err := io.WriteString(w, `</table>`)
		return err
	})
}
