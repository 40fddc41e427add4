package export

import (
	"bytes"
	"html/template"
	"time"
)

var rosterTemplate = template.Must(template.New("roster").Funcs(template.FuncMap{
	"title": func(k Kind) string {
		if k == KindRequests {
			return "Pending registration requests"
		}
		return "Members"
	},
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
	"members": func(k Kind) bool { return k == KindMembers },
}).Parse(rosterHTML))

// TemplateData holds data for roster template rendering
type TemplateData struct {
	Kind        Kind
	Rows        []Row
	GeneratedAt time.Time
}

// RenderRosterHTML renders the roster template with provided data
func RenderRosterHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := rosterTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const rosterHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{title .Kind}}</title>
  <style>
    body { font-family: Arial, sans-serif; max-width: 900px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #2e7d32; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 1.5rem; }
    table { border-collapse: collapse; width: 100%; }
    th, td { text-align: left; padding: 0.4rem 0.6rem; border-bottom: 1px solid #ddd; }
  </style>
</head>
<body>
  <h1>{{title .Kind}}</h1>
  <div class="meta">{{len .Rows}} records | {{formatDate .GeneratedAt "Jan 2, 2006 15:04"}}</div>
  <table>
    <tr><th>Name</th><th>Barangay</th><th>Email</th>{{if members .Kind}}<th>Points</th>{{end}}</tr>
    {{range .Rows}}<tr><td>{{.Name}}</td><td>{{.Barangay}}</td><td>{{.Email}}</td>{{if members $.Kind}}<td>{{.Points}}</td>{{end}}</tr>
    {{end}}
  </table>
</body>
</html>`
