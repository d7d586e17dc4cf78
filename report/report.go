// Package report renders audit results into self-contained HTML and JSON
// files next to the captured images.
package report

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/pageshot/capture"
)

// strict strips all markup from page-sourced strings (titles, queries)
// before they land in a report. Template escaping handles the rest; this
// keeps stored JSON clean too.
var strict = bluemonday.StrictPolicy()

// Clean returns text with any markup removed.
func Clean(text string) string {
	return strict.Sanitize(text)
}

var layoutTmpl = template.Must(template.New("layout").Funcs(template.FuncMap{
	"base": filepath.Base,
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<title>Layout Audit - {{.URL}}</title>
<style>
body { font-family: system-ui; margin: 20px; background: #f5f5f5; }
h1 { color: #333; }
.grid { display: flex; flex-wrap: wrap; gap: 20px; }
.breakpoint { background: white; padding: 15px; border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
.breakpoint h3 { margin: 0 0 10px 0; color: #666; }
.breakpoint img { max-width: 300px; height: auto; border: 1px solid #ddd; border-radius: 4px; }
.breakpoint p { margin: 10px 0 0 0; color: #999; font-size: 12px; }
</style>
</head>
<body>
<h1>Layout Audit</h1>
<p><strong>URL:</strong> {{.URL}}</p>
<p><strong>Date:</strong> {{.Timestamp.Format "2006-01-02 15:04:05"}}</p>
<div class="grid">
{{- range .Shots}}{{if .Result.Succeeded}}
<div class="breakpoint">
<h3>{{.Width}}px</h3>
<img src="{{.File | base}}" alt="{{.Width}}px">
<p>{{.Result.PageWidth}}x{{.Result.PageHeight}}px</p>
</div>
{{- end}}{{end}}
</div>
</body>
</html>
`))

// LayoutHTML renders the breakpoint comparison page. Image references are
// relative, so the file must live alongside the shots.
func LayoutHTML(rep *capture.LayoutReport) ([]byte, error) {
	var buf bytes.Buffer
	if err := layoutTmpl.Execute(&buf, rep); err != nil {
		return nil, fmt.Errorf("report: render layout: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteLayout writes comparison.html into the audit directory and returns
// its path.
func WriteLayout(rep *capture.LayoutReport) (string, error) {
	html, err := LayoutHTML(rep)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(rep.Dir, 0o755); err != nil {
		return "", fmt.Errorf("report: mkdir %s: %w", rep.Dir, err)
	}
	path := filepath.Join(rep.Dir, "comparison.html")
	if err := os.WriteFile(path, html, 0o644); err != nil {
		return "", fmt.Errorf("report: write %s: %w", path, err)
	}
	return path, nil
}

type auditSite struct {
	URL         string
	Title       string
	DesktopImg  template.URL
	DesktopMeta string
	MobileImg   template.URL
	MobileMeta  string
}

var auditTmpl = template.Must(template.New("audit").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Visual Audit</title>
<style>
:root { --bg: #f8fafc; --card: #ffffff; --text: #1e293b; --muted: #64748b; --border: #e2e8f0; }
* { box-sizing: border-box; margin: 0; padding: 0; }
body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; background: var(--bg); color: var(--text); line-height: 1.6; padding: 40px 20px; }
h1 { margin-bottom: 30px; }
.site { background: var(--card); border: 1px solid var(--border); border-radius: 12px; padding: 24px; margin-bottom: 30px; }
.site h2 { margin-bottom: 4px; }
.site .url { color: var(--muted); margin-bottom: 16px; word-break: break-all; }
.row { display: flex; flex-wrap: wrap; gap: 24px; }
.card { flex: 1; min-width: 280px; }
.card h4 { color: var(--muted); margin-bottom: 8px; }
.card img { width: 100%; border: 1px solid var(--border); border-radius: 8px; }
.card.mobile { max-width: 320px; }
.meta { color: var(--muted); font-size: 12px; margin-top: 8px; }
</style>
</head>
<body>
<h1>Visual Audit</h1>
{{- range .}}
<div class="site">
<h2>{{if .Title}}{{.Title}}{{else}}{{.URL}}{{end}}</h2>
<p class="url"><a href="{{.URL}}" target="_blank">{{.URL}}</a></p>
<div class="row">
{{- if .DesktopImg}}
<div class="card">
<h4>Desktop</h4>
<img src="{{.DesktopImg}}" alt="Desktop">
<p class="meta">{{.DesktopMeta}}</p>
</div>
{{- end}}
{{- if .MobileImg}}
<div class="card mobile">
<h4>Mobile</h4>
<img src="{{.MobileImg}}" alt="Mobile">
<p class="meta">{{.MobileMeta}}</p>
</div>
{{- end}}
</div>
</div>
{{- end}}
</body>
</html>
`))

// AuditHTML renders the SEO audit to a self-contained page, embedding the
// shots as data URIs so the report survives on its own.
func AuditHTML(rep *capture.AuditReport) ([]byte, error) {
	sites := make([]auditSite, 0, len(rep.Entries))
	for _, e := range rep.Entries {
		site := auditSite{URL: e.URL}
		if e.Desktop != nil && e.Desktop.Succeeded() {
			site.Title = Clean(e.Desktop.Title)
			site.DesktopImg = embedImage(e.DesktopFile)
			site.DesktopMeta = fmt.Sprintf("%dx%dpx", e.Desktop.PageWidth, e.Desktop.PageHeight)
		}
		if e.Mobile != nil && e.Mobile.Succeeded() {
			site.MobileImg = embedImage(e.MobileFile)
			site.MobileMeta = fmt.Sprintf("%dx%dpx", e.Mobile.PageWidth, e.Mobile.PageHeight)
		}
		sites = append(sites, site)
	}

	var buf bytes.Buffer
	if err := auditTmpl.Execute(&buf, sites); err != nil {
		return nil, fmt.Errorf("report: render audit: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteAudit writes report.html and audit_data.json into the audit
// directory and returns the HTML path.
func WriteAudit(rep *capture.AuditReport) (string, error) {
	if err := os.MkdirAll(rep.Dir, 0o755); err != nil {
		return "", fmt.Errorf("report: mkdir %s: %w", rep.Dir, err)
	}

	html, err := AuditHTML(rep)
	if err != nil {
		return "", err
	}
	htmlPath := filepath.Join(rep.Dir, "report.html")
	if err := os.WriteFile(htmlPath, html, 0o644); err != nil {
		return "", fmt.Errorf("report: write %s: %w", htmlPath, err)
	}

	data, err := json.MarshalIndent(jsonSafe(rep), "", "  ")
	if err != nil {
		return "", fmt.Errorf("report: encode audit data: %w", err)
	}
	jsonPath := filepath.Join(rep.Dir, "audit_data.json")
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return "", fmt.Errorf("report: write %s: %w", jsonPath, err)
	}
	return htmlPath, nil
}

// jsonSafe strips payload bytes before persisting: images already live on
// disk next to the report.
func jsonSafe(rep *capture.AuditReport) *capture.AuditReport {
	out := *rep
	out.Entries = make([]capture.AuditEntry, len(rep.Entries))
	for i, e := range rep.Entries {
		out.Entries[i] = e
		if e.Desktop != nil {
			d := *e.Desktop
			d.Payload = nil
			d.HTML = ""
			out.Entries[i].Desktop = &d
		}
		if e.Mobile != nil {
			m := *e.Mobile
			m.Payload = nil
			m.HTML = ""
			out.Entries[i].Mobile = &m
		}
	}
	return &out
}

func embedImage(path string) template.URL {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(data))
}
