package report

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"path"
	"time"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

//go:embed assets/style.css
var assetsFS embed.FS

// Output paths relative to the site root.
const (
	IndexPage = "index.html"
	RunsPage  = "runs.html"
	FeedFile  = "index.json"
	StyleFile = "assets/style.css"
)

// AppPage returns the path of the page of the application with slug.
func AppPage(slug string) string {
	return path.Join("apps", slug, "index.html")
}

func loadTemplates() (*template.Template, error) {
	funcs := template.FuncMap{
		"formatBytes": formatBytes,
		"formatTime":  formatTime,
		"appPage":     AppPage,
		"short":       short,
	}
	return template.New("").Funcs(funcs).ParseFS(templateFS, "templates/*.tmpl")
}

// renderSite renders every file of the site into memory, keyed by path
// relative to the output directory.
func renderSite(model *SiteModel) (map[string][]byte, error) {
	tmpl, err := loadTemplates()
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	files := make(map[string][]byte)
	render := func(name, out string, data any) error {
		var buf bytes.Buffer
		if err := tmpl.ExecuteTemplate(&buf, name, data); err != nil {
			return fmt.Errorf("failed to execute %s: %w", name, err)
		}
		files[out] = buf.Bytes()
		return nil
	}

	if err := render("index.tmpl", IndexPage, model); err != nil {
		return nil, err
	}
	if err := render("runs.tmpl", RunsPage, model); err != nil {
		return nil, err
	}
	for _, app := range model.Apps {
		if err := render("app.tmpl", AppPage(app.Slug), app); err != nil {
			return nil, fmt.Errorf("%s: %w", app.Name, err)
		}
	}

	feed, err := json.MarshalIndent(Feed(model), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal feed: %w", err)
	}
	files[FeedFile] = append(feed, '\n')

	css, err := fs.ReadFile(assetsFS, StyleFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded style.css: %w", err)
	}
	files[StyleFile] = css
	return files, nil
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04 MST")
}

// short truncates hashes and ids for table cells.
func short(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:12]
}
