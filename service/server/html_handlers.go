package server

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/txfeed/service/feed"
)

//go:embed templates/*.html
var templatesFS embed.FS

// TemplateRenderer holds parsed HTML templates
type TemplateRenderer struct {
	templates *template.Template
	logger    *slog.Logger
}

// NewTemplateRenderer parses the embedded templates. Each feed item is
// rendered by the template named "item-" plus its strategy name.
func NewTemplateRenderer(logger *slog.Logger) (*TemplateRenderer, error) {
	tr := &TemplateRenderer{logger: logger}

	funcs := template.FuncMap{
		"item":     tr.renderItem,
		"clock":    func(ms int64) string { return time.UnixMilli(ms).UTC().Format("Jan 2 15:04") },
		"outgoing": func(a feed.Amount) bool { return a.Outgoing() },
		"amount":   func(a feed.Amount) string { return a.Value.Abs().StringFixed(2) + " " + a.CurrencyCode },
	}

	tmpl, err := template.New("feed").Funcs(funcs).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	for _, s := range []feed.Strategy{
		feed.StrategyTransfer,
		feed.StrategyCeloTransfer,
		feed.StrategyExchangeSummary,
		feed.StrategyGoldExchange,
	} {
		if tmpl.Lookup(itemTemplate(s)) == nil {
			return nil, fmt.Errorf("missing template %q", itemTemplate(s))
		}
	}

	tr.templates = tmpl
	return tr, nil
}

func itemTemplate(s feed.Strategy) string {
	return "item-" + s.String()
}

func (tr *TemplateRenderer) renderItem(item feed.Item) (template.HTML, error) {
	var buf bytes.Buffer
	if err := tr.templates.ExecuteTemplate(&buf, itemTemplate(item.Strategy), item); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

// Render renders a template with the given data. The output is buffered so a
// failing template does not leave a half-written page.
func (tr *TemplateRenderer) Render(w http.ResponseWriter, name string, data interface{}) error {
	var buf bytes.Buffer
	if err := tr.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, err := buf.WriteTo(w)
	return err
}

// feedPage is the data of feed.html.
type feedPage struct {
	Address   string
	Context   string
	Limit     int32
	Feed      presentationResponse
	StreamURL string
}

// handleFeedPage serves a wallet's feed as an HTML page.
// GET /feed/{address}?context=home|exchange&limit=N
func handleFeedPage(loader *feedLoader, renderer *TemplateRenderer, pageSize int, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address, c, limit, err := feedParams(r, pageSize)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		view := loader.load(r.Context(), address, c, limit)
		page := feedPage{
			Address:   address,
			Context:   c.String(),
			Limit:     limit,
			Feed:      viewToResponse(view),
			StreamURL: fmt.Sprintf("/api/v1/stream/feed/%s?context=%s&limit=%d", address, c.String(), limit),
		}

		if err := renderer.Render(w, "feed.html", page); err != nil {
			logger.Error("failed to render template", "template", "feed.html", "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
	})
}
