package feed

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/solarops/activity/internal/docstore"
)

const missingValue = "<no value>"

// project converts a source document into an Item. Documents without a readable timestamp
// are skipped.
func (c *compiledCategory) project(doc docstore.Document) (Item, bool) {
	if doc.ID == "" {
		return Item{}, false
	}
	at, ok := doc.Timestamp(c.TimestampField)
	if !ok {
		return Item{}, false
	}

	data := make(map[string]any, len(doc.Fields)+1)
	for key, value := range doc.Fields {
		data[key] = value
	}
	data["id"] = doc.ID

	title := ""
	if c.TitleField != "" {
		title = strings.TrimSpace(docstore.AsString(doc.Fields[c.TitleField]))
	}
	if title == "" {
		title = c.Label
	}

	return Item{
		ID:               doc.ID,
		Category:         c.Category,
		Title:            title,
		Message:          render(c.message, data),
		Timestamp:        at,
		TargetLink:       render(c.link, data),
		SourceCollection: c.Collection,
	}, true
}

func (c *compiledCategory) projectAll(docs []docstore.Document) []Item {
	items := make([]Item, 0, len(docs))
	for _, doc := range docs {
		if item, ok := c.project(doc); ok {
			items = append(items, item)
		}
	}
	return items
}

func render(tmpl *template.Template, data map[string]any) string {
	if tmpl == nil {
		return ""
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return ""
	}
	out := strings.ReplaceAll(buf.String(), missingValue, "")
	return strings.Join(strings.Fields(out), " ")
}
