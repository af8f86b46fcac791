package feed

import (
	"errors"
	"fmt"
	"strings"
	"text/template"

	apperrors "github.com/solarops/activity/pkg/errors"
)

// Category is one of the independent activity streams.
type Category string

const (
	Faults                Category = "faults"
	CompletedWork         Category = "completed_work"
	ShiftNotes            Category = "shift_notes"
	ElectricalMaintenance Category = "electrical_maintenance"
	MechanicalMaintenance Category = "mechanical_maintenance"
	InverterChecks        Category = "inverter_checks"
	PowerOutages          Category = "power_outages"
)

// Categories lists every category in display order.
func Categories() []Category {
	return []Category{
		Faults,
		CompletedWork,
		ShiftNotes,
		ElectricalMaintenance,
		MechanicalMaintenance,
		InverterChecks,
		PowerOutages,
	}
}

// CategoryConfig describes where a category's documents live and how they are rendered.
// Templates are text/template strings evaluated against the document fields plus "id".
type CategoryConfig struct {
	Category        Category `json:"category" mapstructure:"category"`
	Label           string   `json:"label" mapstructure:"label"`
	Collection      string   `json:"collection" mapstructure:"collection"`
	TenantField     string   `json:"tenant_field" mapstructure:"tenant_field"`
	TimestampField  string   `json:"timestamp_field" mapstructure:"timestamp_field"`
	TitleField      string   `json:"title_field" mapstructure:"title_field"`
	MessageTemplate string   `json:"message_template" mapstructure:"message_template"`
	LinkTemplate    string   `json:"link_template" mapstructure:"link_template"`
}

// DefaultCategoryConfigs returns the built-in mapping of categories onto source collections.
func DefaultCategoryConfigs() []CategoryConfig {
	return []CategoryConfig{
		{
			Category:        Faults,
			Label:           "Faults",
			Collection:      "faults",
			TenantField:     "company_id",
			TimestampField:  "created_at",
			TitleField:      "title",
			MessageTemplate: "{{.severity}} fault on {{.equipment}}",
			LinkTemplate:    "/faults/{{.id}}",
		},
		{
			Category:        CompletedWork,
			Label:           "Completed work",
			Collection:      "work_reports",
			TenantField:     "company_id",
			TimestampField:  "completed_at",
			TitleField:      "title",
			MessageTemplate: "Completed by {{.technician}}",
			LinkTemplate:    "/work-reports/{{.id}}",
		},
		{
			Category:        ShiftNotes,
			Label:           "Shift notes",
			Collection:      "shift_reports",
			TenantField:     "company_id",
			TimestampField:  "created_at",
			TitleField:      "title",
			MessageTemplate: "{{.shift}} shift note from {{.operator}}",
			LinkTemplate:    "/shift-reports/{{.id}}",
		},
		{
			Category:        ElectricalMaintenance,
			Label:           "Electrical maintenance",
			Collection:      "electrical_maintenance",
			TenantField:     "company_id",
			TimestampField:  "performed_at",
			TitleField:      "title",
			MessageTemplate: "Electrical check on {{.component}} by {{.technician}}",
			LinkTemplate:    "/maintenance/electrical/{{.id}}",
		},
		{
			Category:        MechanicalMaintenance,
			Label:           "Mechanical maintenance",
			Collection:      "mechanical_maintenance",
			TenantField:     "company_id",
			TimestampField:  "performed_at",
			TitleField:      "title",
			MessageTemplate: "Mechanical check on {{.component}} by {{.technician}}",
			LinkTemplate:    "/maintenance/mechanical/{{.id}}",
		},
		{
			Category:        InverterChecks,
			Label:           "Inverter checks",
			Collection:      "inverter_checks",
			TenantField:     "tenant_id",
			TimestampField:  "checked_at",
			TitleField:      "title",
			MessageTemplate: "Inverter {{.inverter_id}}: {{.status}}",
			LinkTemplate:    "/inverters/checks/{{.id}}",
		},
		{
			Category:        PowerOutages,
			Label:           "Power outages",
			Collection:      "power_outages",
			TenantField:     "company_id",
			TimestampField:  "started_at",
			TitleField:      "title",
			MessageTemplate: "Outage at {{.plant}}: {{.cause}}",
			LinkTemplate:    "/outages/{{.id}}",
		},
	}
}

type compiledCategory struct {
	CategoryConfig
	message *template.Template
	link    *template.Template
}

// Registry holds the resolved configuration of every category.
type Registry struct {
	order   []Category
	entries map[Category]*compiledCategory
}

// NewRegistry resolves overrides on top of the defaults. Every category must end up with a
// collection, tenant field and timestamp field.
func NewRegistry(overrides ...CategoryConfig) (*Registry, error) {
	merged := make(map[Category]CategoryConfig)
	for _, cfg := range DefaultCategoryConfigs() {
		merged[cfg.Category] = cfg
	}

	for _, override := range overrides {
		current, ok := merged[override.Category]
		if !ok {
			return nil, fmt.Errorf("feed: %w: %q", apperrors.ErrUnknownCategory, override.Category)
		}
		merged[override.Category] = mergeConfig(current, override)
	}

	reg := &Registry{
		order:   Categories(),
		entries: make(map[Category]*compiledCategory, len(merged)),
	}
	for _, category := range reg.order {
		compiled, err := compileCategory(merged[category])
		if err != nil {
			return nil, err
		}
		reg.entries[category] = compiled
	}
	return reg, nil
}

// MustRegistry is NewRegistry for static configuration.
func MustRegistry(overrides ...CategoryConfig) *Registry {
	reg, err := NewRegistry(overrides...)
	if err != nil {
		panic(err)
	}
	return reg
}

func mergeConfig(base, override CategoryConfig) CategoryConfig {
	set := func(dst *string, value string) {
		if strings.TrimSpace(value) != "" {
			*dst = strings.TrimSpace(value)
		}
	}
	set(&base.Label, override.Label)
	set(&base.Collection, override.Collection)
	set(&base.TenantField, override.TenantField)
	set(&base.TimestampField, override.TimestampField)
	set(&base.TitleField, override.TitleField)
	set(&base.MessageTemplate, override.MessageTemplate)
	set(&base.LinkTemplate, override.LinkTemplate)
	return base
}

func compileCategory(cfg CategoryConfig) (*compiledCategory, error) {
	var missing []string
	if cfg.Collection == "" {
		missing = append(missing, "collection")
	}
	if cfg.TenantField == "" {
		missing = append(missing, "tenant_field")
	}
	if cfg.TimestampField == "" {
		missing = append(missing, "timestamp_field")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("feed: category %s missing %s", cfg.Category, strings.Join(missing, ", "))
	}

	message, err := template.New(string(cfg.Category) + ".message").Parse(cfg.MessageTemplate)
	if err != nil {
		return nil, fmt.Errorf("feed: category %s message template: %w", cfg.Category, err)
	}
	link, err := template.New(string(cfg.Category) + ".link").Parse(cfg.LinkTemplate)
	if err != nil {
		return nil, fmt.Errorf("feed: category %s link template: %w", cfg.Category, err)
	}

	return &compiledCategory{CategoryConfig: cfg, message: message, link: link}, nil
}

// Categories returns the registered categories in display order.
func (r *Registry) Categories() []Category {
	out := make([]Category, len(r.order))
	copy(out, r.order)
	return out
}

// Config returns the resolved configuration of a category.
func (r *Registry) Config(category Category) (CategoryConfig, bool) {
	entry, ok := r.entries[category]
	if !ok {
		return CategoryConfig{}, false
	}
	return entry.CategoryConfig, true
}

// Configs returns every resolved configuration in display order.
func (r *Registry) Configs() []CategoryConfig {
	out := make([]CategoryConfig, 0, len(r.order))
	for _, category := range r.order {
		out = append(out, r.entries[category].CategoryConfig)
	}
	return out
}

// Parse resolves a category name, returning ErrUnknownCategory for anything unregistered.
func (r *Registry) Parse(name string) (Category, error) {
	category := Category(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := r.entries[category]; !ok {
		return "", apperrors.ErrUnknownCategory.WithInternal(fmt.Errorf("category %q", name))
	}
	return category, nil
}

func (r *Registry) compiled(category Category) (*compiledCategory, error) {
	entry, ok := r.entries[category]
	if !ok {
		return nil, errors.New("feed: unregistered category " + string(category))
	}
	return entry, nil
}
