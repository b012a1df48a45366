package services

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"labcrm/internal/models"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

//go:embed catalog/templates.yaml
var templatesYAML []byte

// RuleTemplate 规则模板，ApplyTemplate 等价于以 DefaultConfig 调用 CreateRule
type RuleTemplate struct {
	ID            string             `yaml:"id" json:"id"`
	Name          string             `yaml:"name" json:"name"`
	Description   string             `yaml:"description" json:"description"`
	Category      string             `yaml:"category" json:"category"`
	TriggerType   models.TriggerType `yaml:"trigger_type" json:"trigger_type"`
	DefaultConfig RuleCreateRequest  `yaml:"default_config" json:"default_config"`
}

type templateFile struct {
	Templates []RuleTemplate `yaml:"templates"`
}

var loadBuiltinTemplates = sync.OnceValues(func() ([]RuleTemplate, error) {
	return parseTemplates(templatesYAML)
})

func parseTemplates(data []byte) ([]RuleTemplate, error) {
	var file templateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse template catalog: %w", err)
	}
	seen := make(map[string]bool, len(file.Templates))
	for _, tpl := range file.Templates {
		if tpl.ID == "" {
			return nil, errors.New("template catalog: entry without id")
		}
		if seen[tpl.ID] {
			return nil, fmt.Errorf("template catalog: duplicate id %q", tpl.ID)
		}
		seen[tpl.ID] = true
		if tpl.TriggerType != tpl.DefaultConfig.TriggerType {
			return nil, fmt.Errorf("template %s: trigger_type %s does not match default_config", tpl.ID, tpl.TriggerType)
		}
	}
	return file.Templates, nil
}

// TemplateCatalog serves the static template list and turns templates into rules.
type TemplateCatalog struct {
	rules     *RuleStore
	templates []RuleTemplate
	err       error
}

func NewTemplateCatalog(rules *RuleStore) *TemplateCatalog {
	templates, err := loadBuiltinTemplates()
	return &TemplateCatalog{rules: rules, templates: templates, err: err}
}

// ListTemplates returns the catalog in file order.
func (c *TemplateCatalog) ListTemplates() ([]RuleTemplate, error) {
	if c.err != nil {
		return nil, c.err
	}
	out := make([]RuleTemplate, len(c.templates))
	copy(out, c.templates)
	return out, nil
}

// GetTemplate looks a template up by id.
func (c *TemplateCatalog) GetTemplate(id string) (*RuleTemplate, error) {
	if c.err != nil {
		return nil, c.err
	}
	for i := range c.templates {
		if c.templates[i].ID == id {
			tpl := c.templates[i]
			return &tpl, nil
		}
	}
	return nil, notFound("automation template %q", id)
}

// ApplyTemplate creates a rule owned by ownerID from the template's default config.
func (c *TemplateCatalog) ApplyTemplate(ctx context.Context, ownerID uint, templateID string) (*models.AutomationRule, error) {
	tpl, err := c.GetTemplate(templateID)
	if err != nil {
		return nil, err
	}
	req := tpl.DefaultConfig
	req.TemplateID = tpl.ID
	return c.rules.CreateRule(ctx, ownerID, &req)
}

// InstallSystemTemplates stores every template as an INACTIVE system rule. Templates that
// already have a system rule are left alone, so repeated seeding is harmless.
func (c *TemplateCatalog) InstallSystemTemplates(ctx context.Context, ownerID uint) ([]*models.AutomationRule, error) {
	templates, err := c.ListTemplates()
	if err != nil {
		return nil, err
	}
	var installed []*models.AutomationRule
	for _, tpl := range templates {
		var existing models.AutomationRule
		err := c.rules.db.WithContext(ctx).
			Where("template_id = ? AND is_system = ?", tpl.ID, true).
			First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return installed, err
		}

		req := tpl.DefaultConfig
		req.TemplateID = tpl.ID
		req.IsSystem = true
		req.Status = models.RuleInactive
		rule, err := c.rules.CreateRule(ctx, ownerID, &req)
		if err != nil {
			return installed, fmt.Errorf("install template %s: %w", tpl.ID, err)
		}
		installed = append(installed, rule)
	}
	return installed, nil
}
