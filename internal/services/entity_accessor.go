package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"labcrm/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// Entity models the automation engine can address.
const (
	ModelLead      = "Lead"
	ModelQuotation = "Quotation"
	ModelContract  = "Contract"
	ModelStudy     = "Study"
	ModelCustomer  = "Customer"
)

// EntityStore is the lookup capability over business objects used by conditions and actions.
type EntityStore interface {
	FindByID(ctx context.Context, model string, id uint) (map[string]interface{}, error)
	Update(ctx context.Context, model string, id uint, changes map[string]interface{}) error
}

type entityKind struct {
	name      string
	newRecord func() interface{}
	fields    map[string]*schema.Field // keyed by JSON attribute name
}

// EntityAccessor reads and writes business entities as generic attribute maps.
// Attribute names are the entities' JSON field names (status, valid_until, owner_id, ...).
type EntityAccessor struct {
	db    *gorm.DB
	kinds map[string]*entityKind
}

func NewEntityAccessor(db *gorm.DB) *EntityAccessor {
	var namer schema.Namer = schema.NamingStrategy{}
	if db != nil && db.Config != nil && db.NamingStrategy != nil {
		namer = db.NamingStrategy
	}
	cache := &sync.Map{}
	a := &EntityAccessor{db: db, kinds: make(map[string]*entityKind)}
	a.register(ModelLead, func() interface{} { return &models.Lead{} }, cache, namer)
	a.register(ModelQuotation, func() interface{} { return &models.Quotation{} }, cache, namer)
	a.register(ModelContract, func() interface{} { return &models.Contract{} }, cache, namer)
	a.register(ModelStudy, func() interface{} { return &models.Study{} }, cache, namer)
	a.register(ModelCustomer, func() interface{} { return &models.Customer{} }, cache, namer)
	return a
}

func (a *EntityAccessor) register(name string, newRecord func() interface{}, cache *sync.Map, namer schema.Namer) {
	s, err := schema.Parse(newRecord(), cache, namer)
	if err != nil {
		// the models are static, a parse failure is a programming error
		panic(fmt.Sprintf("entity accessor: parse %s: %v", name, err))
	}
	fields := make(map[string]*schema.Field, len(s.Fields))
	for _, f := range s.Fields {
		if f.DBName == "" {
			continue
		}
		jsonName := strings.Split(f.Tag.Get("json"), ",")[0]
		if jsonName == "" || jsonName == "-" {
			continue
		}
		fields[jsonName] = f
	}
	a.kinds[name] = &entityKind{name: name, newRecord: newRecord, fields: fields}
}

// SupportedModels returns the addressable model names in a stable order.
func (a *EntityAccessor) SupportedModels() []string {
	names := make([]string, 0, len(a.kinds))
	for name := range a.kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Supports reports whether model is an addressable entity kind.
func (a *EntityAccessor) Supports(model string) bool {
	_, ok := a.kinds[model]
	return ok
}

// HasField reports whether field is an attribute of model.
func (a *EntityAccessor) HasField(model, field string) bool {
	kind, ok := a.kinds[model]
	if !ok {
		return false
	}
	_, ok = kind.fields[field]
	return ok
}

// IsDateField reports whether field is a date/time attribute of model.
func (a *EntityAccessor) IsDateField(model, field string) bool {
	kind, ok := a.kinds[model]
	if !ok {
		return false
	}
	f, ok := kind.fields[field]
	return ok && f.DataType == schema.Time
}

func (a *EntityAccessor) kind(model string) (*entityKind, error) {
	kind, ok := a.kinds[model]
	if !ok {
		return nil, invalid("unsupported entity model %q", model)
	}
	return kind, nil
}

// FindByID loads an entity and returns its attribute map.
func (a *EntityAccessor) FindByID(ctx context.Context, model string, id uint) (map[string]interface{}, error) {
	kind, err := a.kind(model)
	if err != nil {
		return nil, err
	}
	record := kind.newRecord()
	if err := a.db.WithContext(ctx).First(record, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("%s %d", model, id)
		}
		return nil, fmt.Errorf("load %s %d: %w", model, id, err)
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	attrs := make(map[string]interface{})
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, err
	}
	return attrs, nil
}

// Update writes attribute changes to a single entity.
func (a *EntityAccessor) Update(ctx context.Context, model string, id uint, changes map[string]interface{}) error {
	kind, err := a.kind(model)
	if err != nil {
		return err
	}
	if len(changes) == 0 {
		return nil
	}
	columns := make(map[string]interface{}, len(changes))
	for attr, value := range changes {
		f, ok := kind.fields[attr]
		if !ok || f.PrimaryKey {
			return invalid("%s has no writable attribute %q", model, attr)
		}
		columns[f.DBName] = value
	}
	result := a.db.WithContext(ctx).Model(kind.newRecord()).Where("id = ?", id).Updates(columns)
	if result.Error != nil {
		return fmt.Errorf("update %s %d: %w", model, id, result.Error)
	}
	if result.RowsAffected == 0 {
		return notFound("%s %d", model, id)
	}
	return nil
}

// FindIDsByDate returns ids of entities whose date field falls on the calendar day starting at day,
// in day's location. DST days are 23 or 25 hours long. Rows with a NULL field never match.
func (a *EntityAccessor) FindIDsByDate(ctx context.Context, model, field string, day time.Time) ([]uint, error) {
	kind, err := a.kind(model)
	if err != nil {
		return nil, err
	}
	f, ok := kind.fields[field]
	if !ok || f.DataType != schema.Time {
		return nil, invalid("%s.%s is not a date attribute", model, field)
	}
	from := day.UTC()
	to := day.AddDate(0, 0, 1).UTC()
	col := clause.Column{Name: f.DBName}

	var ids []uint
	err = a.db.WithContext(ctx).Model(kind.newRecord()).
		Where(clause.Gte{Column: col, Value: from}).
		Where(clause.Lt{Column: col, Value: to}).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("scan %s.%s: %w", model, field, err)
	}
	return ids, nil
}
