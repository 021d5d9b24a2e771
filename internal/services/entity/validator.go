package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/halcyon-labs/entitycore/internal/entities"
)

// ValidationError collects every rule violation found in one pass so
// callers can surface all of them at once. Returned before anything is
// persisted; a failing validation never mutates state.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Errors, "; ")
}

// ValidateEntity checks the entity against its schema. Returns nil
// when valid.
func ValidateEntity(ent *entities.Entity) *ValidationError {
	def := ent.Definition()
	var errs []string

	for _, name := range ent.ValueFields() {
		if def.GetField(name) == nil {
			errs = append(errs, fmt.Sprintf("field %q is not defined for %s", name, def.ObjType))
		}
	}

	for _, f := range def.Fields {
		v := ent.GetValue(f.Name)
		if f.Required && !f.System && isEmptyValue(v) {
			errs = append(errs, fmt.Sprintf("field %q is required", f.Name))
			continue
		}
		if v == nil {
			continue
		}
		if !valueMatchesType(f, v) {
			errs = append(errs, fmt.Sprintf("field %q has wrong type %T", f.Name, v))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return &ValidationError{Errors: errs}
}

func isEmptyValue(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []string:
		return len(t) == 0
	case []int64:
		return len(t) == 0
	}
	return false
}

func valueMatchesType(f *entities.Field, v interface{}) bool {
	switch f.Type {
	case entities.FieldTypeText, entities.FieldTypeObject:
		_, ok := v.(string)
		return ok
	case entities.FieldTypeBool:
		_, ok := v.(bool)
		return ok
	case entities.FieldTypeNumber:
		switch v.(type) {
		case float64, int64, int:
			return true
		}
		return false
	case entities.FieldTypeGrouping:
		switch v.(type) {
		case int64, int, float64:
			return true
		}
		return false
	case entities.FieldTypeDate, entities.FieldTypeTimestamp:
		_, ok := v.(time.Time)
		return ok
	case entities.FieldTypeObjectMulti:
		_, ok := v.([]string)
		return ok
	case entities.FieldTypeGroupingMulti:
		_, ok := v.([]int64)
		return ok
	}
	return true
}
