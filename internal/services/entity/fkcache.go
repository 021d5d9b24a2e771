package entity

import (
	"context"
	"strconv"

	"github.com/halcyon-labs/entitycore/internal/entities"
)

// refreshReferenceNames denormalizes the display names of every
// referenced entity and group onto the entity, so readers never need a
// join to render references. Resolution failures for individual ids
// are logged and skipped; one dead reference must not abort the save.
func (s *Service) refreshReferenceNames(ctx context.Context, ent *entities.Entity) {
	def := ent.Definition()
	for _, f := range def.Fields {
		if !f.IsReference() {
			continue
		}
		switch f.Type {
		case entities.FieldTypeObject:
			if id := ent.TextValue(f.Name); id != "" {
				ent.ClearValueNames(f.Name)
				s.resolveObjectName(ctx, ent, f, id)
			}
		case entities.FieldTypeObjectMulti:
			ids := ent.ObjectMultiValue(f.Name)
			ent.ClearValueNames(f.Name)
			for _, id := range ids {
				s.resolveObjectName(ctx, ent, f, id)
			}
		case entities.FieldTypeGrouping:
			if id := ent.Int64Value(f.Name); id != 0 {
				ent.ClearValueNames(f.Name)
				s.resolveGroupName(ctx, ent, f, id)
			}
		case entities.FieldTypeGroupingMulti:
			ids := ent.GroupingMultiValue(f.Name)
			ent.ClearValueNames(f.Name)
			for _, id := range ids {
				s.resolveGroupName(ctx, ent, f, id)
			}
		}
	}
}

func (s *Service) resolveObjectName(ctx context.Context, ent *entities.Entity, f *entities.Field, ref string) {
	targetType, targetID := splitObjectRef(ref, f.Subtype)
	if targetType == "" || targetID == "" {
		return
	}
	target, err := s.GetByID(ctx, ent.AccountID(), targetType, targetID)
	if err != nil {
		s.log.Debug().Err(err).Str("field", f.Name).Str("target", ref).
			Msg("skipping unresolvable object reference")
		return
	}
	name := target.UniqueName()
	if title := target.TextValue("name"); title != "" {
		name = title
	}
	ent.SetValueName(f.Name, ref, name)
}

func (s *Service) resolveGroupName(ctx context.Context, ent *entities.Entity, f *entities.Field, id int64) {
	group, err := s.groups.GetGroup(ctx, ent.AccountID(), id)
	if err != nil {
		s.log.Debug().Err(err).Str("field", f.Name).Int64("group", id).
			Msg("skipping unresolvable group reference")
		return
	}
	ent.SetValueName(f.Name, strconv.FormatInt(id, 10), group.Name)
}

// splitObjectRef parses a "type:id" reference; a bare id takes its
// type from the field subtype
func splitObjectRef(ref, subtype string) (string, string) {
	for i := 0; i < len(ref); i++ {
		if ref[i] == ':' {
			return ref[:i], ref[i+1:]
		}
	}
	return subtype, ref
}
