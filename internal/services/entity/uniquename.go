package entity

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/halcyon-labs/entitycore/internal/entities"
)

var unameStripPattern = regexp.MustCompile(`[^a-z0-9]+`)

// normalizeUname lowers the candidate and collapses every run of
// non-alphanumeric characters into a single dash
func normalizeUname(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = unameStripPattern.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// generateUniqueName derives a unique name from the schema's uname
// path. An empty source value falls back to an opaque per-tenant
// sequence number; a collision appends the sequence number as a
// disambiguating suffix instead of failing the save.
func (s *Service) generateUniqueName(ctx context.Context, ent *entities.Entity) (string, error) {
	def := ent.Definition()
	source := def.UnameSourceField()

	var base string
	if source != nil {
		base = normalizeUname(ent.TextValue(source.Name))
	}
	if base == "" {
		n, err := s.repo.NextUnameNumber(ctx, ent.AccountID(), ent.ObjType())
		if err != nil {
			return "", fmt.Errorf("failed to allocate uname number: %w", err)
		}
		return fmt.Sprintf("%s-%d", ent.ObjType(), n), nil
	}

	ok, err := s.VerifyUniqueName(ctx, ent, base)
	if err != nil {
		return "", err
	}
	if ok {
		return base, nil
	}

	n, err := s.repo.NextUnameNumber(ctx, ent.AccountID(), ent.ObjType())
	if err != nil {
		return "", fmt.Errorf("failed to allocate uname number: %w", err)
	}
	return fmt.Sprintf("%s-%d", base, n), nil
}

// VerifyUniqueName reports whether the candidate name is free for this
// entity. Types without uniqueness settings always pass. Namespace
// fields scope the check so the same name may repeat under different
// parents; the entity itself never counts as a collision.
func (s *Service) VerifyUniqueName(ctx context.Context, ent *entities.Entity, candidate string) (bool, error) {
	def := ent.Definition()
	if !def.HasUniqueNames() {
		return true, nil
	}

	q := entities.NewQuery(ent.ObjType()).
		Where(entities.FieldUniqueName, entities.OpEqual, candidate)
	for _, ns := range def.UnameNamespaceFields() {
		q.Where(ns.Name, entities.OpEqual, ent.GetValue(ns.Name))
	}
	q.Limit = 2

	res, err := s.index.ExecuteQuery(ctx, ent.AccountID(), q)
	if err != nil {
		return false, fmt.Errorf("failed to verify unique name: %w", err)
	}
	for _, other := range res.Entities {
		if other.EntityID() != ent.EntityID() {
			return false, nil
		}
	}
	return true, nil
}
