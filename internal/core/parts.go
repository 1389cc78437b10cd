package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/partregistry/internal/logging"
	"github.com/JonMunkholm/partregistry/internal/matching"
	"github.com/JonMunkholm/partregistry/internal/store"
)

// Part listing limits.
const (
	DefaultListLimit = 100
	MaxListLimit     = 5000

	maxExternalIDLen = 100
	maxPartNameLen   = 500
	maxRevisionLen   = 50
)

// CreateParts inserts new catalog parts. The batch is all or nothing: when
// any external ID already exists nothing is written and the error wraps
// ErrConflict.
func (s *Service) CreateParts(ctx context.Context, parts []store.Part) (int, error) {
	if len(parts) == 0 {
		return 0, nil
	}

	seen := make(map[string]int, len(parts))
	prepared := make([]store.Part, len(parts))
	operator := OperatorFromContext(ctx)
	for i, p := range parts {
		p, err := preparePart(p)
		if err != nil {
			return 0, fmt.Errorf("part %d: %w", i, err)
		}
		if j, dup := seen[p.ExternalID]; dup {
			return 0, fmt.Errorf("parts %d and %d share external_id %s: %w", j, i, p.ExternalID, ErrConflict)
		}
		seen[p.ExternalID] = i
		if p.CreatedBy == "" {
			p.CreatedBy = operator
		}
		prepared[i] = p
	}

	if err := s.store.InsertParts(ctx, prepared); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return 0, fmt.Errorf("%w: %w", ErrConflict, err)
		}
		return 0, fmt.Errorf("create parts: %w", err)
	}

	logging.FromContext(ctx).Info("parts created", "count", len(prepared), "created_by", operator)
	return len(prepared), nil
}

// UpdatePart replaces the mutable fields of the part identified by
// p.ExternalID. The normalized name and canonical key are recomputed.
func (s *Service) UpdatePart(ctx context.Context, p store.Part) (store.Part, error) {
	p, err := preparePart(p)
	if err != nil {
		return store.Part{}, err
	}

	updated, err := s.store.UpdatePart(ctx, p)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Part{}, fmt.Errorf("part %s: %w", p.ExternalID, ErrNotFound)
		}
		return store.Part{}, fmt.Errorf("update part: %w", err)
	}
	return updated, nil
}

// ListParts returns parts newest first. limit is clamped to [1, 5000];
// zero means DefaultListLimit.
func (s *Service) ListParts(ctx context.Context, limit, offset int) ([]store.Part, error) {
	if limit == 0 {
		limit = DefaultListLimit
	}
	limit = max(1, min(limit, MaxListLimit))
	offset = max(0, offset)

	parts, err := s.store.ListParts(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list parts: %w", err)
	}
	return parts, nil
}

// DeletePart permanently removes a part and any aliases pointing at it.
func (s *Service) DeletePart(ctx context.Context, externalID string) error {
	externalID = strings.TrimSpace(externalID)
	if err := checkLen("external_id", externalID, 1, maxExternalIDLen); err != nil {
		return err
	}
	if err := s.store.DeletePart(ctx, externalID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("part %s: %w", externalID, ErrNotFound)
		}
		return fmt.Errorf("delete part: %w", err)
	}
	logging.FromContext(ctx).Info("part deleted", "external_id", externalID)
	return nil
}

// preparePart validates p and fills the derived matching columns.
func preparePart(p store.Part) (store.Part, error) {
	p.ExternalID = strings.TrimSpace(p.ExternalID)
	p.PartName = strings.TrimSpace(p.PartName)
	p.Revision = strings.TrimSpace(p.Revision)
	p.ItemType = strings.TrimSpace(p.ItemType)
	p.InternalReference = strings.TrimSpace(p.InternalReference)

	if err := checkLen("external_id", p.ExternalID, 1, maxExternalIDLen); err != nil {
		return p, err
	}
	if err := checkLen("part_name", p.PartName, 1, maxPartNameLen); err != nil {
		return p, err
	}
	if err := checkLen("internal_reference", p.InternalReference, 0, maxReferenceLen); err != nil {
		return p, err
	}
	if err := checkLen("item_type", p.ItemType, 0, maxItemTypeLen); err != nil {
		return p, err
	}
	if err := checkLen("revision", p.Revision, 0, maxRevisionLen); err != nil {
		return p, err
	}
	if p.Qty != nil && *p.Qty < 0 {
		return p, invalid("qty", fmt.Sprint(*p.Qty), "must not be negative")
	}

	p.NameNorm = matching.Normalize(p.PartName)
	p.CanonicalKey = matching.CanonicalKey(p.PartName, p.Revision)
	if p.Prefix == "" {
		p.Prefix = idPrefix(p.ExternalID)
	}
	return p, nil
}

// idPrefix returns the series an identifier such as PS_000012 belongs to.
func idPrefix(externalID string) string {
	before, _, found := strings.Cut(externalID, "_")
	if !found {
		return ""
	}
	return before
}
