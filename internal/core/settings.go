package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/partregistry/internal/pipeline"
	"github.com/JonMunkholm/partregistry/internal/store"
)

const (
	maxCategoryLen = 100
	maxModuleLen   = 100
)

// ListCategories returns the item categories offered when reviewing rows.
func (s *Service) ListCategories(ctx context.Context) ([]string, error) {
	names, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return names, nil
}

// AddCategory adds an item category. Adding an existing one is a no-op.
func (s *Service) AddCategory(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if err := checkLen("name", name, 1, maxCategoryLen); err != nil {
		return err
	}
	if err := s.store.AddCategory(ctx, name); err != nil {
		return fmt.Errorf("add category: %w", err)
	}
	return nil
}

// RemoveCategory deletes an item category.
func (s *Service) RemoveCategory(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if err := checkLen("name", name, 1, maxCategoryLen); err != nil {
		return err
	}
	if err := s.store.RemoveCategory(ctx, name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("category %q: %w", name, ErrNotFound)
		}
		return fmt.Errorf("remove category: %w", err)
	}
	return nil
}

// LastPrefix returns the prefix most recently used for module, or "".
func (s *Service) LastPrefix(ctx context.Context, module string) (string, error) {
	module = strings.TrimSpace(module)
	if err := checkLen("module", module, 1, maxModuleLen); err != nil {
		return "", err
	}
	prefix, err := s.store.LastPrefix(ctx, module)
	if err != nil {
		return "", fmt.Errorf("last prefix: %w", err)
	}
	return prefix, nil
}

// SetLastPrefix records prefix as the one last used for module and returns
// it normalized.
func (s *Service) SetLastPrefix(ctx context.Context, module, prefix string) (string, error) {
	module = strings.TrimSpace(module)
	if err := checkLen("module", module, 1, maxModuleLen); err != nil {
		return "", err
	}
	p, err := pipeline.NormalizePrefix(prefix)
	if err != nil {
		return "", err
	}
	if err := s.store.SetLastPrefix(ctx, module, p); err != nil {
		return "", fmt.Errorf("set last prefix: %w", err)
	}
	return p, nil
}
