package customizer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"digifusion/logging"
	"digifusion/model"
)

// Registry lists the ColorGroup settings that follow the global palette.
// The palette itself is not part of it.
type Registry struct {
	ColorGroups []string
}

// LiveSettings is the target a cascade reads from and writes to. Update
// must notify whatever renders the setting.
type LiveSettings interface {
	Value(ctx context.Context, key string) (string, bool, error)
	Update(ctx context.Context, key, value string) error
}

// SwatchChange is one palette entry moving from Old to New.
type SwatchChange struct {
	Key string
	Old string
	New string
}

// PaletteChanges lists the swatches whose value differs between two
// palettes, ordered by key. Swatches missing on either side are skipped.
func PaletteChanges(before, after model.ColorGroup) []SwatchChange {
	var changes []SwatchChange
	for key, next := range after {
		prev, ok := before[key]
		if !ok || prev == "" || next == "" || strings.EqualFold(strings.TrimSpace(prev), strings.TrimSpace(next)) {
			continue
		}
		changes = append(changes, SwatchChange{Key: key, Old: prev, New: next})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Key < changes[j].Key })
	return changes
}

// Cascade rewrites color group fields that reference a palette value. The
// link is by value: a field follows the palette only while it is exactly
// (case-insensitively) equal to the palette's previous value.
type Cascade struct {
	registry Registry
	settings LiveSettings
	logger   *zap.Logger
	updating atomic.Bool
}

func NewCascade(registry Registry, settings LiveSettings, logger *zap.Logger) *Cascade {
	return &Cascade{
		registry: registry,
		settings: settings,
		logger:   logging.OrNop(logger).Named("cascade"),
	}
}

// Updating reports whether a cascade is in progress.
func (c *Cascade) Updating() bool {
	return c.updating.Load()
}

// PaletteChanged propagates every changed swatch and returns the keys of
// the groups that were rewritten. All swatches are applied in one pass, so a
// field is only ever matched against its value before the change; swapping
// two swatches swaps the fields following them. Calls made while a cascade
// is running return immediately.
func (c *Cascade) PaletteChanged(ctx context.Context, before, after model.ColorGroup) ([]string, error) {
	if !c.updating.CompareAndSwap(false, true) {
		return nil, nil
	}
	defer c.updating.Store(false)

	replace := make(map[string]string)
	for _, ch := range PaletteChanges(before, after) {
		addReplacement(replace, ch.Old, ch.New)
	}
	return c.propagate(ctx, replace)
}

// Propagate replaces oldColor with newColor in every registered group.
func (c *Cascade) Propagate(ctx context.Context, oldColor, newColor string) ([]string, error) {
	if !c.updating.CompareAndSwap(false, true) {
		return nil, nil
	}
	defer c.updating.Store(false)

	replace := make(map[string]string, 1)
	addReplacement(replace, oldColor, newColor)
	return c.propagate(ctx, replace)
}

// Reset moves every group field still referencing currentColor to the
// swatch's factory default.
func (c *Cascade) Reset(ctx context.Context, currentColor, defaultColor string) ([]string, error) {
	return c.Propagate(ctx, currentColor, defaultColor)
}

// addReplacement records old -> new keyed by the folded old value. When two
// swatches shared an old value the first one wins.
func addReplacement(replace map[string]string, oldColor, newColor string) {
	oldColor = strings.TrimSpace(oldColor)
	newColor = strings.TrimSpace(newColor)
	if oldColor == "" || newColor == "" || strings.EqualFold(oldColor, newColor) {
		return
	}
	key := strings.ToLower(oldColor)
	if _, ok := replace[key]; !ok {
		replace[key] = newColor
	}
}

func (c *Cascade) propagate(ctx context.Context, replace map[string]string) ([]string, error) {
	if len(replace) == 0 {
		return nil, nil
	}

	var (
		updated []string
		errs    []error
	)
	for _, key := range c.registry.ColorGroups {
		raw, ok, err := c.settings.Value(ctx, key)
		if err != nil {
			c.logger.Warn("skipping color group", zap.String("key", key), zap.Error(err))
			errs = append(errs, fmt.Errorf("read %s: %w", key, err))
			continue
		}
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		group, err := model.DecodeColorGroup(raw)
		if err != nil {
			c.logger.Warn("skipping color group with invalid value", zap.String("key", key), zap.Error(err))
			continue
		}

		changed := false
		for field, value := range group {
			if next, ok := replace[strings.ToLower(strings.TrimSpace(value))]; ok {
				group[field] = next
				changed = true
			}
		}
		if !changed {
			continue
		}
		if err := c.settings.Update(ctx, key, group.Encode()); err != nil {
			c.logger.Warn("failed to update color group", zap.String("key", key), zap.Error(err))
			errs = append(errs, fmt.Errorf("update %s: %w", key, err))
			continue
		}
		updated = append(updated, key)
	}
	return updated, errors.Join(errs...)
}
