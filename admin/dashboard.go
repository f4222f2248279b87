package admin

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"digifusion/ajax"
	"digifusion/customizer"
	"digifusion/logging"
	"digifusion/model"
	"digifusion/schema"
)

const (
	// NonceAction protects the dashboard actions.
	NonceAction = "digifusion_admin_nonce"

	ActionInstallPlugin      = "digifusion_install_plugin"
	ActionActivatePlugin     = "digifusion_activate_plugin"
	ActionGetPluginStatus    = "digifusion_get_plugin_status"
	ActionUpdateGlobalColors = "digifusion_update_global_colors"
)

// SettingsStore persists theme settings.
type SettingsStore interface {
	ThemeMod(ctx context.Context, key string) (string, bool, error)
	SetThemeMods(ctx context.Context, values map[string]string) error
}

// Dashboard serves the admin AJAX actions.
type Dashboard struct {
	plugins   *Plugins
	registrar *customizer.Registrar
	settings  *customizer.StoredSettings
	store     SettingsStore
	cascade   *customizer.Cascade
	logger    *zap.Logger
}

func NewDashboard(plugins *Plugins, registrar *customizer.Registrar, store SettingsStore, logger *zap.Logger) *Dashboard {
	logger = logging.OrNop(logger).Named("admin")
	settings := customizer.NewStoredSettings(registrar.Schema(), store)
	return &Dashboard{
		plugins:   plugins,
		registrar: registrar,
		settings:  settings,
		store:     store,
		cascade:   customizer.NewCascade(registrar.CascadeRegistry(), settings, logger),
		logger:    logger,
	}
}

// RegisterActions adds the dashboard actions to d. All of them need a
// valid nonce and the admin capability.
func (db *Dashboard) RegisterActions(d *ajax.Dispatcher) {
	guarded := []ajax.Option{ajax.RequireNonce(NonceAction), ajax.RequireCapability()}
	d.Register(ActionInstallPlugin, db.handleInstallPlugin, guarded...)
	d.Register(ActionActivatePlugin, db.handleActivatePlugin, guarded...)
	d.Register(ActionGetPluginStatus, db.handleGetPluginStatus, guarded...)
	d.Register(ActionUpdateGlobalColors, db.handleUpdateGlobalColors, guarded...)
}

type pluginResponse struct {
	Slug   string             `json:"slug"`
	Status model.PluginStatus `json:"status"`
}

func pluginError(err error) error {
	switch {
	case errors.Is(err, ErrUnknownPlugin), errors.Is(err, ErrNotInstalled):
		return ajax.Errorf(http.StatusBadRequest, "%s", err.Error())
	}
	return err
}

func (db *Dashboard) handleInstallPlugin(_ http.ResponseWriter, r *ajax.Request) (any, error) {
	slug := r.Param("plugin")
	status, err := db.plugins.Install(r.Context(), slug)
	if err != nil {
		return nil, pluginError(err)
	}
	return pluginResponse{Slug: slug, Status: status}, nil
}

func (db *Dashboard) handleActivatePlugin(_ http.ResponseWriter, r *ajax.Request) (any, error) {
	slug := r.Param("plugin")
	status, err := db.plugins.Activate(r.Context(), slug)
	if err != nil {
		return nil, pluginError(err)
	}
	return pluginResponse{Slug: slug, Status: status}, nil
}

func (db *Dashboard) handleGetPluginStatus(_ http.ResponseWriter, r *ajax.Request) (any, error) {
	slug := r.Param("plugin")
	if slug == "" {
		return db.plugins.List(r.Context())
	}
	status, err := db.plugins.Status(r.Context(), slug)
	if err != nil {
		return nil, pluginError(err)
	}
	return pluginResponse{Slug: slug, Status: status}, nil
}

// ColorsUpdate is the result of a global color update.
type ColorsUpdate struct {
	Colors  model.ColorGroup `json:"colors"`
	Updated []string         `json:"updated"`
}

// UpdateGlobalColors stores a new palette and moves every stored color
// group field that referenced a changed swatch along with it.
func (db *Dashboard) UpdateGlobalColors(ctx context.Context, raw string) (ColorsUpdate, error) {
	clean, err := db.registrar.Sanitize(schema.GlobalColorsKey, raw)
	if err != nil {
		return ColorsUpdate{}, err
	}
	before, err := db.settings.Palette(ctx)
	if err != nil {
		return ColorsUpdate{}, err
	}
	if err := db.store.SetThemeMods(ctx, map[string]string{schema.GlobalColorsKey: clean}); err != nil {
		return ColorsUpdate{}, err
	}
	after, err := db.settings.Palette(ctx)
	if err != nil {
		return ColorsUpdate{}, err
	}

	updated, err := db.cascade.PaletteChanged(ctx, before, after)
	if err != nil {
		db.logger.Warn("global color cascade incomplete", zap.Error(err))
	}
	if updated == nil {
		updated = []string{}
	}
	return ColorsUpdate{Colors: after, Updated: updated}, nil
}

func (db *Dashboard) handleUpdateGlobalColors(_ http.ResponseWriter, r *ajax.Request) (any, error) {
	raw := r.Param("colors")
	if raw == "" {
		return nil, ajax.Errorf(http.StatusBadRequest, "No colors provided")
	}
	if _, err := model.DecodeColorGroup(raw); err != nil {
		return nil, ajax.Errorf(http.StatusBadRequest, "Invalid colors")
	}
	return db.UpdateGlobalColors(r.Context(), raw)
}
