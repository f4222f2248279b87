// Package admin implements the theme dashboard: companion plugin
// management, global color updates and the nonce and capability checks
// guarding them.
package admin

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"digifusion/logging"
	"digifusion/model"
)

var (
	ErrUnknownPlugin = errors.New("admin: unknown plugin")
	ErrNotInstalled  = errors.New("admin: plugin not installed")
)

const maxPluginSize = 64 << 20

// Plugin is a companion plugin the dashboard can install.
type Plugin struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description"`
	DownloadURL string `json:"download_url"`
}

// DefaultPlugins are the companion plugins offered on the dashboard.
var DefaultPlugins = []Plugin{
	{
		Slug:        "digiblocks",
		Name:        "DigiBlocks",
		Description: "Block library designed for the DigiFusion theme.",
		DownloadURL: "https://downloads.wordpress.org/plugin/digiblocks.latest-stable.zip",
	},
	{
		Slug:        "woocommerce",
		Name:        "WooCommerce",
		Description: "Online store integration.",
		DownloadURL: "https://downloads.wordpress.org/plugin/woocommerce.latest-stable.zip",
	},
}

// PluginStore persists plugin state.
type PluginStore interface {
	PluginStatus(ctx context.Context, slug string) (model.PluginStatus, error)
	SetPluginStatus(ctx context.Context, slug string, status model.PluginStatus) error
}

// Plugins installs and activates companion plugins.
type Plugins struct {
	registry map[string]Plugin
	order    []string
	store    PluginStore
	dir      string
	client   *http.Client
	logger   *zap.Logger
}

func NewPlugins(plugins []Plugin, store PluginStore, dir string, client *http.Client, logger *zap.Logger) *Plugins {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	p := &Plugins{
		registry: make(map[string]Plugin, len(plugins)),
		store:    store,
		dir:      dir,
		client:   client,
		logger:   logging.OrNop(logger).Named("plugins"),
	}
	for _, pl := range plugins {
		p.registry[pl.Slug] = pl
		p.order = append(p.order, pl.Slug)
	}
	return p
}

func (p *Plugins) lookup(slug string) (Plugin, error) {
	pl, ok := p.registry[slug]
	if !ok {
		return Plugin{}, fmt.Errorf("%w: %s", ErrUnknownPlugin, slug)
	}
	return pl, nil
}

// PluginState is a plugin together with its current status.
type PluginState struct {
	Plugin
	Status model.PluginStatus `json:"status"`
}

// Status reports a plugin's state.
func (p *Plugins) Status(ctx context.Context, slug string) (model.PluginStatus, error) {
	if _, err := p.lookup(slug); err != nil {
		return "", err
	}
	return p.store.PluginStatus(ctx, slug)
}

// List returns every registered plugin with its status.
func (p *Plugins) List(ctx context.Context) ([]PluginState, error) {
	out := make([]PluginState, 0, len(p.order))
	for _, slug := range p.order {
		status, err := p.store.PluginStatus(ctx, slug)
		if err != nil {
			return nil, err
		}
		out = append(out, PluginState{Plugin: p.registry[slug], Status: status})
	}
	return out, nil
}

// Install downloads and unpacks a plugin. Installing an installed plugin
// changes nothing.
func (p *Plugins) Install(ctx context.Context, slug string) (model.PluginStatus, error) {
	pl, err := p.lookup(slug)
	if err != nil {
		return "", err
	}
	status, err := p.store.PluginStatus(ctx, slug)
	if err != nil {
		return "", err
	}
	if status != model.PluginNotInstalled {
		return status, nil
	}

	data, err := p.download(ctx, pl.DownloadURL)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", slug, err)
	}
	files, err := extractZip(data, p.dir)
	if err != nil {
		return "", fmt.Errorf("unpack %s: %w", slug, err)
	}
	if _, err := os.Stat(filepath.Join(p.dir, slug)); err != nil {
		return "", fmt.Errorf("unpack %s: archive has no %s directory", slug, slug)
	}
	if err := p.store.SetPluginStatus(ctx, slug, model.PluginInstalled); err != nil {
		return "", err
	}
	p.logger.Info("plugin installed",
		zap.String("plugin", slug), zap.Int("files", files), zap.String("size", humanize.Bytes(uint64(len(data)))))
	return model.PluginInstalled, nil
}

// Activate marks an installed plugin active.
func (p *Plugins) Activate(ctx context.Context, slug string) (model.PluginStatus, error) {
	if _, err := p.lookup(slug); err != nil {
		return "", err
	}
	status, err := p.store.PluginStatus(ctx, slug)
	if err != nil {
		return "", err
	}
	switch status {
	case model.PluginActive:
		return status, nil
	case model.PluginNotInstalled:
		return status, fmt.Errorf("%w: %s", ErrNotInstalled, slug)
	}
	if err := p.store.SetPluginStatus(ctx, slug, model.PluginActive); err != nil {
		return "", err
	}
	p.logger.Info("plugin activated", zap.String("plugin", slug))
	return model.PluginActive, nil
}

func (p *Plugins) download(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPluginSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxPluginSize {
		return nil, fmt.Errorf("archive larger than %s", humanize.Bytes(maxPluginSize))
	}
	return data, nil
}

// extractZip unpacks data below dir and returns the number of files
// written. Entries escaping dir are rejected.
func extractZip(data []byte, dir string) (int, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, err
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return 0, err
	}
	files := 0
	for _, f := range zr.File {
		target := filepath.Join(root, filepath.FromSlash(f.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return files, fmt.Errorf("illegal path %q", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return files, err
			}
			continue
		}
		if err := writeZipFile(f, target); err != nil {
			return files, err
		}
		files++
	}
	return files, nil
}

func writeZipFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, io.LimitReader(rc, maxPluginSize)); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
