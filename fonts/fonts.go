// Package fonts discovers the web fonts used by typography settings and
// serves them either from the Google Fonts CDN or from a local cache.
package fonts

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"digifusion/logging"
	"digifusion/model"
	"digifusion/schema"
)

const (
	DefaultGoogleFontsURL = "https://fonts.googleapis.com/css"
	// DefaultUserAgent makes the Google Fonts CSS API answer with woff2 sources.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	DefaultTimeout   = 30 * time.Second

	cacheDirName = "digifusion"
	fontsDirName = "fonts"
	cssFileName  = "digifusion-fonts.css"
)

var systemFonts = map[string]bool{
	"":                true,
	"default":         true,
	"inherit":         true,
	"initial":         true,
	"system-ui":       true,
	"-apple-system":   true,
	"sans-serif":      true,
	"serif":           true,
	"monospace":       true,
	"arial":           true,
	"helvetica":       true,
	"helvetica neue":  true,
	"georgia":         true,
	"times new roman": true,
	"verdana":         true,
	"tahoma":          true,
	"trebuchet ms":    true,
	"courier new":     true,
	"segoe ui":        true,
	"impact":          true,
}

// IsSystemFont reports whether family needs no web font download. Values
// that list a stack are treated as system stacks.
func IsSystemFont(family string) bool {
	family = strings.TrimSpace(family)
	if strings.Contains(family, ",") {
		return true
	}
	return systemFonts[strings.ToLower(strings.Trim(family, `"'`))]
}

// SettingsReader reads stored theme settings.
type SettingsReader interface {
	ThemeMod(ctx context.Context, key string) (string, bool, error)
}

// Options configures a Manager.
type Options struct {
	UploadsDir     string
	UploadsURL     string
	GoogleFontsURL string
	UserAgent      string
	Timeout        time.Duration
	Concurrency    int
	HTTPClient     *http.Client
}

// Family is one web font family with the variants in use, e.g. "400",
// "700italic".
type Family struct {
	Name     string
	Variants []string
}

// SyncResult summarises a local fonts sync.
type SyncResult struct {
	Families   int
	Faces      int
	Downloaded int
	Failed     int
	CSSPath    string
}

// Manager discovers, downloads and links web fonts.
type Manager struct {
	schema   *schema.Schema
	settings SettingsReader
	opts     Options
	client   *http.Client
	logger   *zap.Logger
	flight   singleflight.Group
}

// NewManager creates a fonts manager.
func NewManager(s *schema.Schema, settings SettingsReader, opts Options, logger *zap.Logger) *Manager {
	if opts.GoogleFontsURL == "" {
		opts.GoogleFontsURL = DefaultGoogleFontsURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &Manager{
		schema:   s,
		settings: settings,
		opts:     opts,
		client:   client,
		logger:   logging.OrNop(logger).Named("fonts"),
	}
}

// Collect scans every typography role and returns the non-system families
// in use, sorted by name, each with its sorted variants.
func (m *Manager) Collect(ctx context.Context) ([]Family, error) {
	variants := make(map[string]map[string]bool)
	for _, def := range m.schema.Typography {
		raw, ok, err := m.settings.ThemeMod(ctx, def.Key)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", def.Key, err)
		}
		if !ok {
			continue
		}
		t, err := model.DecodeTypography(raw)
		if err != nil {
			m.logger.Warn("ignoring malformed typography setting", zap.String("key", def.Key), zap.Error(err))
			continue
		}
		family := strings.Trim(strings.TrimSpace(t.FontFamily), `"'`)
		if IsSystemFont(family) {
			continue
		}
		weight := strings.TrimSpace(t.FontWeight.String())
		if weight == "" || weight == "normal" {
			weight = "400"
		} else if weight == "bold" {
			weight = "700"
		}
		if strings.EqualFold(strings.TrimSpace(t.FontStyle), "italic") {
			weight += "italic"
		}
		if variants[family] == nil {
			variants[family] = make(map[string]bool)
		}
		variants[family][weight] = true
	}

	families := make([]Family, 0, len(variants))
	for name, set := range variants {
		f := Family{Name: name}
		for v := range set {
			f.Variants = append(f.Variants, v)
		}
		sort.Slice(f.Variants, func(i, j int) bool { return variantLess(f.Variants[i], f.Variants[j]) })
		families = append(families, f)
	}
	sort.Slice(families, func(i, j int) bool { return families[i].Name < families[j].Name })
	return families, nil
}

func variantLess(a, b string) bool {
	wa, sa := splitVariant(a)
	wb, sb := splitVariant(b)
	na, _ := strconv.Atoi(wa)
	nb, _ := strconv.Atoi(wb)
	if na != nb {
		return na < nb
	}
	return sa != sb && sa == "normal"
}

func splitVariant(v string) (weight, style string) {
	if strings.HasSuffix(v, "italic") {
		return strings.TrimSuffix(v, "italic"), "italic"
	}
	return v, "normal"
}

// CDNURL builds one combined Google Fonts URL for families.
func CDNURL(base string, families []Family) string {
	if len(families) == 0 {
		return ""
	}
	parts := make([]string, 0, len(families))
	for _, f := range families {
		parts = append(parts, familyParam(f.Name)+":"+strings.Join(f.Variants, ","))
	}
	return base + "?family=" + strings.Join(parts, "|") + "&display=swap"
}

func familyParam(name string) string {
	return url.QueryEscape(name)
}

// LocalEnabled reports whether fonts are served from the local cache.
func (m *Manager) LocalEnabled(ctx context.Context) (bool, error) {
	def, _ := m.schema.Toggle(schema.LocalFontsKey)
	raw, _, err := m.settings.ThemeMod(ctx, schema.LocalFontsKey)
	if err != nil {
		return false, err
	}
	return schema.ParseBool(raw, def.Default), nil
}

// CSSPath is the consolidated local fonts stylesheet.
func (m *Manager) CSSPath() string {
	return filepath.Join(m.opts.UploadsDir, cacheDirName, cssFileName)
}

func (m *Manager) fontsDir() string {
	return filepath.Join(m.opts.UploadsDir, cacheDirName, fontsDirName)
}

// StylesheetURL returns the URL to enqueue for the configured fonts: the
// local stylesheet when local mode is on and it exists, otherwise the CDN
// URL, or "" when only system fonts are used.
func (m *Manager) StylesheetURL(ctx context.Context) (string, error) {
	families, err := m.Collect(ctx)
	if err != nil {
		return "", err
	}
	if len(families) == 0 {
		return "", nil
	}
	local, err := m.LocalEnabled(ctx)
	if err != nil {
		return "", err
	}
	if local {
		if info, err := os.Stat(m.CSSPath()); err == nil {
			base := strings.TrimRight(m.opts.UploadsURL, "/")
			return fmt.Sprintf("%s/%s/%s?ver=%d", base, cacheDirName, cssFileName, info.ModTime().Unix()), nil
		}
	}
	return CDNURL(m.opts.GoogleFontsURL, families), nil
}

// Sync regenerates the local fonts stylesheet, downloading font files that
// are not cached yet. It does nothing when local mode is off. Concurrent
// calls share one run.
func (m *Manager) Sync(ctx context.Context) (SyncResult, error) {
	v, err, _ := m.flight.Do("sync", func() (any, error) {
		return m.sync(ctx)
	})
	if err != nil {
		return SyncResult{}, err
	}
	return v.(SyncResult), nil
}

type task struct {
	family  string
	variant string
}

func (m *Manager) sync(ctx context.Context) (SyncResult, error) {
	local, err := m.LocalEnabled(ctx)
	if err != nil {
		return SyncResult{}, err
	}
	if !local {
		return SyncResult{}, nil
	}
	families, err := m.Collect(ctx)
	if err != nil {
		return SyncResult{}, err
	}
	if err := os.MkdirAll(m.fontsDir(), 0o755); err != nil {
		return SyncResult{}, fmt.Errorf("create fonts dir: %w", err)
	}

	var tasks []task
	for _, f := range families {
		for _, v := range f.Variants {
			tasks = append(tasks, task{family: f.Name, variant: v})
		}
	}

	results := make([][]string, len(tasks))
	var downloaded, failed atomic.Int64

	var g errgroup.Group
	g.SetLimit(m.opts.Concurrency)
	for i, t := range tasks {
		i, t := i, t
		g.Go(func() error {
			rules, n, err := m.syncVariant(ctx, t)
			downloaded.Add(int64(n))
			if err != nil {
				failed.Add(1)
				m.logger.Warn("local font generation failed",
					zap.String("family", t.family), zap.String("variant", t.variant), zap.Error(err))
				return nil
			}
			results[i] = rules
			return nil
		})
	}
	_ = g.Wait()

	var css strings.Builder
	faces := 0
	for _, rules := range results {
		for _, r := range rules {
			css.WriteString(r)
			css.WriteString("\n")
			faces++
		}
	}

	res := SyncResult{
		Families:   len(families),
		Faces:      faces,
		Downloaded: int(downloaded.Load()),
		Failed:     int(failed.Load()),
	}
	if faces == 0 {
		if err := os.Remove(m.CSSPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return res, fmt.Errorf("remove fonts css: %w", err)
		}
		return res, nil
	}
	if err := writeFileAtomic(m.CSSPath(), []byte(css.String())); err != nil {
		return res, fmt.Errorf("write fonts css: %w", err)
	}
	res.CSSPath = m.CSSPath()
	m.logger.Info("local fonts synced",
		zap.Int("families", res.Families), zap.Int("faces", res.Faces),
		zap.Int("downloaded", res.Downloaded), zap.Int("failed", res.Failed))
	return res, nil
}

// syncVariant fetches the CSS for one family variant, downloads the
// missing font files and returns the rewritten @font-face rules.
func (m *Manager) syncVariant(ctx context.Context, t task) ([]string, int, error) {
	cssURL := m.opts.GoogleFontsURL + "?family=" + familyParam(t.family) + ":" + t.variant + "&display=swap"
	body, err := m.get(ctx, cssURL)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch font css: %w", err)
	}

	faces := SelectFaces(ParseFontFaces(string(body)))
	if len(faces) == 0 {
		return nil, 0, errors.New("no usable @font-face rules")
	}

	var rules []string
	downloaded := 0
	for _, face := range faces {
		name := FileName(t.family, face.Weight, face.Style, face.Format)
		path := filepath.Join(m.fontsDir(), name)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			data, err := m.get(ctx, face.URL)
			if err != nil {
				return nil, downloaded, fmt.Errorf("download %s: %w", face.URL, err)
			}
			if err := writeFileAtomic(path, data); err != nil {
				return nil, downloaded, err
			}
			downloaded++
			m.logger.Debug("downloaded font file",
				zap.String("file", name), zap.String("size", humanize.Bytes(uint64(len(data)))))
		}
		rules = append(rules, face.LocalRule(t.family, fontsDirName+"/"+name))
	}
	return rules, downloaded, nil
}

func (m *Manager) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", m.opts.UserAgent)
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 16<<20))
}

// FileName builds the cache file name
// {slug}-{weight}-{style}-{hash}.{format}. Every part is reduced to
// [a-z0-9-], so remote values cannot leave the fonts directory.
func FileName(family, weight, style, format string) string {
	sum := md5.Sum([]byte(family + "|" + weight + "|" + style + "|" + format))
	return fmt.Sprintf("%s-%s-%s-%s.%s",
		slugOr(family, "font"), slugOr(weight, "400"), slugOr(style, "normal"),
		hex.EncodeToString(sum[:])[:8], slugOr(format, "woff2"))
}

func slugOr(v, fallback string) string {
	if s := Slug(v); s != "" {
		return s
	}
	return fallback
}

var slugFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slug lowercases name, folds accents and joins words with dashes.
func Slug(name string) string {
	folded, _, err := transform.String(slugFolder, name)
	if err != nil {
		folded = name
	}
	var sb strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
			dash = false
			continue
		}
		if !dash && sb.Len() > 0 {
			sb.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(sb.String(), "-")
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

var localURLRe = regexp.MustCompile(`url\('` + fontsDirName + `/([^']+)'\)`)

// VerifyCache checks that every file referenced by the local stylesheet is
// still on disk and resyncs when one is missing. It returns the number of
// missing files found.
func (m *Manager) VerifyCache(ctx context.Context) (int, error) {
	local, err := m.LocalEnabled(ctx)
	if err != nil || !local {
		return 0, err
	}
	css, err := os.ReadFile(m.CSSPath())
	if errors.Is(err, os.ErrNotExist) {
		_, err = m.Sync(ctx)
		return 0, err
	}
	if err != nil {
		return 0, fmt.Errorf("read fonts css: %w", err)
	}

	missing := 0
	for _, match := range localURLRe.FindAllStringSubmatch(string(css), -1) {
		if _, err := os.Stat(filepath.Join(m.fontsDir(), match[1])); errors.Is(err, os.ErrNotExist) {
			missing++
		}
	}
	if missing == 0 {
		return 0, nil
	}
	m.logger.Info("font cache incomplete, resyncing", zap.Int("missing", missing))
	_, err = m.Sync(ctx)
	return missing, err
}
