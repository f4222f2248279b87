package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"digifusion/admin"
	"digifusion/ajax"
	"digifusion/api"
	"digifusion/breadcrumbs"
	"digifusion/config"
	"digifusion/customizer"
	"digifusion/fonts"
	"digifusion/logging"
	"digifusion/navwalker"
	"digifusion/pages"
	"digifusion/scheduler"
	"digifusion/schema"
	"digifusion/schemamarkup"
	"digifusion/storage"
	"digifusion/theme"
	"digifusion/woocommerce"
)

var (
	dataDir    string
	listen     string
	listenPort int
	appVersion = "1.0.0"
)

var rootCmd = &cobra.Command{
	Use:           "digifusion",
	Short:         "digifusion – theme settings and dynamic CSS service",
	Long:          "Digifusion serves the theme's dynamic stylesheet, customizer live preview, shop cart and admin actions.",
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var configGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a default configuration file",
	Long:  "Generate a default digifusion.toml, with a fresh admin token and nonce secret, in the data directory.",
	RunE:  runConfigGenerate,
}

var cssCmd = &cobra.Command{
	Use:   "css",
	Short: "Print the generated dynamic stylesheet",
	RunE:  runCSS,
}

var fontsCmd = &cobra.Command{
	Use:   "fonts",
	Short: "Web font management",
}

var fontsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Download the configured Google Fonts and rebuild the local stylesheet",
	RunE:  runFontsSync,
}

var activateCmd = &cobra.Command{
	Use:   "activate",
	Short: "Seed default values for every theme setting not stored yet",
	RunE:  runActivate,
}

func init() {
	wd, _ := os.Getwd()
	rootCmd.Version = appVersion
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", wd, "Data directory (default: current directory)")
	rootCmd.Flags().StringVar(&listen, "listen", "all", "IP address to listen on (default: all)")
	rootCmd.Flags().IntVar(&listenPort, "listen-port", 8080, "Port to listen on (default: 8080)")

	configCmd.AddCommand(configGenerateCmd)
	fontsCmd.AddCommand(fontsSyncCmd)
	rootCmd.AddCommand(configCmd, cssCmd, fontsCmd, activateCmd)
}

// app holds the components shared by the commands.
type app struct {
	cfg    config.Config
	logger *zap.Logger
	store  *storage.Store
	schema *schema.Schema
	fonts  *fonts.Manager
	pages  *pages.Service
	shop   *woocommerce.Shop
	engine *theme.Engine
}

func loadApp(ctx context.Context) (*app, error) {
	dataDirAbs, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}
	cfg, err := config.Load(dataDirAbs)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure data dir: %w", err)
	}
	store, err := storage.Open(ctx, cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	catalog, err := woocommerce.LoadCatalog(filepath.Join(cfg.DataDir, "products.yaml"))
	if err != nil {
		store.Close()
		return nil, err
	}

	s := schema.Default()
	fontsMgr := fonts.NewManager(s, store, fonts.Options{
		UploadsDir:     cfg.UploadsDir,
		UploadsURL:     cfg.UploadsURL,
		GoogleFontsURL: cfg.GoogleFontsURL,
		UserAgent:      cfg.FontUserAgent,
		Timeout:        cfg.HTTPTimeout,
	}, logger)
	pagesSvc := pages.NewService(s, store, logger)
	shop := woocommerce.NewShop(catalog.Carts(cfg.CartURL), store, cfg.SecureCookies, logger)
	engine := theme.NewEngine(s, store, logger,
		pages.NewMenuColors(pagesSvc),
		woocommerce.NewCartColors(s, store, store, logger),
	)

	return &app{
		cfg:    cfg,
		logger: logger,
		store:  store,
		schema: s,
		fonts:  fontsMgr,
		pages:  pagesSvc,
		shop:   shop,
		engine: engine,
	}, nil
}

func (a *app) Close() {
	_ = a.store.Close()
	_ = a.logger.Sync()
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg, logger := a.cfg, a.logger

	if cmd.Flags().Changed("listen") || cmd.Flags().Changed("listen-port") {
		if listen != "" && listen != "all" {
			cfg.ListenAddr = net.JoinHostPort(listen, fmt.Sprint(listenPort))
		} else {
			cfg.ListenAddr = fmt.Sprintf(":%d", listenPort)
		}
	}

	nonceSecret := cfg.NonceSecret
	if nonceSecret == "" {
		logger.Warn("no nonce secret configured, nonces will not survive a restart")
		nonceSecret = uuid.NewString() + uuid.NewString()
	}
	if cfg.AdminToken == "" {
		logger.Warn("no admin token configured, admin actions are disabled")
	}
	nonces := admin.NewNonces(nonceSecret, admin.DefaultNonceTTL)
	guard := admin.NewGuard(nonces, cfg.AdminToken)

	registrar := customizer.NewRegistrar(a.schema)
	sessions := customizer.NewSessions(registrar, a.store, logger)
	sessions.OnPublish(func(_ context.Context, keys []string) {
		if !touchesFonts(a.schema, keys) {
			return
		}
		// The request context ends with the publish response.
		go func() {
			if _, err := a.fonts.Sync(ctx); err != nil {
				logger.Warn("font sync after publish failed", zap.Error(err))
			}
		}()
	})

	dispatcher := ajax.NewDispatcher(guard)
	a.shop.RegisterActions(dispatcher)
	plugins := admin.NewPlugins(admin.DefaultPlugins, a.store, cfg.PluginsDir, &http.Client{Timeout: cfg.HTTPTimeout}, logger)
	admin.NewDashboard(plugins, registrar, a.store, logger).RegisterActions(dispatcher)

	markup := schemamarkup.New(a.schema, a.store)
	apiServer := api.NewServer(api.Deps{
		Logger:     logger,
		Theme:      theme.NewHandler(a.engine, a.fonts, cfg.StyleURL),
		Registrar:  registrar,
		Sessions:   sessions,
		AJAX:       dispatcher,
		Nonces:     nonces,
		Authorizer: guard,
		PreviewEngine: func(settings theme.SettingsReader) *theme.Engine {
			return theme.NewEngine(a.schema, settings, logger,
				pages.NewMenuColors(a.pages),
				woocommerce.NewCartColors(a.schema, settings, a.store, logger),
			)
		},
		Site: api.Site{
			Pages:       a.pages,
			Breadcrumbs: breadcrumbs.New(a.store, markup, breadcrumbs.WithLogger(logger)),
			Menus:       navwalker.New(markup),
			Shop:        a.shop,
		},
		UploadsDir: cfg.UploadsDir,
	})

	sched := scheduler.New(logger, scheduler.Job{
		Name:  "font-cache",
		Every: cfg.FontCheckInterval,
		Run: func(ctx context.Context) error {
			_, err := a.fonts.VerifyCache(ctx)
			return err
		},
	})
	sched.Start(ctx)

	srv := apiServer.NewHTTPServer(cfg.ListenAddr)
	printListeningAddresses(logger, cfg.ListenAddr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	apiServer.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	cancel()
	sched.Wait()
	return nil
}

// touchesFonts reports whether any of keys is a typography role or the
// local fonts toggle.
func touchesFonts(s *schema.Schema, keys []string) bool {
	for _, k := range keys {
		if k == schema.LocalFontsKey {
			return true
		}
		if _, ok := s.TypographyRole(k); ok {
			return true
		}
	}
	return false
}

func runConfigGenerate(_ *cobra.Command, _ []string) error {
	dataDirAbs, err := filepath.Abs(dataDir)
	if err != nil {
		return fmt.Errorf("resolve data dir: %w", err)
	}

	cfg := config.Default()
	cfg.DataDir = dataDirAbs
	cfg.AdminToken = strings.ReplaceAll(uuid.NewString(), "-", "")
	cfg.NonceSecret = uuid.NewString() + uuid.NewString()

	cfgPath := config.Path(dataDirAbs)
	if _, err := os.Stat(cfgPath); err == nil {
		return fmt.Errorf("config file already exists: %s", cfgPath)
	}
	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("Generated default config file: %s\n", cfgPath)
	fmt.Printf("Admin token: %s\n", cfg.AdminToken)
	return nil
}

func runCSS(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	css, err := a.engine.Generate(cmd.Context())
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), css)
	return err
}

func runFontsSync(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	local, err := a.fonts.LocalEnabled(cmd.Context())
	if err != nil {
		return err
	}
	if !local {
		fmt.Fprintln(cmd.OutOrStdout(), "Local fonts are disabled; nothing to do.")
		return nil
	}
	res, err := a.fonts.Sync(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d families, %d faces, %d downloaded, %d failed\n%s\n",
		res.Families, res.Faces, res.Downloaded, res.Failed, res.CSSPath)
	return nil
}

func runActivate(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	defaults := make(map[string]string)
	for _, key := range a.schema.Keys() {
		if v, ok := a.schema.DefaultValue(key); ok {
			defaults[key] = v
		}
	}
	n, err := a.store.SeedThemeMods(cmd.Context(), defaults)
	if err != nil {
		return fmt.Errorf("seed theme settings: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d of %d theme settings.\n", n, len(defaults))
	return nil
}

func printListeningAddresses(logger *zap.Logger, addr string) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		logger.Info("listening", zap.String("url", "http://"+addr))
		return
	}

	if host == "" || host == "0.0.0.0" || host == "::" {
		urls := []string{}
		if addrs, err := net.InterfaceAddrs(); err == nil {
			for _, a := range addrs {
				if ipnet, ok := a.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
					urls = append(urls, "http://"+net.JoinHostPort(ipnet.IP.String(), port))
				}
			}
		}
		urls = append(urls, "http://localhost:"+port, "http://127.0.0.1:"+port)
		logger.Info("listening", zap.Strings("urls", urls))
		return
	}
	logger.Info("listening", zap.String("url", "http://"+net.JoinHostPort(host, port)))
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
