package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	_ "github.com/joho/godotenv/autoload"

	"github.com/tvdn/tvdn-web/internal/cfg"
	"github.com/tvdn/tvdn-web/internal/cms"
	"github.com/tvdn/tvdn-web/internal/content"
	"github.com/tvdn/tvdn-web/internal/feeds"
	"github.com/tvdn/tvdn-web/internal/health"
	"github.com/tvdn/tvdn-web/internal/httpmw"
	"github.com/tvdn/tvdn-web/internal/httpserver"
	"github.com/tvdn/tvdn-web/internal/linkpreview"
	"github.com/tvdn/tvdn-web/internal/log"
	"github.com/tvdn/tvdn-web/internal/metrics"
	"github.com/tvdn/tvdn-web/internal/ogimage"
	"github.com/tvdn/tvdn-web/internal/opshttp"
	"github.com/tvdn/tvdn-web/internal/otelx"
	"github.com/tvdn/tvdn-web/internal/prof"
	"github.com/tvdn/tvdn-web/internal/provenancehttp"
	"github.com/tvdn/tvdn-web/internal/ratelimit"
	"github.com/tvdn/tvdn-web/internal/seo"
	"github.com/tvdn/tvdn-web/internal/sitehandler"
	v "github.com/tvdn/tvdn-web/internal/version"
	"github.com/tvdn/tvdn-web/internal/webassets"
)

// drainPeriod gives the load balancer time to see the failing readiness
// probe before listeners close.
const drainPeriod = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(vi.String())
		os.Exit(0)
	}

	// cli > TVDN_* > legacy platform names > default
	warnf := func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, warnf)
	cfg.FillFromAliases(flag.CommandLine, cfg.Aliases, warnf)

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Validate already checked both levels
	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"base_url", conf.BaseURL,
		"site_dir", conf.SiteDir,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"enable_content_updates", conf.EnableContentUpdates,
		"cms_configured", conf.CMSConfigured(),
		"trace_sample", conf.TraceSample,
		"trusted_proxy_hops", conf.TrustedProxyHops,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", &vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
		},
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	m.SetProfilingActive(err == nil && conf.EnablePyroscope)
	defer stopProf()

	// Insecure: the collector runs on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// AWS is only needed for bundles and the SSM-held CMS token
	var awsCfg aws.Config
	needAWS := conf.EnableContentUpdates || (conf.CMSTokenSSMParam != "" && conf.CMSAccessToken == "")
	if needAWS {
		awsCfg, err = config.LoadDefaultConfig(ctx)
		if err != nil {
			L.Error(ctx, err, "failed to load AWS config")
			os.Exit(1)
		}
	}

	// headless CMS
	cmsToken := conf.CMSAccessToken
	if cmsToken == "" && conf.CMSTokenSSMParam != "" {
		cmsToken, err = cms.TokenFromSSM(ctx, ssm.NewFromConfig(awsCfg), conf.CMSTokenSSMParam)
		if err != nil {
			// feeds and meta fall back to static data without the CMS
			L.Error(ctx, err, "failed to read CMS token from SSM", "param", conf.CMSTokenSSMParam)
		}
	}
	cmsClient := cms.New(cms.Options{
		SpaceID:      conf.CMSSpaceID,
		AccessToken:  cmsToken,
		PreviewToken: conf.CMSPreviewToken,
		Environment:  conf.CMSEnvironment,
		Timeout:      conf.CMSTimeout,
		Logger:       L.With("component", "cms"),
		Observe:      m.ObserveCMS,
	})
	if !cmsClient.Configured() {
		L.Warn(ctx, "cms not configured, blog metadata and feeds use static data only")
	}

	// route metadata
	table := seo.DefaultTable()
	if conf.RoutesFile != "" {
		table, err = seo.LoadTableFile(conf.RoutesFile)
		if err != nil {
			L.Error(ctx, err, "failed to load routes file", "path", conf.RoutesFile)
			os.Exit(1)
		}
	}
	resolver := seo.NewResolver(table,
		seo.WithPosts(cmsClient),
		seo.OnResolve(func(s seo.Source) { m.IncMetaResolution(string(s)) }),
	)

	// site content
	contentMgr := content.NewManager()
	recordContent := func(meta content.Meta) {
		m.SetContentSource(string(meta.Source))
		m.SetContentBundle(meta.Hash)
		m.SetContentLoadedTimestamp(meta.LoadedAt)
	}

	if seedFS, ok := webassets.SeedSiteFS(); ok {
		contentMgr.Set(content.SeedSnapshot(seedFS, vi.Version))
		L.Info(ctx, "loaded seed site content")
	} else {
		L.Info(ctx, "no seed site content embedded")
	}

	switch {
	case conf.SiteDir != "":
		dw := content.NewDirWatcher(content.DirWatcherOptions{
			Logger:  L.With("component", "dirwatch"),
			Dir:     conf.SiteDir,
			Manager: contentMgr,
			OnSwap:  recordContent,
		})
		if err := dw.Load(ctx); err != nil {
			L.Error(ctx, err, "failed to load site dir, serving seed content", "dir", conf.SiteDir)
		}
		go func() {
			if err := dw.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				L.Error(ctx, err, "site dir watcher stopped", "dir", conf.SiteDir)
			}
		}()

	case conf.EnableContentUpdates:
		loader, err := content.NewLoader(awsCfg, content.LoaderOptions{
			Logger:        L.With("component", "content-loader"),
			SSMParam:      conf.ContentSSMParam,
			S3Bucket:      conf.ContentS3Bucket,
			S3Prefix:      conf.ContentS3Prefix,
			SigningKeyARN: conf.ContentSigningKeyARN,
		})
		if err != nil {
			L.Error(ctx, err, "failed to create content loader")
			os.Exit(1)
		}
		snap, err := loader.Load(ctx)
		if err == nil {
			err = content.ValidateSnapshot(snap, content.DefaultValidationOptions())
		}
		if err != nil {
			L.Error(ctx, err, "failed to load site bundle, serving seed content")
		} else {
			contentMgr.Set(*snap)
			L.Info(ctx, "loaded site bundle",
				"content_version", contentMgr.ContentVersion(),
				"content_hash", contentMgr.ContentHash(),
			)
		}
		watcher := content.NewWatcher(&content.WatcherOptions{
			Logger:       L.With("component", "content-watcher"),
			Loader:       loader,
			Manager:      contentMgr,
			PollInterval: conf.ContentPollInterval,
			OnSwap:       recordContent,
			Metrics:      m,
		})
		go func() { _ = watcher.Run(ctx) }()
	}

	if snap, ok := contentMgr.Get(); ok {
		recordContent(snap.Meta)
	}

	// site origin, wrapped so pages get meta tags and then script nonces
	siteHandler, err := sitehandler.New(sitehandler.Options{
		Logger:     L.With("component", "site"),
		Content:    contentMgr,
		FallbackFS: webassets.FallbackFS(),
	})
	if err != nil {
		L.Error(ctx, err, "failed to create site handler")
		os.Exit(1)
	}
	var pages http.Handler = siteHandler
	pages = seo.Middleware(resolver, seo.MiddlewareOptions{BaseURL: conf.BaseURL})(pages)
	pages = httpmw.CSPNonce(httpmw.DefaultPolicy(), httpmw.OnNonce(m.IncCSPNonce))(pages)

	// social cards read the favicon of whatever snapshot is live
	var icon ogimage.IconSource = ogimage.FSIcon{
		Path: webassets.FaviconPath,
		FS: func() fs.FS {
			if snap, ok := contentMgr.Get(); ok {
				return snap.FS
			}
			return nil
		},
	}
	if conf.OGIconURL != "" {
		icon = ogimage.NewURLIcon(conf.OGIconURL, conf.LinkPreviewTimeout)
	}
	renderer, err := ogimage.NewRenderer(icon)
	if err != nil {
		L.Error(ctx, err, "failed to create og image renderer")
		os.Exit(1)
	}

	// one limiter for the whole site, a stricter one for the endpoints
	// that draw images or fetch third-party pages
	siteLimiter := newLimiter(ctx, L, m, "site", ratelimit.WithRate(20, 40))
	strictLimiter := newLimiter(ctx, L, m, "expensive",
		ratelimit.WithRate(conf.LinkPreviewRPS, max(1, int(conf.LinkPreviewRPS*5))),
	)

	ogHandler := ogimage.NewHandler(renderer,
		ogimage.WithRateLimit(strictLimiter.Middleware),
		ogimage.OnRender(m.ObserveOGRender),
	)
	previewAPI := linkpreview.NewAPI(
		linkpreview.NewFetcher(linkpreview.Options{
			Timeout:   conf.LinkPreviewTimeout,
			UserAgent: linkpreview.DefaultUserAgent,
		}),
		linkpreview.WithRateLimit(strictLimiter.Middleware),
		linkpreview.OnFetch(m.IncLinkPreview),
	)
	feedHandlers := feeds.New(feeds.Options{
		BaseURL: conf.BaseURL,
		Table:   table,
		Posts:   cmsClient,
	})
	provenanceAPI := provenancehttp.NewAPI(contentMgr, vi, L)

	var gate health.ShutdownGate
	readiness := health.All(
		gate.Probe(),
		health.Named("content", health.CheckFunc(func(context.Context) error {
			return contentMgr.ReadyErr()
		})),
	)

	siteHTTPStop, err := httpserver.Start(ctx, httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		RateLimitMW:  siteLimiter.Middleware,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedProxyHops},
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		SiteInfo:     contentMgr,
		Routes:       []httpserver.RouteRegistrar{ogHandler, previewAPI, feedHandlers, provenanceAPI},
		SiteHandler:  pages,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start site http listener")
		os.Exit(1)
	}
	defer func() { _ = siteHTTPStop(context.Background()) }()

	// The ops listener refuses public and proxied clients itself, so a
	// misrouted load balancer cannot expose it.
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.Fixed(true, ""),
		Readiness:   readiness,
		OnPanic:     m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		L.Debug(ctx, "systemd notify skipped", "reason", err.Error())
	}

	<-ctx.Done()
	stop()
	bg := context.Background()
	L.Info(bg, "shutdown signal received")

	// fail readiness so the load balancer stops sending traffic
	gate.Set("draining")
	L.Info(bg, "draining", "period", drainPeriod.String())

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainPeriod):
		L.Info(bg, "drain period complete")
	case <-forceCh:
		L.Warn(bg, "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(bg, 10*time.Second)
	defer cancel()

	if err := siteHTTPStop(shutdownCtx); err != nil {
		L.Error(bg, err, "site http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(bg, err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(bg, err, "otel shutdown")
	}
	stopProf()

	L.Info(bg, "shutdown complete")
}

// newLimiter builds a per-IP limiter reporting denials and visitor counts
// under name.
func newLimiter(ctx context.Context, L log.Logger, m *metrics.ServerMetrics, name string, opts ...ratelimit.Option) *ratelimit.IPLimiter {
	opts = append(opts,
		ratelimit.OnDenied(func(string) { m.IncRateLimitDenied(name) }),
		// logged once per visitor until it is evicted
		ratelimit.OnFirstDenied(func(ip string) {
			L.Warn(ctx, "rate limit triggered", "limiter", name, "ip", ip)
		}),
		ratelimit.OnCapacity(func() {
			m.IncRateLimitCapacity(name)
			L.Warn(ctx, "rate limit capacity reached, rejecting new visitors until some are evicted", "limiter", name)
		}),
	)
	l := ratelimit.New(ctx, name, opts...)
	m.RegisterLimiter(name, l.Len)
	return l
}

func notifySystemd() error {
	// set by systemd for Type=notify units
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return errors.New("NOTIFY_SOCKET not set")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify: dial: %w", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify: write: %w", err)
	}
	return nil
}
