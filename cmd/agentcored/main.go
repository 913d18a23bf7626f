// Command agentcored is the edge agent daemon: it loads configuration,
// wires the recipe store, resolver, component supervisor, artifact
// downloader, MQTT multiplexer, deployment engine and fleet status
// reporter together, and runs until SIGINT/SIGTERM. There is no CLI
// subcommand surface here — agentcored is a long-running process, not
// an operator tool.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fleetedge/agentcore/internal/config"
	"github.com/fleetedge/agentcore/internal/credentials"
	"github.com/fleetedge/agentcore/internal/deployment"
	"github.com/fleetedge/agentcore/internal/downloader"
	"github.com/fleetedge/agentcore/internal/downloader/objectstore"
	"github.com/fleetedge/agentcore/internal/downloader/registry"
	"github.com/fleetedge/agentcore/internal/downloader/vendorrepo"
	"github.com/fleetedge/agentcore/internal/fleetstatus"
	"github.com/fleetedge/agentcore/internal/mqttmux"
	"github.com/fleetedge/agentcore/internal/pkg/logger"
	"github.com/fleetedge/agentcore/internal/recipestore"
	"github.com/fleetedge/agentcore/internal/resolver"
	"github.com/fleetedge/agentcore/internal/statecache"
	"github.com/fleetedge/agentcore/internal/supervisor"
	"github.com/fleetedge/agentcore/pkg/version"
)

func main() {
	configPath := flag.String("config", "", "path to the agent config file (default: ./config/config.yaml)")
	root := flag.String("root", "/var/lib/agentcore", "agent root directory (recipes, artifacts, ongoing deployments)")
	jsonLogs := flag.Bool("json-logs", true, "emit structured JSON logs")
	verbose := flag.Bool("verbose", false, "debug-level logging")
	flag.Parse()

	logger.Init(logger.Config{JSON: *jsonLogs, Verbose: *verbose})
	log := logger.Default()

	if err := run(*configPath, *root, log); err != nil {
		log.Error("agentcored exited with error", "error", err)
		os.Exit(1)
	}
}

func run(configPath, root string, log interface {
	Info(string, ...any)
	Warn(string, ...any)
	Error(string, ...any)
}) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfgStore := config.NewStore()
	if err := cfgStore.Load(configPath); err != nil {
		return fmt.Errorf("agentcored: load config: %w", err)
	}
	cfg := cfgStore.Current()
	log.Info("configuration loaded", "thing", cfg.ThingName, "broker", cfg.MQTTBrokerURL)

	recipeRoot := cfg.RecipeRoot
	if recipeRoot == "" {
		recipeRoot = root
	}
	recipes, err := recipestore.New(recipeRoot)
	if err != nil {
		return fmt.Errorf("agentcored: open recipe store: %w", err)
	}

	stateStore, err := statecache.Open(statecache.Config{Address: cfg.RedisAddress})
	if err != nil {
		return fmt.Errorf("agentcored: open state cache: %w", err)
	}

	res := resolver.New(recipes)

	executor := &supervisor.ProcessExecutor{
		WorkDir:       root,
		ShutdownGrace: cfg.SupervisorShutdownTimeout,
	}
	sup := supervisor.New(executor, supervisor.Options{
		StartupTimeout: cfg.SupervisorStartupTimeout,
		ShutdownGrace:  cfg.SupervisorShutdownTimeout,
	})

	dlFactory, err := buildDownloaderFactory(ctx, log)
	if err != nil {
		return fmt.Errorf("agentcored: build downloader factory: %w", err)
	}

	queue, err := deployment.OpenQueue(root)
	if err != nil {
		return fmt.Errorf("agentcored: open deployment queue: %w", err)
	}

	mux, err := buildMultiplexer(cfg)
	if err != nil {
		return fmt.Errorf("agentcored: build mqtt multiplexer: %w", err)
	}

	artifactRoot := cfg.ArtifactRoot
	if artifactRoot == "" {
		artifactRoot = filepath.Join(root, "packages", "artifacts")
	}

	var reporter *fleetstatus.Reporter
	engine := deployment.New(deployment.Deps{
		Resolver:     res,
		Supervisor:   sup,
		Downloader:   dlFactory,
		Recipes:      recipes,
		State:        stateStore,
		Queue:        queue,
		ArtifactRoot: artifactRoot,
		OnStatus: func(update deployment.StatusUpdate) {
			if reporter != nil {
				reporter.ReportDeploymentStatus(update)
			}
		},
	})

	reporter = fleetstatus.New(ctx, fleetstatus.Deps{
		Mux:        mux,
		Supervisor: sup,
		State:      stateStore,
		Thing:      cfg.ThingName,
		Topic:      fmt.Sprintf("$aws/things/%s/greengrassv2/health/json", cfg.ThingName),
		GGCVersion: version.Version,
		Cadence:    cfg.FleetStatusPeriodicPublishInterval,
	})

	localSource := deployment.NewLocalSource(8)

	cloudFilter := fmt.Sprintf("$aws/things/%s/jobs/notify-next", cfg.ThingName)
	cloudSource, err := deployment.NewCloudJobSource(ctx, mux, cloudFilter)
	if err != nil {
		return fmt.Errorf("agentcored: subscribe cloud job source: %w", err)
	}

	go engine.Run(ctx, localSource)
	go runSubmitSource(ctx, engine, cloudSource, reporter)
	go reporter.Run(ctx)

	log.Info("agentcored started", "root", root)
	<-ctx.Done()
	log.Info("agentcored shutting down")
	return nil
}

// runSubmitSource drains src itself (rather than delegating straight to
// engine.Run) so BeginDeployment/EndDeployment bracket every Submit,
// keeping the fleet status reporter's cadence suppression in step with
// deployments this source originates.
func runSubmitSource(ctx context.Context, engine *deployment.Engine, src deployment.Source, reporter *fleetstatus.Reporter) {
	for {
		select {
		case <-ctx.Done():
			return
		case doc, ok := <-src.Documents():
			if !ok {
				return
			}
			reporter.BeginDeployment()
			_ = engine.Submit(ctx, doc)
			reporter.EndDeployment()
		}
	}
}

// buildDownloaderFactory registers every downloader variant the agent
// can reach credentials for, skipping (with a warning, not a fatal
// error) any backend whose credential chain isn't available in this
// environment — a device may only ever see object-store artifacts, or
// only ever see registry images.
func buildDownloaderFactory(ctx context.Context, log interface{ Warn(string, ...any) }) (*downloader.Factory, error) {
	f := downloader.NewFactory()

	// Object-store variants authenticate through the cloud SDKs' own
	// default credential chains (AWS/GCS), not through a
	// credentials.Resolver — that seam is reserved for backends (vendor
	// repo, container registry) with no native SDK of their own here.
	if s3Variant, err := objectstore.NewS3VariantFromContext(ctx); err != nil {
		log.Warn("s3 downloader variant unavailable", "error", err)
	} else {
		f.Register("s3", s3Variant)
	}
	if gcsVariant, err := objectstore.NewGCSVariantFromContext(ctx); err != nil {
		log.Warn("gcs downloader variant unavailable", "error", err)
	} else {
		f.Register("gs", gcsVariant)
	}

	var vendorResolver *credentials.Resolver
	if p, err := credentials.NewSecretsManagerProvider(ctx); err != nil {
		log.Warn("vendor-repo credentials unavailable, registering unauthenticated variant only", "error", err)
	} else {
		vendorResolver = credentials.NewResolver(p, nil)
	}
	f.Register("https", vendorrepo.New(vendorrepo.Options{Resolver: vendorResolver}))

	var registryCreds *credentials.Resolver
	if p, err := credentials.NewACRProvider(); err != nil {
		log.Warn("container registry credentials unavailable, registering unauthenticated registry variant only", "error", err)
	} else {
		registryCreds = credentials.NewResolver(p, nil)
	}
	if regVariant, err := registry.NewFromEnv(registryCreds); err != nil {
		log.Warn("docker registry downloader variant unavailable", "error", err)
	} else {
		f.Register("docker", regVariant)
	}

	return f, nil
}

func buildMultiplexer(cfg config.Snapshot) (*mqttmux.Multiplexer, error) {
	brokerURL, err := url.Parse(cfg.MQTTBrokerURL)
	if err != nil {
		return nil, fmt.Errorf("parse broker url %q: %w", cfg.MQTTBrokerURL, err)
	}
	dialer := mqttmux.NewAutopahoDialer(mqttmux.AutopahoDialerConfig{
		BrokerURLs:     []*url.URL{brokerURL},
		ClientIDPrefix: cfg.ThingName,
		ConnectTimeout: 30 * time.Second,
	})
	return mqttmux.New(dialer, mqttmux.Options{Logger: logger.Default()}), nil
}
