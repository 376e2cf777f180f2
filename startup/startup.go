// Package startup wires every package the starter depends on into a single
// running App, in the fixed order each dependency requires, and tears them
// back down the same way in reverse.
package startup

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/fuzzcorp/starter/api"
	"github.com/fuzzcorp/starter/config"
	"github.com/fuzzcorp/starter/displacement"
	"github.com/fuzzcorp/starter/mq"
	"github.com/fuzzcorp/starter/orchestrator"
	"github.com/fuzzcorp/starter/pod"
	"github.com/fuzzcorp/starter/podevents"
	"github.com/fuzzcorp/starter/podspec"
	"github.com/fuzzcorp/starter/pool"
	"github.com/fuzzcorp/starter/poolevents"
	"github.com/fuzzcorp/starter/poolmanager"
	"github.com/fuzzcorp/starter/store"
	"github.com/fuzzcorp/starter/utils/postgres"
	"github.com/fuzzcorp/starter/utils/redis"
)

// Dependencies is everything an App needs that the caller has already
// built from parsed flags: database/cache clients, the pod spec template,
// the probe image, and the kubeconfig path to fall back to outside a
// cluster.
type Dependencies struct {
	Config         config.Config
	PodTemplate    *podspec.Template
	ProbeImage     string
	KubeconfigPath string
	Postgres       *postgres.PostgresClient
	Redis          *redis.RedisClient
	Logger         *slog.Logger
}

// App holds every long-lived component started for the process's lifetime,
// in the order they came up, so Shutdown can reverse it exactly.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	k8s       *orchestrator.Client
	poolMgr   *poolmanager.Client
	pools     *pool.Registry
	pods      *pod.Registry
	planner   *displacement.Planner
	publisher *mq.Publisher
	launches  *store.LaunchStore
	outbox    *store.OutboxStore
	pgClient  *postgres.PostgresClient
	redis     *redis.RedisClient

	poolListener *poolevents.Listener
	podListener  *podevents.Listener

	sweeper *sweeper

	Handler http.Handler
}

// Start brings up every dependency in the order main.py's startup
// sequence establishes: verify permissions, build clients, rehydrate the
// pod registry and the pool topology concurrently, replay the pods'
// allocations onto the pools, then start both event listeners and the
// background sweeper.
func Start(ctx context.Context, deps Dependencies) (*App, error) {
	logger := deps.Logger
	cfg := deps.Config

	k8s, err := buildOrchestratorClient(ctx, deps)
	if err != nil {
		return nil, fmt.Errorf("verifying kubernetes: %w", err)
	}
	logger.Info("verified kubernetes permissions")

	poolMgr := poolmanager.NewClient(cfg.API.PoolManager, nil)
	logger.Info("created pool manager client")

	pools := pool.NewRegistry(logger)
	pods := pod.NewRegistry()

	// Listing live pods and listing pool topology are independent reads;
	// only the allocation replay below depends on both having finished.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rehydratePods(gctx, k8s, pods) })
	g.Go(func() error { return buildPoolTopology(gctx, poolMgr, pools) })
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("rehydrating registries: %w", err)
	}
	logger.Info("rehydrated pod registry", slog.Int("pod_count", len(pods.ListPods())))
	logger.Info("rehydrated pool topology", slog.Int("pool_count", len(pools.ListPools())))

	if err := replayPodAllocations(pools, pods); err != nil {
		return nil, fmt.Errorf("replaying pod allocations: %w", err)
	}

	planner := displacement.NewPlanner(pods, k8s, logger)

	publisher := mq.NewPublisher(deps.Redis.Client(), logger)
	launches := store.NewLaunchStore(deps.Postgres.Pool(), logger)
	outbox := store.NewOutboxStore(deps.Postgres.Pool(), logger)

	if err := importUnsentMessages(ctx, outbox, publisher, logger); err != nil {
		return nil, fmt.Errorf("loading unsent MQ messages: %w", err)
	}

	poolHandler := poolevents.NewHandler(pools, k8s, logger)
	poolListener := poolevents.NewListener(poolMgr, poolHandler, logger)
	poolListener.Start(ctx)
	logger.Info("started pool event listener")

	podHandler := podevents.NewHandler(pods, pools, k8s, publisher, launches, podHandlerConfig(cfg), logger)
	podListener := podevents.NewListener(k8s.Clientset(), k8s.Namespace(), fuzzerPodLabelSelector, podHandler, logger)
	podListener.Start(ctx)
	logger.Info("started pod event listener")

	sw := startSweeper(launches, publisher, cfg.FuzzerPod.LaunchInfoCleanupInterval, logger)

	fuzzerHandler := api.NewFuzzerHandler(pools, pods, k8s, k8s, deps.PodTemplate, planner, cfg, logger)

	return &App{
		cfg: cfg, logger: logger,
		k8s: k8s, poolMgr: poolMgr, pools: pools, pods: pods, planner: planner,
		publisher: publisher, launches: launches, outbox: outbox,
		pgClient: deps.Postgres, redis: deps.Redis,
		poolListener: poolListener, podListener: podListener,
		sweeper: sw,
		Handler: api.NewRouter(fuzzerHandler),
	}, nil
}

// Shutdown tears every component down in the reverse of the order Start
// brought it up, exporting any still-unsent MQ messages last so a restart
// can pick them back up via importUnsentMessages.
func (a *App) Shutdown(ctx context.Context) error {
	a.sweeper.stop()
	a.logger.Info("stopped background sweeper")

	a.podListener.Stop()
	a.logger.Info("closed pod event listener")

	a.poolListener.Stop()
	a.logger.Info("closed pool event listener")

	a.publisher.FlushOutbox(ctx)
	if err := a.outbox.Save(ctx, a.publisher.ExportUnsent()); err != nil {
		a.logger.Error("failed to save unsent MQ messages", slog.Any("err", err))
	} else {
		a.logger.Info("saved unsent MQ messages")
	}

	if err := a.redis.Close(); err != nil {
		a.logger.Error("failed to close redis client", slog.Any("err", err))
	}
	a.pgClient.Close()
	a.logger.Info("closed database")

	return nil
}

func buildOrchestratorClient(ctx context.Context, deps Dependencies) (*orchestrator.Client, error) {
	k8s, err := orchestrator.NewClient(deps.Config.FuzzerPod.Namespace, deps.KubeconfigPath, deps.Logger)
	if err != nil {
		return nil, err
	}
	if err := orchestrator.VerifyPermissions(ctx, k8s, deps.ProbeImage, deps.Logger); err != nil {
		return nil, err
	}
	return k8s, nil
}

func podHandlerConfig(cfg config.Config) podevents.Config {
	return podevents.Config{
		MinWorkTime:             cfg.FuzzerPod.MinWorkTime,
		OutputSaveMode:          podevents.SaveMode(cfg.FuzzerPod.OutputSaveMode),
		LaunchInfoRetentionTime: cfg.FuzzerPod.LaunchInfoRetentionPeriod,
	}
}

func importUnsentMessages(ctx context.Context, outbox *store.OutboxStore, publisher *mq.Publisher, logger *slog.Logger) error {
	data, err := outbox.Load(ctx)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if err := publisher.ImportUnsent(data); err != nil {
		return err
	}
	logger.Info("imported unsent MQ messages")
	return nil
}

