package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/BTreeMap/DocFinder/internal/api"
	"github.com/BTreeMap/DocFinder/internal/config"
	"github.com/BTreeMap/DocFinder/internal/embedding"
	"github.com/BTreeMap/DocFinder/internal/flow"
	"github.com/BTreeMap/DocFinder/internal/genai"
	"github.com/BTreeMap/DocFinder/internal/idcrypt"
	"github.com/BTreeMap/DocFinder/internal/scheduler"
	"github.com/BTreeMap/DocFinder/internal/search"
	"github.com/BTreeMap/DocFinder/internal/store"
	"github.com/BTreeMap/DocFinder/internal/tracing"
	"github.com/BTreeMap/DocFinder/internal/twiliowhatsapp"
	"github.com/BTreeMap/DocFinder/internal/util"
)

// run constructs every module once and serves until ctx is cancelled.
func run(ctx context.Context, env Config, flags Flags) error {
	tun, err := config.Load(*flags.configFile)
	if err != nil {
		return err
	}
	applyEnvOverrides(tun, env)

	shutdownTracing, err := tracing.Setup(tracing.WithExporter(*flags.tracingExporter))
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}()

	gen, err := genai.NewClient(buildGenAIOptions(flags, tun)...)
	if err != nil {
		return fmt.Errorf("genai client: %w", err)
	}

	var apiOpts []api.Option
	kv, locker, rdb, err := buildKV(ctx, env, flags)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
		apiOpts = append(apiOpts, api.WithHealthCheck("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() }))
	}

	repo, err := store.NewPatientRepo(*flags.dbDSN)
	if err != nil {
		return fmt.Errorf("patient store: %w", err)
	}
	defer repo.Close()

	index, err := search.NewElasticIndex(search.ElasticConfig{
		Addresses: splitAddresses(*flags.elasticsearchURL),
		Username:  env.ElasticsearchUsername,
		Password:  env.ElasticsearchPassword,
		Index:     tun.Search.Index,
		Timeout:   tun.Search.Timeout,
	})
	if err != nil {
		return err
	}
	apiOpts = append(apiOpts, api.WithHealthCheck("elasticsearch", index.Ping))

	engineOpts, err := buildSearchOptions(tun, env, gen, kv)
	if err != nil {
		return err
	}
	engine := search.NewEngine(index, engineOpts...)

	classifier := flow.NewResetClassifier(gen,
		flow.WithResetCache(kv, tun.Cache.ResetTTL),
		flow.WithResetModel(tun.Completion.ClassifierModel, tun.Completion.ClassifierTimeout),
		flow.WithContextTurns(tun.Conversation.ContextTurns),
	)
	controller := flow.NewController(gen, engine, store.NewConversationStore(kv, tun.Cache.ConversationTTL),
		flow.WithLocations(store.NewLocationResolver(repo, kv, tun.Cache.LocationTTL)),
		flow.WithResetClassifier(classifier),
		flow.WithLocker(locker, tun.Conversation.LockTTL),
		flow.WithChatModel(tun.Completion.ChatModel, tun.Completion.Timeout),
		flow.WithCompletionRetry(util.RetryPolicy{
			Attempts:  tun.Completion.Attempts,
			BaseDelay: tun.Completion.BaseDelay,
			MaxJitter: tun.Completion.MaxJitter,
		}),
		flow.WithMinSymptoms(tun.Conversation.MinSymptoms),
	)

	if twilioOpt, ok := buildTwilioOption(env, repo); ok {
		apiOpts = append(apiOpts, twilioOpt)
	}
	if sched := startMaintenance(tun, repo); sched != nil {
		defer sched.Stop()
	}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	return api.NewServer(controller, apiOpts...).Run(ctx)
}

// applyEnvOverrides lets model environment variables win over the tunables file.
func applyEnvOverrides(tun *config.Config, env Config) {
	if env.ChatModel != "" {
		tun.Completion.ChatModel = env.ChatModel
		tun.Completion.ClassifierModel = env.ChatModel
	}
	if env.EmbeddingModel != "" {
		tun.Embedding.Model = env.EmbeddingModel
	}
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags, tun *config.Config) []genai.Option {
	genaiOpts := []genai.Option{
		genai.WithModel(tun.Completion.ChatModel),
		genai.WithEmbeddingModel(tun.Embedding.Model),
		genai.WithDimensions(tun.Embedding.Dimensions),
		genai.WithTimeout(tun.Completion.Timeout),
	}
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiBaseURL != "" {
		genaiOpts = append(genaiOpts, genai.WithBaseURL(*flags.openaiBaseURL))
	}
	if *flags.genaiDebug {
		genaiOpts = append(genaiOpts, genai.WithDebugMode(true), genai.WithStateDir(*flags.stateDir))
	}
	return genaiOpts
}

// buildKV connects to Redis when configured, otherwise falls back to
// in-process stores that do not survive restarts.
func buildKV(ctx context.Context, env Config, flags Flags) (store.KV, store.Locker, *goredis.Client, error) {
	if *flags.redisAddr == "" {
		slog.Warn("No REDIS_ADDR configured, using in-process caches and locks")
		return store.NewInMemoryKV(), store.NewInMemoryLocker(), nil, nil
	}
	rdb, err := store.NewRedisClient(ctx, store.RedisOptions{
		Addr:     *flags.redisAddr,
		Password: env.RedisPassword,
		DB:       env.RedisDB,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return store.NewRedisKV(rdb), store.NewRedisLocker(rdb), rdb, nil
}

// buildSearchOptions constructs Ranking Engine options from the tunables.
func buildSearchOptions(tun *config.Config, env Config, gen *genai.Client, kv store.KV) ([]search.EngineOption, error) {
	s := tun.Search
	builder := search.NewBuilder(
		search.WithGP(s.GPSynonyms, s.GPLabels),
		search.WithSpecialtyMatching(s.ExactBoost, s.Fuzziness),
		search.WithBoosts(s.CityBoost, s.CountryBoost, s.TelehealthBoost),
	)
	vectors := embedding.NewProvider(gen,
		embedding.WithCache(kv, tun.Cache.EmbeddingTTL),
		embedding.WithDimensions(tun.Embedding.Dimensions),
	)
	opts := []search.EngineOption{
		search.WithBuilder(builder),
		search.WithVectors(vectors, s.VectorField, s.VectorScale),
		search.WithCache(kv, tun.Cache.SearchTTL),
		search.WithBreaker(search.NewCircuitBreaker(tun.Breaker.Threshold, tun.Breaker.Cooldown)),
		search.WithPageSize(s.PageSize),
		search.WithRetry(util.RetryPolicy{Attempts: s.IndexAttempts, BaseDelay: 100 * time.Millisecond, MaxJitter: 100 * time.Millisecond}),
	}
	if env.AppKey == "" {
		slog.Warn("No APP_KEY configured, doctor identifiers will not be encrypted")
		return opts, nil
	}
	ids, err := idcrypt.New(env.AppKey)
	if err != nil {
		return nil, fmt.Errorf("APP_KEY: %w", err)
	}
	return append(opts, search.WithIDEncrypter(ids)), nil
}

// buildTwilioOption registers the WhatsApp webhook when Twilio credentials
// are present.
func buildTwilioOption(env Config, repo store.PatientRepo) (api.Option, bool) {
	if env.TwilioAccountSID == "" || env.TwilioAuthToken == "" {
		slog.Debug("Twilio not configured, WhatsApp webhook disabled")
		return nil, false
	}
	sender, err := twiliowhatsapp.NewClient(
		twiliowhatsapp.WithAccountSID(env.TwilioAccountSID),
		twiliowhatsapp.WithAuthToken(env.TwilioAuthToken),
		twiliowhatsapp.WithFromWhats(env.TwilioFromNumber),
	)
	if err != nil {
		slog.Error("Twilio client setup failed, WhatsApp webhook disabled", "error", err)
		return nil, false
	}
	dedup, _ := repo.(store.DedupRepo)
	validator := twiliowhatsapp.NewValidator(env.TwilioAuthToken, env.TwilioWebhookURL)
	return api.WithTwilio(sender, validator, repo, dedup), true
}

// startMaintenance schedules dedup pruning for stores that keep webhook ids.
func startMaintenance(tun *config.Config, repo store.PatientRepo) *scheduler.Scheduler {
	pruner, ok := repo.(scheduler.InboundPruner)
	if !ok || tun.Maintenance.DedupRetention <= 0 {
		return nil
	}
	sched := scheduler.NewScheduler()
	job := scheduler.PruneInboundJob(pruner, tun.Maintenance.DedupRetention, time.Minute)
	if err := sched.AddJob(tun.Maintenance.PruneSchedule, job); err != nil {
		slog.Error("Invalid maintenance schedule, dedup pruning disabled", "schedule", tun.Maintenance.PruneSchedule, "error", err)
		sched.Stop()
		return nil
	}
	slog.Info("Scheduled dedup pruning", "schedule", tun.Maintenance.PruneSchedule, "retention", tun.Maintenance.DedupRetention)
	return sched
}

func splitAddresses(raw string) []string {
	var out []string
	for _, a := range strings.Split(raw, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}
