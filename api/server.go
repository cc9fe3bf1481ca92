package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/meghashyamc/placefinder/cache"
	"github.com/meghashyamc/placefinder/clock"
	"github.com/meghashyamc/placefinder/config"
	"github.com/meghashyamc/placefinder/dataset"
	"github.com/meghashyamc/placefinder/db/kvdb"
	"github.com/meghashyamc/placefinder/db/searchdb"
	"github.com/meghashyamc/placefinder/logger"
	"github.com/meghashyamc/placefinder/metrics"
	"github.com/meghashyamc/placefinder/provider"
	"github.com/meghashyamc/placefinder/services/establishment"
	"github.com/meghashyamc/placefinder/services/search"
	"github.com/meghashyamc/placefinder/validation"
	"github.com/redis/go-redis/v9"
)

type server struct {
	cfg        *config.Config
	router     *gin.Engine
	httpServer *http.Server

	kvdb        kvdb.DB
	searchdb    searchdb.DB
	redisClient *redis.Client

	metrics       *metrics.Metrics
	locations     *kvdb.LocationMemory
	geocoder      provider.CoordinateResolver
	coordinator   *search.Coordinator
	establishment *establishment.Service
	validator     *validation.Validator
	logger        logger.Logger
}

func Run(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)

	defer cancel()

	s := &server{
		cfg:    cfg,
		logger: logger.New(cfg.GetLogLevel()),
	}
	if err := s.setupDependencies(ctx); err != nil {
		return err
	}
	s.setupRouter()
	s.setupHTTPServer()
	s.setupGracefulShutdown(ctx)

	return nil
}

func (s *server) setupDependencies(ctx context.Context) error {
	var err error
	s.metrics = metrics.New(nil)

	localities, err := dataset.Default()
	if err != nil {
		s.logger.Error("error loading locality dataset", "err", err.Error())
		return err
	}

	s.kvdb, err = kvdb.New(s.logger, s.cfg.GetKVDBPath())
	if err != nil {
		s.logger.Error("error creating kvDB", "err", err.Error())
		return err
	}
	s.locations = kvdb.NewLocationMemory(s.kvdb, s.logger)
	if _, err := s.locations.Prune(time.Now().Add(-s.cfg.GetLocationRetention())); err != nil {
		s.logger.Warn("could not prune remembered locations", "err", err.Error())
	}

	fallbackDB, err := searchdb.New(s.logger, localities)
	if err != nil {
		s.logger.Error("error creating searchDB", "err", err.Error())
		return err
	}
	s.searchdb = fallbackDB

	results, err := s.newResultsCache(ctx)
	if err != nil {
		return err
	}

	client := provider.NewClient(provider.Config{
		PlacesBaseURL:  s.cfg.GetPlacesBaseURL(),
		PlacesAPIKey:   s.cfg.GetPlacesAPIKey(),
		GeocodeBaseURL: s.cfg.GetGeocodeBaseURL(),
		Timeout:        s.cfg.GetProviderTimeout(),
	}, nil, s.logger, s.metrics)

	s.geocoder = client
	if s.cfg.GetOfflineFallback() {
		s.geocoder = &provider.ChainedResolver{
			Primary:   client,
			Secondary: &provider.DatasetResolver{Dataset: localities},
			Logger:    s.logger,
		}
	}

	s.coordinator = search.New(s.logger, client, fallbackDB, results, search.Options{
		Debounce:           s.cfg.GetDebounce(),
		MinQueryLength:     s.cfg.GetMinQueryLength(),
		CountryRestriction: s.cfg.GetCountry(),
		Metrics:            s.metrics,
	})

	s.establishment = establishment.New(s.logger, s.coordinator, localities, establishment.Options{
		Region:             s.cfg.GetEstablishmentRegion(),
		Threshold:          s.cfg.GetEstablishmentThreshold(),
		DomainKeywords:     s.cfg.GetEstablishmentKeywords(),
		CountryRestriction: s.cfg.GetCountry(),
		Metrics:            s.metrics,
	})

	s.validator, err = validation.New(s.logger)
	if err != nil {
		s.logger.Error("error creating validator", "err", err.Error())
		return err
	}

	return nil

}

// newResultsCache shares predictions through redis when an address is configured
// and keeps them in process memory otherwise.
func (s *server) newResultsCache(ctx context.Context) (cache.Cache[[]provider.Candidate], error) {
	opts := cache.Options{
		Name:       "search",
		TTL:        s.cfg.GetSearchTTL(),
		MaxEntries: s.cfg.GetSearchMaxEntries(),
		Clock:      clock.Real(),
		Metrics:    s.metrics,
	}

	addr := s.cfg.GetRedisAddr()
	if addr == "" {
		return cache.NewMemory[[]provider.Candidate](opts), nil
	}

	s.redisClient = redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.redisClient.Ping(pingCtx).Err(); err != nil {
		s.logger.Error("error connecting to redis", "addr", addr, "err", err.Error())
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	s.logger.Info("sharing search cache through redis", "addr", addr)

	return cache.NewRedis[[]provider.Candidate](s.redisClient, s.logger, "placefinder:search:", opts), nil
}

func (s *server) setupRouter() {
	router := newRouter()

	router.Use(loggingMiddleware(s.logger))

	setupRoutes(router, s.logger, routeDependencies{
		coordinator:   s.coordinator,
		establishment: s.establishment,
		locations:     s.locations,
		geocoder:      s.geocoder,
		locationTTL:   s.cfg.GetLocationTTL(),
		metrics:       s.metrics,
		validator:     s.validator,
	})

	s.router = router
}

func (s *server) setupHTTPServer() {

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", s.cfg.GetPort()),
		Handler: s.router.Handler(),
	}
	s.httpServer = httpServer
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()
}

func (s *server) setupGracefulShutdown(ctx context.Context) {

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		s.logger.Info("starting to shut down http server")
		shutdownCtx := context.Background()
		shutdownCtx, cancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error shutting down http server", "err", err)
		}
		s.kvdb.Close()
		s.searchdb.Close()
		if s.redisClient != nil {
			s.redisClient.Close()
		}
		s.logger.Info("shut down http server successfully")
	}()

	wg.Wait()
}
