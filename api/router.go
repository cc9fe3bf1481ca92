package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/meghashyamc/placefinder/api/handlers"
	"github.com/meghashyamc/placefinder/db/kvdb"
	"github.com/meghashyamc/placefinder/logger"
	"github.com/meghashyamc/placefinder/metrics"
	"github.com/meghashyamc/placefinder/provider"
	"github.com/meghashyamc/placefinder/services/establishment"
	"github.com/meghashyamc/placefinder/services/search"
	"github.com/meghashyamc/placefinder/validation"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type routeDependencies struct {
	coordinator   *search.Coordinator
	establishment *establishment.Service
	locations     *kvdb.LocationMemory
	geocoder      provider.CoordinateResolver
	locationTTL   time.Duration
	metrics       *metrics.Metrics
	validator     *validation.Validator
}

func setupRoutes(router *gin.Engine, logger logger.Logger, deps routeDependencies) {
	router.GET("/health", health())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers.SetupSearch(router, logger, deps.coordinator, deps.validator)
	handlers.SetupEstablishments(router, logger, deps.establishment, deps.validator)
	handlers.SetupLocation(router, logger, deps.locations, deps.validator)
	handlers.SetupSession(router, logger, handlers.SessionConfig{
		Coordinator: deps.coordinator,
		Geocoder:    deps.geocoder,
		Locations:   deps.locations,
		LocationTTL: deps.locationTTL,
		Metrics:     deps.metrics,
	}, deps.validator)

}

func health() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	}
}

func newRouter() *gin.Engine {
	router := gin.Default()
	router.UseRawPath = true
	router.Use(_CORSMiddleware())
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())

	return router
}
