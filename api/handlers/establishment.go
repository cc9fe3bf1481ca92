package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/meghashyamc/placefinder/logger"
	"github.com/meghashyamc/placefinder/services/establishment"
	"github.com/meghashyamc/placefinder/validation"
)

type EstablishmentRequest struct {
	Query string `form:"query" json:"query" validate:"valid_query"`
}

func SetupEstablishments(router *gin.Engine, logger logger.Logger, service *establishment.Service, validator *validation.Validator) {
	router.GET("/search/establishments", handleEstablishments(service, logger, validator))
}

func handleEstablishments(service *establishment.Service, logger logger.Logger, validator *validation.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		request := EstablishmentRequest{}
		if err := c.ShouldBindQuery(&request); err != nil {
			logger.Warn("could not extract expected params from establishment search request", "err", err.Error())
			c.Abort()
			writeResponse(c, nil, http.StatusUnprocessableEntity, []string{"failed to extract request query parameters"})
			return
		}

		if err := validator.Validate(request); err != nil {
			logger.Warn("could not validate establishment search request", "err", err.Error())
			c.Abort()
			writeResponse(c, nil, http.StatusNotAcceptable, []string{err.Error()})
			return
		}

		writeResponse(c, service.Search(c.Request.Context(), request.Query), http.StatusOK, nil)
	}
}
