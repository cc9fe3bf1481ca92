package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/meghashyamc/placefinder/db/kvdb"
	"github.com/meghashyamc/placefinder/logger"
	"github.com/meghashyamc/placefinder/validation"
)

type LastLocationRequest struct {
	Session string `form:"session" json:"session" validate:"required,valid_session"`
}

func SetupLocation(router *gin.Engine, logger logger.Logger, memory *kvdb.LocationMemory, validator *validation.Validator) {
	router.GET("/location/last", handleLastLocation(memory, logger, validator))
}

func handleLastLocation(memory *kvdb.LocationMemory, logger logger.Logger, validator *validation.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		request := LastLocationRequest{}
		if err := c.ShouldBindQuery(&request); err != nil {
			logger.Warn("could not extract expected params from last location request", "err", err.Error())
			c.Abort()
			writeResponse(c, nil, http.StatusUnprocessableEntity, []string{"failed to extract request query parameters"})
			return
		}

		if err := validator.Validate(request); err != nil {
			logger.Warn("could not validate last location request", "err", err.Error())
			c.Abort()
			writeResponse(c, nil, http.StatusNotAcceptable, []string{err.Error()})
			return
		}

		record, err := memory.Recall(request.Session)
		if err != nil {
			if errors.Is(err, kvdb.ErrNotFound) {
				c.Abort()
				writeResponse(c, nil, http.StatusNotFound, []string{"no location remembered for this session"})
				return
			}
			logger.Error("could not read last location", "session", request.Session, "err", err.Error())
			c.Abort()
			writeResponse(c, nil, http.StatusInternalServerError, []string{err.Error()})
			return
		}

		writeResponse(c, record, http.StatusOK, nil)
	}
}
