package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/meghashyamc/placefinder/logger"
	"github.com/meghashyamc/placefinder/provider"
	"github.com/meghashyamc/placefinder/services/search"
	"github.com/meghashyamc/placefinder/validation"
)

const defaultResultsPerPage = 10

// HeaderPaginationTotalCount carries the unpaginated result count.
const HeaderPaginationTotalCount = "X-Pagination-Total-Count"

type SearchRequest struct {
	Query   string `form:"query" json:"query" validate:"valid_query"`
	Type    string `form:"type" json:"type" validate:"valid_place_type"`
	Country string `form:"country" json:"country" validate:"omitempty,len=2,alpha"`
	PerPage int    `form:"per_page" json:"per_page" validate:"min=0,max=50"`
	Page    int    `form:"page" json:"page" validate:"min=0,max=1000"`
}

func (r *SearchRequest) setDefaults() {
	if r.PerPage == 0 {
		r.PerPage = defaultResultsPerPage
	}

	if r.Page == 0 {
		r.Page = 1
	}
}

type SearchResponse struct {
	Results     []provider.Candidate `json:"results"`
	SourceQuery string               `json:"source_query"`
	Fallback    bool                 `json:"fallback"`
	Cached      bool                 `json:"cached"`
	PageDetails Pagination           `json:"page_details"`
}

func SetupSearch(router *gin.Engine, logger logger.Logger, coordinator *search.Coordinator, validator *validation.Validator) {
	router.GET("/search", handleSearch(coordinator, logger, validator))
}

func handleSearch(coordinator *search.Coordinator, logger logger.Logger, validator *validation.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		request := SearchRequest{}
		if err := c.ShouldBindQuery(&request); err != nil {
			logger.Warn("could not extract expected params from search request", "err", err.Error())
			c.Abort()
			writeResponse(c, nil, http.StatusUnprocessableEntity, []string{"failed to extract request query parameters"})
			return
		}
		request.setDefaults()

		if err := validator.Validate(request); err != nil {
			logger.Warn("could not validate search request", "err", err.Error())
			c.Abort()
			writeResponse(c, nil, http.StatusNotAcceptable, []string{err.Error()})
			return
		}

		resultSet, err := coordinator.Lookup(c.Request.Context(), request.Query, provider.PredictOptions{
			CountryRestriction: request.Country,
			TypeFilter:         request.Type,
		})
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, search.ErrNoResults) {
				status = http.StatusServiceUnavailable
			}
			logger.Error("search failed", "err", err.Error())
			c.Abort()
			writeResponse(c, nil, status, []string{err.Error()})
			return
		}

		results, pagination := page(resultSet.Items, request.Page, request.PerPage)
		c.Header(HeaderPaginationTotalCount, strconv.Itoa(pagination.TotalResults))

		searchResponse := SearchResponse{
			Results:     results,
			SourceQuery: resultSet.SourceQuery,
			Fallback:    resultSet.Fallback,
			Cached:      resultSet.Cached,
			PageDetails: pagination,
		}

		writeResponse(c, searchResponse, http.StatusOK, nil)
	}
}
