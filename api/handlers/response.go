package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// KeyRequestID is the gin context key the request ID middleware stores under.
const KeyRequestID = "request_id"

type response struct {
	Data      any      `json:"data"`
	Errors    []string `json:"errors"`
	RequestID string   `json:"request_id,omitempty"`
}

func writeResponse(c *gin.Context, data interface{}, statusCode int, errors []string) {

	if statusCode == http.StatusNoContent {
		c.Status(statusCode)
		return
	}

	c.JSON(statusCode, response{
		Data:      data,
		Errors:    errors,
		RequestID: c.GetString(KeyRequestID),
	})
}

type Pagination struct {
	CurrentPage  int  `json:"current_page"`
	PageSize     int  `json:"page_size"`
	TotalPages   int  `json:"total_pages"`
	HasNextPage  bool `json:"has_next_page"`
	HasPrevPage  bool `json:"has_prev_page"`
	TotalResults int  `json:"total_results"`
}

// page slices items for a 1-based page number and describes where that page sits.
func page[T any](items []T, pageNumber, pageSize int) ([]T, Pagination) {
	total := len(items)
	totalPages := 1
	if pageSize > 0 && total > 0 {
		totalPages = total / pageSize
		if total%pageSize != 0 {
			totalPages++
		}
	}

	pagination := Pagination{
		CurrentPage:  pageNumber,
		PageSize:     pageSize,
		TotalPages:   totalPages,
		HasNextPage:  pageNumber < totalPages,
		HasPrevPage:  pageNumber > 1,
		TotalResults: total,
	}

	// Compare page numbers before multiplying so huge pages cannot overflow.
	if pageNumber < 1 || pageSize < 1 || pageNumber > totalPages {
		return []T{}, pagination
	}
	start := (pageNumber - 1) * pageSize
	if start >= total {
		return []T{}, pagination
	}
	return items[start:min(start+pageSize, total)], pagination
}
