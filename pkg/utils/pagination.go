package utils

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 500
)

// HistoryLimit reads the "limit" query parameter, clamped to MaxHistoryLimit.
func HistoryLimit(c echo.Context) int {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}

// Tail returns the last n items of items.
func Tail[T any](items []T, n int) []T {
	if n <= 0 || len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}
