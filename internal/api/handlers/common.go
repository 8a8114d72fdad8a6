package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const timeLayout = time.RFC3339

// Invalidator is notified after every write that changes the enrollment or
// authorization snapshot.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

func invalidate(ctx context.Context, inv Invalidator) {
	if inv == nil {
		return
	}
	if err := inv.Invalidate(ctx); err != nil {
		slog.Warn("invalidate snapshot cache", "error", err)
	}
}

func parseID(c *gin.Context, param, label string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + label + " id"})
		return uuid.Nil, false
	}
	return id, true
}

// queryBool reads an optional boolean query parameter.
func queryBool(c *gin.Context, key string, def bool) bool {
	v := c.Query(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func readFile(fh *multipart.FileHeader, maxBytes int64) ([]byte, error) {
	if maxBytes > 0 && fh.Size > maxBytes {
		return nil, fmt.Errorf("%s exceeds %d bytes", fh.Filename, maxBytes)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	return io.ReadAll(f)
}

// formImage reads an optional multipart image field. A missing field yields
// nil data and no error.
func formImage(c *gin.Context, field string, maxBytes int64) ([]byte, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		return nil, err
	}
	return readFile(fh, maxBytes)
}
