package ingestion

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	v1 "github.com/vd-speed-test/speedroll/internal/api/v1"
	httperr "github.com/vd-speed-test/speedroll/internal/core/errors"
	"github.com/vd-speed-test/speedroll/internal/core/rollup"
	"github.com/vd-speed-test/speedroll/internal/metrics"
)

const (
	msgReadBodyFailed = "Failed to read request body"
	msgInvalidJSON    = "Invalid JSON body"
	msgPersistFailed  = "Failed to persist measurement"
)

// ingestionError carries the structured HTTP error shape from a helper back to the handler.
type ingestionError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *ingestionError) Error() string {
	return e.message
}

// IngestHandler handles POST /v1/measurements.
func (s *Service) IngestHandler(c *gin.Context) {
	m, payloadSize, err := s.parseMeasurement(c)
	if err != nil {
		writeError(c, err)
		return
	}

	if err := m.Validate(s.nowFn()); err != nil {
		slog.Warn("[Ingestion] Measurement rejected", "error", err, "host_id", m.HostID)
		writeError(c, &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidRequestError,
			message:    err.Error(),
		})
		return
	}

	rec := m.ToRecord()
	path, ierr := s.persistRecord(c.Request.Context(), rec)
	if ierr != nil {
		writeError(c, ierr)
		return
	}

	metrics.MeasurementsIngested.Inc()
	slog.Debug("[Ingestion] Stored measurement",
		"host_id", rec.HostID,
		"path", path,
		"payload_size", payloadSize)

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "path": path})
}

// parseMeasurement reads the body under the size limit and binds it.
func (s *Service) parseMeasurement(c *gin.Context) (*v1.Measurement, int, *ingestionError) {
	maxBytes := int64(s.maxBodySizeBytes)
	limitedBody := io.LimitReader(c.Request.Body, maxBytes+1) // +1 to detect oversized requests

	bodyBytes, err := io.ReadAll(limitedBody)
	if err != nil {
		slog.Error("[Ingestion] Failed to read request body", "error", err)
		return nil, 0, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgReadBodyFailed,
		}
	}

	if int64(len(bodyBytes)) > maxBytes {
		slog.Warn("[Ingestion] Request body exceeds maximum size", "size", len(bodyBytes), "max", maxBytes)
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusRequestEntityTooLarge,
			errorType:  httperr.HttpInvalidJsonError,
			message:    "Request body exceeds maximum allowed size",
			details: map[string]interface{}{
				"max_size_kb": maxBytes / 1024,
			},
		}
	}

	c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	var m v1.Measurement
	if err := c.ShouldBindJSON(&m); err != nil {
		slog.Warn("[Ingestion] Invalid JSON body received", "error", err, "payload_size", len(bodyBytes))
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgInvalidJSON,
		}
	}
	return &m, len(bodyBytes), nil
}

// persistRecord writes the record to its raw hour partition.
func (s *Service) persistRecord(ctx context.Context, rec rollup.MeasurementRecord) (string, *ingestionError) {
	path, err := s.layout.RecordPath(rec, s.loc)
	if err != nil {
		return "", &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidRequestError,
			message:    err.Error(),
		}
	}

	data, err := rollup.EncodeRecord(rec)
	if err != nil {
		slog.Error("[Ingestion] Failed to encode record", "error", err)
		return "", &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgPersistFailed,
		}
	}

	if err := s.store.Put(ctx, path, data); err != nil {
		slog.Error("[Ingestion] Failed to persist measurement", "error", err, "path", path)
		return "", &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpStoreWriteError,
			message:    msgPersistFailed,
		}
	}
	return path, nil
}

// writeError serializes an ingestionError as the JSON HTTP response.
func writeError(c *gin.Context, err *ingestionError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}
