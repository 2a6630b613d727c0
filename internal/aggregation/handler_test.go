package aggregation_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vd-speed-test/speedroll/internal/aggregation"
	"github.com/vd-speed-test/speedroll/internal/core/period"
	"github.com/vd-speed-test/speedroll/internal/core/rollup"
	aggregationmocks "github.com/vd-speed-test/speedroll/internal/mocks/aggregation"
)

func TestHandler_HandleTrigger(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name           string
		body           string
		configure      func(r *aggregationmocks.Runner)
		expectedStatus int
		expectedType   string
	}{
		{
			name: "explicit date runs that period",
			body: `{"mode":"daily","date":"2025-11-03","host":"host-a"}`,
			configure: func(r *aggregationmocks.Runner) {
				r.EXPECT().
					Execute(mock.Anything, aggregation.Request{Level: period.Day, HostScope: "host-a", PeriodID: "2025-11-03"}).
					Return(aggregation.Result{Status: aggregation.StatusWritten}, nil).
					Once()
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "no date runs the default period",
			body: `{"mode":"weekly"}`,
			configure: func(r *aggregationmocks.Runner) {
				r.EXPECT().
					Execute(mock.Anything, aggregation.Request{Level: period.Week}).
					Return(aggregation.Result{Status: aggregation.StatusNoData}, nil).
					Once()
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "unknown mode",
			body:           `{"mode":"fortnightly"}`,
			configure:      func(_ *aggregationmocks.Runner) {},
			expectedStatus: http.StatusBadRequest,
			expectedType:   "invalid_mode",
		},
		{
			name:           "raw is not a rollup mode",
			body:           `{"mode":"raw"}`,
			configure:      func(_ *aggregationmocks.Runner) {},
			expectedStatus: http.StatusBadRequest,
			expectedType:   "invalid_mode",
		},
		{
			name:           "bad date",
			body:           `{"mode":"monthly","date":"November"}`,
			configure:      func(_ *aggregationmocks.Runner) {},
			expectedStatus: http.StatusBadRequest,
			expectedType:   "invalid_period",
		},
		{
			name:           "host escaping its partition",
			body:           `{"mode":"hourly","date":"2025110314","host":"x/evil=1"}`,
			configure:      func(_ *aggregationmocks.Runner) {},
			expectedStatus: http.StatusBadRequest,
			expectedType:   "invalid_request",
		},
		{
			name:           "dot dot host",
			body:           `{"mode":"daily","host":".."}`,
			configure:      func(_ *aggregationmocks.Runner) {},
			expectedStatus: http.StatusBadRequest,
			expectedType:   "invalid_request",
		},
		{
			name: "invalid host reported by the runner",
			body: `{"mode":"daily","date":"2025-11-03","host":"pi-lab"}`,
			configure: func(r *aggregationmocks.Runner) {
				r.EXPECT().
					Execute(mock.Anything, mock.Anything).
					Return(aggregation.Result{}, fmt.Errorf("%w: test", rollup.ErrInvalidHostScope)).
					Once()
			},
			expectedStatus: http.StatusBadRequest,
			expectedType:   "invalid_request",
		},
		{
			name:           "missing mode",
			body:           `{"date":"2025-11-03"}`,
			configure:      func(_ *aggregationmocks.Runner) {},
			expectedStatus: http.StatusBadRequest,
			expectedType:   "invalid_json",
		},
		{
			name: "write failure surfaces as 500",
			body: `{"mode":"hourly","date":"2025110314"}`,
			configure: func(r *aggregationmocks.Runner) {
				r.EXPECT().
					Execute(mock.Anything, aggregation.Request{Level: period.Hour, PeriodID: "2025110314"}).
					Return(aggregation.Result{}, &rollup.TransientStoreError{Op: "put", Path: "p", Err: errors.New("503")}).
					Once()
			},
			expectedStatus: http.StatusInternalServerError,
			expectedType:   "store_write_failed",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			runner := aggregationmocks.NewRunner(t)
			tc.configure(runner)

			rec := serve(t, aggregation.NewHandler(runner, time.UTC), "/v1/aggregations", tc.body)
			require.Equal(t, tc.expectedStatus, rec.Code, rec.Body.String())

			if tc.expectedType != "" {
				var body map[string]interface{}
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				require.Equal(t, tc.expectedType, body["error_type"])
			}
		})
	}
}

func TestHandler_HandleBackfill(t *testing.T) {
	gin.SetMode(gin.TestMode)

	runner := aggregationmocks.NewRunner(t)
	runner.EXPECT().
		Backfill(mock.Anything, mock.MatchedBy(func(req aggregation.BackfillRequest) bool {
			return len(req.Levels) == 2 &&
				req.Levels[0] == period.Day &&
				req.Levels[1] == period.Week &&
				req.From.Equal(time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)) &&
				req.To.Equal(time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC)) &&
				req.Force
		})).
		Return(aggregation.BackfillReport{Written: 35}, nil).
		Once()

	h := aggregation.NewHandler(runner, time.UTC)
	rec := serve(t, h, "/v1/aggregations/backfill", `{"modes":["daily","weekly"],"from":"2025-10-01","to":"2025-11-01","force":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report aggregation.BackfillReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, 35, report.Written)

	rec = serve(t, h, "/v1/aggregations/backfill", `{"from":"2025-11-01","to":"2025-10-01"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_HandleBackfill_RejectsHostOutsideItsPartition(t *testing.T) {
	gin.SetMode(gin.TestMode)

	runner := aggregationmocks.NewRunner(t)
	h := aggregation.NewHandler(runner, time.UTC)

	rec := serve(t, h, "/v1/aggregations/backfill", `{"hosts":["pi-lab","../vd-speed-test-yearly-prod"],"from":"2025-10-01","to":"2025-11-01"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "invalid_request", body["error_type"])
}

func serve(t *testing.T, h *aggregation.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	router := gin.New()
	h.RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}
