package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/sensor-pipeline/internal/analytics"
	"github.com/afroash/sensor-pipeline/internal/export"
	"github.com/afroash/sensor-pipeline/internal/models"
	"github.com/afroash/sensor-pipeline/internal/processing"
	"github.com/afroash/sensor-pipeline/internal/stats"
	"github.com/afroash/sensor-pipeline/internal/storage"
	"github.com/afroash/sensor-pipeline/internal/store"
	"github.com/afroash/sensor-pipeline/internal/validation"
)

// maxBodyBytes caps ingest and validate request bodies
const maxBodyBytes = 8 << 20

// APIHandler serves the REST API over the pipeline and, when configured,
// the archive
type APIHandler struct {
	pipeline ReadingPipeline
	archive  ArchiveReader
	metrics  *Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(p ReadingPipeline, metrics *Metrics, logger zerolog.Logger) *APIHandler {
	return &APIHandler{
		pipeline: p,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// NewAPIHandlerWithArchive creates an API handler that also serves archived
// history
func NewAPIHandlerWithArchive(p ReadingPipeline, archive ArchiveReader, metrics *Metrics, logger zerolog.Logger) *APIHandler {
	api := NewAPIHandler(p, metrics, logger)
	api.archive = archive
	return api
}

// IngestResponse is the body of POST /api/readings
type IngestResponse struct {
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors"`
}

// HandleIngest accepts one reading object or an array of them. It answers
// 201 when every reading was accepted and 422 otherwise; both carry the
// itemized errors.
func (api *APIHandler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	raws, err := decodeReadings(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	accepted, rejected, errs := ingestAll(api.pipeline, raws)
	api.metrics.recordIngest(transportREST, accepted, rejected)
	if errs == nil {
		errs = []string{}
	}

	status := http.StatusCreated
	if rejected > 0 {
		status = http.StatusUnprocessableEntity
		api.logger.Warn().Int("accepted", accepted).Int("rejected", rejected).Msg("Readings rejected")
	}
	writeJSON(w, status, IngestResponse{Accepted: accepted, Rejected: rejected, Errors: errs})
}

// HandleValidate validates one reading without storing it
func (api *APIHandler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var raw map[string]interface{}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&raw); err != nil || raw == nil {
		writeError(w, http.StatusBadRequest, "body must be a JSON object")
		return
	}
	writeJSON(w, http.StatusOK, api.pipeline.Validate(raw))
}

// HandleReadings returns stored readings, oldest first
func (api *APIHandler) HandleReadings(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, api.pipeline.Query(f))
}

// HandleLatest returns the most recently ingested reading
func (api *APIHandler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	reading, ok := api.pipeline.Latest()
	if !ok {
		writeError(w, http.StatusNotFound, "no readings available")
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

// HandleClear empties the store
func (api *APIHandler) HandleClear(w http.ResponseWriter, r *http.Request) {
	api.pipeline.Clear()
	w.WriteHeader(http.StatusNoContent)
}

// HandleClean cleans the stored readings matching the filter. Query
// parameters override individual cleaning options.
func (api *APIHandler) HandleClean(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts, err := parseOptions(r, api.pipeline.Options())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, api.pipeline.Clean(api.pipeline.Query(f), opts))
}

// AnalyticsResponse is the body of GET /api/analytics
type AnalyticsResponse struct {
	Analytics analytics.Result         `json:"analytics"`
	Quality   processing.QualityReport `json:"quality"`
}

// HandleAnalytics cleans the matching readings and analyzes the result
func (api *APIHandler) HandleAnalytics(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts, err := parseOptions(r, api.pipeline.Options())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cleaned := api.pipeline.Clean(api.pipeline.Query(f), opts)
	writeJSON(w, http.StatusOK, AnalyticsResponse{
		Analytics: api.pipeline.Analyze(cleaned.Cleaned),
		Quality:   cleaned.Report,
	})
}

// HandleExport downloads the matching readings as CSV or JSON, raw or
// cleaned
func (api *APIHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format, err := export.ParseFormat(valueOr(q.Get("format"), string(export.FormatCSV)))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cleaned, err := parseBool(q.Get("cleaned"), false)
	if err != nil {
		writeError(w, http.StatusBadRequest, "cleaned: "+err.Error())
		return
	}

	snapshot := api.pipeline.Query(f)
	prefix := "sensor_data"
	if cleaned {
		snapshot = api.pipeline.Clean(snapshot, api.pipeline.Options()).Cleaned
		prefix = "cleaned_sensor_data"
	}

	filename := fmt.Sprintf("%s_%s.%s", prefix, export.Stamp(api.now()), format)
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := api.pipeline.Export(w, snapshot, format); err != nil {
		api.logger.Error().Err(err).Msg("Export failed")
	}
}

// HandleStats returns pipeline and store statistics
func (api *APIHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.pipeline.Stats())
}

// HandleSensors returns the IDs of sensors present in the store
func (api *APIHandler) HandleSensors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"sensor_ids": api.pipeline.SensorIDs()})
}

// HandleArchiveStats returns archive database statistics
func (api *APIHandler) HandleArchiveStats(w http.ResponseWriter, r *http.Request) {
	st, err := api.archive.GetStorageStats()
	if err != nil {
		api.logger.Error().Err(err).Msg("Failed to read archive stats")
		writeError(w, http.StatusInternalServerError, "failed to read archive stats")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleArchiveReadings pages through archived readings, newest first.
// before and after are exclusive cursors.
func (api *APIHandler) HandleArchiveReadings(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := storage.Query{SensorID: f.SensorID, Start: f.Start, End: f.End, Limit: f.Limit}
	if q.Limit == 0 {
		q.Limit = 100
	}
	if q.Before, err = parseTime(r.URL.Query().Get("before")); err != nil {
		writeError(w, http.StatusBadRequest, "before: "+err.Error())
		return
	}
	if q.After, err = parseTime(r.URL.Query().Get("after")); err != nil {
		writeError(w, http.StatusBadRequest, "after: "+err.Error())
		return
	}

	readings, err := api.archive.QueryReadings(q)
	if err != nil {
		api.logger.Error().Err(err).Msg("Failed to query archive")
		writeError(w, http.StatusInternalServerError, "failed to query archive")
		return
	}
	writeJSON(w, http.StatusOK, readings)
}

// HandleArchiveLatest returns the newest archived reading for sensor_id,
// or the newest reading of every archived sensor when sensor_id is empty
func (api *APIHandler) HandleArchiveLatest(w http.ResponseWriter, r *http.Request) {
	sensorID := r.URL.Query().Get("sensor_id")
	if sensorID != "" {
		reading, err := api.archive.GetLatestReading(sensorID)
		if err != nil {
			api.logger.Error().Err(err).Str("sensor_id", sensorID).Msg("Failed to read latest archived reading")
			writeError(w, http.StatusInternalServerError, "failed to query archive")
			return
		}
		if reading == nil {
			writeError(w, http.StatusNotFound, "no archived readings for "+sensorID)
			return
		}
		writeJSON(w, http.StatusOK, reading)
		return
	}

	ids, err := api.archive.GetSensorIDs()
	if err != nil {
		api.logger.Error().Err(err).Msg("Failed to list archived sensors")
		writeError(w, http.StatusInternalServerError, "failed to query archive")
		return
	}
	latest := make(map[string]*models.Reading, len(ids))
	for _, id := range ids {
		reading, err := api.archive.GetLatestReading(id)
		if err != nil {
			api.logger.Error().Err(err).Str("sensor_id", id).Msg("Failed to read latest archived reading")
			writeError(w, http.StatusInternalServerError, "failed to query archive")
			return
		}
		if reading != nil {
			latest[id] = reading
		}
	}
	writeJSON(w, http.StatusOK, latest)
}

// HandleArchiveDaily returns per day aggregates, last 30 days by default
func (api *APIHandler) HandleArchiveDaily(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.End.IsZero() {
		f.End = api.now().UTC()
	}
	if f.Start.IsZero() {
		f.Start = f.End.AddDate(0, 0, -30)
	}

	daily, err := api.archive.GetDailyStats(f.SensorID, f.Start, f.End)
	if err != nil {
		api.logger.Error().Err(err).Msg("Failed to read daily stats")
		writeError(w, http.StatusInternalServerError, "failed to read daily stats")
		return
	}
	writeJSON(w, http.StatusOK, daily)
}

// decodeReadings accepts a single object or an array of objects
func decodeReadings(body io.Reader) ([]map[string]interface{}, error) {
	var payload json.RawMessage
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}

	var raws []map[string]interface{}
	if err := json.Unmarshal(payload, &raws); err == nil {
		return raws, nil
	}

	var single map[string]interface{}
	if err := json.Unmarshal(payload, &single); err != nil || single == nil {
		return nil, errors.New("body must be a reading object or an array of readings")
	}
	return []map[string]interface{}{single}, nil
}

// parseFilter reads sensor_id, start, end and limit
func parseFilter(r *http.Request) (store.Filter, error) {
	q := r.URL.Query()
	f := store.Filter{SensorID: q.Get("sensor_id")}

	var err error
	if f.Start, err = parseTime(q.Get("start")); err != nil {
		return f, fmt.Errorf("start: %w", err)
	}
	if f.End, err = parseTime(q.Get("end")); err != nil {
		return f, fmt.Errorf("end: %w", err)
	}
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil || f.Limit < 0 {
			return f, fmt.Errorf("limit must be a non-negative integer")
		}
	}
	return f, nil
}

// parseOptions applies query parameter overrides to base
func parseOptions(r *http.Request, base processing.Options) (processing.Options, error) {
	q := r.URL.Query()
	opts := base
	var err error

	bools := map[string]*bool{
		"fill_missing":    &opts.FillMissing,
		"interpolate":     &opts.Interpolate,
		"detect_outliers": &opts.DetectOutliers,
		"remove_outliers": &opts.RemoveOutliers,
	}
	for key, dst := range bools {
		if *dst, err = parseBool(q.Get(key), *dst); err != nil {
			return opts, fmt.Errorf("%s: %w", key, err)
		}
	}

	if v := q.Get("outlier_method"); v != "" {
		opts.OutlierMethod = stats.OutlierMethod(v)
	}
	floats := map[string]*float64{
		"z_threshold":    &opts.ZThreshold,
		"iqr_multiplier": &opts.IQRMultiplier,
	}
	for key, dst := range floats {
		if v := q.Get(key); v != "" {
			if *dst, err = strconv.ParseFloat(v, 64); err != nil {
				return opts, fmt.Errorf("%s must be a number", key)
			}
		}
	}
	ints := map[string]*int{
		"smoothing_window": &opts.SmoothingWindow,
		"smoothing_order":  &opts.SmoothingOrder,
	}
	for key, dst := range ints {
		if v := q.Get(key); v != "" {
			if *dst, err = strconv.Atoi(v); err != nil {
				return opts, fmt.Errorf("%s must be an integer", key)
			}
		}
	}

	return opts, opts.Validate()
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return validation.ParseTimestamp(v)
}

func parseBool(v string, def bool) (bool, error) {
	if v == "" {
		return def, nil
	}
	return strconv.ParseBool(v)
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
