package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/sensor-pipeline/internal/export"
	"github.com/afroash/sensor-pipeline/internal/models"
	"github.com/afroash/sensor-pipeline/internal/pipeline"
	"github.com/afroash/sensor-pipeline/internal/storage"
	"github.com/afroash/sensor-pipeline/internal/validation"
)

type fakeArchive struct {
	readings  []*models.Reading
	lastQuery storage.Query
	daily     []storage.DailyStat
	err       error
}

func (a *fakeArchive) QueryReadings(q storage.Query) ([]*models.Reading, error) {
	a.lastQuery = q
	return a.readings, a.err
}

func (a *fakeArchive) GetLatestReading(sensorID string) (*models.Reading, error) {
	if a.err != nil {
		return nil, a.err
	}
	for _, r := range a.readings {
		if r.SensorID == sensorID {
			return r, nil
		}
	}
	return nil, nil
}

func (a *fakeArchive) GetDailyStats(sensorID string, start, end time.Time) ([]storage.DailyStat, error) {
	return a.daily, a.err
}

func (a *fakeArchive) GetStorageStats() (*storage.StorageStats, error) {
	if a.err != nil {
		return nil, a.err
	}
	return &storage.StorageStats{TotalReadings: int64(len(a.readings))}, nil
}

func (a *fakeArchive) GetSensorIDs() ([]string, error) {
	return []string{"SIM_001"}, a.err
}

type apiFixture struct {
	srv      *httptest.Server
	pipeline *pipeline.Pipeline
	api      *APIHandler
}

func newAPIFixture(t *testing.T, archive ArchiveReader) *apiFixture {
	t.Helper()
	p := newTestPipeline()
	metrics := NewMetrics()

	api := NewAPIHandler(p, metrics, zerolog.Nop())
	if archive != nil {
		api = NewAPIHandlerWithArchive(p, archive, metrics, zerolog.Nop())
	}
	api.now = func() time.Time { return time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC) }

	ws := NewHandler(p, metrics, zerolog.Nop(), "*")
	srv := httptest.NewServer(NewRouter(api, ws, metrics, RouterConfig{Version: "test", AllowedOrigins: []string{"*"}}))
	t.Cleanup(srv.Close)

	return &apiFixture{srv: srv, pipeline: p, api: api}
}

func (f *apiFixture) seed(t *testing.T, temps ...float64) {
	t.Helper()
	for i, temp := range temps {
		if err := f.pipeline.Ingest(rawReading(i, temp)); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			r = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			if err != nil {
				t.Fatalf("marshal body: %v", err)
			}
			r = bytes.NewReader(data)
		}
	}

	req, err := http.NewRequest(method, f.srv.URL+path, r)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestAPI_Ingest(t *testing.T) {
	tests := []struct {
		name         string
		body         interface{}
		wantStatus   int
		wantAccepted int
		wantRejected int
	}{
		{"single object", rawReading(0, 20), http.StatusCreated, 1, 0},
		{"array", []map[string]interface{}{rawReading(0, 20), rawReading(1, 21)}, http.StatusCreated, 2, 0},
		{"partial", []map[string]interface{}{rawReading(0, 20), rawReading(1, 150)}, http.StatusUnprocessableEntity, 1, 1},
		{"all rejected", rawReading(0, 150), http.StatusUnprocessableEntity, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t, nil)
			resp := f.do(t, http.MethodPost, "/api/readings", tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}

			var got IngestResponse
			decodeBody(t, resp, &got)
			if got.Accepted != tt.wantAccepted || got.Rejected != tt.wantRejected {
				t.Errorf("response = %+v, want %d/%d", got, tt.wantAccepted, tt.wantRejected)
			}
			if len(got.Errors) < tt.wantRejected {
				t.Errorf("Errors = %v, want one entry per rejected reading", got.Errors)
			}
			if n := f.pipeline.Stats().Store.CurrentRecords; n != tt.wantAccepted {
				t.Errorf("stored = %d, want %d", n, tt.wantAccepted)
			}
		})
	}
}

func TestAPI_IngestBadBody(t *testing.T) {
	f := newAPIFixture(t, nil)
	for _, body := range []string{"{broken", "42", `"text"`} {
		if resp := f.do(t, http.MethodPost, "/api/readings", body); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, resp.StatusCode)
		}
	}
}

func TestAPI_Validate(t *testing.T) {
	f := newAPIFixture(t, nil)

	invalid := rawReading(0, 20)
	delete(invalid, "sensor_id")
	invalid["moisture"] = 120.0

	resp := f.do(t, http.MethodPost, "/api/validate", invalid)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var got validation.Result
	decodeBody(t, resp, &got)
	if got.Valid || len(got.Errors) != 2 {
		t.Errorf("result = %+v, want two violations", got)
	}
	if f.pipeline.Stats().Store.CurrentRecords != 0 {
		t.Error("validate stored the reading")
	}
}

func TestAPI_Readings(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.seed(t, 20, 21, 22, 23)

	q := url.Values{}
	q.Set("start", base.Add(2*time.Second).Format(time.RFC3339))
	q.Set("limit", "2")
	resp := f.do(t, http.MethodGet, "/api/readings?"+q.Encode(), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got []models.Reading
	decodeBody(t, resp, &got)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}

	for _, bad := range []string{"start=yesterday", "limit=-1", "limit=ten"} {
		if resp := f.do(t, http.MethodGet, "/api/readings?"+bad, nil); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", bad, resp.StatusCode)
		}
	}
}

func TestAPI_LatestAndClear(t *testing.T) {
	f := newAPIFixture(t, nil)

	if resp := f.do(t, http.MethodGet, "/api/readings/latest", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("empty store: status = %d, want 404", resp.StatusCode)
	}

	f.seed(t, 20, 25)
	resp := f.do(t, http.MethodGet, "/api/readings/latest", nil)
	var latest models.Reading
	decodeBody(t, resp, &latest)
	if latest.Temperature != 25 {
		t.Errorf("latest Temperature = %v, want 25", latest.Temperature)
	}

	if resp := f.do(t, http.MethodDelete, "/api/readings", nil); resp.StatusCode != http.StatusNoContent {
		t.Errorf("clear: status = %d, want 204", resp.StatusCode)
	}
	if n := f.pipeline.Stats().Store.CurrentRecords; n != 0 {
		t.Errorf("records after clear = %d, want 0", n)
	}
}

func TestAPI_Clean(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.seed(t, 20, 20.5, 21, 20.8, 21.2, 20.9, 99, 21.1, 20.7, 21)

	resp := f.do(t, http.MethodGet, "/api/clean?outlier_method=iqr", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var removed struct {
		Cleaned []models.Reading `json:"cleaned"`
		Report  struct {
			InputCount      int `json:"input_count"`
			OutliersRemoved int `json:"outliers_removed"`
		} `json:"report"`
	}
	decodeBody(t, resp, &removed)
	if removed.Report.InputCount != 10 || removed.Report.OutliersRemoved == 0 {
		t.Errorf("report = %+v, want the 99 spike removed", removed.Report)
	}
	if len(removed.Cleaned) != 10-removed.Report.OutliersRemoved {
		t.Errorf("cleaned = %d rows, want %d", len(removed.Cleaned), 10-removed.Report.OutliersRemoved)
	}

	resp = f.do(t, http.MethodGet, "/api/clean?outlier_method=iqr&remove_outliers=false", nil)
	var kept struct {
		Cleaned []models.Reading `json:"cleaned"`
	}
	decodeBody(t, resp, &kept)
	if len(kept.Cleaned) != 10 {
		t.Errorf("remove_outliers=false kept %d rows, want 10", len(kept.Cleaned))
	}
}

func TestAPI_CleanBadOptions(t *testing.T) {
	f := newAPIFixture(t, nil)
	for _, q := range []string{
		"outlier_method=median",
		"z_threshold=-1",
		"z_threshold=abc",
		"fill_missing=maybe",
		"smoothing_window=x",
	} {
		if resp := f.do(t, http.MethodGet, "/api/clean?"+q, nil); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestAPI_Analytics(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.seed(t, 20, 21, 22, 23, 24, 25)

	resp := f.do(t, http.MethodGet, "/api/analytics?sensor_id=SIM_001", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got struct {
		Analytics map[string]json.RawMessage `json:"analytics"`
		Quality   struct {
			InputCount int     `json:"input_count"`
			Overall    float64 `json:"overall"`
		} `json:"quality"`
	}
	decodeBody(t, resp, &got)
	if got.Quality.InputCount != 6 {
		t.Errorf("quality input_count = %d, want 6", got.Quality.InputCount)
	}
	for _, key := range []string{"statistics", "trends", "health", "insights"} {
		if _, ok := got.Analytics[key]; !ok {
			t.Errorf("analytics missing %q", key)
		}
	}
	if n := f.pipeline.Stats().AnalyzeRuns; n != 1 {
		t.Errorf("AnalyzeRuns = %d, want 1", n)
	}
}

func TestAPI_Export(t *testing.T) {
	tests := []struct {
		query        string
		format       export.Format
		wantType     string
		wantFilename string
	}{
		{"", export.FormatCSV, "text/csv", "sensor_data_20240305_143000.csv"},
		{"format=json", export.FormatJSON, "application/json", "sensor_data_20240305_143000.json"},
		{"format=csv&cleaned=true", export.FormatCSV, "text/csv", "cleaned_sensor_data_20240305_143000.csv"},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			f := newAPIFixture(t, nil)
			f.seed(t, 20, 21, 22)

			resp := f.do(t, http.MethodGet, "/api/export?"+tt.query, nil)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, want 200", resp.StatusCode)
			}
			if ct := resp.Header.Get("Content-Type"); ct != tt.wantType {
				t.Errorf("Content-Type = %q, want %q", ct, tt.wantType)
			}
			if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, tt.wantFilename) {
				t.Errorf("Content-Disposition = %q, want %q", cd, tt.wantFilename)
			}

			got, err := export.Parse(resp.Body, tt.format)
			if err != nil {
				t.Fatalf("parse export: %v", err)
			}
			if len(got) != 3 {
				t.Errorf("exported %d readings, want 3", len(got))
			}
		})
	}
}

func TestAPI_ExportBadFormat(t *testing.T) {
	f := newAPIFixture(t, nil)
	if resp := f.do(t, http.MethodGet, "/api/export?format=xml", nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAPI_StatsAndSensors(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.seed(t, 20, 21)
	f.pipeline.Ingest(rawReading(2, 150))

	var st pipeline.Stats
	decodeBody(t, f.do(t, http.MethodGet, "/api/stats", nil), &st)
	if st.Ingested != 2 || st.Rejected != 1 || st.Store.CurrentRecords != 2 {
		t.Errorf("stats = %+v", st)
	}

	var sensors struct {
		SensorIDs []string `json:"sensor_ids"`
	}
	decodeBody(t, f.do(t, http.MethodGet, "/api/sensors", nil), &sensors)
	if len(sensors.SensorIDs) != 1 || sensors.SensorIDs[0] != "SIM_001" {
		t.Errorf("sensor_ids = %v", sensors.SensorIDs)
	}
}

func TestAPI_Health(t *testing.T) {
	f := newAPIFixture(t, nil)
	var got map[string]string
	decodeBody(t, f.do(t, http.MethodGet, "/health", nil), &got)
	if got["status"] != "ok" || got["version"] != "test" {
		t.Errorf("health = %v", got)
	}
}

func TestAPI_MethodNotAllowed(t *testing.T) {
	f := newAPIFixture(t, &fakeArchive{})

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodPut, "/api/readings", http.StatusMethodNotAllowed},
		{http.MethodPost, "/api/analytics", http.StatusMethodNotAllowed},
		{http.MethodDelete, "/api/export", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/validate", http.StatusMethodNotAllowed},
		{http.MethodPost, "/api/archive/latest", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/nothing-here", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			if resp := f.do(t, tt.method, tt.path, nil); resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestAPI_ArchiveRoutes(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		f := newAPIFixture(t, nil)
		if resp := f.do(t, http.MethodGet, "/api/archive/stats", nil); resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})

	t.Run("readings", func(t *testing.T) {
		archive := &fakeArchive{readings: []*models.Reading{{SensorID: "SIM_001", Temperature: 20, Pressure: 101325}}}
		f := newAPIFixture(t, archive)

		q := url.Values{}
		q.Set("sensor_id", "SIM_001")
		q.Set("before", "2024-01-02T00:00:00Z")
		resp := f.do(t, http.MethodGet, "/api/archive/readings?"+q.Encode(), nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}

		var got []models.Reading
		decodeBody(t, resp, &got)
		if len(got) != 1 {
			t.Errorf("len = %d, want 1", len(got))
		}
		if archive.lastQuery.Limit != 100 || archive.lastQuery.SensorID != "SIM_001" {
			t.Errorf("query = %+v, want default limit 100 for SIM_001", archive.lastQuery)
		}
		if !archive.lastQuery.Before.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)) {
			t.Errorf("Before = %v", archive.lastQuery.Before)
		}
	})

	t.Run("latest", func(t *testing.T) {
		archive := &fakeArchive{readings: []*models.Reading{{SensorID: "SIM_001", Temperature: 21.5, Pressure: 101325}}}
		f := newAPIFixture(t, archive)

		var one models.Reading
		decodeBody(t, f.do(t, http.MethodGet, "/api/archive/latest?sensor_id=SIM_001", nil), &one)
		if one.SensorID != "SIM_001" || one.Temperature != 21.5 {
			t.Errorf("latest = %+v", one)
		}

		var all map[string]models.Reading
		decodeBody(t, f.do(t, http.MethodGet, "/api/archive/latest", nil), &all)
		if len(all) != 1 || all["SIM_001"].Temperature != 21.5 {
			t.Errorf("latest by sensor = %+v", all)
		}

		if resp := f.do(t, http.MethodGet, "/api/archive/latest?sensor_id=SIM_404", nil); resp.StatusCode != http.StatusNotFound {
			t.Errorf("unknown sensor status = %d, want 404", resp.StatusCode)
		}
	})

	t.Run("daily and stats", func(t *testing.T) {
		archive := &fakeArchive{daily: []storage.DailyStat{{Date: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), SensorID: "SIM_001", ReadingCount: 10}}}
		f := newAPIFixture(t, archive)

		var daily []storage.DailyStat
		decodeBody(t, f.do(t, http.MethodGet, "/api/archive/daily", nil), &daily)
		if len(daily) != 1 || daily[0].ReadingCount != 10 {
			t.Errorf("daily = %+v", daily)
		}

		if resp := f.do(t, http.MethodGet, "/api/archive/stats", nil); resp.StatusCode != http.StatusOK {
			t.Errorf("stats status = %d, want 200", resp.StatusCode)
		}
	})

	t.Run("archive failure", func(t *testing.T) {
		f := newAPIFixture(t, &fakeArchive{err: errors.New("disk I/O error")})
		for _, path := range []string{"/api/archive/stats", "/api/archive/readings", "/api/archive/latest", "/api/archive/daily"} {
			if resp := f.do(t, http.MethodGet, path, nil); resp.StatusCode != http.StatusInternalServerError {
				t.Errorf("%s: status = %d, want 500", path, resp.StatusCode)
			}
		}
	})
}
