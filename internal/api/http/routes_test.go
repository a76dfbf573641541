package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-inference/internal/forecast"
	"github.com/i474232898/weather-inference/internal/forecast/operators"
	"github.com/i474232898/weather-inference/internal/gridio"
	"github.com/i474232898/weather-inference/internal/store"
)

// zeroSource returns an all-zero analysis for any requested time.
type zeroSource struct{}

func (zeroSource) Load(_ context.Context, c *forecast.Codec, valid time.Time) (*forecast.AtmosphericState, error) {
	fields := map[forecast.Field][]float32{}
	for _, f := range c.Layout().Surface {
		fields[f] = make([]float32, c.Grid().SurfaceShape().Size())
	}
	for _, f := range c.Layout().Upper {
		fields[f] = make([]float32, c.Grid().UpperShape().Size())
	}
	return c.Pack(fields, valid)
}

// gate holds every operator invocation until the channel is closed.
type gate struct {
	started chan struct{}
	release chan struct{}
}

func (g gate) Apply(ctx context.Context, in forecast.Tensors) (forecast.Tensors, error) {
	g.started <- struct{}{}
	<-g.release
	return operators.Persistence{}.Apply(ctx, in)
}

type testEnv struct {
	app        *fiber.App
	service    *forecast.Service
	dispatcher *forecast.Dispatcher
}

func newTestEnv(t *testing.T, op forecast.StepOperator) testEnv {
	t.Helper()
	grid, err := forecast.NewGrid(30)
	if err != nil {
		t.Fatalf("grid: %v", err)
	}
	codec := forecast.NewCodec(grid, forecast.DefaultLayout())

	var reg *forecast.Registry
	if op == nil {
		reg, err = operators.NewRegistry(operators.Options{
			Backend: operators.BackendPersistence,
			Steps:   []time.Duration{time.Hour, 3 * time.Hour},
		}, codec)
		if err != nil {
			t.Fatalf("registry: %v", err)
		}
	} else {
		reg = forecast.NewRegistry()
		if err := reg.Register(forecast.Descriptor{Name: "gated", Step: time.Hour, Operator: op}, codec); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	svc := forecast.NewService(forecast.ServiceConfig{
		Codec:    codec,
		Registry: reg,
		Source:   zeroSource{},
		Archive:  gridio.NewArchive(t.TempDir()),
		Store:    store.NewMemoryStore(10),
	})
	d := forecast.NewDispatcher(context.Background(), svc, 1, nil)
	t.Cleanup(d.Wait)

	app := NewApp("test")
	RegisterRoutes(app, svc, d)
	return testEnv{app: app, service: svc, dispatcher: d}
}

func doJSON(t *testing.T, app *fiber.App, method, target, body string, out any) int {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, target, err)
		}
	}
	return resp.StatusCode
}

func TestHealthAndOperators(t *testing.T) {
	env := newTestEnv(t, nil)

	var health map[string]any
	if code := doJSON(t, env.app, http.MethodGet, "/health", "", &health); code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, code)
	}
	if health["status"] != "ok" || health["activeRuns"] != float64(0) {
		t.Fatalf("unexpected health %v", health)
	}

	var ops struct {
		Operators []operatorView `json:"operators"`
	}
	if code := doJSON(t, env.app, http.MethodGet, "/api/v1/operators", "", &ops); code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, code)
	}
	if len(ops.Operators) != 2 || ops.Operators[0].StepSeconds != 10800 || ops.Operators[0].Name != "persistence_3h0m0s" {
		t.Fatalf("unexpected operators %+v", ops.Operators)
	}
}

// TestPlanValidation verifies that planning errors map to 400 and a valid
// range returns the minimal plan.
func TestPlanValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	bad := []string{
		"/api/v1/plan?start=1997-08-16T02:00:00Z",
		"/api/v1/plan?start=yesterday&end=1997-08-16T05:00:00Z",
		"/api/v1/plan?start=1997-08-16T05:00:00Z&end=1997-08-16T02:00:00Z",
		"/api/v1/plan?start=1997-08-16T02:00:00Z&end=1997-08-16T02:30:00Z",
		"/api/v1/plan?start=1997-08-16T02:00:00Z&end=1997-08-16T05:00:00Z&policy=greedy",
	}
	for _, target := range bad {
		var body map[string]any
		if code := doJSON(t, env.app, http.MethodGet, target, "", &body); code != http.StatusBadRequest {
			t.Fatalf("%s: expected status %d, got %d", target, http.StatusBadRequest, code)
		}
		if body["error"] != true {
			t.Fatalf("%s: missing error envelope: %v", target, body)
		}
	}

	var plan planView
	code := doJSON(t, env.app, http.MethodGet, "/api/v1/plan?start=1997-08-16-02-00&end=1997-08-16-06-00", "", &plan)
	if code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, code)
	}
	if len(plan.Steps) != 2 || plan.Steps[0].Increment != "3h0m0s" || plan.Steps[1].ValidTime.Hour() != 6 {
		t.Fatalf("unexpected plan %+v", plan)
	}
}

func TestSubmitAndFetchForecast(t *testing.T) {
	env := newTestEnv(t, nil)

	var created struct {
		ID     string   `json:"id"`
		Status string   `json:"status"`
		Plan   planView `json:"plan"`
	}
	body := `{"start":"2018-07-18T21:00:00Z","end":"2018-07-19T01:00:00Z"}`
	if code := doJSON(t, env.app, http.MethodPost, "/api/v1/forecasts", body, &created); code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d", http.StatusAccepted, code)
	}
	if created.ID == "" || created.Status != string(forecast.RunPending) || len(created.Plan.Steps) != 2 {
		t.Fatalf("unexpected response %+v", created)
	}
	env.dispatcher.Wait()

	var run forecast.Run
	if code := doJSON(t, env.app, http.MethodGet, "/api/v1/forecasts/"+created.ID, "", &run); code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, code)
	}
	if run.Status != forecast.RunSucceeded || len(run.Steps) != 2 || run.SeriesPath == "" {
		t.Fatalf("unexpected run %+v", run)
	}

	var list struct {
		Runs []forecast.Run `json:"runs"`
	}
	if code := doJSON(t, env.app, http.MethodGet, "/api/v1/forecasts?limit=5", "", &list); code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, code)
	}
	if len(list.Runs) != 1 || list.Runs[0].ID != created.ID {
		t.Fatalf("unexpected list %+v", list.Runs)
	}
	if code := doJSON(t, env.app, http.MethodGet, "/api/v1/forecasts?limit=0", "", nil); code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, code)
	}
}

func TestSubmitRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t, nil)

	cases := map[string]string{
		"malformed":   `{"start":`,
		"missing end": `{"start":"2018-07-18T21:00:00Z"}`,
		"reversed":    `{"start":"2018-07-19T21:00:00Z","end":"2018-07-18T21:00:00Z"}`,
		"bad policy":  `{"start":"2018-07-18T21:00:00Z","end":"2018-07-19T21:00:00Z","policy":"fastest"}`,
	}
	for name, body := range cases {
		if code := doJSON(t, env.app, http.MethodPost, "/api/v1/forecasts", body, nil); code != http.StatusBadRequest {
			t.Fatalf("%s: expected status %d, got %d", name, http.StatusBadRequest, code)
		}
	}
	if runs, _ := env.service.ListRuns(context.Background(), 10); len(runs) != 0 {
		t.Fatalf("rejected requests were recorded: %v", runs)
	}
}

func TestCancelForecast(t *testing.T) {
	g := gate{started: make(chan struct{}, 8), release: make(chan struct{})}
	env := newTestEnv(t, g)

	if code := doJSON(t, env.app, http.MethodDelete, "/api/v1/forecasts/unknown", "", nil); code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, code)
	}
	if code := doJSON(t, env.app, http.MethodGet, "/api/v1/forecasts/unknown", "", nil); code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, code)
	}

	var created struct {
		ID string `json:"id"`
	}
	body := `{"start":"2018-07-18T21:00:00Z","end":"2018-07-19T00:00:00Z","policy":"single"}`
	if code := doJSON(t, env.app, http.MethodPost, "/api/v1/forecasts", body, &created); code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d", http.StatusAccepted, code)
	}
	select {
	case <-g.started:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not start")
	}

	if code := doJSON(t, env.app, http.MethodDelete, "/api/v1/forecasts/"+created.ID, "", nil); code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d", http.StatusAccepted, code)
	}
	close(g.release)
	env.dispatcher.Wait()

	run, err := env.service.GetRun(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != forecast.RunCancelled || len(run.Steps) != 1 || run.Policy != forecast.PolicySingle {
		t.Fatalf("unexpected run %+v", run)
	}
	if code := doJSON(t, env.app, http.MethodDelete, "/api/v1/forecasts/"+created.ID, "", nil); code != http.StatusConflict {
		t.Fatalf("expected status %d, got %d", http.StatusConflict, code)
	}
}
