//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/cucumber/godog"
)

// apiContext holds the state of one scenario against a running service.
// BASE_URL selects the service; it should use a remote source it can reach.
type apiContext struct {
	baseURL string
	client  *http.Client
	status  int
	body    []byte
}

func newAPIContext() *apiContext {
	baseURL := os.Getenv("BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	return &apiContext{baseURL: baseURL, client: &http.Client{Timeout: 10 * time.Second}}
}

func (a *apiContext) reset() {
	a.status = 0
	a.body = nil
}

// InitializeScenario registers the step definitions.
func InitializeScenario(sc *godog.ScenarioContext) {
	a := newAPIContext()

	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		a.reset()
		return ctx, nil
	})

	sc.Step(`^the service is running$`, a.theServiceIsRunning)
	sc.Step(`^I request (GET|POST|PUT) "([^"]*)"$`, a.iRequest)
	sc.Step(`^I request (POST|PUT) "([^"]*)" with JSON:$`, a.iRequestWithJSON)
	sc.Step(`^the response status should be (\d+)$`, a.theResponseStatusShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, a.theResponseShouldContain)
	sc.Step(`^the JSON field "([^"]*)" should be "([^"]*)"$`, a.theJSONFieldShouldBe)
}

func (a *apiContext) theServiceIsRunning(ctx context.Context) error {
	if err := a.do(ctx, http.MethodGet, "/-/live", nil); err != nil {
		return fmt.Errorf("service is not running at %s: %w", a.baseURL, err)
	}

	if a.status != http.StatusOK {
		return fmt.Errorf("liveness probe returned %d", a.status)
	}

	return nil
}

func (a *apiContext) iRequest(ctx context.Context, method, path string) error {
	return a.do(ctx, method, path, nil)
}

func (a *apiContext) iRequestWithJSON(ctx context.Context, method, path string, doc *godog.DocString) error {
	return a.do(ctx, method, path, strings.NewReader(doc.Content))
}

func (a *apiContext) do(ctx context.Context, method, path string, body io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	a.status = resp.StatusCode
	a.body, err = io.ReadAll(resp.Body)

	return err
}

func (a *apiContext) theResponseStatusShouldBe(want int) error {
	if a.status != want {
		return fmt.Errorf("expected status %d, got %d. Body: %s", want, a.status, a.body)
	}

	return nil
}

func (a *apiContext) theResponseShouldContain(text string) error {
	if !strings.Contains(string(a.body), text) {
		return fmt.Errorf("response body does not contain %q.\nBody: %s", text, a.body)
	}

	return nil
}

// theJSONFieldShouldBe compares a top-level field of an object response.
func (a *apiContext) theJSONFieldShouldBe(field, want string) error {
	var obj map[string]any
	if err := json.Unmarshal(a.body, &obj); err != nil {
		return fmt.Errorf("response is not a JSON object: %w", err)
	}

	got, ok := obj[field]
	if !ok {
		return fmt.Errorf("field %q missing in %s", field, a.body)
	}

	if fmt.Sprint(got) != want {
		return fmt.Errorf("field %q is %v, want %s", field, got, want)
	}

	return nil
}

// TestFeatures runs the feature files against BASE_URL.
func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"../features"},
			TestingT: t,
			Tags:     os.Getenv("GODOG_TAGS"),
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
