package httpapi

import (
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type apiDocument struct {
	Servers []struct {
		URL string `yaml:"url"`
	} `yaml:"servers"`
	Paths map[string]map[string]yaml.Node `yaml:"paths"`
}

type apiOperation struct {
	Summary   string               `yaml:"summary"`
	Responses map[string]yaml.Node `yaml:"responses"`
}

var documentedMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true, http.MethodPatch: true, http.MethodDelete: true,
}

func loadAPIDocument(t *testing.T) apiDocument {
	t.Helper()
	_, here, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	path := filepath.Join(filepath.Dir(here), "..", "..", "api", "openapi.yaml")
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	var doc apiDocument
	if err := yaml.Unmarshal(b, &doc); err != nil {
		t.Fatalf("parse %s: %v", path, err)
	}
	if len(doc.Servers) != 1 {
		t.Fatalf("expected exactly one server entry, got %d", len(doc.Servers))
	}
	return doc
}

// documentedRoutes maps "METHOD /api/v1/..." to its operation, with the server prefix applied.
func documentedRoutes(t *testing.T, doc apiDocument) map[string]apiOperation {
	t.Helper()
	prefix := strings.TrimSuffix(doc.Servers[0].URL, "/")
	out := map[string]apiOperation{}
	for path, entries := range doc.Paths {
		for key, node := range entries {
			method := strings.ToUpper(key)
			if !documentedMethods[method] {
				continue
			}
			var op apiOperation
			if err := node.Decode(&op); err != nil {
				t.Fatalf("%s %s: %v", method, path, err)
			}
			out[method+" "+prefix+path] = op
		}
	}
	return out
}

func routedRoutes(t *testing.T) map[string]bool {
	t.Helper()
	mux, ok := NewHandler(zerolog.Nop(), nil, nil, nil).Router().(*chi.Mux)
	if !ok {
		t.Fatal("expected the router to be a *chi.Mux")
	}
	out := map[string]bool{}
	walk := func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		if documentedMethods[method] && strings.HasPrefix(route, "/api/") {
			out[method+" "+strings.TrimSuffix(route, "/")] = true
		}
		return nil
	}
	if err := chi.Walk(mux, walk); err != nil {
		t.Fatalf("walk router: %v", err)
	}
	return out
}

func TestOpenAPIMatchesRouter(t *testing.T) {
	documented := documentedRoutes(t, loadAPIDocument(t))
	routed := routedRoutes(t)

	var undocumented, unrouted []string
	for r := range routed {
		if _, ok := documented[r]; !ok {
			undocumented = append(undocumented, r)
		}
	}
	for r := range documented {
		if !routed[r] {
			unrouted = append(unrouted, r)
		}
	}
	sort.Strings(undocumented)
	sort.Strings(unrouted)

	for _, r := range undocumented {
		t.Errorf("route %s is served but missing from api/openapi.yaml", r)
	}
	for _, r := range unrouted {
		t.Errorf("route %s is documented but not served", r)
	}
}

func TestOpenAPIOperationsAreDescribed(t *testing.T) {
	for route, op := range documentedRoutes(t, loadAPIDocument(t)) {
		if strings.TrimSpace(op.Summary) == "" {
			t.Errorf("%s has no summary", route)
		}
		if len(op.Responses) == 0 {
			t.Errorf("%s documents no responses", route)
		}
	}
}
