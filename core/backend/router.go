package backend

import (
	"context"
	"fmt"

	"github.com/siherrmann/citegraph/model"
)

// Request describes a generation request for routing.
type Request struct {
	Task      string
	PromptLen int
	JSON      bool
}

// Route sends requests matching Match to Backend.
type Route struct {
	Name    string
	Match   func(Request) bool
	Backend string
}

// RouteFromRule builds a route from a configured rule. Empty fields match anything.
func RouteFromRule(rule model.RouteRule) Route {
	return Route{
		Name: fmt.Sprintf("task=%q min_prompt_len=%d", rule.Task, rule.MinPromptLen),
		Match: func(req Request) bool {
			if rule.Task != "" && rule.Task != req.Task {
				return false
			}
			if req.PromptLen < rule.MinPromptLen {
				return false
			}
			return rule.JSON == nil || *rule.JSON == req.JSON
		},
		Backend: rule.Backend,
	}
}

// Router is an ordered rule table. The first matching route wins; without a
// match the fallback backend is used.
type Router struct {
	routes   []Route
	fallback string
}

// NewRouter creates a router from configured rules.
func NewRouter(fallback string, rules ...model.RouteRule) *Router {
	r := &Router{fallback: fallback}
	for _, rule := range rules {
		r.Add(RouteFromRule(rule))
	}
	return r
}

// Add appends a route.
func (r *Router) Add(route Route) {
	r.routes = append(r.routes, route)
}

// Select returns the backend name for req.
func (r *Router) Select(req Request) string {
	for _, route := range r.routes {
		if route.Match(req) {
			return route.Backend
		}
	}
	return r.fallback
}

// Backends lists every backend name the router can select, fallback first.
func (r *Router) Backends() []string {
	seen := map[string]bool{r.fallback: true}
	names := []string{r.fallback}
	for _, route := range r.routes {
		if !seen[route.Backend] {
			seen[route.Backend] = true
			names = append(names, route.Backend)
		}
	}
	return names
}

// RoutedGenerator dispatches every request to the generator its route selects.
type RoutedGenerator struct {
	router     *Router
	generators map[string]Generator
}

// NewRoutedGenerator creates a generator over named backends.
func NewRoutedGenerator(router *Router, generators map[string]Generator) *RoutedGenerator {
	return &RoutedGenerator{router: router, generators: generators}
}

func (g *RoutedGenerator) Generate(ctx context.Context, prompt string, opts ...GenerateOption) (string, error) {
	options := ApplyOptions(GenerateOptions{}, opts...)
	name := g.router.Select(Request{Task: options.Task, PromptLen: len(prompt), JSON: options.Schema != nil})
	generator, ok := g.generators[name]
	if !ok {
		return "", fmt.Errorf("no generator registered for route backend %q", name)
	}
	return generator.Generate(ctx, prompt, opts...)
}
