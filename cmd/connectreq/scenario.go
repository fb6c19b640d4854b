package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/probablyarth/connectreq"
)

// Inputs are the string inputs a scenario feeds to its queries.
type Inputs map[string]string

// Merge returns a copy of in with every entry of next set on it.
func (in Inputs) Merge(next Inputs) Inputs {
	out := make(Inputs, len(in)+len(next))
	for k, v := range in {
		out[k] = v
	}
	for k, v := range next {
		out[k] = v
	}
	return out
}

// QuerySpec is a query template. URL, Body and Key are text/template
// strings rendered against the current inputs; missing inputs render empty.
type QuerySpec struct {
	URL     string            `yaml:"url"`
	Method  string            `yaml:"method,omitempty"`
	Body    string            `yaml:"body,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Key     string            `yaml:"key,omitempty"`
	// When names an input that must be non-empty for the query to exist.
	When string `yaml:"when,omitempty"`
}

// Step is one scenario action. Exactly one field is set.
type Step struct {
	Attach Inputs `yaml:"attach,omitempty"`
	Change Inputs `yaml:"change,omitempty"`
	Force  bool   `yaml:"force,omitempty"`
	Wait   string `yaml:"wait,omitempty"`
	Detach bool   `yaml:"detach,omitempty"`
}

// Kind names the action of s.
func (s Step) Kind() string {
	switch {
	case s.Attach != nil:
		return "attach"
	case s.Change != nil:
		return "change"
	case s.Force:
		return "force"
	case s.Wait != "":
		return "wait"
	case s.Detach:
		return "detach"
	}
	return ""
}

// Scenario is a set of query templates and the steps that drive them.
type Scenario struct {
	Queries map[string]QuerySpec `yaml:"queries"`
	Steps   []Step               `yaml:"steps"`

	templates map[string]*queryTemplate
}

type queryTemplate struct {
	spec QuerySpec
	url  *template.Template
	body *template.Template
	key  *template.Template
}

// LoadScenario reads and parses a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates a YAML scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := s.compile(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Scenario) compile() error {
	if len(s.Queries) == 0 {
		return errors.New("scenario has no queries")
	}
	if len(s.Steps) == 0 {
		return errors.New("scenario has no steps")
	}

	s.templates = make(map[string]*queryTemplate, len(s.Queries))
	for name, spec := range s.Queries {
		if spec.URL == "" {
			return fmt.Errorf("query %q: url is required", name)
		}
		qt := &queryTemplate{spec: spec}
		var err error
		if qt.url, err = parseTemplate(name+".url", spec.URL); err != nil {
			return err
		}
		if qt.body, err = parseTemplate(name+".body", spec.Body); err != nil {
			return err
		}
		if qt.key, err = parseTemplate(name+".key", spec.Key); err != nil {
			return err
		}
		s.templates[name] = qt
	}

	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	if s.Steps[0].Kind() != "attach" {
		return errors.New("first step must be attach")
	}
	return nil
}

func validateStep(step Step) error {
	set := 0
	if step.Attach != nil {
		set++
	}
	if step.Change != nil {
		set++
	}
	if step.Force {
		set++
	}
	if step.Wait != "" {
		set++
		if _, err := time.ParseDuration(step.Wait); err != nil {
			return fmt.Errorf("wait: %w", err)
		}
	}
	if step.Detach {
		set++
	}
	if set != 1 {
		return fmt.Errorf("exactly one action expected, got %d", set)
	}
	return nil
}

func parseTemplate(name, text string) (*template.Template, error) {
	if text == "" {
		return nil, nil
	}
	t, err := template.New(name).Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", name, err)
	}
	return t, nil
}

func render(t *template.Template, in Inputs) (string, error) {
	if t == nil {
		return "", nil
	}
	var buf strings.Builder
	if err := t.Execute(&buf, in); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}

// Deriver returns a deriver that renders every query template against the
// inputs. A query is absent when its When input is empty or its URL renders
// empty.
func (s *Scenario) Deriver() connectreq.Deriver[Inputs] {
	return func(in Inputs) (connectreq.Configs, error) {
		configs := make(connectreq.Configs, len(s.templates))
		for name, qt := range s.templates {
			if qt.spec.When != "" && in[qt.spec.When] == "" {
				continue
			}
			cfg, err := qt.config(in)
			if err != nil {
				return nil, fmt.Errorf("query %q: %w", name, err)
			}
			if cfg != nil {
				configs[name] = cfg
			}
		}
		return configs, nil
	}
}

func (qt *queryTemplate) config(in Inputs) (*connectreq.QueryConfig, error) {
	url, err := render(qt.url, in)
	if err != nil {
		return nil, err
	}
	if url == "" {
		return nil, nil
	}
	body, err := render(qt.body, in)
	if err != nil {
		return nil, err
	}
	key, err := render(qt.key, in)
	if err != nil {
		return nil, err
	}

	cfg := &connectreq.QueryConfig{URL: url, QueryKey: connectreq.QueryKey(key)}
	if body != "" {
		cfg.Body = []byte(body)
	}
	if qt.spec.Method != "" || len(qt.spec.Headers) > 0 {
		cfg.Options = map[string]any{}
		if qt.spec.Method != "" {
			cfg.Options["method"] = qt.spec.Method
		}
		if len(qt.spec.Headers) > 0 {
			cfg.Options["headers"] = qt.spec.Headers
		}
	}
	return cfg, nil
}
