// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package config

import (
	"errors"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"

	hderr "github.com/halodesk/halodesk/pkg/errors"
)

// ToolSpec declares one backend tool the model may call. Execution is
// delegated to the business backend at Endpoint; SideEffect marks tools
// whose results must be memoized against webhook redelivery.
type ToolSpec struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Endpoint    string         `yaml:"endpoint"`
	SideEffect  bool           `yaml:"side_effect"`
	Schema      map[string]any `yaml:"schema"`
}

// FlowSpec declares one conversation flow and which tools it exposes.
type FlowSpec struct {
	Name               string   `yaml:"name"`
	Description        string   `yaml:"description"`
	Tools              []string `yaml:"tools"`
	VerificationExempt bool     `yaml:"verification_exempt"`
}

type flowsFile struct {
	Tools           []ToolSpec `yaml:"tools"`
	Flows           []FlowSpec `yaml:"flows"`
	DisputeKeywords []string   `yaml:"dispute_keywords"`
	Restricted      struct {
		Hints []string `yaml:"hints"`
	} `yaml:"restricted"`
}

// FlowSet is a validated flow/tool definition file. It answers tool
// gating queries for the turn orchestrator.
type FlowSet struct {
	tools           []ToolSpec
	flows           map[string]FlowSpec
	order           []string
	disputeKeywords []string
	restrictedHints []string
}

// LoadFlows reads and parses a flow definition file.
func LoadFlows(path string) (*FlowSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, hderr.Errorf(hderr.CodeConfigLoadReadFailure, "reading flows %s: %w", path, err)
	}
	return ParseFlows(data)
}

// ParseFlows parses and validates flow definitions from YAML.
func ParseFlows(data []byte) (*FlowSet, error) {
	var file flowsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, hderr.Errorf(hderr.CodeConfigParseInvalidFormat, "parsing flows: %w", err)
	}

	set := &FlowSet{
		tools:           file.Tools,
		flows:           make(map[string]FlowSpec, len(file.Flows)),
		disputeKeywords: file.DisputeKeywords,
		restrictedHints: file.Restricted.Hints,
	}

	var errs []error
	toolNames := make(map[string]bool, len(file.Tools))
	for i, tool := range file.Tools {
		if tool.Name == "" {
			errs = append(errs, hderr.Errorf(hderr.CodeConfigValidateInvalidValue,
				"flows: tools[%d].name must not be empty", i))
			continue
		}
		if toolNames[tool.Name] {
			errs = append(errs, hderr.Errorf(hderr.CodeConfigValidateInvalidValue,
				"flows: duplicate tool %q", tool.Name))
		}
		toolNames[tool.Name] = true
		if tool.Endpoint == "" {
			errs = append(errs, hderr.Errorf(hderr.CodeConfigValidateInvalidValue,
				"flows: tool %q has no endpoint", tool.Name))
		} else if _, err := url.ParseRequestURI(tool.Endpoint); err != nil {
			errs = append(errs, hderr.Errorf(hderr.CodeConfigValidateInvalidValue,
				"flows: tool %q endpoint is not a valid URL: %w", tool.Name, err))
		}
	}

	for i, flow := range file.Flows {
		if flow.Name == "" {
			errs = append(errs, hderr.Errorf(hderr.CodeConfigValidateInvalidValue,
				"flows: flows[%d].name must not be empty", i))
			continue
		}
		if _, dup := set.flows[flow.Name]; dup {
			errs = append(errs, hderr.Errorf(hderr.CodeConfigValidateInvalidValue,
				"flows: duplicate flow %q", flow.Name))
			continue
		}
		for _, tool := range flow.Tools {
			if !toolNames[tool] {
				errs = append(errs, hderr.Errorf(hderr.CodeConfigValidateInvalidValue,
					"flows: flow %q references undefined tool %q", flow.Name, tool))
			}
		}
		set.flows[flow.Name] = flow
		set.order = append(set.order, flow.Name)
	}

	if len(errs) > 0 {
		return nil, hderr.Errorf(hderr.CodeConfigValidateInvalidValue, "validating flows: %w", errors.Join(errs...))
	}
	return set, nil
}

// Tools returns the declared tool specs in file order.
func (s *FlowSet) Tools() []ToolSpec { return s.tools }

// Flows returns the declared flow names in file order.
func (s *FlowSet) Flows() []string { return append([]string(nil), s.order...) }

// ToolsForFlow returns the tool names a flow exposes; nil for flows that
// run without tools or are unknown.
func (s *FlowSet) ToolsForFlow(flow string) []string {
	spec, ok := s.flows[flow]
	if !ok {
		return nil
	}
	return spec.Tools
}

// ExemptFlows lists flows that never require identity verification.
func (s *FlowSet) ExemptFlows() []string {
	var out []string
	for _, name := range s.order {
		if s.flows[name].VerificationExempt {
			out = append(out, name)
		}
	}
	return out
}

// DisputeKeywords lists phrases that route into the dispute flow.
func (s *FlowSet) DisputeKeywords() []string { return s.disputeKeywords }

// RestrictedHints lists topic hints for restricted-mode sessions.
func (s *FlowSet) RestrictedHints() []string { return s.restrictedHints }
