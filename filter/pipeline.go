package filter

import (
	"fmt"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/sumi-social/sumid/core"
)

// Pipeline chains loaded filters over timeline items.
type Pipeline struct {
	descriptors []Descriptor
	engine      core.ScriptEngine
	logger      core.Logger
}

func NewPipeline(descriptors []Descriptor, engine core.ScriptEngine, logger core.Logger) (*Pipeline, error) {
	if engine == nil {
		return nil, fmt.Errorf("filter: pipeline requires a script engine")
	}
	return &Pipeline{
		descriptors: append([]Descriptor(nil), descriptors...),
		engine:      engine,
		logger:      glog.Ensure(logger),
	}, nil
}

// Names lists the loaded filters in execution order.
func (p *Pipeline) Names() []string {
	if p == nil {
		return nil
	}
	names := make([]string, 0, len(p.descriptors))
	for _, descriptor := range p.descriptors {
		names = append(names, descriptor.Manifest.Name)
	}
	return names
}

// Apply runs every item through the filter chain in order. A nil verdict
// drops the item and skips the rest of its chain; surviving items keep
// their relative order and carry any rewrites. A script error aborts the
// whole pass.
func (p *Pipeline) Apply(items []map[string]any) ([]map[string]any, error) {
	if p == nil {
		return nil, fmt.Errorf("filter: pipeline is nil")
	}
	kept := make([]map[string]any, 0, len(items))
	for _, item := range items {
		current := item
		rejected := false
		for _, descriptor := range p.descriptors {
			verdict, err := p.engine.Run(descriptor.Source, current)
			if err != nil {
				return nil, core.WrapError(err,
					fmt.Sprintf("filter: %q failed", descriptor.Manifest.Name),
					goerrors.CategoryOperation, core.ErrorScript)
			}
			if verdict == nil {
				p.logger.Info("item rejected", "filter", descriptor.Manifest.Name)
				rejected = true
				break
			}
			current = verdict
		}
		if !rejected {
			kept = append(kept, current)
		}
	}
	return kept, nil
}
