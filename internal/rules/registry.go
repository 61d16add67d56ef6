// Package rules maps operator type tags to the functions that lower a source node
// into stages of the target model.
//
// The table is fixed when NewTable returns. The custom layer overlay is the only way
// to change how a node is lowered: a matching custom rule turns the effective tag
// into TagCustom.
package rules

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/born-ml/vpuc/internal/customlayer"
	"github.com/born-ml/vpuc/internal/model"
	"github.com/born-ml/vpuc/internal/source"
	"github.com/born-ml/vpuc/internal/stages"
)

// TagCustom is the effective tag of nodes matched by a custom layer rule.
const TagCustom = "Custom"

// Rule lowers node into ctx.Model. inputs and outputs are already resolved, in the
// order of the node's input and output tensors. Unused leaf outputs are Fake buffers.
type Rule func(ctx *Context, node *source.Node, inputs, outputs []*model.Data) error

// Context is what a rule may touch while lowering one node.
type Context struct {
	Model  *model.Model
	Stages *stages.Builder
	Log    *logrus.Entry

	// Custom is the matched custom layer rule when dispatching TagCustom.
	Custom *customlayer.Rule
}

// Entry pairs a tag with its rule.
type Entry struct {
	Tag  string
	Rule Rule
}

// Table maps operator type tags to rules.
type Table struct {
	rules map[string]Rule
}

// NewTable builds the table of built-in rules plus extra entries. A tag registered
// twice is a programming error and panics.
func NewTable(extra ...Entry) *Table {
	t := &Table{rules: make(map[string]Rule)}

	t.registerActivations()
	t.registerLayers()
	t.registerShapeOps()
	t.registerEltwise()
	t.register(TagCustom, lowerCustom)

	for _, e := range extra {
		t.register(e.Tag, e.Rule)
	}
	return t
}

func (t *Table) register(tag string, rule Rule) {
	if _, exists := t.rules[tag]; exists {
		panic(fmt.Sprintf("rules: duplicate registration of %q", tag))
	}
	t.rules[tag] = rule
}

// Get returns the rule for tag.
func (t *Table) Get(tag string) (Rule, bool) {
	r, ok := t.rules[tag]
	return r, ok
}

// Tags returns every registered tag in sorted order.
func (t *Table) Tags() []string {
	tags := make([]string, 0, len(t.rules))
	for tag := range t.rules {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
