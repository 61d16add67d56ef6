// Package customlayer describes user-supplied kernels that override the built-in
// lowering of an operator when the operator's parameters satisfy declared predicates.
//
// Rules are usually loaded from a YAML file:
//
//	layers:
//	  - type: Sigmoid
//	    name: fast_sigmoid
//	    where:
//	      axis: ">=1"
//	    kernels:
//	      - entry: sigmoid_fp16
//	        binary: sigmoid.elf
//	        sizes:
//	          - {param: kernel, min: 1, max: 7, multiple: 1}
package customlayer

import (
	"os"
	"sort"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v3"

	"github.com/born-ml/vpuc/internal/source"
)

// ErrInvalidRule is wrapped by every error describing a malformed rule.
var ErrInvalidRule = errors.New("invalid custom layer rule")

// ErrAmbiguousMatch is returned when several rules fully match one node.
var ErrAmbiguousMatch = errors.New("ambiguous custom layer match")

// SizeRule bounds an integer (or integer list) parameter. Zero Multiple means no
// divisibility constraint.
type SizeRule struct {
	Param    string `yaml:"param"`
	Min      *int64 `yaml:"min,omitempty"`
	Max      *int64 `yaml:"max,omitempty"`
	Multiple int64  `yaml:"multiple,omitempty"`
}

// Kernel is one device program of a custom layer.
type Kernel struct {
	Entry  string     `yaml:"entry"`
	Binary string     `yaml:"binary"`
	Sizes  []SizeRule `yaml:"sizes,omitempty"`
}

// Rule overrides the lowering of operators of Type.
type Rule struct {
	Name    string            `yaml:"name"`
	Type    string            `yaml:"type"`
	Where   map[string]string `yaml:"where,omitempty"`
	Kernels []Kernel          `yaml:"kernels"`
}

type file struct {
	Layers []*Rule `yaml:"layers"`
}

// Load reads rules from a YAML file.
func Load(path string) ([]*Rule, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read custom layers %s", path)
	}
	rules, err := Parse(buf)
	if err != nil {
		return nil, errors.WithMessagef(err, "custom layers %s", path)
	}
	return rules, nil
}

// Parse decodes rules from YAML and validates each one.
func Parse(buf []byte) ([]*Rule, error) {
	var f file
	if err := yaml.Unmarshal(buf, &f); err != nil {
		return nil, errors.Wrap(err, "decode custom layers")
	}
	for i, r := range f.Layers {
		if r == nil {
			return nil, errors.Wrapf(ErrInvalidRule, "layer %d is empty", i)
		}
		if err := r.Validate(); err != nil {
			return nil, errors.WithMessagef(err, "layer %d", i)
		}
	}
	return f.Layers, nil
}

// Validate checks that r is complete and that its predicates parse.
func (r *Rule) Validate() error {
	if r.Type == "" {
		return errors.Wrap(ErrInvalidRule, "missing type")
	}
	if len(r.Kernels) == 0 {
		return errors.Wrapf(ErrInvalidRule, "%s: no kernels", r.label())
	}
	for _, key := range sortedKeys(r.Where) {
		if _, err := parsePredicate(r.Where[key]); err != nil {
			return errors.Wrapf(ErrInvalidRule, "%s: where %s: %v", r.label(), key, err)
		}
	}
	for i, k := range r.Kernels {
		if k.Entry == "" {
			return errors.Wrapf(ErrInvalidRule, "%s: kernel %d has no entry", r.label(), i)
		}
		for _, s := range k.Sizes {
			if s.Param == "" {
				return errors.Wrapf(ErrInvalidRule, "%s: kernel %d has a size rule without param", r.label(), i)
			}
			if s.Multiple < 0 || (s.Min != nil && s.Max != nil && *s.Min > *s.Max) {
				return errors.Wrapf(ErrInvalidRule, "%s: kernel %d: empty range for %s", r.label(), i, s.Param)
			}
		}
	}
	return nil
}

// Matches reports whether every where predicate and every kernel size rule accepts
// the parameters of node.
func (r *Rule) Matches(node *source.Node) (bool, error) {
	values := node.Params.Strings()
	for _, key := range sortedKeys(r.Where) {
		pred, err := parsePredicate(r.Where[key])
		if err != nil {
			return false, errors.Wrapf(ErrInvalidRule, "%s: where %s: %v", r.label(), key, err)
		}
		actual, ok := values[key]
		if !ok || !pred.eval(actual) {
			return false, nil
		}
	}
	for _, k := range r.Kernels {
		for _, s := range k.Sizes {
			if !s.accepts(node.Params) {
				return false, nil
			}
		}
	}
	return true, nil
}

func (r *Rule) label() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Type
}

func (s SizeRule) accepts(p source.Params) bool {
	values, err := p.Ints(s.Param)
	if err != nil || len(values) == 0 {
		return false
	}
	for _, v := range values {
		if s.Min != nil && v < *s.Min {
			return false
		}
		if s.Max != nil && v > *s.Max {
			return false
		}
		if s.Multiple > 0 && v%s.Multiple != 0 {
			return false
		}
	}
	return true
}

// Set indexes rules by operator type for one compilation.
type Set struct {
	byType map[string][]*Rule
	count  int
}

// NewSet validates rules and indexes them, keeping declaration order per type.
func NewSet(rules []*Rule) (*Set, error) {
	s := &Set{byType: make(map[string][]*Rule)}
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		s.byType[r.Type] = append(s.byType[r.Type], r)
		s.count++
	}
	return s, nil
}

// Len returns the number of rules in the set.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return s.count
}

// Match returns the rule that fully matches node, or nil when none does. Several
// full matches are a configuration error.
func (s *Set) Match(node *source.Node) (*Rule, error) {
	if s == nil {
		return nil, nil
	}
	var found *Rule
	for _, r := range s.byType[node.Type] {
		ok, err := r.Matches(node)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if found != nil {
			return nil, errors.Wrapf(ErrAmbiguousMatch, "node %s matches %s and %s", node.Name, found.label(), r.label())
		}
		found = r
	}
	return found, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
