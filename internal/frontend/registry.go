package frontend

import (
	"github.com/born-ml/vpuc/internal/model"
	"github.com/born-ml/vpuc/internal/source"
)

// registry binds source tensors to the buffers that hold them.
//
// A tensor normally has one buffer. The exception is a network input or constant that
// is also a network output: it holds that buffer plus one Output buffer, and the
// Output buffer is what later consumers resolve. Buffers remember the tensor they were
// bound to even after the tensor is rebound to a converted copy.
type registry struct {
	bindings map[*source.Tensor][]*model.Data
	origins  map[*model.Data]*source.Tensor
}

func newRegistry() *registry {
	r := &registry{}
	r.reset()
	return r
}

func (r *registry) reset() {
	r.bindings = make(map[*source.Tensor][]*model.Data)
	r.origins = make(map[*model.Data]*source.Tensor)
}

// resolve returns the buffer consumers of t read.
func (r *registry) resolve(t *source.Tensor) (*model.Data, bool) {
	bound := r.bindings[t]
	if len(bound) == 0 {
		return nil, false
	}
	for _, d := range bound {
		if d.Usage() == model.Output {
			return d, true
		}
	}
	return bound[0], true
}

// bind associates d with t. Binding the same pair twice is a no-op.
func (r *registry) bind(d *model.Data, t *source.Tensor) error {
	if prev, ok := r.origins[d]; ok {
		if prev == t {
			return nil
		}
		return configErrorf("buffer %s is already bound to tensor %s, cannot bind it to %s", d.Name(), prev.Name, t.Name)
	}

	switch bound := r.bindings[t]; {
	case len(bound) == 0:
	case len(bound) == 1 && ioPair(bound[0], d):
	default:
		return configErrorf("tensor %s is already bound to buffer %s, cannot bind it to %s", t.Name, bound[0].Name(), d.Name())
	}

	r.bindings[t] = append(r.bindings[t], d)
	r.origins[d] = t
	return nil
}

// rebind makes d the only buffer t resolves to. Previously bound buffers keep t as
// their origin.
func (r *registry) rebind(d *model.Data, t *source.Tensor) {
	r.bindings[t] = []*model.Data{d}
	r.origins[d] = t
}

// boundTo returns every buffer bound to t, in binding order.
func (r *registry) boundTo(t *source.Tensor) []*model.Data {
	return r.bindings[t]
}

func (r *registry) originOf(d *model.Data) (*source.Tensor, bool) {
	t, ok := r.origins[d]
	return t, ok
}

func ioPair(a, b *model.Data) bool {
	feeds := func(d *model.Data) bool { return d.Usage() == model.Input || d.Usage() == model.Const }
	return (feeds(a) && b.Usage() == model.Output) || (a.Usage() == model.Output && feeds(b))
}
