package model

// Attributes is the typed-by-convention property bag carried by models, stages and
// data. Rules and passes agree on key names and value types.
type Attributes map[string]any

// Set stores v under key.
func (a Attributes) Set(key string, v any) {
	a[key] = v
}

// Has reports whether key is set.
func (a Attributes) Has(key string) bool {
	_, ok := a[key]
	return ok
}

// Get returns the value under key if it is present and of type T.
func Get[T any](a Attributes, key string) (T, bool) {
	v, ok := a[key].(T)
	return v, ok
}

// GetOr returns the value under key, or def when absent or of another type.
func GetOr[T any](a Attributes, key string, def T) T {
	if v, ok := a[key].(T); ok {
		return v
	}
	return def
}
