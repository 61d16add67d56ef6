package serialization

// Format constants.
const (
	FormatName    = "vpuc-stages"
	FormatVersion = 1
)

// Document is the JSON form of a lowered model.
type Document struct {
	Format          string            `json:"format"`           // Always FormatName
	FormatVersion   int               `json:"format_version"`   // Version of the dump layout
	CompilerVersion string            `json:"compiler_version"` // Version of the compiler that wrote the dump
	Model           string            `json:"model"`            // Model name
	Index           int               `json:"index"`            // Compilation index
	Attrs           map[string]string `json:"attrs,omitempty"`  // Model attributes as text
	Datas           []DataMeta        `json:"datas"`            // Buffers in creation order
	Stages          []StageMeta       `json:"stages"`           // Stages in execution order
}

// DataMeta describes one buffer.
type DataMeta struct {
	ID       int               `json:"id"`
	Name     string            `json:"name"`
	Usage    string            `json:"usage"`
	DType    string            `json:"dtype"`
	Shape    []int             `json:"shape"`
	Size     int               `json:"content_size,omitempty"`   // Byte size of constant content
	Checksum string            `json:"content_sha256,omitempty"` // Hex SHA-256 of constant content
	Attrs    map[string]string `json:"attrs,omitempty"`
}

// StageMeta describes one stage. Inputs and Outputs hold DataMeta IDs.
type StageMeta struct {
	ID      int               `json:"id"`
	Name    string            `json:"name"`
	Type    string            `json:"type"`
	Origin  string            `json:"origin,omitempty"`
	Inputs  []int             `json:"inputs"`
	Outputs []int             `json:"outputs"`
	Attrs   map[string]string `json:"attrs,omitempty"`
}
