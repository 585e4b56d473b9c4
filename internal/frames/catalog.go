package frames

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// catalogFile is the on-disk YAML layout.
type catalogFile struct {
	Version int          `yaml:"version"`
	Frames  []Descriptor `yaml:"frames"`
}

// Catalog is the immutable set of frames available to a booth.
// It is safe for concurrent use because nothing mutates it after construction.
type Catalog struct {
	byID      map[string]Descriptor
	order     []string
	defaultID string
}

// NewCatalog validates the descriptors and builds a catalog. Catalog order
// follows the input order. When no descriptor is flagged as default, the
// first one is used; flagging more than one is an error.
func NewCatalog(descs []Descriptor) (*Catalog, error) {
	if len(descs) == 0 {
		return nil, fmt.Errorf("%w: catalog is empty", ErrInvalidFrame)
	}

	c := &Catalog{byID: make(map[string]Descriptor, len(descs))}
	for _, d := range descs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.byID[d.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate frame id %q", ErrInvalidFrame, d.ID)
		}
		if d.Default {
			if c.defaultID != "" {
				return nil, fmt.Errorf("%w: both %q and %q are flagged default", ErrInvalidFrame, c.defaultID, d.ID)
			}
			c.defaultID = d.ID
		}
		d.Slots = append([]Slot(nil), d.Slots...)
		c.byID[d.ID] = d
		c.order = append(c.order, d.ID)
	}
	if c.defaultID == "" {
		c.defaultID = c.order[0]
	}
	return c, nil
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() (*Catalog, error) {
	return parseCatalog(defaultCatalogYAML, "built-in catalog")
}

// LoadCatalog reads a YAML catalog from path.
func LoadCatalog(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read frame catalog: %w", err)
	}
	return parseCatalog(b, path)
}

func parseCatalog(b []byte, source string) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse frame catalog %s: %w", source, err)
	}
	if f.Version != 1 {
		return nil, fmt.Errorf("unsupported frame catalog version %d in %s", f.Version, source)
	}
	c, err := NewCatalog(f.Frames)
	if err != nil {
		return nil, fmt.Errorf("frame catalog %s: %w", source, err)
	}
	log.Debug().
		Str("source", source).
		Int("frames", len(c.order)).
		Str("default", c.defaultID).
		Msg("Frame catalog loaded")
	return c, nil
}

// Lookup returns the descriptor for id. The second result is false for an
// unknown id.
func (c *Catalog) Lookup(id string) (Descriptor, bool) {
	d, ok := c.byID[id]
	return d, ok
}

// Default returns the default frame.
func (c *Catalog) Default() Descriptor {
	return c.byID[c.defaultID]
}

// All returns every frame in catalog order.
func (c *Catalog) All() []Descriptor {
	out := make([]Descriptor, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// ByOrientation returns the frames with the given orientation, in catalog order.
func (c *Catalog) ByOrientation(o Orientation) []Descriptor {
	var out []Descriptor
	for _, id := range c.order {
		if d := c.byID[id]; d.Orientation == o {
			out = append(out, d)
		}
	}
	return out
}

// Len returns the number of frames.
func (c *Catalog) Len() int {
	return len(c.order)
}

// MarshalYAML renders descriptors in the catalog file layout, used by the
// frames CLI to print measured or generated entries.
func MarshalYAML(descs ...Descriptor) ([]byte, error) {
	return yaml.Marshal(catalogFile{Version: 1, Frames: descs})
}
