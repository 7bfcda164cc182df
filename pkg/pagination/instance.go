package pagination

import (
	"fmt"
	"math"

	"github.com/Sternrassler/pagestore/pkg/fingerprint"
	"github.com/Sternrassler/pagestore/pkg/registry"
)

// DefaultPageSize is used when an instance does not specify a page size.
const DefaultPageSize = 10

// InstanceID identifies one paginated view of a resource.
type InstanceID string

// Mode is the paging mode of an instance. It is fixed at creation.
type Mode int

const (
	// ModeSingle shows exactly one page.
	ModeSingle Mode = iota

	// ModeRange shows the inclusive page interval PageFrom..PageTo.
	ModeRange
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	if m == ModeRange {
		return "range"
	}
	return "single"
}

type argsUnavailable struct{}

// ArgsUnavailable marks an instance whose arguments cannot be computed yet.
// Loads for such an instance are skipped without fetching and its loading
// flag stays set until real arguments arrive.
var ArgsUnavailable any = argsUnavailable{}

// InstanceOptions are the initial paging parameters of an instance.
// Setting PageFrom or PageTo selects range mode; Page and the range fields
// are mutually exclusive. Zero values take defaults: PageSize 10, Page 1,
// PageFrom 1, PageTo PageFrom.
type InstanceOptions struct {
	Page     int `json:"page,omitempty"`
	PageSize int `json:"pageSize,omitempty"`
	PageFrom int `json:"pageFrom,omitempty"`
	PageTo   int `json:"pageTo,omitempty"`

	// Args is the argument value passed to the fetch function. nil binds the
	// instance to the default partition.
	Args any `json:"args,omitempty"`
}

// InstanceConfig is the tracked state of an instance.
type InstanceConfig struct {
	ID          InstanceID   `json:"id"`
	Mode        Mode         `json:"mode"`
	Page        int          `json:"page,omitempty"`
	PageFrom    int          `json:"pageFrom,omitempty"`
	PageTo      int          `json:"pageTo,omitempty"`
	PageSize    int          `json:"pageSize"`
	Args        any          `json:"args,omitempty"`
	Loading     bool         `json:"loading"`
	RegistryKey registry.Key `json:"registryKey"`
}

// pages returns the first and last page covered by the instance.
func (c InstanceConfig) pages() (first, last int) {
	if c.Mode == ModeRange {
		return c.PageFrom, c.PageTo
	}
	return c.Page, c.Page
}

// bounds returns the logical index range [start, end) of the instance.
func (c InstanceConfig) bounds() (start, end int) {
	first, last := c.pages()
	return (first - 1) * c.PageSize, last * c.PageSize
}

func (c InstanceConfig) argsUnavailable() bool {
	_, ok := c.Args.(argsUnavailable)
	return ok
}

// Patch is a partial update of an instance. Zero paging fields are left
// unchanged. Args is applied only when SetArgs is true.
type Patch struct {
	Page     int
	PageSize int
	PageFrom int
	PageTo   int
	Args     any
	SetArgs  bool
}

// View is the projection of an instance that UI code reads.
type View[T any] struct {
	Items      []T  `json:"items"`
	Mode       Mode `json:"mode"`
	Page       int  `json:"page,omitempty"`
	PageFrom   int  `json:"pageFrom,omitempty"`
	PageTo     int  `json:"pageTo,omitempty"`
	PageSize   int  `json:"pageSize"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	Loading    bool `json:"loading"`
}

// totalPages is ceil(total/pageSize), or 1 for an empty dataset.
func totalPages(total, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 1
	}
	return (total + pageSize - 1) / pageSize
}

// registryKeyFor maps an argument value to its partition key. Unavailable
// arguments keep the previous binding.
func registryKeyFor(args any, previous registry.Key) (registry.Key, error) {
	if args == nil {
		return registry.DefaultKey, nil
	}
	if _, ok := args.(argsUnavailable); ok {
		if previous == "" {
			return registry.DefaultKey, nil
		}
		return previous, nil
	}
	fp, err := fingerprint.Of(args)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return registry.Key(fp), nil
}

// newInstanceConfig validates opts and fills in defaults.
func newInstanceConfig(id InstanceID, opts InstanceOptions) (InstanceConfig, error) {
	if opts.Page < 0 || opts.PageSize < 0 || opts.PageFrom < 0 || opts.PageTo < 0 {
		return InstanceConfig{}, fmt.Errorf("%w: negative paging value", ErrInvalidConfig)
	}
	if opts.Page != 0 && (opts.PageFrom != 0 || opts.PageTo != 0) {
		return InstanceConfig{}, fmt.Errorf("%w: page and pageFrom/pageTo are mutually exclusive", ErrInvalidConfig)
	}

	cfg := InstanceConfig{
		ID:       id,
		PageSize: opts.PageSize,
		Args:     opts.Args,
		Loading:  true,
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = DefaultPageSize
	}

	if opts.PageFrom != 0 || opts.PageTo != 0 {
		cfg.Mode = ModeRange
		cfg.PageFrom = opts.PageFrom
		if cfg.PageFrom == 0 {
			cfg.PageFrom = 1
		}
		cfg.PageTo = opts.PageTo
		if cfg.PageTo == 0 {
			cfg.PageTo = cfg.PageFrom
		}
		if cfg.PageTo < cfg.PageFrom {
			return InstanceConfig{}, fmt.Errorf("%w: pageTo %d before pageFrom %d", ErrInvalidConfig, cfg.PageTo, cfg.PageFrom)
		}
	} else {
		cfg.Mode = ModeSingle
		cfg.Page = opts.Page
		if cfg.Page == 0 {
			cfg.Page = 1
		}
	}

	if err := cfg.checkBounds(); err != nil {
		return InstanceConfig{}, err
	}

	key, err := registryKeyFor(cfg.Args, "")
	if err != nil {
		return InstanceConfig{}, err
	}
	cfg.RegistryKey = key
	return cfg, nil
}

// checkBounds rejects configurations whose item range does not fit in an int.
func (c InstanceConfig) checkBounds() error {
	_, last := c.pages()
	if last > math.MaxInt/c.PageSize {
		return fmt.Errorf("%w: page %d with page size %d is out of range", ErrInvalidConfig, last, c.PageSize)
	}
	return nil
}

// applyPatch returns cur with patch applied. The loading flag is not touched.
func applyPatch(cur InstanceConfig, patch Patch) (InstanceConfig, error) {
	if patch.Page < 0 || patch.PageSize < 0 || patch.PageFrom < 0 || patch.PageTo < 0 {
		return cur, fmt.Errorf("%w: negative paging value", ErrInvalidConfig)
	}
	switch cur.Mode {
	case ModeSingle:
		if patch.PageFrom != 0 || patch.PageTo != 0 {
			return cur, fmt.Errorf("%w: instance %s is in single page mode", ErrInvalidConfig, cur.ID)
		}
	case ModeRange:
		if patch.Page != 0 {
			return cur, fmt.Errorf("%w: instance %s is in range mode", ErrInvalidConfig, cur.ID)
		}
	}

	next := cur

	if patch.SetArgs {
		key, err := registryKeyFor(patch.Args, cur.RegistryKey)
		if err != nil {
			return cur, err
		}
		next.Args = patch.Args
		next.RegistryKey = key
	}

	if patch.PageSize != 0 && patch.PageSize != cur.PageSize {
		next.PageSize = patch.PageSize
		// Keep the first visible item on screen.
		if cur.Mode == ModeSingle && patch.Page == 0 {
			next.Page = ceilDiv(cur.Page*cur.PageSize-cur.PageSize+1, next.PageSize)
		}
		if cur.Mode == ModeRange {
			if patch.PageFrom == 0 {
				next.PageFrom = ceilDiv(cur.PageFrom*cur.PageSize-cur.PageSize+1, next.PageSize)
			}
			if patch.PageTo == 0 {
				next.PageTo = max(next.PageFrom, ceilDiv(cur.PageTo*cur.PageSize, next.PageSize))
			}
		}
	}

	if patch.Page != 0 {
		next.Page = patch.Page
	}
	if patch.PageFrom != 0 {
		next.PageFrom = patch.PageFrom
	}
	if patch.PageTo != 0 {
		next.PageTo = patch.PageTo
	}

	if next.Mode == ModeRange && next.PageTo < next.PageFrom {
		return cur, fmt.Errorf("%w: pageTo %d before pageFrom %d", ErrInvalidConfig, next.PageTo, next.PageFrom)
	}
	if err := next.checkBounds(); err != nil {
		return cur, err
	}
	return next, nil
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 1
	}
	return (a-1)/b + 1
}
