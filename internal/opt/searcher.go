package opt

import "fmt"

// Global search backends
const (
	BackendBasinHopping = "basinhopping"
	BackendMayfly       = "mayfly"
)

// NewSearcher builds a global searcher by backend name around a local method
func NewSearcher(backend, localMethod string, popSize int) (GlobalSearcher, error) {
	local, err := NewLocal(localMethod)
	if err != nil {
		return nil, err
	}

	switch backend {
	case BackendBasinHopping, "":
		return NewBasinHopping(local), nil
	case BackendMayfly:
		return NewPopulationSearch(NewMayfly(popSize), local), nil
	default:
		return nil, fmt.Errorf("unknown search backend: %s", backend)
	}
}
