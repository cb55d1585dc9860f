package submit

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/yourorg/erp-loader/internal/backend"
	"github.com/yourorg/erp-loader/internal/grouping"
)

const (
	ModeOData = "odata"
	ModeSOAP  = "soap"
)

var ErrUnknownMode = errors.New("unknown submission mode")

// Backends holds the connection settings per protocol.
type Backends struct {
	OData           backend.Conn
	ODataFetchToken bool
	SOAP            backend.Conn
	SOAPAction      string
	Workers         int
}

// Registry maps mode names to the submitters of one business object.
type Registry struct {
	mu     sync.RWMutex
	layout grouping.Layout
	byMode map[string]*BatchSubmitter
}

// NewRegistry registers an OData and a SOAP submitter for layout.
func NewRegistry(layout grouping.Layout, b Backends, logger *zap.Logger) *Registry {
	r := &Registry{layout: layout, byMode: make(map[string]*BatchSubmitter)}

	odata := backend.NewODataAdapter(backend.ODataConfig{
		Conn:            b.OData,
		Service:         layout.Service,
		Entity:          layout.Entity,
		ItemsName:       layout.ItemsName,
		ReferenceFields: layout.ReferenceFields,
		FetchToken:      b.ODataFetchToken,
	})
	soap := backend.NewSOAPAdapter(backend.SOAPConfig{
		Conn:            b.SOAP,
		Service:         layout.Service,
		Namespace:       layout.Namespace,
		Entity:          layout.Entity,
		ItemsName:       layout.ItemsName,
		ReferenceFields: layout.ReferenceFields,
		SOAPAction:      b.SOAPAction,
	})
	r.Register(ModeOData, NewBatchSubmitter(layout, odata, logger, b.Workers))
	r.Register(ModeSOAP, NewBatchSubmitter(layout, soap, logger, b.Workers))
	return r
}

// Register adds or replaces the submitter for mode.
func (r *Registry) Register(mode string, s *BatchSubmitter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byMode[mode] = s
}

// Lookup returns the submitter for mode; an empty mode selects the layout's
// default.
func (r *Registry) Lookup(mode string) (*BatchSubmitter, error) {
	if mode == "" {
		mode = r.layout.Mode
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byMode[mode]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	return s, nil
}

// Modes lists the registered modes.
func (r *Registry) Modes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byMode))
	for m := range r.byMode {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
