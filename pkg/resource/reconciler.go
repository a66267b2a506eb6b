// Package resource tracks externally stored data of a run and resolves
// datum references found in event payloads.
package resource

import (
	"path"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/logflow/docexport/internal/model"
	exerrors "github.com/logflow/docexport/pkg/errors"
)

// Location is where the data behind one datum lives.
type Location struct {
	DatumID     string         `json:"datum_id"`
	ResourceUID string         `json:"resource"`
	Spec        string         `json:"spec"`
	Path        string         `json:"path"`
	Kwargs      map[string]any `json:"kwargs,omitempty"`
}

// Handler customizes Location for one resource spec.
type Handler func(res model.Resource, datum model.Datum, loc Location) (Location, error)

var (
	handlersMu sync.RWMutex
	handlers   = map[string]Handler{}
)

// Register installs h for spec, replacing any previous handler.
func Register(spec string, h Handler) {
	handlersMu.Lock()
	defer handlersMu.Unlock()
	handlers[spec] = h
}

func lookupHandler(spec string) Handler {
	handlersMu.RLock()
	defer handlersMu.RUnlock()
	return handlers[spec]
}

// Reconciler holds the resources and datums of one run. It is not safe for
// concurrent use; each run owns its own Reconciler.
type Reconciler struct {
	resources map[string]model.Resource
	datums    map[string]model.Datum
}

// NewReconciler creates an empty Reconciler.
func NewReconciler() *Reconciler {
	return &Reconciler{
		resources: make(map[string]model.Resource),
		datums:    make(map[string]model.Datum),
	}
}

// Declare records a resource. Declaring the same resource twice is a no-op;
// redeclaring a uid with different content is an error.
func (r *Reconciler) Declare(res model.Resource) error {
	if prev, ok := r.resources[res.UID]; ok {
		if !reflect.DeepEqual(prev, res) {
			return exerrors.New(exerrors.CodeInvalidDocument, "resource redeclared with different content").
				WithContext("resource", res.UID)
		}
		return nil
	}
	r.resources[res.UID] = res
	return nil
}

// HasResource reports whether uid was declared.
func (r *Reconciler) HasResource(uid string) bool {
	_, ok := r.resources[uid]
	return ok
}

// RecordDatum records a datum. Its resource must already be declared.
func (r *Reconciler) RecordDatum(d model.Datum) error {
	if !r.HasResource(d.Resource) {
		return exerrors.DanglingReference(d.DatumID, d.Resource)
	}
	if prev, ok := r.datums[d.DatumID]; ok {
		if prev.Resource != d.Resource || !reflect.DeepEqual(prev.DatumKwargs, d.DatumKwargs) {
			return exerrors.New(exerrors.CodeInvalidDocument, "datum redeclared with different content").
				WithContext("datum_id", d.DatumID)
		}
		return nil
	}
	r.datums[d.DatumID] = d
	return nil
}

// Resolve returns the location of datumID.
func (r *Reconciler) Resolve(datumID string) (Location, error) {
	d, ok := r.datums[datumID]
	if !ok {
		return Location{}, exerrors.UnresolvedReference(datumID)
	}
	res := r.resources[d.Resource]

	loc := Location{
		DatumID:     datumID,
		ResourceUID: res.UID,
		Spec:        res.Spec,
		Path:        joinPath(res),
		Kwargs:      mergeKwargs(res.ResourceKwargs, d.DatumKwargs),
	}
	if h := lookupHandler(res.Spec); h != nil {
		custom, err := h(res, d, loc)
		if err != nil {
			return Location{}, exerrors.Wrap(err, exerrors.CodeUnresolvedReference, "resource handler failed").
				WithContext("datum_id", datumID).
				WithContext("spec", res.Spec)
		}
		return custom, nil
	}
	return loc, nil
}

// Resources returns the declared resources ordered by uid.
func (r *Reconciler) Resources() []model.Resource {
	out := make([]model.Resource, 0, len(r.resources))
	for _, res := range r.resources {
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}

// Len returns the number of resources and datums recorded.
func (r *Reconciler) Len() (resources, datums int) {
	return len(r.resources), len(r.datums)
}

func joinPath(res model.Resource) string {
	if res.Root == "" {
		return res.ResourcePath
	}
	if strings.EqualFold(res.PathSemantics, "windows") {
		return strings.TrimRight(res.Root, `\`) + `\` + strings.TrimLeft(res.ResourcePath, `\`)
	}
	return path.Join(res.Root, res.ResourcePath)
}

func mergeKwargs(resource, datum map[string]any) map[string]any {
	if len(resource) == 0 && len(datum) == 0 {
		return nil
	}
	out := make(map[string]any, len(resource)+len(datum))
	for k, v := range resource {
		out[k] = v
	}
	for k, v := range datum {
		out[k] = v
	}
	return out
}
