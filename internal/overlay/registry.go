/*
Copyright 2023 The OverlayFS-CSI Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package overlay

import (
	"k8s.io/apimachinery/pkg/util/sets"
)

// Registry is the in-memory mapping from each base to the set of
// volume IDs whose overlay mounts it currently backs. It is the single
// source of truth for "is this base in use".
//
// Registry is not safe for concurrent use, all access happens under
// the manager lock.
type Registry struct {
	bases map[Base]sets.Set[string]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		bases: map[Base]sets.Set[string]{},
	}
}

// Associate records that volumeID is backed by base.
func (r *Registry) Associate(base Base, volumeID string) {
	set, ok := r.bases[base]
	if !ok {
		set = sets.New[string]()
		r.bases[base] = set
	}
	set.Insert(volumeID)
}

// Dissociate removes volumeID from every base set it appears in. This
// scans all entries, which is fine as the number of bases on a node is
// small.
func (r *Registry) Dissociate(volumeID string) {
	for _, set := range r.bases {
		set.Delete(volumeID)
	}
}

// InUse reports whether volumeID is recorded under any base.
func (r *Registry) InUse(volumeID string) bool {
	for _, set := range r.bases {
		if set.Has(volumeID) {
			return true
		}
	}

	return false
}

// Referenced reports whether any live overlay is backed by base. The
// entry is created when absent, an entry with an empty set is not an
// error.
func (r *Registry) Referenced(base Base) bool {
	set, ok := r.bases[base]
	if !ok {
		r.bases[base] = sets.New[string]()

		return false
	}

	return set.Len() > 0
}

// Drop removes the entry for base.
func (r *Registry) Drop(base Base) {
	delete(r.bases, base)
}

// Len returns the number of tracked bases.
func (r *Registry) Len() int {
	return len(r.bases)
}
