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
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/overlayfs-csi/overlayfs-csi/internal/util/log"

	"k8s.io/utils/clock"
)

// Store manages the on-disk directory of candidate bases.
//
// The bases root is visible under two paths: root is the empty-dir as
// mounted inside the plugin pod and is used for enumeration, hostRoot
// is the same directory under the kubelet pods root and is used as the
// promotion target so that renames stay on one device.
type Store struct {
	root     string
	hostRoot string
	maxAge   time.Duration
	clock    clock.PassiveClock
}

// NewStore returns a base store for the given roots.
func NewStore(root, hostRoot string, maxAge time.Duration, c clock.PassiveClock) *Store {
	return &Store{
		root:     root,
		hostRoot: hostRoot,
		maxAge:   maxAge,
		clock:    c,
	}
}

// List enumerates all base directories under the bases root. Entries
// that fail to stat are skipped, a failure to read the root itself is
// returned.
func (s *Store) List() ([]Base, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list bases in %q: %w", s.root, err)
	}

	bases := make([]Base, 0, len(entries))
	for _, entry := range entries {
		fi, err := entry.Info()
		if err != nil {
			log.WarningLogMsg("skipping unreadable entry %q in bases root: %v", entry.Name(), err)

			continue
		}
		if !fi.IsDir() {
			continue
		}
		bases = append(bases, Base{Path: filepath.Join(s.root, entry.Name())})
	}

	return bases, nil
}

// FindValidBase returns the first valid base in directory-entry order,
// or nil when none qualifies. Callers must not depend on which base is
// chosen.
func (s *Store) FindValidBase() (*Base, error) {
	bases, err := s.List()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	for _, base := range bases {
		if base.Valid(now, s.maxAge) {
			base := base

			return &base, nil
		}
	}

	return nil, nil
}

// Promote renames src into the bases host root under the given
// identity and stamps it with a fresh marker. The source must reside
// on the same device as the bases root, rename does not copy.
func (s *Store) Promote(src, id string) (Base, error) {
	base := Base{Path: filepath.Join(s.hostRoot, id)}
	if err := os.Rename(src, base.Path); err != nil {
		return Base{}, fmt.Errorf("failed to promote %q to base %q: %w", src, base.Path, err)
	}
	if err := base.WriteMarker(s.clock.Now()); err != nil {
		return Base{}, err
	}

	return base, nil
}

// Delete removes the base directory recursively. Callers must have
// verified that no live overlay references the base.
func (s *Store) Delete(base Base) error {
	if err := os.RemoveAll(base.Path); err != nil {
		return fmt.Errorf("failed to delete base %q: %w", base.Path, err)
	}

	return nil
}

// MaxAge returns the configured maximum base age.
func (s *Store) MaxAge() time.Duration {
	return s.maxAge
}

// Root returns the bases root as seen from inside the plugin pod.
func (s *Store) Root() string {
	return s.root
}
