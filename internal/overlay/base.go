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
)

// MarkerFilename is the marker for volumes that can be transformed
// into bases. Once transformed, the file contains the creation date.
const MarkerFilename = ".as_base"

// Base is a directory that serves as the read-only lower layer of one
// or more overlay mounts. Its identity is its path, so it can be used
// as a map key.
type Base struct {
	Path string
}

// Name returns the base identity, the name of its directory.
func (b Base) Name() string {
	return filepath.Base(b.Path)
}

func (b Base) markerPath() string {
	return filepath.Join(b.Path, MarkerFilename)
}

// WriteMarker stamps the base with the given promotion time.
func (b Base) WriteMarker(now time.Time) error {
	data := now.UTC().Format(time.RFC3339)
	if err := os.WriteFile(b.markerPath(), []byte(data), 0o600); err != nil {
		return fmt.Errorf("failed to write marker for base %q: %w", b.Path, err)
	}

	return nil
}

// ReadMarker returns the promotion time recorded in the marker file.
func (b Base) ReadMarker() (time.Time, error) {
	data, err := os.ReadFile(b.markerPath())
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read marker for base %q: %w", b.Path, err)
	}
	ts, err := time.Parse(time.RFC3339, string(data))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse marker for base %q: %w", b.Path, err)
	}

	return ts, nil
}

// Valid checks if the base carries a marker and is younger than maxAge.
// A missing or corrupt marker and a future-dated marker both make the
// base invalid, never an error.
func (b Base) Valid(now time.Time, maxAge time.Duration) bool {
	ts, err := b.ReadMarker()
	if err != nil {
		log.DebugLogMsg("base %q has no usable marker: %v", b.Path, err)

		return false
	}

	age := now.Sub(ts)
	switch {
	case age < 0:
		log.WarningLogMsg("base %q is in the future", b.Path)

		return false
	case age < maxAge:
		return true
	default:
		log.DebugLogMsg("base %q is too old (%v >= %v)", b.Path, age, maxAge)

		return false
	}
}
