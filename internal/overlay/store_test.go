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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

func newTestStore(t *testing.T, now time.Time) *Store {
	t.Helper()
	root := t.TempDir()

	return NewStore(root, root, 600*time.Second, testingclock.NewFakePassiveClock(now))
}

func addBase(t *testing.T, s *Store, name, marker string) Base {
	t.Helper()
	base := Base{Path: filepath.Join(s.root, name)}
	require.NoError(t, os.Mkdir(base.Path, 0o755))
	if marker != "" {
		err := os.WriteFile(filepath.Join(base.Path, MarkerFilename), []byte(marker), 0o600)
		require.NoError(t, err)
	}

	return base
}

func TestStoreListSkipsFiles(t *testing.T) {
	t.Parallel()

	now := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(t, now)
	addBase(t, s, "base-1", "")
	require.NoError(t, os.WriteFile(filepath.Join(s.root, "stray-file"), []byte("x"), 0o600))

	bases, err := s.List()
	require.NoError(t, err)
	require.Len(t, bases, 1)
	assert.Equal(t, "base-1", bases[0].Name())
}

func TestStoreListMissingRoot(t *testing.T) {
	t.Parallel()

	s := NewStore("/nonexistent/bases", "/nonexistent/bases", time.Hour,
		testingclock.NewFakePassiveClock(time.Now()))
	_, err := s.List()
	assert.Error(t, err)

	_, err = s.FindValidBase()
	assert.Error(t, err)
}

func TestStoreFindValidBase(t *testing.T) {
	t.Parallel()

	now := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(t, now)

	// empty root
	base, err := s.FindValidBase()
	require.NoError(t, err)
	assert.Nil(t, base)

	// only invalid candidates
	addBase(t, s, "expired", now.Add(-time.Hour).Format(time.RFC3339))
	addBase(t, s, "unmarked", "")
	base, err = s.FindValidBase()
	require.NoError(t, err)
	assert.Nil(t, base)

	// one valid candidate
	want := addBase(t, s, "valid", now.Add(-time.Minute).Format(time.RFC3339))
	base, err = s.FindValidBase()
	require.NoError(t, err)
	require.NotNil(t, base)
	assert.Equal(t, want, *base)
}

func TestStorePromote(t *testing.T) {
	t.Parallel()

	now := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(t, now)

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "payload"), []byte("data"), 0o600))

	base, err := s.Promote(src, "vol-1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.hostRoot, "vol-1"), base.Path)
	assert.NoDirExists(t, src)
	assert.FileExists(t, filepath.Join(base.Path, "payload"))

	ts, err := base.ReadMarker()
	require.NoError(t, err)
	assert.True(t, ts.Equal(now))

	// the promoted directory is immediately a valid base
	found, err := s.FindValidBase()
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, base, *found)
}

func TestStorePromoteMissingSource(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, time.Now())
	_, err := s.Promote(filepath.Join(t.TempDir(), "gone"), "vol-1")
	assert.Error(t, err)
}

func TestStoreDelete(t *testing.T) {
	t.Parallel()

	now := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(t, now)
	base := addBase(t, s, "base-1", now.Format(time.RFC3339))

	require.NoError(t, s.Delete(base))
	assert.NoDirExists(t, base.Path)

	// deleting twice is harmless
	assert.NoError(t, s.Delete(base))
}
