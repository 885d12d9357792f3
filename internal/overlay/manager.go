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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/overlayfs-csi/overlayfs-csi/internal/util/log"

	"k8s.io/apimachinery/pkg/types"
	mount "k8s.io/mount-utils"
)

// reapInterval is how often expired unreferenced bases are reaped.
const reapInterval = 30 * time.Second

const procMountInfoPath = "/proc/self/mountinfo"

// Provisioner obtains and releases scratch directories for volumes.
// Implemented by ScratchProvisioner.
type Provisioner interface {
	// Provision allocates a scratch directory for the volume and
	// returns the UID of its owning pod. It blocks until the
	// directory is usable.
	Provision(ctx context.Context, id string) (types.UID, error)
	// PodUID returns the UID of the pod owning the volume's scratch
	// directory.
	PodUID(ctx context.Context, id string) (types.UID, error)
	// VolumePath returns the host path of the scratch directory of
	// the pod with the given UID.
	VolumePath(podUID types.UID) string
	// Release frees the volume's scratch directory.
	Release(ctx context.Context, id string) error
}

// Manager is the lifecycle coordinator. A single lock serializes every
// mutation of the registry and every operation that touches the bases
// root, so promotion, marker write and registry updates are never
// observed half done by the reaper.
type Manager struct {
	store   *Store
	scratch Provisioner
	engine  *MountEngine

	lock     sync.Mutex
	registry *Registry
}

// NewManager returns a lifecycle coordinator over the given store,
// provisioner and mount engine.
func NewManager(store *Store, scratch Provisioner, engine *MountEngine) *Manager {
	return &Manager{
		store:    store,
		scratch:  scratch,
		engine:   engine,
		registry: NewRegistry(),
	}
}

// Mount provisions a scratch directory for the volume and mounts it at
// target, as an overlay over a valid base when one exists, as a plain
// bind mount otherwise.
//
// Scratch provisioning may block for a long time waiting for pod
// scheduling and therefore happens before the lock is taken.
func (m *Manager) Mount(ctx context.Context, id, target string) error {
	if mounted, err := m.engine.IsMountPoint(target); err == nil && mounted {
		log.DebugLog(ctx, "volume %q is already mounted at %q", id, target)

		return nil
	}

	podUID, err := m.scratch.Provision(ctx, id)
	if err != nil {
		return err
	}
	scratchDir := m.scratch.VolumePath(podUID)

	m.lock.Lock()
	defer m.lock.Unlock()

	base, err := m.store.FindValidBase()
	if err != nil {
		return err
	}

	if base != nil {
		log.DefaultLog("creating overlay for volume %q at %q over base %q", id, target, base.Path)
		if err := m.engine.MountOverlay(ctx, id, base.Path, scratchDir, target); err != nil {
			return err
		}
		m.registry.Associate(*base, id)

		return nil
	}

	log.WarningLogMsg("could not find a base for volume %q, creating a volume from scratch", id)

	return m.engine.MountBind(ctx, scratchDir, target)
}

// Unmount tears down the volume's mount at target and releases its
// scratch directory. A bind-mounted volume whose scratch directory
// carries the promotion marker is renamed into the bases root first,
// provided no valid base exists.
func (m *Manager) Unmount(ctx context.Context, id, target string) error {
	if err := m.unmountLocked(ctx, id, target); err != nil {
		return err
	}

	// Kubernetes will clean up the pod storage.
	return m.scratch.Release(ctx, id)
}

func (m *Manager) unmountLocked(ctx context.Context, id, target string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	isOverlay := m.registry.InUse(id)
	valid, err := m.store.FindValidBase()
	noValidBase := err != nil || valid == nil
	log.DefaultLog("unmounting volume %q at %q (overlay %t, no valid base %t)", id, target, isOverlay, noValidBase)

	// If this can be used as a base and we need one, transform it.
	// TODO: start promotion shortly before the current base expires to
	// close the cold-start window.
	if !isOverlay && noValidBase {
		if err := m.promote(ctx, id); err != nil {
			return err
		}
	}

	// Update the mapping so that the base can be reaped if necessary.
	m.registry.Dissociate(id)

	if err := m.engine.Unmount(ctx, target); err != nil {
		log.ErrorLog(ctx, "ignoring unmount failure for volume %q: %v", id, err)
	}

	return nil
}

// promote renames the volume's scratch directory into the bases root
// when its contents declare eligibility. Runs under the manager lock,
// so the reaper can never observe the renamed directory without its
// marker.
func (m *Manager) promote(ctx context.Context, id string) error {
	podUID, err := m.scratch.PodUID(ctx, id)
	if err != nil {
		return err
	}
	scratchDir := m.scratch.VolumePath(podUID)

	marker := filepath.Join(scratchDir, MarkerFilename)
	if _, err := os.Stat(marker); err != nil {
		log.WarningLogMsg("not transforming volume %q into a base as %q does not exist", id, marker)

		return nil
	}

	base, err := m.store.Promote(scratchDir, id)
	if err != nil {
		return err
	}
	log.DefaultLog("transformed volume %q into base %q", id, base.Path)

	return nil
}

// Reap deletes every base that is expired and unreferenced. Bases with
// live overlays are left alone regardless of age.
func (m *Manager) Reap(ctx context.Context) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	log.DebugLog(ctx, "reaping expired bases")
	bases, err := m.store.List()
	if err != nil {
		return err
	}

	now := m.store.clock.Now()
	for _, base := range bases {
		if base.Valid(now, m.store.maxAge) {
			continue
		}
		// The base might not be in the registry if it has never been
		// associated with a volume.
		if m.registry.Referenced(base) {
			continue
		}
		log.WarningLogMsg("reaping base %q", base.Path)
		if err := m.store.Delete(base); err != nil {
			return err
		}
		m.registry.Drop(base)
	}

	return nil
}

// Run periodically reaps expired unreferenced bases until the context
// is cancelled. Errors are logged, the loop never terminates on them.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		if err := m.Reap(ctx); err != nil {
			log.ErrorLogMsg("failed to reap bases: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Rebuild restores the registry from the kernel mount table after a
// plugin restart. Every overlay mount whose lower directory lives
// under the bases root was created by this plugin with the volume ID
// as the mount source.
func (m *Manager) Rebuild(mountInfoPath string) error {
	if mountInfoPath == "" {
		mountInfoPath = procMountInfoPath
	}
	infos, err := mount.ParseMountInfo(mountInfoPath)
	if err != nil {
		return fmt.Errorf("failed to parse %q: %w", mountInfoPath, err)
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	prefix := m.store.Root() + string(filepath.Separator)
	for i := range infos {
		info := &infos[i]
		if info.FsType != "overlay" {
			continue
		}
		for _, opt := range info.SuperOptions {
			lower, ok := strings.CutPrefix(opt, "lowerdir=")
			if !ok || !strings.HasPrefix(lower, prefix) {
				continue
			}
			log.DefaultLog("recovered overlay volume %q over base %q", info.Source, lower)
			m.registry.Associate(Base{Path: lower}, info.Source)
		}
	}

	return nil
}
