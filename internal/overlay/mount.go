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

	"github.com/overlayfs-csi/overlayfs-csi/internal/util/log"

	mount "k8s.io/mount-utils"
	"k8s.io/utils/exec"
)

const (
	upperDirName = "upper"
	workDirName  = "workdir"

	dirPermission = os.FileMode(0o755)
)

// MountEngine drives the kernel mount utilities. It is stateless, all
// calls are pure side effects on the target path.
type MountEngine struct {
	mounter mount.Interface
	exec    exec.Interface
}

// NewMountEngine returns a mount engine using the given mounter and
// command executor.
func NewMountEngine(mounter mount.Interface, executor exec.Interface) *MountEngine {
	return &MountEngine{
		mounter: mounter,
		exec:    executor,
	}
}

// MountOverlay mounts an overlay at target with base as the read-only
// lower layer and upper/work directories inside the scratch directory.
// The device name of the mount is the volume ID.
func (e *MountEngine) MountOverlay(ctx context.Context, volumeID, basePath, scratchDir, target string) error {
	upper := filepath.Join(scratchDir, upperDirName)
	work := filepath.Join(scratchDir, workDirName)
	for _, dir := range []string{target, upper, work} {
		if err := os.MkdirAll(dir, dirPermission); err != nil {
			return fmt.Errorf("failed to create %q: %w", dir, err)
		}
	}

	opts := fmt.Sprintf("lowerdir=%s,upperdir=%s,workdir=%s", basePath, upper, work)
	log.DebugLog(ctx, "mounting overlay %q at %q (%s)", volumeID, target, opts)
	if err := e.mounter.Mount(volumeID, target, "overlay", []string{opts}); err != nil {
		return fmt.Errorf("failed to mount overlay %q at %q: %w", volumeID, target, err)
	}

	return nil
}

// MountBind bind mounts the scratch directory onto the target.
func (e *MountEngine) MountBind(ctx context.Context, scratchDir, target string) error {
	for _, dir := range []string{target, scratchDir} {
		if err := os.MkdirAll(dir, dirPermission); err != nil {
			return fmt.Errorf("failed to create %q: %w", dir, err)
		}
	}

	log.DebugLog(ctx, "bind mounting %q at %q", scratchDir, target)
	if err := e.mounter.Mount(scratchDir, target, "", []string{"bind"}); err != nil {
		return fmt.Errorf("failed to bind mount %q at %q: %w", scratchDir, target, err)
	}

	return nil
}

// IsMountPoint reports whether the target is already a mount point.
func (e *MountEngine) IsMountPoint(target string) (bool, error) {
	notMnt, err := e.mounter.IsLikelyNotMountPoint(target)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, err
	}

	return !notMnt, nil
}

// Unmount forcibly unmounts the target path.
func (e *MountEngine) Unmount(ctx context.Context, target string) error {
	log.DebugLog(ctx, "unmounting %q", target)
	out, err := e.exec.CommandContext(ctx, "umount", "-f", target).CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to unmount %q: %w, output: %q", target, err, string(out))
	}

	return nil
}
