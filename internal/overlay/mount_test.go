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
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	mount "k8s.io/mount-utils"
	utilexec "k8s.io/utils/exec"
	fakeexec "k8s.io/utils/exec/testing"
)

func TestMountOverlay(t *testing.T) {
	t.Parallel()

	mounter := mount.NewFakeMounter(nil)
	engine := NewMountEngine(mounter, &fakeexec.FakeExec{DisableScripts: true})

	scratch := t.TempDir()
	target := filepath.Join(t.TempDir(), "target")
	err := engine.MountOverlay(context.TODO(), "vol-1", "/bases/base-1", scratch, target)
	require.NoError(t, err)

	assert.DirExists(t, target)
	assert.DirExists(t, filepath.Join(scratch, "upper"))
	assert.DirExists(t, filepath.Join(scratch, "workdir"))

	log := mounter.GetLog()
	require.Len(t, log, 1)
	assert.Equal(t, mount.FakeActionMount, log[0].Action)
	assert.Equal(t, "vol-1", log[0].Source)
	assert.Equal(t, "overlay", log[0].FSType)
	assert.Equal(t, target, log[0].Target)

	require.Len(t, mounter.MountPoints, 1)
	opts := strings.Join(mounter.MountPoints[0].Opts, ",")
	assert.Contains(t, opts, "lowerdir=/bases/base-1")
	assert.Contains(t, opts, fmt.Sprintf("upperdir=%s", filepath.Join(scratch, "upper")))
	assert.Contains(t, opts, fmt.Sprintf("workdir=%s", filepath.Join(scratch, "workdir")))
}

func TestMountBind(t *testing.T) {
	t.Parallel()

	mounter := mount.NewFakeMounter(nil)
	engine := NewMountEngine(mounter, &fakeexec.FakeExec{DisableScripts: true})

	scratch := filepath.Join(t.TempDir(), "scratch")
	target := filepath.Join(t.TempDir(), "target")
	err := engine.MountBind(context.TODO(), scratch, target)
	require.NoError(t, err)

	assert.DirExists(t, scratch)
	assert.DirExists(t, target)

	log := mounter.GetLog()
	require.Len(t, log, 1)
	assert.Equal(t, mount.FakeActionMount, log[0].Action)
	assert.Equal(t, scratch, log[0].Source)
	assert.Equal(t, "", log[0].FSType)
	assert.Equal(t, target, log[0].Target)
}

func TestIsMountPoint(t *testing.T) {
	t.Parallel()

	target := t.TempDir()
	mounter := mount.NewFakeMounter([]mount.MountPoint{{Path: target}})
	engine := NewMountEngine(mounter, &fakeexec.FakeExec{DisableScripts: true})

	mounted, err := engine.IsMountPoint(target)
	require.NoError(t, err)
	assert.True(t, mounted)

	mounted, err = engine.IsMountPoint(filepath.Join(target, "nonexistent"))
	require.NoError(t, err)
	assert.False(t, mounted)
}

func TestUnmount(t *testing.T) {
	t.Parallel()

	fcmd := fakeexec.FakeCmd{
		CombinedOutputScript: []fakeexec.FakeAction{
			func() ([]byte, []byte, error) { return []byte{}, nil, nil },
		},
	}
	fexec := &fakeexec.FakeExec{
		CommandScript: []fakeexec.FakeCommandAction{
			func(cmd string, args ...string) utilexec.Cmd {
				return fakeexec.InitFakeCmd(&fcmd, cmd, args...)
			},
		},
	}
	engine := NewMountEngine(mount.NewFakeMounter(nil), fexec)

	require.NoError(t, engine.Unmount(context.TODO(), "/mnt/target"))
	assert.Equal(t, []string{"umount", "-f", "/mnt/target"}, fcmd.Argv)
}

func TestUnmountFailure(t *testing.T) {
	t.Parallel()

	fcmd := fakeexec.FakeCmd{
		CombinedOutputScript: []fakeexec.FakeAction{
			func() ([]byte, []byte, error) {
				return []byte("target is busy"), nil, errors.New("exit status 32")
			},
		},
	}
	fexec := &fakeexec.FakeExec{
		CommandScript: []fakeexec.FakeCommandAction{
			func(cmd string, args ...string) utilexec.Cmd {
				return fakeexec.InitFakeCmd(&fcmd, cmd, args...)
			},
		},
	}
	engine := NewMountEngine(mount.NewFakeMounter(nil), fexec)

	err := engine.Unmount(context.TODO(), "/mnt/target")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target is busy")
}
