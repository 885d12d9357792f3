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

package nodeserver

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	csicommon "github.com/overlayfs-csi/overlayfs-csi/internal/csi-common"
	"github.com/overlayfs-csi/overlayfs-csi/internal/overlay"

	"github.com/container-storage-interface/spec/lib/go/csi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/apimachinery/pkg/types"
	mount "k8s.io/mount-utils"
	testingclock "k8s.io/utils/clock/testing"
	"k8s.io/utils/exec"
	fakeexec "k8s.io/utils/exec/testing"
)

type stubProvisioner struct {
	root     string
	released []string
}

func (s *stubProvisioner) Provision(ctx context.Context, id string) (types.UID, error) {
	return types.UID("uid-" + id), nil
}

func (s *stubProvisioner) PodUID(ctx context.Context, id string) (types.UID, error) {
	return types.UID("uid-" + id), nil
}

func (s *stubProvisioner) VolumePath(podUID types.UID) string {
	return filepath.Join(s.root, string(podUID))
}

func (s *stubProvisioner) Release(ctx context.Context, id string) error {
	s.released = append(s.released, id)

	return nil
}

func newTestNodeServer(t *testing.T) (*NodeServer, *mount.FakeMounter, *stubProvisioner) {
	t.Helper()

	basesRoot := t.TempDir()
	prov := &stubProvisioner{root: t.TempDir()}
	store := overlay.NewStore(
		basesRoot, basesRoot, 10*time.Minute,
		testingclock.NewFakePassiveClock(time.Now()))
	mounter := mount.NewFakeMounter(nil)
	var fe exec.Interface = &fakeexec.FakeExec{DisableScripts: true}
	mgr := overlay.NewManager(store, prov, overlay.NewMountEngine(mounter, fe))

	d := csicommon.NewCSIDriver("overlayfs.example.com", "canary", "node-1")
	require.NotNil(t, d)

	return NewNodeServer(d, mgr), mounter, prov
}

func TestNodePublishVolumeInvalid(t *testing.T) {
	t.Parallel()

	ns, _, _ := newTestNodeServer(t)
	volCap := &csi.VolumeCapability{}

	tests := []struct {
		name string
		req  *csi.NodePublishVolumeRequest
	}{
		{
			name: "missing capability",
			req: &csi.NodePublishVolumeRequest{
				VolumeId:   "vol-1",
				TargetPath: "/target",
			},
		},
		{
			name: "missing volume ID",
			req: &csi.NodePublishVolumeRequest{
				VolumeCapability: volCap,
				TargetPath:       "/target",
			},
		},
		{
			name: "missing target path",
			req: &csi.NodePublishVolumeRequest{
				VolumeCapability: volCap,
				VolumeId:         "vol-1",
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := ns.NodePublishVolume(context.TODO(), tt.req)
			assert.Equal(t, codes.InvalidArgument, status.Code(err))
		})
	}
}

func TestNodeUnpublishVolumeInvalid(t *testing.T) {
	t.Parallel()

	ns, _, _ := newTestNodeServer(t)

	_, err := ns.NodeUnpublishVolume(context.TODO(), &csi.NodeUnpublishVolumeRequest{
		TargetPath: "/target",
	})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = ns.NodeUnpublishVolume(context.TODO(), &csi.NodeUnpublishVolumeRequest{
		VolumeId: "vol-1",
	})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestNodePublishUnpublishVolume(t *testing.T) {
	t.Parallel()

	ns, mounter, prov := newTestNodeServer(t)
	target := filepath.Join(t.TempDir(), "target")

	_, err := ns.NodePublishVolume(context.TODO(), &csi.NodePublishVolumeRequest{
		VolumeCapability: &csi.VolumeCapability{},
		VolumeId:         "vol-1",
		TargetPath:       target,
	})
	require.NoError(t, err)

	mounts, err := mounter.List()
	require.NoError(t, err)
	require.Len(t, mounts, 1)
	assert.Equal(t, target, mounts[0].Path)

	_, err = ns.NodeUnpublishVolume(context.TODO(), &csi.NodeUnpublishVolumeRequest{
		VolumeId:   "vol-1",
		TargetPath: target,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"vol-1"}, prov.released)
}
