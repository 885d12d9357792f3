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

	csicommon "github.com/overlayfs-csi/overlayfs-csi/internal/csi-common"
	"github.com/overlayfs-csi/overlayfs-csi/internal/overlay"
	"github.com/overlayfs-csi/overlayfs-csi/internal/util"
	"github.com/overlayfs-csi/overlayfs-csi/internal/util/log"

	"github.com/container-storage-interface/spec/lib/go/csi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// NodeServer struct of overlayfs CSI driver with supported methods of
// CSI node server spec.
type NodeServer struct {
	*csicommon.DefaultNodeServer
	manager *overlay.Manager
}

// NewNodeServer initialize a node server for overlayfs CSI driver.
func NewNodeServer(d *csicommon.CSIDriver, manager *overlay.Manager) *NodeServer {
	return &NodeServer{
		DefaultNodeServer: csicommon.NewDefaultNodeServer(d),
		manager:           manager,
	}
}

// NodePublishVolume mounts the volume at the target path.
func (ns *NodeServer) NodePublishVolume(
	ctx context.Context,
	req *csi.NodePublishVolumeRequest,
) (*csi.NodePublishVolumeResponse, error) {
	if err := util.ValidateNodePublishVolumeRequest(req); err != nil {
		return nil, err
	}

	volumeID := req.GetVolumeId()
	targetPath := req.GetTargetPath()
	log.DefaultLog("publishing volume %q at %q", volumeID, targetPath)

	if err := ns.manager.Mount(ctx, volumeID, targetPath); err != nil {
		log.ErrorLog(ctx, "failed publishing volume %q: %v", volumeID, err)

		return nil, status.Error(codes.Internal, err.Error())
	}
	log.DebugLog(ctx, "successfully published volume %q at %q", volumeID, targetPath)

	return &csi.NodePublishVolumeResponse{}, nil
}

// NodeUnpublishVolume unmounts the volume from the target path.
func (ns *NodeServer) NodeUnpublishVolume(
	ctx context.Context,
	req *csi.NodeUnpublishVolumeRequest,
) (*csi.NodeUnpublishVolumeResponse, error) {
	if err := util.ValidateNodeUnpublishVolumeRequest(req); err != nil {
		return nil, err
	}

	volumeID := req.GetVolumeId()
	targetPath := req.GetTargetPath()
	log.DefaultLog("unpublishing volume %q at %q", volumeID, targetPath)

	if err := ns.manager.Unmount(ctx, volumeID, targetPath); err != nil {
		log.ErrorLog(ctx, "failed unpublishing volume %q: %v", volumeID, err)

		return nil, status.Error(codes.Internal, err.Error())
	}
	log.DebugLog(ctx, "successfully unpublished volume %q from %q", volumeID, targetPath)

	return &csi.NodeUnpublishVolumeResponse{}, nil
}
