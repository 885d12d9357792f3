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

package identity

import (
	csicommon "github.com/overlayfs-csi/overlayfs-csi/internal/csi-common"
)

// Server struct of overlayfs CSI driver with supported methods of CSI
// identity server spec. The driver advertises no plugin capabilities,
// it is a pure node plugin.
type Server struct {
	*csicommon.DefaultIdentityServer
}

// NewIdentityServer initialize a identity server for overlayfs CSI driver.
func NewIdentityServer(d *csicommon.CSIDriver) *Server {
	return &Server{
		DefaultIdentityServer: csicommon.NewDefaultIdentityServer(d),
	}
}
