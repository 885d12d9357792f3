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

package driver

import (
	"context"
	"os"
	"time"

	csicommon "github.com/overlayfs-csi/overlayfs-csi/internal/csi-common"
	"github.com/overlayfs-csi/overlayfs-csi/internal/overlay"
	"github.com/overlayfs-csi/overlayfs-csi/internal/overlay/identity"
	"github.com/overlayfs-csi/overlayfs-csi/internal/overlay/nodeserver"
	"github.com/overlayfs-csi/overlayfs-csi/internal/util"
	"github.com/overlayfs-csi/overlayfs-csi/internal/util/k8s"
	"github.com/overlayfs-csi/overlayfs-csi/internal/util/log"

	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/types"
	mount "k8s.io/mount-utils"
	"k8s.io/utils/clock"
	"k8s.io/utils/exec"
)

// Driver contains the default identity and node struct.
type Driver struct{}

// NewDriver returns new overlayfs driver.
func NewDriver() *Driver {
	return &Driver{}
}

// Run start a non-blocking grpc node and identityserver for the
// overlayfs CSI driver which can serve multiple parallel requests.
func (d *Driver) Run(conf *util.Config) {
	cd := csicommon.NewCSIDriver(conf.DriverName, util.DriverVersion, conf.NodeID)
	if cd == nil {
		log.FatalLogMsg("failed to initialize CSI driver")
	}

	// the plugin's own empty-dir holds the bases root, its host path
	// hangs off the plugin pod UID
	podID := os.Getenv(util.PodIDEnv)
	if podID == "" {
		log.FatalLogMsg("failed to find pod ID in environment variable %q", util.PodIDEnv)
	}

	sizeLimit, err := resource.ParseQuantity(conf.SizeLimit)
	if err != nil {
		log.FatalLogMsg("invalid size limit %q: %v", conf.SizeLimit, err)
	}

	log.DefaultLog("connecting to the Kubernetes API")
	client, err := k8s.NewK8sClient()
	if err != nil {
		log.FatalLogMsg("failed to connect to the Kubernetes API: %v", err)
	}
	pods := client.CoreV1().Pods(conf.Namespace)

	scratch := overlay.NewScratchProvisioner(pods, conf.NodeID, conf.Namespace, conf.PodsRoot, sizeLimit)
	basesHost := scratch.EmptyDirPath(types.UID(podID), overlay.BasesVolumeName)
	store := overlay.NewStore(
		conf.BasesRoot,
		basesHost,
		time.Duration(conf.MaxAgeS)*time.Second,
		clock.RealClock{})
	engine := overlay.NewMountEngine(mount.New(""), exec.New())
	manager := overlay.NewManager(store, scratch, engine)

	// disk state survives restarts, the in-memory registry does not
	if err := manager.Rebuild(""); err != nil {
		log.WarningLogMsg("failed to rebuild the base registry: %v", err)
	}
	go manager.Run(context.Background())

	server := csicommon.NewNonBlockingGRPCServer()
	server.Start(conf.Endpoint, conf.HistogramOption, csicommon.Servers{
		IS: identity.NewIdentityServer(cd),
		NS: nodeserver.NewNodeServer(cd, manager),
	}, conf.EnableGRPCMetrics)
	if conf.EnableGRPCMetrics {
		go util.StartMetricsServer(conf)
	}
	if conf.EnableProfiling {
		if !conf.EnableGRPCMetrics {
			go util.StartMetricsServer(conf)
		}
		log.DebugLogMsg("Registering profiling handler")
		go util.EnableProfiling()
	}
	server.Wait()
}
