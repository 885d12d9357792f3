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

package util

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/util/validation"
)

// variables which will be set during the build time.
var (
	// GitCommit tell the latest git commit image is built from.
	GitCommit string
	// DriverVersion which will be driver version.
	DriverVersion string
)

// Config holds the parameters list which can be configured.
type Config struct {
	Endpoint   string // CSI endpoint
	DriverName string // name of the driver
	NodeID     string // node id
	Namespace  string // namespace the scratch pods are created in
	BasesRoot  string // bases directory as seen from inside the plugin pod
	PodsRoot   string // kubelet pods directory on the host
	SizeLimit  string // size limit of a single scratch volume
	MaxAgeS    int64  // maximum age of a base in seconds

	// metrics related flags
	MetricsPath     string // path of prometheus endpoint where metrics will be available
	HistogramOption string // Histogram option for grpc metrics, should be comma separated value,
	// ex:= "0.5,2,6" where start=0.5 factor=2, count=6
	MetricsIP   string // IP the metrics server binds to
	MetricsPort int    // TCP port for grpc metrics requests

	EnableGRPCMetrics bool // option to enable grpc metrics
	EnableProfiling   bool // flag to enable profiling
	Version           bool // overlayfs-csi version
}

// PodIDEnv carries the UID of the plugin's own pod. The kubelet
// materializes the bases empty-dir under that UID.
const PodIDEnv = "POD_ID"

// ValidateDriverName validates the driver name.
func ValidateDriverName(driverName string) error {
	if driverName == "" {
		return errors.New("driver name is empty")
	}

	const reqDriverNameLen = 63
	if len(driverName) > reqDriverNameLen {
		return errors.New("driver name length should be less than 63 chars")
	}
	var err error
	for _, msg := range validation.IsDNS1123Subdomain(strings.ToLower(driverName)) {
		if err == nil {
			err = errors.New(msg)

			continue
		}
		err = fmt.Errorf("%s: %w", msg, err)
	}

	return err
}

// ValidateSizeLimit checks that the configured per-volume size limit
// parses as a Kubernetes resource quantity.
func ValidateSizeLimit(sizeLimit string) error {
	_, err := resource.ParseQuantity(sizeLimit)

	return err
}

// CheckDirExists checks directory exists or not.
func CheckDirExists(p string) bool {
	if _, err := os.Stat(p); os.IsNotExist(err) {
		return false
	}

	return true
}
