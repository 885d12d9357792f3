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

package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/overlayfs-csi/overlayfs-csi/internal/overlay/driver"
	"github.com/overlayfs-csi/overlayfs-csi/internal/util"

	"k8s.io/klog/v2"
)

const defaultDriverName = "overlayfs.csi.k8s.io"

var conf util.Config

func init() {
	// common flags
	flag.StringVar(&conf.Endpoint, "endpoint", "unix://tmp/csi.sock", "CSI endpoint")
	flag.StringVar(&conf.DriverName, "drivername", defaultDriverName, "name of the driver")
	flag.StringVar(&conf.NodeID, "nodeid", "", "node id")
	flag.StringVar(&conf.Namespace, "namespace", "", "namespace the scratch pods are created in")

	// volume related flags
	flag.StringVar(&conf.BasesRoot, "basesroot", "", "bases directory as mounted inside the plugin pod")
	flag.StringVar(&conf.PodsRoot, "podsroot", "/var/lib/kubelet/pods", "kubelet pods directory on the host")
	flag.StringVar(&conf.SizeLimit, "sizelimit", "20Gi", "size limit of a single scratch volume")
	flag.Int64Var(&conf.MaxAgeS, "maxage", 3600, "maximum age of a base in seconds")

	// grpc metrics related flags
	flag.IntVar(&conf.MetricsPort, "metricsport", 8080, "TCP port for grpc metrics requests")
	flag.StringVar(&conf.MetricsPath, "metricspath", "/metrics", "path of prometheus endpoint where metrics will be available")
	flag.BoolVar(&conf.EnableGRPCMetrics, "enablegrpcmetrics", false, "enable grpc metrics")
	flag.StringVar(&conf.HistogramOption, "histogramoption", "0.5,2,6",
		"Histogram option for grpc metrics, should be comma separated value, ex:= 0.5,2,6 where start=0.5 factor=2, count=6")
	flag.BoolVar(&conf.EnableProfiling, "enableprofiling", false, "enable go profiling")

	flag.BoolVar(&conf.Version, "version", false, "Print overlayfs-csi version information")

	klog.InitFlags(nil)
	if err := flag.Set("logtostderr", "true"); err != nil {
		klog.Exitf("failed to set logtostderr flag: %v", err)
	}
	flag.Parse()
}

func main() {
	if conf.Version {
		fmt.Println("overlayfs-csi Version:", util.DriverVersion)
		fmt.Println("Git Commit:", util.GitCommit)
		fmt.Println("Go Version:", runtime.Version())
		fmt.Println("Compiler:", runtime.Compiler)
		fmt.Printf("Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	klog.V(1).Infof("Driver version: %s and Git version: %s", util.DriverVersion, util.GitCommit)

	if err := util.ValidateDriverName(conf.DriverName); err != nil {
		klog.Fatalln(err) // calls exit
	}
	if conf.NodeID == "" {
		klog.Fatalln("node ID not specified")
	}
	if conf.Namespace == "" {
		klog.Fatalln("namespace not specified")
	}
	if conf.BasesRoot == "" {
		klog.Fatalln("bases root not specified")
	}
	if !util.CheckDirExists(conf.BasesRoot) {
		klog.Fatalf("bases root %q does not exist", conf.BasesRoot)
	}
	if conf.MaxAgeS <= 0 {
		klog.Fatalln("maximum base age must be positive")
	}
	if err := util.ValidateSizeLimit(conf.SizeLimit); err != nil {
		klog.Fatalf("invalid size limit %q: %v", conf.SizeLimit, err)
	}

	if conf.EnableGRPCMetrics {
		// validate metrics endpoint
		conf.MetricsIP = os.Getenv("POD_IP")

		if conf.MetricsIP == "" {
			klog.Warning("missing POD_IP env var defaulting to 0.0.0.0")
			conf.MetricsIP = "0.0.0.0"
		}
		if err := util.ValidateURL(&conf); err != nil {
			klog.Fatalln(err)
		}
	}

	klog.V(1).Infof("Starting driver %v on node %v", conf.DriverName, conf.NodeID)
	driver.NewDriver().Run(&conf)

	os.Exit(0)
}
