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
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/overlayfs-csi/overlayfs-csi/internal/util/log"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/watch"
	corev1client "k8s.io/client-go/kubernetes/typed/core/v1"
	"sigs.k8s.io/yaml"
)

const (
	// emptyDirVolumesDir is where the kubelet materializes empty-dir
	// volumes below a pod directory.
	emptyDirVolumesDir = "volumes/kubernetes.io~empty-dir"

	// scratchVolumeName is the single empty-dir volume of a scratch pod.
	scratchVolumeName = "volume"

	// BasesVolumeName is the empty-dir of the plugin pod itself that
	// holds the bases root.
	BasesVolumeName = "bases"
)

//go:embed scratch_pod.yaml
var scratchPodTemplate []byte

// ScratchProvisioner obtains size-limited, same-device scratch
// directories by scheduling sidecar pods with a single empty-dir
// volume onto the local node.
type ScratchProvisioner struct {
	pods      corev1client.PodInterface
	node      string
	namespace string
	podsRoot  string
	sizeLimit resource.Quantity
}

// NewScratchProvisioner returns a provisioner creating scratch pods in
// the given namespace, bound to node. podsRoot is the kubelet pods
// directory on the host.
func NewScratchProvisioner(
	pods corev1client.PodInterface,
	node, namespace, podsRoot string,
	sizeLimit resource.Quantity,
) *ScratchProvisioner {
	return &ScratchProvisioner{
		pods:      pods,
		node:      node,
		namespace: namespace,
		podsRoot:  podsRoot,
		sizeLimit: sizeLimit,
	}
}

// EmptyDirPath returns the host path of the named empty-dir volume of
// the pod with the given UID.
func (p *ScratchProvisioner) EmptyDirPath(podUID types.UID, volume string) string {
	return filepath.Join(p.podsRoot, string(podUID), emptyDirVolumesDir, volume)
}

// VolumePath returns the host path of the scratch directory owned by
// the pod with the given UID.
func (p *ScratchProvisioner) VolumePath(podUID types.UID) string {
	return p.EmptyDirPath(podUID, scratchVolumeName)
}

func (p *ScratchProvisioner) scratchPod(id string) (*corev1.Pod, error) {
	pod := &corev1.Pod{}
	if err := yaml.Unmarshal(scratchPodTemplate, pod); err != nil {
		return nil, fmt.Errorf("failed to decode scratch pod template: %w", err)
	}

	pod.ObjectMeta.Name = id
	pod.ObjectMeta.Namespace = p.namespace
	pod.Spec.NodeName = p.node
	pod.Spec.Volumes[0].EmptyDir.SizeLimit = &p.sizeLimit

	return pod, nil
}

// Provision creates the scratch pod for the given volume ID and waits
// until the kubelet reports it running, which guarantees the empty-dir
// has been materialized. Watch disruptions restart the watch, only
// context cancellation gives up.
func (p *ScratchProvisioner) Provision(ctx context.Context, id string) (types.UID, error) {
	log.DefaultLog("creating pod %q to allocate storage", id)
	pod, err := p.scratchPod(id)
	if err != nil {
		return "", err
	}

	var uid types.UID
	created, err := p.pods.Create(ctx, pod, metav1.CreateOptions{})
	switch {
	case err == nil:
		uid = created.ObjectMeta.UID
	case apierrors.IsAlreadyExists(err):
		// a previous publish attempt left the pod behind, reuse it so
		// retries converge
		log.DefaultLog("scratch pod %q already exists, reusing it", id)
		if uid, err = p.PodUID(ctx, id); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("failed to create scratch pod %q: %w", id, err)
	}

	log.DefaultLog("waiting for scratch pod %q (uid %s) to run", id, uid)
	for {
		err := p.waitRunning(ctx, id)
		if err == nil {
			return uid, nil
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("gave up waiting for scratch pod %q: %w", id, err)
		}
		log.ErrorLogMsg("watching for scratch pod %q failed (%v), restarting watch", id, err)
	}
}

// waitRunning consumes one watch stream until the pod reports phase
// Running. A stream that ends or errors first is reported to the
// caller for a restart.
func (p *ScratchProvisioner) waitRunning(ctx context.Context, id string) error {
	watcher, err := p.pods.Watch(ctx, metav1.ListOptions{
		FieldSelector:   fields.Set{"metadata.name": id}.String(),
		ResourceVersion: "0",
	})
	if err != nil {
		return fmt.Errorf("failed to watch scratch pod %q: %w", id, err)
	}
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.ResultChan():
			if !ok {
				return errors.New("watch stream closed before the pod was running")
			}
			if event.Type == watch.Error {
				return fmt.Errorf("watch stream failed: %v", event.Object)
			}
			if event.Type != watch.Modified {
				continue
			}
			pod, ok := event.Object.(*corev1.Pod)
			if !ok {
				continue
			}
			if pod.Status.Phase == corev1.PodRunning {
				log.DefaultLog("scratch pod %q is running", id)

				return nil
			}
		}
	}
}

// PodUID fetches the scratch pod for the given volume ID and returns
// its UID.
func (p *ScratchProvisioner) PodUID(ctx context.Context, id string) (types.UID, error) {
	pod, err := p.pods.Get(ctx, id, metav1.GetOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to get scratch pod %q: %w", id, err)
	}

	return pod.ObjectMeta.UID, nil
}

// Release requests background deletion of the scratch pod. The kubelet
// reclaims the empty-dir, the call does not wait for that.
func (p *ScratchProvisioner) Release(ctx context.Context, id string) error {
	log.DefaultLog("deleting scratch pod %q", id)
	policy := metav1.DeletePropagationBackground
	err := p.pods.Delete(ctx, id, metav1.DeleteOptions{PropagationPolicy: &policy})
	if err != nil {
		return fmt.Errorf("failed to delete scratch pod %q: %w", id, err)
	}

	return nil
}
