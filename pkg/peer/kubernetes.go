// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0
package peer

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	v1 "k8s.io/api/core/v1"
	"k8s.io/client-go/informers"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/cache"
)

// jobNameLabel and rankLabel mirror the pod labels a Kubernetes Indexed Job
// sets on each of its pods, used to resolve a node rank to its owning pod.
const (
	jobNameLabel = "batch.kubernetes.io/job-name"
	rankLabel    = "batch.kubernetes.io/job-completion-index"
)

// KubernetesDiscovery resolves peers by watching this job's Pods through a
// client-go informer and reading their pod IPs and rank labels, the
// production counterpart to DirectoryDiscovery. The informer pattern (shared
// factory, WaitForCacheSync, ResourceEventHandlerFuncs) follows the same
// shape the teacher's IstioNetworker.Run uses to watch Pods; only the
// object kind and handler logic differ.
type KubernetesDiscovery struct {
	namespace string
	jobName   string
	nnodes    uint32
	logger    *zap.SugaredLogger

	mu       sync.Mutex
	byRank   map[uint32]string
	waiters  map[uint32][]chan struct{}
	informer cache.SharedIndexInformer
	stopCh   chan struct{}
}

// NewKubernetesDiscovery constructs a backend watching Pods labeled with
// jobName in namespace, using the in-cluster service account config.
func NewKubernetesDiscovery(namespace, jobName string, nnodes uint32, logger *zap.SugaredLogger) (*KubernetesDiscovery, error) {
	conf, err := rest.InClusterConfig()
	if err != nil {
		return nil, err
	}
	client, err := kubernetes.NewForConfig(conf)
	if err != nil {
		return nil, err
	}

	k := &KubernetesDiscovery{
		namespace: namespace,
		jobName:   jobName,
		nnodes:    nnodes,
		logger:    logger,
		byRank:    make(map[uint32]string),
		waiters:   make(map[uint32][]chan struct{}),
		stopCh:    make(chan struct{}),
	}

	factory := informers.NewSharedInformerFactoryWithOptions(client, 10*time.Minute,
		informers.WithNamespace(namespace),
	)
	podInformer := factory.Core().V1().Pods().Informer()
	podInformer.AddEventHandler(cache.ResourceEventHandlerFuncs{
		AddFunc:    k.handlePod,
		UpdateFunc: func(_, newObj interface{}) { k.handlePod(newObj) },
	})
	k.informer = podInformer

	go podInformer.Run(k.stopCh)
	if !cache.WaitForCacheSync(k.stopCh, podInformer.HasSynced) {
		return nil, fmt.Errorf("peer: timed out syncing pod informer cache for job %q", jobName)
	}
	return k, nil
}

// handlePod updates the rank->address map from a Pod's labels and status,
// and wakes any goroutine blocked waiting for that rank in FenceAddr.
func (k *KubernetesDiscovery) handlePod(obj interface{}) {
	pod, ok := obj.(*v1.Pod)
	if !ok {
		return
	}
	if pod.Labels[jobNameLabel] != k.jobName {
		return
	}
	rankStr, ok := pod.Labels[rankLabel]
	if !ok {
		return
	}
	rank64, err := strconv.ParseUint(rankStr, 10, 32)
	if err != nil {
		k.logger.Warnw("pod has invalid rank label", "pod", pod.Name, "label", rankStr)
		return
	}
	if pod.Status.PodIP == "" {
		return
	}
	rank := uint32(rank64)

	k.mu.Lock()
	k.byRank[rank] = pod.Status.PodIP
	waiters := k.waiters[rank]
	delete(k.waiters, rank)
	k.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}

// waitForRank blocks until rank's pod IP is known or ctx is done.
func (k *KubernetesDiscovery) waitForRank(ctx context.Context, rank uint32) (string, error) {
	k.mu.Lock()
	if ip, ok := k.byRank[rank]; ok {
		k.mu.Unlock()
		return ip, nil
	}
	ch := make(chan struct{})
	k.waiters[rank] = append(k.waiters[rank], ch)
	k.mu.Unlock()

	select {
	case <-ch:
		k.mu.Lock()
		ip := k.byRank[rank]
		k.mu.Unlock()
		return ip, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// FenceAddr returns node rank's fence-coordinator address.
func (k *KubernetesDiscovery) FenceAddr(ctx context.Context, nodeRank uint32) (string, error) {
	ip, err := k.waitForRank(ctx, nodeRank)
	if err != nil {
		return "", err
	}
	return addrFor(ip, FencePort), nil
}

// ModexAddr returns node rank's direct-modex address: the same pod, one
// port higher than the fence port.
func (k *KubernetesDiscovery) ModexAddr(ctx context.Context, nodeRank uint32) (string, error) {
	ip, err := k.waitForRank(ctx, nodeRank)
	if err != nil {
		return "", err
	}
	return addrFor(ip, ModexPort), nil
}

// Peers blocks until all nnodes pods have reported an IP, then returns their
// fence addresses.
func (k *KubernetesDiscovery) Peers(ctx context.Context) (map[uint32]string, error) {
	peers := make(map[uint32]string, k.nnodes)
	for rank := uint32(0); rank < k.nnodes; rank++ {
		addr, err := k.FenceAddr(ctx, rank)
		if err != nil {
			return nil, err
		}
		peers[rank] = addr
	}
	return peers, nil
}

// Hostnames returns one name per node rank, formed as <jobName>-<rank>,
// once all nnodes ranks are known. The names are not read from the Pods.
func (k *KubernetesDiscovery) Hostnames(ctx context.Context) ([]string, error) {
	if _, err := k.Peers(ctx); err != nil {
		return nil, err
	}
	names := make([]string, k.nnodes)
	for rank := uint32(0); rank < k.nnodes; rank++ {
		names[rank] = fmt.Sprintf("%s-%d", k.jobName, rank)
	}
	return names, nil
}

// Close stops the underlying informer.
func (k *KubernetesDiscovery) Close() {
	close(k.stopCh)
}
