// Copyright 2026 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package inspector builds cluster snapshots from the control plane.
package inspector

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/multigres/pgrecover/go/mterrors"
	"github.com/multigres/pgrecover/go/pgrecover/cluster"
	"github.com/multigres/pgrecover/go/pgrecover/controlplane"
)

// Inspector reads the cluster topology through any reachable member. It
// remembers the last leader it saw and asks that member first next time.
type Inspector struct {
	client *controlplane.Client
	logger *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	lastLeader string
}

// New returns an Inspector reading through client.
func New(client *controlplane.Client, logger *slog.Logger) *Inspector {
	return &Inspector{client: client, logger: logger, now: time.Now}
}

// Inspect returns a fresh snapshot. hint names a member to ask first; it
// may be empty.
//
// Members are tried in order: hint, the last known leader, pods labeled
// leader, then every other running pod. The first member that answers the
// list command wins. If the list omits lag for running replicas, lag is
// read from pg_stat_replication on the leader; members still missing stay
// unknown.
//
// Returns controlplane.ErrNoRunningMember if the pods cannot be listed or
// no member answers.
func (i *Inspector) Inspect(ctx context.Context, hint string) (*cluster.State, error) {
	pods, err := i.client.Pods(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, mterrors.Wrap(ctxErr, "inspection interrupted")
		}
		return nil, mterrors.Wrap(errors.Join(controlplane.ErrNoRunningMember, err),
			"cannot list pods of cluster "+i.client.ClusterObject())
	}

	var lastErr error
	for _, pod := range i.order(pods, hint) {
		members, scope, err := i.client.List(ctx, pod)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, mterrors.Wrap(ctxErr, "inspection interrupted")
			}
			i.logger.WarnContext(ctx, "member did not answer list, trying next", "member", pod, "error", err)
			lastErr = err
			continue
		}

		state := &cluster.State{ClusterName: scope, Members: members, ObservedAt: i.now()}
		state = i.fillLag(ctx, state)
		if leader := state.LeaderName(); leader != "" {
			i.mu.Lock()
			i.lastLeader = leader
			i.mu.Unlock()
		}
		i.logger.DebugContext(ctx, "inspected cluster",
			"cluster", scope, "via", pod, "members", len(members), "leader", state.LeaderName())
		return state, nil
	}

	if lastErr != nil {
		return nil, mterrors.Wrap(errors.Join(controlplane.ErrNoRunningMember, lastErr),
			"no member of cluster "+i.client.ClusterObject()+" answered")
	}
	return nil, mterrors.Wrap(controlplane.ErrNoRunningMember, "no running pod for cluster "+i.client.ClusterObject())
}

// order returns the pods to ask, most likely leader first, without
// duplicates. pods already has leader-labeled pods first.
func (i *Inspector) order(pods []controlplane.Pod, hint string) []string {
	running := make([]string, 0, len(pods))
	for _, p := range pods {
		running = append(running, p.Name)
	}

	i.mu.Lock()
	lastLeader := i.lastLeader
	i.mu.Unlock()

	var out []string
	for _, name := range []string{hint, lastLeader} {
		if name != "" && slices.Contains(running, name) && !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	for _, name := range running {
		if !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	return out
}

// fillLag completes missing replica lag from the leader. Errors leave the
// lag unknown.
func (i *Inspector) fillLag(ctx context.Context, state *cluster.State) *cluster.State {
	var missing []string
	for _, m := range state.Members {
		if _, ok := m.Lag(); !ok && m.Role == cluster.RoleReplica && m.IsRunning() {
			missing = append(missing, m.Name)
		}
	}
	if len(missing) == 0 {
		return state
	}
	leader, err := state.Leader()
	if err != nil || !leader.IsRunning() {
		return state
	}

	lags, err := i.client.ReplicationLag(ctx, leader.Name, missing)
	if err != nil {
		i.logger.WarnContext(ctx, "failed to read replication lag from leader",
			"leader", leader.Name, "error", err)
		return state
	}

	filled := &cluster.State{
		ClusterName: state.ClusterName,
		ObservedAt:  state.ObservedAt,
		Members:     make([]cluster.Member, len(state.Members)),
	}
	for idx, m := range state.Members {
		if lag, ok := lags[m.Name]; ok && slices.Contains(missing, m.Name) {
			m = m.WithLag(lag)
		}
		filled.Members[idx] = m
	}
	return filled
}
