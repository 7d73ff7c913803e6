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

package controlplane

import (
	"strings"

	"google.golang.org/grpc/codes"

	"github.com/multigres/pgrecover/go/mterrors"
)

// Flavor names a supported operator family.
type Flavor string

const (
	FlavorCrunchy Flavor = "crunchy"
	FlavorZalando Flavor = "zalando"
)

// ParseFlavor accepts a flavor name or the operator's API group.
func ParseFlavor(s string) (Flavor, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "crunchy", "pgo", "postgres-operator.crunchydata.com":
		return FlavorCrunchy, nil
	case "zalando", "spilo", "acid.zalan.do":
		return FlavorZalando, nil
	}
	return "", mterrors.Errorf(codes.InvalidArgument, "unknown control plane API flavor %q (want crunchy or zalando)", s)
}

// API captures the naming and labeling conventions of one operator family.
// It is selected once at startup and passed down.
type API interface {
	Flavor() Flavor
	// PodSelector selects every database pod of the cluster.
	PodSelector(cluster string) string
	// IsLeaderPod reports whether the operator labeled a pod as leader.
	IsLeaderPod(labels map[string]string) bool
	// DefaultContainer is the container that runs Patroni.
	DefaultContainer() string
	// ControlPlaneName is the Patroni scope used when the list output does
	// not carry one.
	ControlPlaneName(cluster string) string
	// DataDir is the PostgreSQL data volume mount.
	DataDir() string
	// LogGlob matches the PostgreSQL log files.
	LogGlob() string
}

// LookupAPI returns the conventions of flavor.
func LookupAPI(flavor Flavor) (API, error) {
	switch flavor {
	case FlavorCrunchy:
		return crunchyAPI{}, nil
	case FlavorZalando:
		return zalandoAPI{}, nil
	}
	return nil, mterrors.Errorf(codes.InvalidArgument, "unsupported control plane API flavor %q", flavor)
}

const (
	crunchyClusterLabel  = "postgres-operator.crunchydata.com/cluster"
	crunchyInstanceLabel = "postgres-operator.crunchydata.com/instance"
	crunchyRoleLabel     = "postgres-operator.crunchydata.com/role"

	zalandoAppLabel     = "application"
	zalandoClusterLabel = "cluster-name"
	zalandoRoleLabel    = "spilo-role"

	leaderRoleValue = "master"
)

// Patroni 4 renamed the leader role label value from master to primary.
func isLeaderRole(v string) bool {
	return v == leaderRoleValue || v == "primary"
}

type crunchyAPI struct{}

func (crunchyAPI) Flavor() Flavor { return FlavorCrunchy }

func (crunchyAPI) PodSelector(cluster string) string {
	return crunchyClusterLabel + "=" + cluster + "," + crunchyInstanceLabel
}

func (crunchyAPI) IsLeaderPod(labels map[string]string) bool {
	return isLeaderRole(labels[crunchyRoleLabel])
}

func (crunchyAPI) DefaultContainer() string { return "database" }

func (crunchyAPI) ControlPlaneName(cluster string) string { return cluster + "-ha" }

func (crunchyAPI) DataDir() string { return "/pgdata" }

func (crunchyAPI) LogGlob() string { return "/pgdata/*/log/*.log" }

type zalandoAPI struct{}

func (zalandoAPI) Flavor() Flavor { return FlavorZalando }

func (zalandoAPI) PodSelector(cluster string) string {
	return zalandoAppLabel + "=spilo," + zalandoClusterLabel + "=" + cluster
}

func (zalandoAPI) IsLeaderPod(labels map[string]string) bool {
	return isLeaderRole(labels[zalandoRoleLabel])
}

func (zalandoAPI) DefaultContainer() string { return "postgres" }

func (zalandoAPI) ControlPlaneName(cluster string) string { return cluster }

func (zalandoAPI) DataDir() string { return "/home/postgres/pgdata" }

func (zalandoAPI) LogGlob() string { return "/home/postgres/pgdata/pgroot/pg_log/*.csv" }

// podLabels returns the labels the operator puts on a member pod. Used by
// the fake transport.
func podLabels(api API, cluster string, leader bool) map[string]string {
	role := "replica"
	if leader {
		role = leaderRoleValue
	}
	switch api.Flavor() {
	case FlavorZalando:
		return map[string]string{
			zalandoAppLabel:     "spilo",
			zalandoClusterLabel: cluster,
			zalandoRoleLabel:    role,
		}
	default:
		return map[string]string{
			crunchyClusterLabel:  cluster,
			crunchyInstanceLabel: cluster + "-instance1",
			crunchyRoleLabel:     role,
		}
	}
}
