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
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"google.golang.org/grpc/codes"
	"gopkg.in/yaml.v3"

	"github.com/multigres/pgrecover/go/mterrors"
	"github.com/multigres/pgrecover/go/pgrecover/cluster"
)

const patronictl = "patronictl"

// bytesPerMB converts Patroni's "Lag in MB" column, which is MiB.
const bytesPerMB = 1 << 20

// ListCommand lists members with role, state, timeline and lag.
func ListCommand() []string {
	return []string{patronictl, "list", "-f", "json"}
}

// ReinitCommand rebuilds member from the leader.
func ReinitCommand(scope, member string) []string {
	return []string{patronictl, "reinit", scope, member, "--force"}
}

// RestartCommand restarts PostgreSQL on member.
func RestartCommand(scope, member string) []string {
	return []string{patronictl, "restart", scope, member, "--force"}
}

// SwitchoverCommand hands leadership from a running leader to candidate.
func SwitchoverCommand(scope, leader, candidate string) []string {
	return []string{patronictl, "switchover", scope, "--leader", leader, "--candidate", candidate, "--force"}
}

// FailoverCommand promotes candidate when the leader is not running.
func FailoverCommand(scope, candidate string) []string {
	return []string{patronictl, "failover", scope, "--candidate", candidate, "--force"}
}

// ShowConfigCommand prints the dynamic configuration as YAML.
func ShowConfigCommand(scope string) []string {
	return []string{patronictl, "show-config", scope}
}

// psqlCommand runs one query unaligned and tuples-only, so rows come back
// as "a|b" lines.
func psqlCommand(query string) []string {
	return []string{"psql", "-X", "-A", "-t", "-c", query}
}

// LagQueryCommand reads replay lag in bytes for the given replicas from
// pg_stat_replication on the leader. An empty names list reads every
// replica.
func LagQueryCommand(names []string) []string {
	query := "SELECT application_name, pg_wal_lsn_diff(pg_current_wal_lsn(), replay_lsn)::bigint FROM pg_stat_replication"
	if len(names) > 0 {
		quoted := make([]string, len(names))
		for i, name := range names {
			quoted[i] = pq.QuoteLiteral(name)
		}
		query += " WHERE application_name IN (" + strings.Join(quoted, ", ") + ")"
	}
	return psqlCommand(query)
}

// WalReceiverCommand reports the replication connection state of a
// replica.
func WalReceiverCommand() []string {
	return psqlCommand("SELECT status, sender_host FROM pg_stat_wal_receiver")
}

// listRow is one row of `patronictl list -f json`. Lag columns are decoded
// loosely because Patroni emits integers, empty strings or "unknown".
type listRow struct {
	Cluster  string          `json:"Cluster"`
	Member   string          `json:"Member"`
	Host     string          `json:"Host"`
	Role     string          `json:"Role"`
	State    string          `json:"State"`
	TL       json.RawMessage `json:"TL"`
	Lag      json.RawMessage `json:"Lag in MB"`
	ReplayMB json.RawMessage `json:"Replay Lag in MB"`
}

// ParseList parses list output into members in listing order. The
// returned scope is the Cluster column, or "" when the rows omit it.
func ParseList(stdout string) (members []cluster.Member, scope string, err error) {
	var rows []listRow
	if err := json.Unmarshal([]byte(strings.TrimSpace(stdout)), &rows); err != nil {
		return nil, "", mterrors.WithCode(codes.Internal, err, "failed to parse patronictl list output")
	}
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		if row.Member == "" {
			return nil, "", mterrors.New(codes.Internal, "patronictl list row without a member name")
		}
		if seen[row.Member] {
			return nil, "", mterrors.Errorf(codes.Internal, "patronictl list reports member %s twice", row.Member)
		}
		seen[row.Member] = true
		if scope == "" {
			scope = row.Cluster
		}

		m := cluster.Member{
			Name:        row.Member,
			Role:        NormalizeRole(row.Role),
			State:       NormalizeState(row.State),
			ClusterName: row.Cluster,
			Host:        row.Host,
		}
		if tl, ok := looseNumber(row.TL); ok {
			m.Timeline = int(tl)
		}
		// Newer Patroni splits lag into receive and replay columns; replay
		// is what matters for promotion.
		lagMB, ok := looseNumber(row.ReplayMB)
		if !ok {
			lagMB, ok = looseNumber(row.Lag)
		}
		if ok && m.Role == cluster.RoleReplica {
			m = m.WithLag(int64(math.Round(lagMB * bytesPerMB)))
		}
		members = append(members, m)
	}
	return members, scope, nil
}

// looseNumber decodes a JSON number or numeric string. Empty strings,
// "unknown" and null are reported as absent.
func looseNumber(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// NormalizeRole maps a Patroni role onto Leader or Replica.
func NormalizeRole(role string) cluster.Role {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "leader", "standby leader", "master", "primary":
		return cluster.RoleLeader
	}
	return cluster.RoleReplica
}

// NormalizeState maps a Patroni member state onto a lifecycle state.
func NormalizeState(state string) cluster.LifecycleState {
	s := strings.ToLower(strings.TrimSpace(state))
	switch s {
	case "running", "streaming", "in archive recovery":
		return cluster.StateRunning
	case "starting", "creating replica", "restarting", "initializing new cluster",
		"running custom bootstrap script", "waiting for leader":
		return cluster.StateStarting
	case "stopped", "stopping":
		return cluster.StateStopped
	case "crashed":
		return cluster.StateCrashed
	}
	if strings.HasSuffix(s, " failed") {
		return cluster.StateCrashed
	}
	return cluster.StateUnknown
}

// ParseLagRows parses "name|bytes" rows from LagQueryCommand. Rows with a
// null lag are skipped.
func ParseLagRows(stdout string) map[string]int64 {
	lags := make(map[string]int64)
	for _, line := range strings.Split(stdout, "\n") {
		name, value, ok := strings.Cut(strings.TrimSpace(line), "|")
		if !ok || name == "" {
			continue
		}
		lag, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			continue
		}
		lags[name] = max(lag, 0)
	}
	return lags
}

// DynamicConfig is the subset of `patronictl show-config` the recovery
// actions read.
type DynamicConfig struct {
	TTL      int `yaml:"ttl"`
	LoopWait int `yaml:"loop_wait"`
	// MaximumLagOnFailover is in bytes. Patroni refuses to promote a
	// replica lagging more than this.
	MaximumLagOnFailover *int64 `yaml:"maximum_lag_on_failover"`
	SynchronousMode      bool   `yaml:"synchronous_mode"`
}

// ParseShowConfig parses show-config YAML.
func ParseShowConfig(stdout string) (DynamicConfig, error) {
	var cfg DynamicConfig
	if err := yaml.Unmarshal([]byte(stdout), &cfg); err != nil {
		return DynamicConfig{}, mterrors.WithCode(codes.Internal, err, "failed to parse patronictl show-config output")
	}
	return cfg, nil
}
