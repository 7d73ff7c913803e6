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

package viperutil

import (
	"github.com/spf13/viper"
)

// Registry holds the viper instance backing a set of configured values.
// Each command builds its own registry, so tests and subcommands never share
// configuration through package globals.
//
// Values resolve in viper's usual precedence order: explicit Set, flag,
// environment variable, config file, default.
type Registry struct {
	v *viper.Viper
}

// NewRegistry creates a new isolated configuration registry.
//
// Example usage:
//
//	reg := viperutil.NewRegistry()
//	cluster := viperutil.Configure(reg, "cluster", viperutil.Options[string]{
//	    FlagName: "cluster",
//	    EnvVars:  []string{"PGR_CLUSTER"},
//	})
func NewRegistry() *Registry {
	return &Registry{v: viper.New()}
}

// Viper returns the underlying viper instance. It is intended for debug
// output and for loading config files; values should be read through the
// Value returned by Configure.
func (reg *Registry) Viper() *viper.Viper {
	return reg.v
}

// AllSettings returns every resolved setting keyed by its config key.
func (reg *Registry) AllSettings() map[string]any {
	return reg.v.AllSettings()
}
