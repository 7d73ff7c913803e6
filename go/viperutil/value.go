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
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Options configures a Value.
type Options[T any] struct {
	// Default is the value returned when nothing else sets the key.
	Default T
	// FlagName is the pflag name BindFlags binds the key to. Empty means
	// the value is not settable from the command line.
	FlagName string
	// EnvVars are environment variables consulted, in order, for the key.
	EnvVars []string
	// GetFunc builds the getter for types viper cannot read natively.
	// It receives the registry's viper instance.
	GetFunc func(v *viper.Viper) func(key string) T
}

// Value is a typed handle to a configured key.
type Value[T any] interface {
	// Key returns the config key.
	Key() string
	// Get returns the current resolved value.
	Get() T
	// Set overrides the value for the lifetime of the registry.
	Set(v T)
	// Default returns the configured default.
	Default() T

	flagName() string
	registry() *Registry
}

// binder is the type-erased part of a Value that BindFlags needs.
type binder interface {
	Key() string
	flagName() string
	registry() *Registry
}

type value[T any] struct {
	reg  *Registry
	key  string
	opts Options[T]
	get  func(key string) T
}

// Configure registers key in reg and returns a typed Value for it.
// Panics if T has no native getter and opts.GetFunc is nil; that is a
// programming error caught by any test that builds the config.
func Configure[T any](reg *Registry, key string, opts Options[T]) Value[T] {
	reg.v.SetDefault(key, opts.Default)
	if len(opts.EnvVars) > 0 {
		args := append([]string{key}, opts.EnvVars...)
		if err := reg.v.BindEnv(args...); err != nil {
			slog.Warn("failed to bind environment variables", "key", key, "error", err)
		}
	}

	get := opts.GetFunc
	if get == nil {
		get = nativeGetter[T]()
	}
	if get == nil {
		panic(fmt.Sprintf("viperutil: no getter for key %q of type %T", key, opts.Default))
	}

	return &value[T]{
		reg:  reg,
		key:  key,
		opts: opts,
		get:  get(reg.v),
	}
}

func (val *value[T]) Key() string         { return val.key }
func (val *value[T]) Get() T              { return val.get(val.key) }
func (val *value[T]) Set(v T)             { val.reg.v.Set(val.key, v) }
func (val *value[T]) Default() T          { return val.opts.Default }
func (val *value[T]) flagName() string    { return val.opts.FlagName }
func (val *value[T]) registry() *Registry { return val.reg }

// BindFlags binds each value to the flag of the same FlagName in fs.
// The flags must already be defined on fs.
func BindFlags(fs *pflag.FlagSet, values ...binder) {
	for _, val := range values {
		name := val.flagName()
		if name == "" {
			continue
		}
		f := fs.Lookup(name)
		if f == nil {
			panic(fmt.Sprintf("viperutil: flag %q for key %q is not defined", name, val.Key()))
		}
		if err := val.registry().v.BindPFlag(val.Key(), f); err != nil {
			panic(fmt.Sprintf("viperutil: failed to bind flag %q: %v", name, err))
		}
	}
}

// nativeGetter returns a getter for types viper understands directly.
func nativeGetter[T any]() func(v *viper.Viper) func(key string) T {
	var zero T
	var f any
	switch any(zero).(type) {
	case string:
		f = func(v *viper.Viper) func(string) string { return v.GetString }
	case bool:
		f = func(v *viper.Viper) func(string) bool { return v.GetBool }
	case int:
		f = func(v *viper.Viper) func(string) int { return v.GetInt }
	case int64:
		f = func(v *viper.Viper) func(string) int64 { return v.GetInt64 }
	case float64:
		f = func(v *viper.Viper) func(string) float64 { return v.GetFloat64 }
	case time.Duration:
		f = func(v *viper.Viper) func(string) time.Duration { return v.GetDuration }
	case []string:
		f = func(v *viper.Viper) func(string) []string { return v.GetStringSlice }
	default:
		return nil
	}
	return f.(func(v *viper.Viper) func(key string) T)
}
