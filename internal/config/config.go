// Package config loads SPOS's compile-time configuration (the
// specification) from a TOML file, flags, or environment variables via
// viper, and freezes it into a validated Config value.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// AllocStrategy names one of the four allocation strategies a heap can run.
type AllocStrategy string

const (
	FirstFit AllocStrategy = "first-fit"
	NextFit  AllocStrategy = "next-fit"
	BestFit  AllocStrategy = "best-fit"
	WorstFit AllocStrategy = "worst-fit"
)

// Config is the frozen set of compile-time constants the kernel boots with.
type Config struct {
	MaxProcesses  int           `mapstructure:"max_processes"`
	MaxPrograms   int           `mapstructure:"max_programs"`
	HeapOffset    int           `mapstructure:"heap_offset"`
	StackSize     int           `mapstructure:"stack_size_per_process"`
	TickPeriod    time.Duration `mapstructure:"scheduler_tick_period"`
	DefaultAlloc  AllocStrategy `mapstructure:"default_allocation_strategy"`
	InternalUse   int           `mapstructure:"internal_heap_use_size"`
	ExternalUse   int           `mapstructure:"external_heap_use_size"`
	ExternalStart int           `mapstructure:"external_heap_start"`
	AckButtonMask uint8         `mapstructure:"ack_button_mask"`
}

// Default returns the configuration the reference design ships with: an
// 8-slot process table, 16-slot program table, first-fit allocation, a
// 20ms tick, and a 600-byte internal use region starting right after
// HeapOffset bytes of statics.
func Default() Config {
	return Config{
		MaxProcesses:  8,
		MaxPrograms:   16,
		HeapOffset:    0x100,
		StackSize:     200,
		TickPeriod:    20 * time.Millisecond,
		DefaultAlloc:  FirstFit,
		InternalUse:   600,
		ExternalUse:   2048,
		ExternalStart: 0,
		AckButtonMask: 0b1001, // button 0 and button 3
	}
}

// BindFlags registers the flags spos-sim accepts, each shadowing the
// matching viper key so CLI > env > config file > defaults.
func BindFlags(flags *pflag.FlagSet, v *viper.Viper) error {
	d := Default()
	flags.Int("max-processes", d.MaxProcesses, "process table length (>=2, <=14 owning processes)")
	flags.Int("max-programs", d.MaxPrograms, "program table length (>=2)")
	flags.Int("heap-offset", d.HeapOffset, "bytes of internal RAM reserved for statics")
	flags.Int("stack-size", d.StackSize, "bytes reserved per process stack")
	flags.Duration("tick-period", d.TickPeriod, "scheduler timer compare period")
	flags.String("default-alloc", string(d.DefaultAlloc), "first-fit|next-fit|best-fit|worst-fit")
	flags.Int("internal-heap-use-size", d.InternalUse, "internal heap use-region size in bytes")
	flags.Int("external-heap-use-size", d.ExternalUse, "external heap use-region size in bytes")

	for _, name := range []string{
		"max-processes", "max-programs", "heap-offset", "stack-size",
		"tick-period", "default-alloc", "internal-heap-use-size", "external-heap-use-size",
	} {
		key := strings.ReplaceAll(name, "-", "_")
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return errors.Wrapf(err, "bind flag %s", name)
		}
	}
	return nil
}

// Load seeds v with Default(), merges spos.toml if present, and decodes +
// validates the result.
func Load(v *viper.Viper) (Config, error) {
	d := Default()
	v.SetDefault("max_processes", d.MaxProcesses)
	v.SetDefault("max_programs", d.MaxPrograms)
	v.SetDefault("heap_offset", d.HeapOffset)
	v.SetDefault("stack_size_per_process", d.StackSize)
	v.SetDefault("scheduler_tick_period", d.TickPeriod)
	v.SetDefault("default_allocation_strategy", string(d.DefaultAlloc))
	v.SetDefault("internal_heap_use_size", d.InternalUse)
	v.SetDefault("external_heap_use_size", d.ExternalUse)
	v.SetDefault("external_heap_start", d.ExternalStart)
	v.SetDefault("ack_button_mask", d.AckButtonMask)

	v.SetConfigName("spos")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.SetEnvPrefix("spos")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return Config{}, errors.Wrap(err, "read spos.toml")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode configuration")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the invariants the configuration must satisfy,
// including the owner-encoding bound described in mem.Heap.
func (c Config) Validate() error {
	if c.MaxProcesses < 2 {
		return errors.New("max_processes must be >= 2")
	}
	if c.MaxProcesses-1 > 14 {
		return errors.New("max_processes-1 (owning processes) must be <= 14: the 4-bit owner nibble reserves 0 for free and 0xF for continuation, leaving only ids 1-14 addressable without widening the encoding")
	}
	if c.MaxPrograms < 2 {
		return errors.New("max_programs must be >= 2")
	}
	if c.StackSize < 16 {
		return errors.New("stack_size_per_process must be >= 16")
	}
	if c.TickPeriod <= 0 {
		return errors.New("scheduler_tick_period must be positive")
	}
	switch c.DefaultAlloc {
	case FirstFit, NextFit, BestFit, WorstFit:
	default:
		return errors.Errorf("unknown default_allocation_strategy %q", c.DefaultAlloc)
	}
	if c.InternalUse <= 0 || c.InternalUse%2 != 0 {
		return errors.New("internal_heap_use_size must be positive and even (one map nibble per use byte)")
	}
	if c.ExternalUse <= 0 || c.ExternalUse%2 != 0 {
		return errors.New("external_heap_use_size must be positive and even")
	}
	return nil
}
