// Package hwconf holds the configuration shared by the pciaccess tools.
//
// Configuration comes from an optional YAML file named by --config, with
// command line flags taking precedence over the file:
//
//	backend: auto
//	sysfs_root: /sys
//	map_method: mmap
//	verbosity: 1
//	rules:
//	  - vendor: "8086"
//	    class: "0200"
//	    tag: intel-nic
package hwconf

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/lprylli/pciaccess/pci"
)

// Config is the tool configuration.
type Config struct {
	// Backend is auto, sysfs or devpci.
	Backend string `yaml:"backend"`

	// SysfsRoot is where sysfs is mounted. Tests point it at a synthetic
	// tree.
	SysfsRoot string `yaml:"sysfs_root"`

	// MapMethod is mmap, file or devmem.
	MapMethod string `yaml:"map_method"`

	Verbosity int `yaml:"verbosity"`

	// Rules select devices; the tag of the first matching rule is reported
	// with the device.
	Rules []Rule `yaml:"rules"`
}

// Rule is one device match rule. Ids are hexadecimal, empty or "*" for
// any. Class is HEX[/MASK] as in pci.ParseFilter.
type Rule struct {
	Vendor    string `yaml:"vendor"`
	Device    string `yaml:"device"`
	Subvendor string `yaml:"subvendor"`
	Subdevice string `yaml:"subdevice"`
	Class     string `yaml:"class"`
	Tag       string `yaml:"tag"`
}

func Default() *Config {
	return &Config{Backend: "auto", MapMethod: "mmap"}
}

// Load reads a configuration file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes a YAML configuration. Unknown keys are errors.
func Parse(data []byte) (*Config, error) {
	c := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	switch c.Backend {
	case "", "auto", "sysfs", "devpci":
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if _, err := pci.ParseMapMethod(c.MapMethod); err != nil {
		return err
	}
	if c.Verbosity < 0 {
		return fmt.Errorf("negative verbosity %d", c.Verbosity)
	}
	_, err := c.MatchRules()
	return err
}

// MatchRules converts the rules into a pci.Pattern. The tag of each rule
// becomes the Data of its Match.
func (c *Config) MatchRules() (pci.Rules, error) {
	rules := make(pci.Rules, 0, len(c.Rules))
	for i, r := range c.Rules {
		var terms []string
		for _, kv := range [][2]string{
			{"vendor", r.Vendor}, {"device", r.Device},
			{"subvendor", r.Subvendor}, {"subdevice", r.Subdevice},
			{"class", r.Class},
		} {
			if kv[1] != "" {
				terms = append(terms, kv[0]+"="+kv[1])
			}
		}
		f, err := pci.ParseFilter(strings.Join(terms, " "))
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		m := f.Match
		m.Data = r.Tag
		rules = append(rules, m)
	}
	return rules, nil
}

// Logger returns a logger over the standard log package at the configured
// verbosity.
func (c *Config) Logger() logr.Logger {
	stdr.SetVerbosity(c.Verbosity)
	return stdr.New(log.New(os.Stderr, "", log.LstdFlags))
}

// Options returns the System options for the configured host backend.
func (c *Config) Options() ([]pci.Option, error) {
	method, err := pci.ParseMapMethod(c.MapMethod)
	if err != nil {
		return nil, err
	}
	return []pci.Option{
		pci.WithHost(pci.HostConfig{Backend: c.Backend, SysfsRoot: c.SysfsRoot, MapMethod: method}),
		pci.WithLogger(c.Logger()),
	}, nil
}

// AddFlags registers the flags understood by FromFlags.
func AddFlags(fs *pflag.FlagSet) {
	fs.String("config", os.Getenv("PCIACCESS_CONFIG"), "configuration file")
	fs.String("backend", "auto", "host backend: auto, sysfs or devpci")
	fs.String("sysfs-root", "", "sysfs mount point")
	fs.String("map-method", "mmap", "region mapping: mmap, file or devmem")
	fs.CountP("verbose", "v", "increase verbosity")
}

// FromFlags loads the file named by --config, if any, then applies the
// flags given on the command line.
func FromFlags(fs *pflag.FlagSet) (*Config, error) {
	c := Default()
	if path, _ := fs.GetString("config"); path != "" {
		var err error
		if c, err = Load(path); err != nil {
			return nil, err
		}
	}
	if f := fs.Lookup("backend"); f != nil && f.Changed {
		c.Backend = f.Value.String()
	}
	if f := fs.Lookup("sysfs-root"); f != nil && f.Changed {
		c.SysfsRoot = f.Value.String()
	}
	if f := fs.Lookup("map-method"); f != nil && f.Changed {
		c.MapMethod = f.Value.String()
	}
	if f := fs.Lookup("verbose"); f != nil && f.Changed {
		c.Verbosity, _ = fs.GetCount("verbose")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
