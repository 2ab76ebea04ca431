package plugins

import (
	"github.com/jrife/versionkv/storage/kv"
	"github.com/jrife/versionkv/storage/kv/plugins/bbolt"
	"github.com/jrife/versionkv/storage/kv/plugins/pebble"
)

var plugins []kv.Plugin

func init() {
	plugins = append(plugins, &kv.MemoryPlugin{})
	plugins = append(plugins, bbolt.Plugins()...)
	plugins = append(plugins, pebble.Plugins()...)
}

// Plugin returns the plugin whose name matches the given name.
// It returns nil if no such plugin is found.
func Plugin(name string) kv.Plugin {
	for _, plugin := range plugins {
		if plugin.Name() == name {
			return plugin
		}
	}

	return nil
}

// Plugins lists all the plugins that are available
func Plugins() []kv.Plugin {
	return plugins
}
