// Package app provides the application initialization and wiring.
package app

import (
	"github.com/spf13/viper"
)

// ConfigureViper sets up viper with standard config file search paths.
// Config file: prtl.yaml
// Search paths (in order): /etc/prtl, ~/.config/prtl, current directory
func ConfigureViper(v *viper.Viper, configPath string) {
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("prtl")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/prtl")
		v.AddConfigPath("$HOME/.config/prtl")
		v.AddConfigPath(".")
	}
}
