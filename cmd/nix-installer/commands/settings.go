package commands

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/openfroyo/nixinstaller/pkg/config"
)

// settingsFlags overlay a settings file with command line values. Only
// flags that were set override the file.
type settingsFlags struct {
	file   string
	values config.InstallSettings
}

func (f *settingsFlags) register(fs *pflag.FlagSet) {
	d := config.DefaultSettings()
	fs.StringVarP(&f.file, "settings", "s", "", "settings file (.yaml, .yml, .json or .cue)")
	fs.IntVar(&f.values.DaemonUserCount, "daemon-user-count", d.DaemonUserCount, "number of build users to create")
	fs.StringVar(&f.values.NixBuildGroupName, "nix-build-group-name", d.NixBuildGroupName, "build group name")
	fs.IntVar(&f.values.NixBuildGroupID, "nix-build-group-id", d.NixBuildGroupID, "build group gid")
	fs.StringVar(&f.values.NixBuildUserPrefix, "nix-build-user-prefix", d.NixBuildUserPrefix, "build user name prefix")
	fs.IntVar(&f.values.NixBuildUserIDBase, "nix-build-user-id-base", d.NixBuildUserIDBase, "uid of the first build user")
	fs.StringVar(&f.values.NixPackageURL, "nix-package-url", d.NixPackageURL, "Nix binary tarball to install")
	fs.StringVar(&f.values.NixPackageSHA256, "nix-package-sha256", "", "expected SHA-256 of the tarball")
	fs.StringVar(&f.values.NixRoot, "nix-root", d.NixRoot, "Nix store root")
	fs.StringVar(&f.values.NixConfPath, "nix-conf-path", d.NixConfPath, "where nix.conf is written")
	fs.StringArrayVar(&f.values.ExtraConf, "extra-conf", nil, "extra nix.conf line (repeatable)")
	fs.BoolVar(&f.values.StartDaemon, "start-daemon", d.StartDaemon, "link and enable the nix-daemon units")
}

// load reads the settings file, if any, and applies the flags that were set.
func (f *settingsFlags) load(cmd *cobra.Command) (config.InstallSettings, error) {
	s := config.DefaultSettings()
	if f.file != "" {
		var err error
		if s, err = config.LoadFile(f.file, s); err != nil {
			return s, err
		}
	}

	fs := cmd.Flags()
	overrides := map[string]func(){
		"daemon-user-count":      func() { s.DaemonUserCount = f.values.DaemonUserCount },
		"nix-build-group-name":   func() { s.NixBuildGroupName = f.values.NixBuildGroupName },
		"nix-build-group-id":     func() { s.NixBuildGroupID = f.values.NixBuildGroupID },
		"nix-build-user-prefix":  func() { s.NixBuildUserPrefix = f.values.NixBuildUserPrefix },
		"nix-build-user-id-base": func() { s.NixBuildUserIDBase = f.values.NixBuildUserIDBase },
		"nix-package-url":        func() { s.NixPackageURL = f.values.NixPackageURL },
		"nix-package-sha256":     func() { s.NixPackageSHA256 = f.values.NixPackageSHA256 },
		"nix-root":               func() { s.NixRoot = f.values.NixRoot },
		"nix-conf-path":          func() { s.NixConfPath = f.values.NixConfPath },
		"extra-conf":             func() { s.ExtraConf = append(s.ExtraConf, f.values.ExtraConf...) },
		"start-daemon":           func() { s.StartDaemon = f.values.StartDaemon },
	}
	for name, apply := range overrides {
		if fs.Changed(name) {
			apply()
		}
	}
	return s, nil
}
