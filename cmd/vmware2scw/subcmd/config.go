/*
	(c) Copyright NetFoundry Inc. Inc.

	Licensed under the Apache License, Version 2.0 (the "License");
	you may not use this file except in compliance with the License.
	You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

	Unless required by applicable law or agreed to in writing, software
	distributed under the License is distributed on an "AS IS" BASIS,
	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
	See the License for the specific language governing permissions and
	limitations under the License.
*/

package subcmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/vmware2scw/vmware2scw/kernel/loader"
	"github.com/vmware2scw/vmware2scw/kernel/model"
	"golang.org/x/term"
)

// resolveConfigPath returns path, or ~/.vmware2scw/migration.yaml when empty.
func resolveConfigPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	cfgDir, err := model.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cfgDir, model.ConfigFileName), nil
}

func loadConfig(path string) (*model.AppConfig, error) {
	path, err := resolveConfigPath(path)
	if err != nil {
		return nil, err
	}
	return loader.LoadConfig(path)
}

// ensurePassword prompts for the vCenter password when it is neither in the
// config nor in the environment.
func ensurePassword(cfg *model.AppConfig) error {
	if cfg.VMware.Password != "" || cfg.VMware.VCenter == "" {
		return nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return errors.New("vmware.password is not set and no terminal is available (set VMWARE2SCW_VMWARE_PASSWORD)")
	}

	fmt.Fprintf(os.Stderr, "Password for %s@%s: ", cfg.VMware.Username, cfg.VMware.VCenter)
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return errors.Wrap(err, "unable to read password")
	}
	cfg.VMware.Password = string(password)
	return nil
}
