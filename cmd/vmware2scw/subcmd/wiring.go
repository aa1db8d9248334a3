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
	"github.com/vmware2scw/vmware2scw/kernel/convert"
	"github.com/vmware2scw/vmware2scw/kernel/engine"
	"github.com/vmware2scw/vmware2scw/kernel/guest"
	"github.com/vmware2scw/vmware2scw/kernel/guest/windows"
	"github.com/vmware2scw/vmware2scw/kernel/hostlock"
	"github.com/vmware2scw/vmware2scw/kernel/model"
	"github.com/vmware2scw/vmware2scw/kernel/objectstore"
	"github.com/vmware2scw/vmware2scw/kernel/runner"
	"github.com/vmware2scw/vmware2scw/kernel/scaleway"
	"github.com/vmware2scw/vmware2scw/kernel/store"
	"github.com/vmware2scw/vmware2scw/kernel/vsphere"
)

func newStore(cfg *model.AppConfig) store.StateStore {
	return store.NewFileStore(cfg.StateDir())
}

// newStages wires the production collaborators behind every stage handler.
func newStages(cfg *model.AppConfig) (*engine.Stages, error) {
	timeout := cfg.Conversion.ToolTimeout
	exec := runner.NewExecRunner(timeout)

	img := convert.NewQemuImg(exec, timeout, cfg.Conversion.CompressQCOW2)
	tools := guest.NewTools(exec, timeout)
	media := &guest.DriverMedia{
		MountDir: cfg.Conversion.VirtioMountDir,
		Mounter:  &guest.LoopMounter{Runner: exec},
		Lock:     hostlock.NewMutexLocker(hostlock.VirtioMountLockName),
	}

	objects, err := objectstore.New(cfg.Scaleway.S3Region, cfg.Scaleway.AccessKey, cfg.Scaleway.SecretKey)
	if err != nil {
		return nil, err
	}

	return &engine.Stages{
		Config:     cfg,
		Hypervisor: vsphere.NewClient(cfg.VMware.Datacenter),
		Disks:      img,
		V2V:        &convert.V2V{Runner: exec, Timeout: timeout, Img: img},
		Guest:      tools,
		Drivers:    windows.NewInjector(tools, media),
		Objects:    objects,
		Importer: func(zone string) (engine.ImageImporter, error) {
			importer, err := scaleway.NewImporter(zone, cfg.Scaleway.AccessKey, cfg.Scaleway.SecretKey, cfg.Scaleway.ProjectId)
			if err != nil {
				return nil, err
			}
			return importer, nil
		},
	}, nil
}

func newPipeline(cfg *model.AppConfig) (*engine.Pipeline, error) {
	stages, err := newStages(cfg)
	if err != nil {
		return nil, err
	}
	executor, err := engine.NewExecutor(stages.Handlers())
	if err != nil {
		return nil, err
	}
	return engine.NewPipeline(newStore(cfg), executor), nil
}
