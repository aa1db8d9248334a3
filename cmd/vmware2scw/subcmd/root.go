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
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/michaelquigley/pfxlog"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var Version = "dev"

var verbose bool

var RootCmd = &cobra.Command{
	Use:   "vmware2scw",
	Short: "Migrate VMware vSphere virtual machines to Scaleway instances",
	Long: `vmware2scw exports a powered-off or snapshotted vSphere VM, converts its disks
to qcow2, prepares the guest for KVM (virtio drivers, bootloader, UEFI) and
imports it as a Scaleway image. Every stage is checkpointed, so an interrupted
migration continues with 'vmware2scw resume ID'.`,
	SilenceUsage: true,
	Version:      Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := logrus.InfoLevel
		if verbose {
			level = logrus.DebugLevel
		}
		pfxlog.GlobalInit(level, pfxlog.DefaultOptions().SetTrimPrefix("github.com/vmware2scw/").NoColor())
	},
}

func init() {
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging, including external tool output")
}

// Execute runs the command line. SIGINT and SIGTERM cancel the running stage;
// the migration stays resumable from its last checkpoint.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return RootCmd.ExecuteContext(ctx)
}
