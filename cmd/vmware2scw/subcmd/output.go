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
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/vmware2scw/vmware2scw/kernel/engine"
	"github.com/vmware2scw/vmware2scw/kernel/model"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

func renderPlan(w io.Writer, plan *model.MigrationPlan, stages []model.PlannedStage) {
	fmt.Fprintf(w, "%s -> %s (%s)\n", plan.VMName, plan.TargetType, plan.Zone)
	t := newTable(w)
	t.AppendHeader(table.Row{"#", "Stage", "Action"})
	for _, s := range stages {
		action := "run"
		if s.Skipped {
			action = "skip"
		}
		t.AppendRow(table.Row{s.Position, s.Stage, action})
	}
	t.Render()
}

func renderResult(w io.Writer, res *engine.Result) {
	t := newTable(w)
	t.AppendRow(table.Row{"Migration", res.MigrationId})
	t.AppendRow(table.Row{"VM", res.VMName})
	if res.Success {
		t.AppendRow(table.Row{"Status", model.StatusCompleted})
	} else {
		t.AppendRow(table.Row{"Status", model.StatusFailed})
		t.AppendRow(table.Row{"Failed stage", res.FailedStage})
		t.AppendRow(table.Row{"Error", res.Error})
	}
	if res.ImageId != "" {
		t.AppendRow(table.Row{"Image", res.ImageId})
	}
	if res.InstanceId != "" {
		t.AppendRow(table.Row{"Instance", res.InstanceId})
	}
	t.AppendRow(table.Row{"Elapsed", res.Duration.Round(time.Second)})
	t.AppendRow(table.Row{"Completed", joinStages(res.CompletedStages)})
	t.Render()
	if !res.Success {
		fmt.Fprintf(w, "resume with: vmware2scw resume %s\n", res.MigrationId)
	}
}

func renderStates(w io.Writer, states []*model.MigrationState) {
	t := newTable(w)
	t.AppendHeader(table.Row{"ID", "VM", "Type", "Zone", "Status", "Stage", "Progress", "Started"})
	for _, s := range states {
		t.AppendRow(table.Row{
			s.MigrationId,
			s.VMName,
			s.TargetType,
			s.Zone,
			s.Status(),
			s.CurrentStage,
			fmt.Sprintf("%d/%d", len(s.CompletedStages), len(model.StagesToRun(s.Plan()))),
			s.StartedAt.Local().Format(time.DateTime),
		})
	}
	t.Render()
}

func renderState(w io.Writer, s *model.MigrationState) {
	fmt.Fprintf(w, "%s %s -> %s (%s): %s\n", s.MigrationId, s.VMName, s.TargetType, s.Zone, s.Status())
	t := newTable(w)
	t.AppendHeader(table.Row{"#", "Stage", "State"})
	for _, p := range model.PlanStages(s.Plan()) {
		state := "pending"
		switch {
		case p.Skipped:
			state = "skipped"
		case s.IsCompleted(p.Stage):
			state = "done"
		case s.Error != "" && s.CurrentStage == p.Stage:
			state = "failed"
		}
		t.AppendRow(table.Row{p.Position, p.Stage, state})
	}
	t.Render()

	a := newTable(w)
	a.AppendHeader(table.Row{"Artifact", "Value"})
	for _, key := range s.Artifacts.Keys() {
		a.AppendRow(table.Row{key, artifactValue(&s.Artifacts, key)})
	}
	if s.Error != "" {
		a.AppendRow(table.Row{"error", s.Error})
	}
	a.Render()
}

func artifactValue(a *model.Artifacts, key string) string {
	switch key {
	case model.ArtifactVMInfo:
		return fmt.Sprintf("%s, %d vCPU, %d MiB, %d disk(s)", a.VMInfo.GuestOS, a.VMInfo.CPU, a.VMInfo.MemoryMB, len(a.VMInfo.Disks))
	case model.ArtifactSnapshotName:
		return a.SnapshotName
	case model.ArtifactVMDKPaths:
		return strings.Join(a.VMDKPaths, "\n")
	case model.ArtifactQCOW2Paths:
		return strings.Join(a.QCOW2Paths, "\n")
	case model.ArtifactVirtioMethod:
		return a.VirtioMethod
	case model.ArtifactBootType:
		return a.BootType
	case model.ArtifactS3Bucket:
		return a.S3Bucket
	case model.ArtifactS3Keys:
		return strings.Join(a.S3Keys, "\n")
	case model.ArtifactScalewaySnapshotId:
		return a.ScalewaySnapshotId
	case model.ArtifactScalewayImageId:
		return a.ScalewayImageId
	case model.ArtifactScalewayInstanceId:
		return a.ScalewayInstanceId
	}
	return ""
}

func joinStages(stages []model.Stage) string {
	names := make([]string, 0, len(stages))
	for _, s := range stages {
		names = append(names, string(s))
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ", ")
}
