package hypervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

const virtualizationNamespace = `root\virtualization\v2`

// hypervDriver implements Platform by scripting the Hyper-V PowerShell module.
type hypervDriver struct {
	runner Runner
	host   string
}

func newHyperVDriver(runner Runner, host string) *hypervDriver {
	if host == "" {
		host = "localhost"
	}
	return &hypervDriver{runner: runner, host: host}
}

func (d *hypervDriver) Info() Info {
	return Info{
		Name:    BackendHyperV,
		Version: "1.0.0",
		Host:    d.host,
	}
}

// Close releases the runner's connection, if it holds one.
func (d *hypervDriver) Close() error {
	if c, ok := d.runner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// psQuote renders s as a single-quoted PowerShell literal.
func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// winJoin joins Windows path elements; the host may not be the machine we run on.
func winJoin(dir, name string) string {
	return strings.TrimRight(dir, `\/`) + `\` + name
}

// vmSelect projects a VM object onto the Entity JSON shape.
const vmSelect = `Select-Object @{n='id';e={$_.VMId.Guid}}, @{n='name';e={$_.Name}}, @{n='path';e={$_.Path}}, @{n='state';e={"$($_.State)"}} | ConvertTo-Json -Compress`

func (d *hypervDriver) run(ctx context.Context, script string) ([]byte, error) {
	return d.runner.Run(ctx, "$ErrorActionPreference = 'Stop'\n"+script)
}

func decodeEntity(out []byte) (*Entity, error) {
	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return nil, ErrVMNotFound
	}
	var e Entity
	if err := json.Unmarshal(out, &e); err != nil {
		return nil, fmt.Errorf("parse VM: %w", err)
	}
	return &e, nil
}

func (d *hypervDriver) Export(ctx context.Context, spec ExportSpec) (*Entity, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Export-VM -Name %s -Path %s", psQuote(spec.Name), psQuote(spec.Path))
	if spec.CaptureLiveState != "" {
		fmt.Fprintf(&b, " -CaptureLiveState %s", spec.CaptureLiveState)
	}
	fmt.Fprintf(&b, "\nGet-VM -Name %s | %s", psQuote(spec.Name), vmSelect)

	out, err := d.run(ctx, b.String())
	if err != nil {
		return nil, fmt.Errorf("export VM: %w", err)
	}
	return decodeEntity(out)
}

func (d *hypervDriver) Import(ctx context.Context, spec ImportSpec) (*Entity, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "$vm = Import-VM -Path %s", psQuote(spec.ConfigPath))
	switch spec.Mode {
	case ImportRegister:
		b.WriteString(" -Register")
	case ImportRestore:
		// Restore is Import-VM's default parameter set.
	default:
		dest := spec.Destination
		fmt.Fprintf(&b, " -Copy -VirtualMachinePath %s -SnapshotFilePath %s -SmartPagingFilePath %s -VhdDestinationPath %s",
			psQuote(dest), psQuote(dest), psQuote(dest), psQuote(winJoin(dest, VirtualHardDisksDir)))
		if spec.GenerateNewID {
			b.WriteString(" -GenerateNewId")
		}
	}
	fmt.Fprintf(&b, "\n$vm | %s", vmSelect)

	out, err := d.run(ctx, b.String())
	if err != nil {
		return nil, fmt.Errorf("import VM: %w", err)
	}
	return decodeEntity(out)
}

// cimJob is the JSON shape of an Msvm_ConcreteJob projection.
type cimJob struct {
	InstanceID       string `json:"InstanceID"`
	Caption          string `json:"Caption"`
	Description      string `json:"Description"`
	ElementName      string `json:"ElementName"`
	JobState         int    `json:"JobState"`
	PercentComplete  int    `json:"PercentComplete"`
	StartTime        string `json:"StartTime"`
	ErrorDescription string `json:"ErrorDescription"`
}

func (j cimJob) job() Job {
	job := Job{
		ID:               j.InstanceID,
		Caption:          j.Caption,
		Description:      j.Description,
		ElementName:      j.ElementName,
		State:            JobStateFromCIM(j.JobState),
		PercentComplete:  j.PercentComplete,
		ErrorDescription: j.ErrorDescription,
	}
	if t, err := time.Parse(time.RFC3339Nano, j.StartTime); err == nil {
		job.StartTime = t
	}
	return job
}

const jobSelect = `Select-Object InstanceID, Caption, Description, ElementName, JobState, PercentComplete, @{n='StartTime';e={ if ($_.StartTime) { $_.StartTime.ToUniversalTime().ToString('o') } }}, ErrorDescription`

func jobQuery(filter string) string {
	q := fmt.Sprintf("Get-CimInstance -Namespace %s -ClassName Msvm_ConcreteJob", psQuote(virtualizationNamespace))
	if filter != "" {
		q += " -Filter " + psQuote(filter)
	}
	return q
}

// wqlQuote escapes a value for a WQL string literal in double quotes.
func wqlQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

func (d *hypervDriver) ListJobs(ctx context.Context) ([]Job, error) {
	script := fmt.Sprintf("$jobs = @(%s | %s)\nConvertTo-Json -Compress -InputObject $jobs", jobQuery(""), jobSelect)
	out, err := d.run(ctx, script)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return nil, nil
	}
	var raw []cimJob
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("parse jobs: %w", err)
	}
	jobs := make([]Job, 0, len(raw))
	for _, j := range raw {
		jobs = append(jobs, j.job())
	}
	return jobs, nil
}

func (d *hypervDriver) GetJob(ctx context.Context, id string) (*Job, error) {
	script := fmt.Sprintf("%s | %s | ConvertTo-Json -Compress", jobQuery("InstanceID="+wqlQuote(id)), jobSelect)
	out, err := d.run(ctx, script)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return nil, ErrJobNotFound
	}
	var raw cimJob
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("parse job: %w", err)
	}
	job := raw.job()
	return &job, nil
}

func (d *hypervDriver) CancelJob(ctx context.Context, id string) error {
	// RequestStateChange(4) is CIM_ConcreteJob's Terminate request.
	script := fmt.Sprintf("$job = %s\nif (-not $job) { throw 'job not found' }\nInvoke-CimMethod -InputObject $job -MethodName RequestStateChange -Arguments @{ RequestedState = [uint16]4 } | Out-Null",
		jobQuery("InstanceID="+wqlQuote(id)))
	if _, err := d.run(ctx, script); err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	return nil
}

func (d *hypervDriver) FindVM(ctx context.Context, name string) (*Entity, error) {
	script := fmt.Sprintf("$vm = Get-VM -Name %s -ErrorAction SilentlyContinue\nif ($vm) { $vm | %s }", psQuote(name), vmSelect)
	out, err := d.run(ctx, script)
	if err != nil {
		return nil, fmt.Errorf("find VM: %w", err)
	}
	return decodeEntity(out)
}

func (d *hypervDriver) GetVM(ctx context.Context, id string) (*Entity, error) {
	script := fmt.Sprintf("$vm = Get-VM -Id %s -ErrorAction SilentlyContinue\nif ($vm) { $vm | %s }", psQuote(id), vmSelect)
	out, err := d.run(ctx, script)
	if err != nil {
		return nil, fmt.Errorf("get VM: %w", err)
	}
	return decodeEntity(out)
}

// ListVMs returns every VM registered on the host.
func (d *hypervDriver) ListVMs(ctx context.Context) ([]Entity, error) {
	script := "$vms = @(Get-VM | ForEach-Object { [pscustomobject]@{ id = $_.VMId.Guid; name = $_.Name; path = $_.Path; state = \"$($_.State)\" } })\nConvertTo-Json -Compress -InputObject $vms"
	out, err := d.run(ctx, script)
	if err != nil {
		return nil, fmt.Errorf("list VMs: %w", err)
	}

	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return nil, nil
	}
	var vms []Entity
	if err := json.Unmarshal(out, &vms); err != nil {
		return nil, fmt.Errorf("parse VMs: %w", err)
	}
	return vms, nil
}

func (d *hypervDriver) RenameVM(ctx context.Context, id, newName string) error {
	if _, err := d.run(ctx, fmt.Sprintf("Get-VM -Id %s | Rename-VM -NewName %s", psQuote(id), psQuote(newName))); err != nil {
		return fmt.Errorf("rename VM: %w", err)
	}
	return nil
}

func (d *hypervDriver) MoveStorage(ctx context.Context, id, path string) error {
	if _, err := d.run(ctx, fmt.Sprintf("Get-VM -Id %s | Move-VMStorage -DestinationStoragePath %s", psQuote(id), psQuote(path))); err != nil {
		return fmt.Errorf("move VM storage: %w", err)
	}
	return nil
}

func (d *hypervDriver) ListDisks(ctx context.Context, id string) ([]Disk, error) {
	script := fmt.Sprintf("$disks = @(Get-VM -Id %s | Get-VMHardDiskDrive | Where-Object { $_.Path } | ForEach-Object { [pscustomobject]@{ path = $_.Path; size = (Get-Item -LiteralPath $_.Path).Length } })\nConvertTo-Json -Compress -InputObject $disks",
		psQuote(id))
	out, err := d.run(ctx, script)
	if err != nil {
		return nil, fmt.Errorf("list disks: %w", err)
	}

	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return nil, nil
	}
	var disks []Disk
	if err := json.Unmarshal(out, &disks); err != nil {
		return nil, fmt.Errorf("parse disks: %w", err)
	}
	return disks, nil
}
