// Package systool provides tools to launch applications and to describe the host system.
package systool

import (
	"context"
	"os/exec"
	"runtime"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/mcp"
	"github.com/effective-security/toolchat/tools"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

type LaunchAppRequest struct {
	AppName string `json:"appName" jsonschema:"description=Name or path of the application to launch"`
}

type SystemInfoRequest struct{}

// CPU describes a processor
type CPU struct {
	ModelName string  `json:"model"`
	Mhz       float64 `json:"speed"`
	Cores     int32   `json:"cores"`
}

// Memory describes the memory in bytes
type Memory struct {
	Total uint64 `json:"total"`
	Free  uint64 `json:"free"`
}

// SystemInfo is the result of getSystemInfo
type SystemInfo struct {
	Platform     string `json:"platform"`
	Architecture string `json:"architecture"`
	GoVersion    string `json:"goVersion"`
	Hostname     string `json:"hostname,omitempty"`
	OS           string `json:"os,omitempty"`
	CPUs         []CPU  `json:"cpus"`
	Memory       Memory `json:"memory"`
}

// CommandRunner runs the command and returns its standard output
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Option configures the system tools
type Option func(*Tools)

// WithCommandRunner replaces the command runner used to launch applications
func WithCommandRunner(run CommandRunner) Option {
	return func(t *Tools) {
		t.run = run
	}
}

// WithPlatform overrides the platform used to build the launch command
func WithPlatform(goos string) Option {
	return func(t *Tools) {
		t.goos = goos
	}
}

// Tools is the group of system tools
type Tools struct {
	run  CommandRunner
	goos string
}

var _ tools.Group = (*Tools)(nil)

func New(opts ...Option) *Tools {
	t := &Tools{
		run:  runCommand,
		goos: runtime.GOOS,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tools) Name() string {
	return "system"
}

func (t *Tools) Description() string {
	return "Launch applications and get information about the system"
}

func (t *Tools) RegisterTools(r tools.Registrar) error {
	if err := r.RegisterTool("launchApp", "Launch an application", t.LaunchApp); err != nil {
		return err
	}
	return r.RegisterTool("getSystemInfo", "Get information about the system", t.GetSystemInfo)
}

// LaunchCommand returns the command that launches the application on the platform
func LaunchCommand(goos, appName string) (string, []string) {
	switch goos {
	case "windows":
		return "cmd", []string{"/C", "start", "", appName}
	case "darwin":
		return "open", []string{"-a", appName}
	default:
		fields := strings.Fields(appName)
		if len(fields) == 0 {
			return "", nil
		}
		return fields[0], fields[1:]
	}
}

func (t *Tools) LaunchApp(ctx context.Context, req LaunchAppRequest) (*mcp.ToolResponse, error) {
	name, args := LaunchCommand(t.goos, strings.TrimSpace(req.AppName))
	if name == "" {
		return tools.Textf("Error launching application: application name is required"), nil
	}

	out, err := t.run(ctx, name, args...)
	if err != nil {
		return tools.Textf("Error launching application: %s", err.Error()), nil
	}

	output := strings.TrimSpace(string(out))
	if output == "" {
		output = "No output"
	}
	return tools.Textf("Application launched successfully. Output: %s", output), nil
}

func (t *Tools) GetSystemInfo(ctx context.Context, _ SystemInfoRequest) (*mcp.ToolResponse, error) {
	info, err := CollectSystemInfo(ctx)
	if err != nil {
		return tools.Textf("Error getting system info: %s", err.Error()), nil
	}
	return tools.JSONResponse(info), nil
}

// CollectSystemInfo returns platform, CPU and memory information of the host
func CollectSystemInfo(ctx context.Context) (*SystemInfo, error) {
	info := &SystemInfo{
		Platform:     runtime.GOOS,
		Architecture: runtime.GOARCH,
		GoVersion:    runtime.Version(),
		CPUs:         []CPU{},
	}

	if hi, err := host.InfoWithContext(ctx); err == nil {
		info.Hostname = hi.Hostname
		info.OS = strings.TrimSpace(hi.Platform + " " + hi.PlatformVersion)
	}

	cpus, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get CPU info")
	}
	for _, c := range cpus {
		info.CPUs = append(info.CPUs, CPU{
			ModelName: c.ModelName,
			Mhz:       c.Mhz,
			Cores:     c.Cores,
		})
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get memory info")
	}
	info.Memory = Memory{
		Total: vm.Total,
		Free:  vm.Free,
	}
	return info, nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return out, nil
}
