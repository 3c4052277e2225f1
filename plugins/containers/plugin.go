// Package containers runs caller commands inside ephemeral, locked-down
// containers. Containers get no network, a read-only root, and the
// resource caps from configuration; they are removed when the command
// exits.
package containers

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/datamancy/toolhost/pkg/catalog"
	"github.com/datamancy/toolhost/pkg/hosterror"
	"github.com/datamancy/toolhost/pkg/plugin"
)

const defaultRunTimeout = 60 * time.Second

// Plugin provides the run_container and list_containers tools.
type Plugin struct {
	host *plugin.HostContext
}

// New creates the plugin.
func New() *Plugin {
	return &Plugin{}
}

func (p *Plugin) Manifest() plugin.Manifest {
	return plugin.Manifest{
		ID:          "container-tools",
		Name:        "Container Tools",
		Version:     "1.0.0",
		Description: "Ephemeral sandboxed command execution in containers",
		Requires:    plugin.Requires{APIVersion: ">=1.0.0"},
		Capabilities: []plugin.Capability{
			plugin.CapabilityProcessSpawn,
		},
	}
}

func (p *Plugin) Init(ctx context.Context, host *plugin.HostContext) error {
	binary := host.Config.Containers.Binary
	if binary == "" {
		return fmt.Errorf("container runtime binary is not configured")
	}
	if _, err := exec.LookPath(binary); err != nil {
		return fmt.Errorf("container runtime %q not found: %w", binary, err)
	}
	p.host = host
	return nil
}

func (p *Plugin) RegisterTools(cat *catalog.Catalog) error {
	if err := cat.Register(catalog.Definition{
		Name:        "run_container",
		Description: "Run a command in an ephemeral container with no network and a read-only filesystem.",
		PluginID:    p.Manifest().ID,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"minItems":    1,
					"description": "Command and arguments, exec-style",
				},
				"image": map[string]any{
					"type":        "string",
					"description": "Image to run; the configured default otherwise",
				},
				"stdin": map[string]any{
					"type":        "string",
					"description": "Text piped to the command's standard input",
				},
			},
			"required":             []string{"command"},
			"additionalProperties": false,
		},
	}, p.handleRun); err != nil {
		return err
	}

	return cat.Register(catalog.Definition{
		Name:        "list_containers",
		Description: "List containers currently running on the host runtime.",
		PluginID:    p.Manifest().ID,
		Parameters: map[string]any{
			"type":                 "object",
			"additionalProperties": false,
		},
	}, p.handleList)
}

func (p *Plugin) handleRun(ctx context.Context, args map[string]any, caller string) (any, error) {
	raw, _ := args["command"].([]any)
	command := make([]string, len(raw))
	for i, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, hosterror.ValidationError("command element %d is not a string", i)
		}
		command[i] = s
	}

	cfg := p.host.Config.Containers
	image := cfg.DefaultImage
	if v, ok := args["image"].(string); ok && v != "" {
		image = v
	}
	if image == "" {
		return nil, hosterror.ValidationError("no image given and no default image configured")
	}
	stdin, _ := args["stdin"].(string)

	timeout := cfg.RunTimeout
	if timeout <= 0 {
		timeout = defaultRunTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := runCommand(runCtx, cfg.Binary, buildRunArgs(cfg, image, command), stdin)
	if err != nil {
		return nil, err
	}

	p.host.Logger.Debug().
		Str("image", image).
		Str("caller", caller).
		Int("exit_code", result.ExitCode).
		Dur("duration", result.Duration).
		Msg("Container run finished")

	return result, nil
}

// containerInfo is one line of `docker ps --format json` output.
type containerInfo struct {
	ID     string `json:"ID"`
	Image  string `json:"Image"`
	Status string `json:"Status"`
	Names  string `json:"Names"`
}

func (p *Plugin) handleList(ctx context.Context, args map[string]any, caller string) (any, error) {
	cfg := p.host.Config.Containers
	result, err := runCommand(ctx, cfg.Binary, []string{"ps", "--format", "json"}, "")
	if err != nil {
		return nil, err
	}
	if result.ExitCode != 0 {
		return nil, hosterror.Backendf("container runtime failed: %s", result.Stderr)
	}

	containers := []containerInfo{}
	for _, line := range strings.Split(result.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var info containerInfo
		if err := json.Unmarshal([]byte(line), &info); err != nil {
			return nil, hosterror.Backendf("unexpected container runtime output: %v", err)
		}
		containers = append(containers, info)
	}
	return map[string]any{"containers": containers}, nil
}
