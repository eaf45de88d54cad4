package compiler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	units "github.com/docker/go-units"

	"github.com/ChamsBouzaiene/stcodegen/internal/model"
)

const defaultSandboxTimeout = 30 * time.Second

// LocalSandboxClient implements Client by running a user-supplied ST
// compile-check tool inside a sandboxed, network-disabled Docker container,
// for development and testing without a live CODESYS instance. It exposes
// the same Client interface as HTTPClient so callers need not know which
// backend they're pointed at.
type LocalSandboxClient struct {
	cli        *client.Client
	image      string
	scriptPath string // path, inside the container, to the mock compiler entrypoint
}

// NewLocalSandboxClient connects to the local Docker daemon. image is the
// container image carrying the mock compile-check tool; scriptPath is its
// entrypoint inside that image, invoked as `scriptPath <code-file>`.
func NewLocalSandboxClient(image, scriptPath string) (*LocalSandboxClient, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("compiler: docker client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("compiler: docker daemon not accessible: %w", err)
	}
	return &LocalSandboxClient{cli: cli, image: image, scriptPath: scriptPath}, nil
}

func (s *LocalSandboxClient) SyntaxCheck(ctx context.Context, projectPath, blockName, stCode, endpoint string) (model.CompileResponse, error) {
	workDir, err := os.MkdirTemp("", "stcodegen-sandbox-*")
	if err != nil {
		return systemErrorResponse(), nil
	}
	defer os.RemoveAll(workDir)

	codeFile := filepath.Join(workDir, blockName+".st")
	if err := os.WriteFile(codeFile, []byte(stCode), 0o644); err != nil {
		return systemErrorResponse(), nil
	}

	stdout, stderr, exitCode, err := s.run(ctx, workDir, blockName+".st")
	if err != nil {
		return systemErrorResponse(), nil
	}

	raw := parseMockCompilerOutput(stdout, stderr, exitCode)
	return Normalize(raw, stCode), nil
}

func (s *LocalSandboxClient) run(ctx context.Context, workDir, codeFileName string) (stdout, stderr string, exitCode int, err error) {
	if err := s.ensureImage(ctx); err != nil {
		return "", "", 0, err
	}

	absWorkDir, err := filepath.Abs(workDir)
	if err != nil {
		return "", "", 0, err
	}

	containerConfig := &container.Config{
		Image:           s.image,
		Cmd:             []string{s.scriptPath, "/workspace/" + codeFileName},
		WorkingDir:      "/workspace",
		User:            "1000:1000",
		Env:             []string{"HOME=/tmp"},
		NetworkDisabled: true,
	}
	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{{Type: mount.TypeBind, Source: absWorkDir, Target: "/workspace"}},
		Resources: container.Resources{
			Memory:   512 * 1024 * 1024,
			NanoCPUs: 1e9,
			Ulimits:  []*units.Ulimit{{Name: "nofile", Soft: 1024, Hard: 1024}},
		},
		SecurityOpt:    []string{"no-new-privileges"},
		CapDrop:        []string{"ALL"},
		ReadonlyRootfs: true,
		Tmpfs:          map[string]string{"/tmp": "rw,noexec,nosuid,size=50m"},
		AutoRemove:     true,
	}

	createResp, err := s.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return "", "", 0, fmt.Errorf("compiler: container create: %w", err)
	}
	containerID := createResp.ID
	defer func() {
		removeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.cli.ContainerRemove(removeCtx, containerID, container.RemoveOptions{Force: true})
	}()

	execCtx, cancel := context.WithTimeout(ctx, defaultSandboxTimeout)
	defer cancel()

	if err := s.cli.ContainerStart(execCtx, containerID, container.StartOptions{}); err != nil {
		return "", "", 0, fmt.Errorf("compiler: container start: %w", err)
	}

	statusCh, errCh := s.cli.ContainerWait(execCtx, containerID, container.WaitConditionNotRunning)
	select {
	case <-execCtx.Done():
		killCtx, killCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer killCancel()
		_ = s.cli.ContainerKill(killCtx, containerID, "SIGKILL")
		return "", "", 0, execCtx.Err()
	case err := <-errCh:
		if err != nil {
			return "", "", 0, fmt.Errorf("compiler: container wait: %w", err)
		}
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	}

	logs, err := s.cli.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true, Tail: "all"})
	if err != nil {
		return "", "", 0, fmt.Errorf("compiler: container logs: %w", err)
	}
	defer logs.Close()

	stdout, stderr = demuxLogs(logs)
	return stdout, stderr, exitCode, nil
}

func (s *LocalSandboxClient) ensureImage(ctx context.Context) error {
	if _, _, err := s.cli.ImageInspectWithRaw(ctx, s.image); err == nil {
		return nil
	}
	reader, err := s.cli.ImagePull(ctx, s.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("compiler: pull image %s: %w", s.image, err)
	}
	defer reader.Close()
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

// demuxLogs separates Docker's multiplexed stdout/stderr stream.
func demuxLogs(r io.Reader) (stdout, stderr string) {
	var outParts, errParts []string
	for {
		header := make([]byte, 8)
		n, err := r.Read(header)
		if n < 8 || err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		streamType := header[0]
		size := int(header[4])<<24 | int(header[5])<<16 | int(header[6])<<8 | int(header[7])
		if size <= 0 || size > 10*1024*1024 {
			continue
		}
		payload := make([]byte, size)
		n, err = r.Read(payload)
		if n != size || err != nil {
			break
		}
		content := strings.TrimSuffix(string(payload), "\n")
		if streamType == 1 {
			outParts = append(outParts, content)
		} else if streamType == 2 {
			errParts = append(errParts, content)
		}
	}
	return strings.Join(outParts, "\n"), strings.Join(errParts, "\n")
}

// parseMockCompilerOutput treats a non-zero exit as a single synthetic
// implementation error (IsDef false, Path 0) carrying the first non-empty
// line of the tool's stderr (or stdout), and exit 0 as success. Real
// mock-compiler images are expected to emit one JSON RawCompileResponse
// line on stdout; that takes precedence when present.
func parseMockCompilerOutput(stdout, stderr string, exitCode int) model.RawCompileResponse {
	if raw, ok := tryParseJSONResponse(stdout); ok {
		return raw
	}
	if exitCode == 0 {
		return model.RawCompileResponse{Success: true}
	}
	return model.RawCompileResponse{
		Success: false,
		Errors: []model.RawCompileError{
			{ErrorDesc: firstNonEmptyLine(stderr, stdout), IsDef: false, Path: 0},
		},
	}
}

func firstNonEmptyLine(candidates ...string) string {
	for _, c := range candidates {
		for _, line := range strings.Split(c, "\n") {
			if strings.TrimSpace(line) != "" {
				return line
			}
		}
	}
	return "sandbox compiler reported a failure with no output"
}

func tryParseJSONResponse(stdout string) (model.RawCompileResponse, bool) {
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" || trimmed[0] != '{' {
		return model.RawCompileResponse{}, false
	}
	var raw model.RawCompileResponse
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return model.RawCompileResponse{}, false
	}
	return raw, true
}
