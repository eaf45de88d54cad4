// Command stcodegen runs the retrieval-augmented Structured Text
// generation and repair pipeline against one or more CODESYS projects.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"

	"github.com/ChamsBouzaiene/stcodegen/internal/compiler"
	"github.com/ChamsBouzaiene/stcodegen/internal/config"
	"github.com/ChamsBouzaiene/stcodegen/internal/llm"
	"github.com/ChamsBouzaiene/stcodegen/internal/model"
	"github.com/ChamsBouzaiene/stcodegen/internal/orchestrator"
	"github.com/ChamsBouzaiene/stcodegen/internal/retriever"
)

func main() {
	_ = godotenv.Load()

	if err := run(os.Args[1:]); err != nil {
		log.Fatalf("stcodegen: %v", err)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("stcodegen", flag.ExitOnError)
	projectFlag := fs.String("project", "", "comma-separated list of project root directories")
	resultDir := fs.String("result_dir", "", "run identifier under the output directory (default: a fresh uuid)")
	outputRoot := fs.String("output", "output", "root directory for run artifacts")
	endpoint := fs.String("endpoint", envOr("CODESYS_API_URL", "http://127.0.0.1:8080"), "CODESYS compile service base URL")
	referenceRoot := fs.String("reference_root", "", "ground-truth root for CodeBLEU evaluation")
	libraryDir := fs.String("library_dir", "", "directory of library documentation snippets for the repair loop")
	topK := fs.Int("top_k", 0, "retrieval depth (0 = use resolved config default)")
	maxVerifyCount := fs.Int("max_verify_count", 0, "auto-repair iteration budget (0 = use resolved config default)")
	numSamples := fs.Int("num_samples", 1, "candidates to sample per case")
	skipRetrieve := fs.Bool("skip_retrieve", false, "skip the retrieval stage")
	skipPlan := fs.Bool("skip_plan", false, "skip the planning stage")
	skipGeneration := fs.Bool("skip_generation", false, "skip the generation stage")
	skipFix := fs.Bool("skip_fix", false, "skip the auto-repair stage")
	localSandbox := fs.Bool("local-sandbox", false, "use a local Docker sandbox compiler instead of the CODESYS HTTP service")
	sandboxImage := fs.String("sandbox-image", "codesys-compiler:latest", "Docker image for --local-sandbox")
	sandboxScript := fs.String("sandbox-script", "/usr/local/bin/compile.sh", "in-container compile script for --local-sandbox")
	watch := fs.Bool("watch", false, "re-run the pipeline whenever a watched project directory changes")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *projectFlag == "" {
		return fmt.Errorf("--project is required")
	}
	projects, err := parseProjects(*projectFlag)
	if err != nil {
		return err
	}

	llmClient, llmCfg, err := llm.NewClientFromEnv()
	if err != nil {
		return fmt.Errorf("configuring LLM client: %w", err)
	}

	var compilerClient compiler.Client
	if *localSandbox {
		sandbox, err := compiler.NewLocalSandboxClient(*sandboxImage, *sandboxScript)
		if err != nil {
			return fmt.Errorf("configuring local sandbox compiler: %w", err)
		}
		compilerClient = sandbox
	} else {
		apiKey := os.Getenv("CODESYS_API_KEY")
		compilerClient = compiler.NewHTTPClient(apiKey)
	}

	defaults, err := config.Resolve(firstProjectRoot(projects))
	if err != nil {
		return fmt.Errorf("resolving config: %w", err)
	}

	cfg := orchestrator.Config{
		OutputRoot:      *outputRoot,
		ResultDir:       *resultDir,
		Projects:        projects,
		SkipRetrieve:    *skipRetrieve,
		SkipPlan:        *skipPlan,
		SkipGenerate:    *skipGeneration,
		SkipFix:         *skipFix,
		TopK:            orInt(*topK, defaults.TopK),
		MaxVerifyCount:  orInt(*maxVerifyCount, defaults.MaxVerifyCount),
		NumSamples:      *numSamples,
		Endpoint:        *endpoint,
		ReferenceRoot:   *referenceRoot,
		LibraryIndexDir: *libraryDir,
		LLMClient:       llmClient,
		LLMConfig:       llmCfg,
		Tokenizer:       llm.NewTokenizer(),
		Compiler:        compilerClient,
		Embedder:        retriever.NewEmbedderFromEnv(),
	}

	ctx := context.Background()

	if !*watch {
		return runOnce(ctx, cfg)
	}
	return runWatch(ctx, cfg, projects)
}

func runOnce(ctx context.Context, cfg orchestrator.Config) error {
	report, err := orchestrator.Run(ctx, cfg)
	if err != nil {
		return err
	}
	failed := 0
	for name, pr := range report.Projects {
		if pr.Status != "success" {
			failed++
			log.Printf("project %s: %s (failed step: %s)", name, pr.Status, pr.FailedStep)
			continue
		}
		log.Printf("project %s: success in %dms", name, pr.DurationMS)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d project(s) failed", failed, len(report.Projects))
	}
	return nil
}

// runWatch re-runs the full pipeline whenever a watched project root
// changes, coalescing rapid successive events with a short debounce
// (§6.6, ambient addition for iterative local development).
func runWatch(ctx context.Context, cfg orchestrator.Config, projects []model.Project) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting file watcher: %w", err)
	}
	defer watcher.Close()

	for _, p := range projects {
		if err := watcher.Add(p.Root); err != nil {
			return fmt.Errorf("watching %s: %w", p.Root, err)
		}
	}

	log.Printf("watching %d project(s) for changes; ctrl-c to stop", len(projects))
	if err := runOnce(ctx, cfg); err != nil {
		log.Printf("initial run failed: %v", err)
	}

	debounce := time.NewTimer(0)
	<-debounce.C
	pending := false

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !pending {
				pending = true
				debounce.Reset(500 * time.Millisecond)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("watcher error: %v", err)
		case <-debounce.C:
			if !pending {
				continue
			}
			pending = false
			if err := runOnce(ctx, cfg); err != nil {
				log.Printf("run failed: %v", err)
			}
		}
	}
}

func parseProjects(spec string) ([]model.Project, error) {
	var projects []model.Project
	for _, root := range strings.Split(spec, ",") {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolving project path %s: %w", root, err)
		}
		projects = append(projects, model.Project{Name: filepath.Base(abs), Root: abs})
	}
	if len(projects) == 0 {
		return nil, fmt.Errorf("--project did not resolve to any directories")
	}
	return projects, nil
}

func firstProjectRoot(projects []model.Project) string {
	if len(projects) == 0 {
		return ""
	}
	return projects[0].Root
}

func orInt(flagValue, fallback int) int {
	if flagValue != 0 {
		return flagValue
	}
	return fallback
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
