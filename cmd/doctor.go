package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/valet/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("valet doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(config.ExpandHome(cfgPath)); err != nil {
		fmt.Println(" (NOT FOUND — defaults apply)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Secrets:")
	checkSecret("Model API key", config.EnvAPIKey, cfg.Provider.APIKey)
	checkSecret("Brave search key", config.EnvBraveAPIKey, cfg.Tools.BraveAPIKey)

	fmt.Println()
	fmt.Println("  Agent:")
	fmt.Printf("    %-12s %s\n", "Model:", orDefault(cfg.Agent.Model, "(not set)"))
	checkDir("Workspace:", cfg.Agent.Workspace)
	checkDir("State dir:", cfg.Agent.StateDir)

	fmt.Println()
	fmt.Println("  Channels:")
	if len(cfg.Channels.Enabled) == 0 {
		fmt.Println("    (none enabled)")
	}
	for _, name := range cfg.Channels.Enabled {
		fmt.Printf("    %s\n", name)
	}

	fmt.Println()
	fmt.Println("  Tools:")
	checkBinary("sh")
	if cfg.Tools.BrowserEnabled {
		fmt.Println("    browser: enabled (Chromium is downloaded on first use)")
	}

	if err := cfg.Validate(); err != nil {
		fmt.Println()
		fmt.Printf("  NOT READY: %s\n", err)
		return
	}
	fmt.Println()
	fmt.Println("  Ready to serve.")
}

func checkSecret(label, env, value string) {
	if value == "" {
		fmt.Printf("    %-20s MISSING (set %s)\n", label+":", env)
		return
	}
	fmt.Printf("    %-20s OK\n", label+":")
}

func checkDir(label, path string) {
	fmt.Printf("    %-12s %s", label, path)
	if info, err := os.Stat(path); err != nil {
		fmt.Println(" (will be created)")
	} else if !info.IsDir() {
		fmt.Println(" (NOT A DIRECTORY)")
	} else {
		fmt.Println(" (OK)")
	}
}

func checkBinary(name string) {
	if _, err := exec.LookPath(name); err != nil {
		fmt.Printf("    %s: NOT FOUND in PATH\n", name)
		return
	}
	fmt.Printf("    %s: OK\n", name)
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
