package cmd

import (
	"fmt"
	"os"

	"github.com/koopa0/copilot/internal/config"
)

func printVersionInfo() error {
	fmt.Printf("copilot %s\n", AppVersion)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n", GitCommit)
	fmt.Println()

	cfg, err := config.Load()
	if err != nil {
		// Version must work even with a broken config.
		fmt.Printf("Configuration: unavailable (%v)\n", err)
		return nil
	}

	fmt.Println("Configuration:")
	fmt.Printf("  Provider: %s\n", cfg.Provider)
	fmt.Printf("  Model: %s\n", cfg.ModelName)
	fmt.Printf("  Embedder: %s (dim %d)\n", cfg.EmbedderModel, cfg.EmbeddingDimension)
	fmt.Printf("  Index backend: %s\n", cfg.IndexBackend)

	if key := os.Getenv("GEMINI_API_KEY"); len(key) >= 8 {
		fmt.Printf("  GEMINI_API_KEY: %s...%s (configured)\n", key[:4], key[len(key)-4:])
	} else if key != "" {
		fmt.Println("  GEMINI_API_KEY: configured")
	} else {
		fmt.Println("  GEMINI_API_KEY: Not set")
	}
	return nil
}
