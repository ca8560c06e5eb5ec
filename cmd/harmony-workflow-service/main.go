package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/nasa/harmony-workflow-core/internal/app"
	"github.com/nasa/harmony-workflow-core/internal/config"
)

func envTrue(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func main() {
	a, err := app.New()
	if err != nil {
		fmt.Printf("failed to initialize app: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	a.Start()

	runServer := envTrue("RUN_SERVER", true)
	if !runServer {
		select {}
	}

	port := config.GetEnv("PORT", "8080")
	fmt.Printf("listening on :%s\n", port)
	if err := a.Run(":" + port); err != nil {
		a.Log.Warn("server failed", "error", err)
	}
}
