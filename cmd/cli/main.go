package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"judgeflow/internal/cli/client"
	"judgeflow/internal/cli/repl"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	baseURL := flag.String("base", "http://127.0.0.1:8080", "API base URL")
	timeout := flag.Duration("timeout", 10*time.Second, "HTTP timeout")
	flag.Parse()

	base := *baseURL
	if v := os.Getenv("JUDGEFLOW_API"); v != "" {
		base = v
	}

	session, err := repl.New(client.New(base, *timeout))
	if err != nil {
		fmt.Fprintf(os.Stderr, "init repl failed: %v\n", err)
		return
	}
	session.Run(context.Background())
}
