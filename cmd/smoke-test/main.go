// Command smoke-test runs the post-deploy smoke checks against one
// environment and exits non-zero if any check fails. Intended to run as a
// pipeline step right after an alias repoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/agenticops/agentcd/internal/agent"
	"github.com/agenticops/agentcd/internal/runtime"
	"github.com/agenticops/agentcd/internal/verifier"
)

func main() {
	environment := flag.String("environment", "staging", "target environment (staging or production)")
	region := flag.String("region", envOr("AWS_REGION", "us-east-1"), "runtime region")
	baseURL := flag.String("runtime-url", os.Getenv("AGENTCD_RUNTIME_URL"), "runtime API base URL")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall deadline for all checks")
	flag.Parse()

	if *environment != "staging" && *environment != "production" {
		log.Fatalf("unknown environment %q", *environment)
	}

	agentID := agentIDFor(*environment)

	// Without a runtime endpoint only the static check runs; the live
	// check reports SKIP rather than failing the invocation.
	var invoker runtime.Invoker
	if *baseURL != "" {
		client, err := runtime.NewHTTPClient(runtime.HTTPClientConfig{
			BaseURL: *baseURL,
			Region:  *region,
			Timeout: 30 * time.Second,
		})
		if err != nil {
			log.Fatalf("runtime client init: %v", err)
		}
		invoker = client
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	log.Printf("running smoke checks against %s", *environment)
	results, ok := verifier.New(invoker, agentID).Run(ctx, agent.Declared())
	for _, result := range results {
		line := fmt.Sprintf("%s: %s", result.Status, result.Name)
		if result.Detail != "" {
			line += " (" + result.Detail + ")"
		}
		fmt.Println(line)
	}
	if !ok {
		os.Exit(1)
	}
}

func agentIDFor(environment string) string {
	var scoped string
	switch environment {
	case "staging":
		scoped = os.Getenv("AGENT_ID_STAGING")
	case "production":
		scoped = os.Getenv("AGENT_ID_PRODUCTION")
	}
	if scoped != "" {
		return scoped
	}
	return os.Getenv("AGENT_ID")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
