package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"helpdesk-agent/handler"
	"helpdesk-agent/internal/integrations/openai"
	"helpdesk-agent/internal/integrations/paramstore"
	"helpdesk-agent/internal/repository"
	"helpdesk-agent/internal/tools"
	"helpdesk-agent/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	memoryTable := mustEnv("MEMORY_TABLE")
	supportTable := mustEnv("SUPPORT_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	maxContextTurns := envInt("MAX_CONTEXT_TURNS", 10)
	maxQueryLen := envInt("MAX_QUERY_LENGTH", 300)

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	dynamoClient := awsdynamodb.NewFromConfig(cfg)
	memoryClient, err := repository.New(dynamoClient, memoryTable)
	if err != nil {
		slog.Error("failed to create memory client", "err", err)
		os.Exit(1)
	}
	supportStore, err := tools.NewStore(dynamoClient, supportTable)
	if err != nil {
		slog.Error("failed to create support store", "err", err)
		os.Exit(1)
	}
	registry, err := tools.NewRegistry(supportStore)
	if err != nil {
		slog.Error("failed to create tool registry", "err", err)
		os.Exit(1)
	}

	openaiClient, err := openai.NewClient(ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create OpenAI client", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	supportService, err := usecase.NewSupportService(ssmClient, openaiClient, memoryClient, supportStore, registry, paramPrefix, maxContextTurns, maxQueryLen)
	if err != nil {
		slog.Error("failed to create support service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(supportService)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
