package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.uber.org/zap"

	"github.com/kamiya9428/simplechat/internal/alerts"
	"github.com/kamiya9428/simplechat/internal/audit"
	"github.com/kamiya9428/simplechat/internal/config"
	"github.com/kamiya9428/simplechat/internal/generate"
	"github.com/kamiya9428/simplechat/internal/handlers"
	"github.com/kamiya9428/simplechat/internal/logz"
	"github.com/kamiya9428/simplechat/internal/tracing"
)

func main() {
	ctx := context.Background()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatalf("load aws config: %v", err)
	}

	cfg, err := config.Load(ctx, ssm.NewFromConfig(awsCfg))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logz.Init(cfg.LogLevel, cfg.ServiceName)

	tp, err := tracing.Init(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal("init tracing", zap.Error(err))
	}

	h := handlers.NewChatHandler(
		cfg.ServiceName,
		generate.NewClient(cfg.Endpoint, nil),
		audit.NewRecorder(dynamodb.NewFromConfig(awsCfg), cfg.AuditTable, cfg.AuditTTLDays),
		alerts.NewNotifier(sns.NewFromConfig(awsCfg), cfg.AlertsTopicArn),
	).WithFlush(tp.ForceFlush)

	logger.Info("cold start",
		zap.String("endpoint", cfg.Endpoint),
		zap.Bool("audit", cfg.AuditTable != ""),
		zap.Bool("alerts", cfg.AlertsTopicArn != ""),
	)

	// lambda.Start never returns; flush on SIGTERM instead of defer.
	lambda.StartWithOptions(h.Handle, lambda.WithEnableSIGTERM(func() {
		_ = tp.Shutdown(context.Background())
		logz.Drop()
	}))
}
