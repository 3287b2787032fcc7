package main

import (
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/kamiya9428/simplechat/internal/handlers"
)

func main() {
	service := os.Getenv("SERVICE_NAME")
	if service == "" {
		service = "simplechat"
	}
	lambda.Start(handlers.Health(service))
}
