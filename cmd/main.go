package main

import (
	"os"

	_ "github.com/joho/godotenv/autoload"

	"quizroom-service/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
