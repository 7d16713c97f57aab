package main

import (
	"github.com/joho/godotenv"

	"vesu-liquidator/internal/cli"
)

func main() {
	_ = godotenv.Load()
	cli.Execute()
}
