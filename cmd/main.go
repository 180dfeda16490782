package main

import (
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kong"

	"github.com/Andrlu75/healtCoach-sub000/config"
	"github.com/Andrlu75/healtCoach-sub000/logger"
	"github.com/Andrlu75/healtCoach-sub000/utils"
)

var CLI struct {
	EnvFile string `help:"Optional .env file to load before the environment." type:"path" name:"env-file"`

	Serve ServeCmd `cmd:"" help:"Run the HTTP API." default:"1"`
	Token TokenCmd `cmd:"" help:"Mint a bearer token for local testing."`
}

type TokenCmd struct {
	UserID uint          `arg:"" help:"User id to put into the token."`
	Email  string        `help:"Email claim."`
	TTL    time.Duration `help:"Token lifetime." default:"72h"`
}

func (t *TokenCmd) Run(cfg *config.Config) error {
	tok, err := utils.GenerateJWT([]byte(cfg.JWTSecret), t.UserID, t.Email, t.TTL)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("coach"),
		kong.Description("Meal draft and day plan editing backend for the coaching console"),
		kong.UsageOnError(),
	)

	var envFiles []string
	if CLI.EnvFile != "" {
		envFiles = append(envFiles, CLI.EnvFile)
	}
	cfg, err := config.Load(envFiles...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := ctx.Run(cfg); err != nil {
		logger.Fatal("command failed", "err", err)
	}
}
