// Command v2raybot runs the V2Ray account management bot.
package main

import (
	"context"
	"log"

	"github.com/m3rciful/v2raybot/app/config"
	"github.com/m3rciful/v2raybot/core/cmd"
)

func main() {
	err := cmd.Run(cmd.Options{
		DefaultConfigPath: "config.yaml",
		DotEnvFiles:       []string{".env"},
		LoadConfig: func(path string) (cmd.ConfigCarrier, error) {
			return config.Load(path)
		},
		Bootstrap: func(ctx context.Context, cfg cmd.ConfigCarrier) (cmd.TelegramApp, error) {
			return bootstrapApp(ctx, cfg.(*config.Config))
		},
	})
	if err != nil {
		log.Fatal(err)
	}
}
