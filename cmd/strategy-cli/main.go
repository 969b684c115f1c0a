// Strategy CLI — инструмент командной строки для работы со стратегиями
// и событиями через HTTP API сервиса.
//
// Использование:
//
//	strategy-cli [--api-url URL] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	strategy  Управление стратегиями
//	event     Публикация событий
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/strategy-repository/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "strategy-cli",
		Short:         "Strategy repository CLI",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultURL := "http://localhost:8084"
	if v := os.Getenv("STRATEGY_API_URL"); v != "" {
		defaultURL = v
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", defaultURL, "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewStrategyCmd(clientFn, outputFn),
		cli.NewEventCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
