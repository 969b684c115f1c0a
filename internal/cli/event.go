package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// NewEventCmd создаёт группу команд для работы с событиями.
func NewEventCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Publish events to the exchange",
	}

	cmd.AddCommand(newEventPublishCmd(clientFn, outputFn))

	return cmd
}

func newEventPublishCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var data string
	var file string

	cmd := &cobra.Command{
		Use:   "publish TOPIC",
		Short: "Publish an event with arbitrary data",
		Long: `Publish an event envelope to the exchange with routing key TOPIC.

Data is given inline (--data) or read from a file (--file, "-" for stdin).

Example:
  strategy-cli event publish strategy.failed --data '{"strategy_id":"...","error":"timeout"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			raw, err := readData(data, file)
			if err != nil {
				return err
			}

			r, err := client.PublishEvent(args[0], raw)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Event published: %s", r.EventID))
			out.Print(
				[]string{"EVENT_ID", "TOPIC", "TIMESTAMP"},
				[][]string{{r.EventID, r.EventType, r.Timestamp}},
				r,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&data, "data", "", "Event data as JSON")
	cmd.Flags().StringVar(&file, "file", "", "Read event data from file (- for stdin)")
	cmd.MarkFlagsMutuallyExclusive("data", "file")

	return cmd
}

// readData возвращает data события из флага или файла и проверяет, что это JSON.
func readData(inline, file string) (json.RawMessage, error) {
	var raw []byte
	switch {
	case inline != "":
		raw = []byte(inline)
	case file == "-":
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		raw = b
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read file: %w", err)
		}
		raw = b
	default:
		return nil, nil
	}

	if !json.Valid(raw) {
		return nil, fmt.Errorf("data is not valid JSON")
	}
	return json.RawMessage(raw), nil
}
