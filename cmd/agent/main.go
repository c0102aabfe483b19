package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/infra/config"
)

func main() {
	args := stripConfigFlag(os.Args[1:])

	if len(args) >= 1 {
		switch args[0] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := dispatch(ctx, args); err != nil {
		var usage usageError
		if errors.As(err, &usage) {
			fmt.Fprintf(os.Stderr, "%v\n\nRun 'agentcore --help' for usage information.\n", err)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// usageError marks a bad command line.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func dispatch(ctx context.Context, args []string) error {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return runServe(ctx, domain.AgentOrchestrator)
	}

	switch args[0] {
	case domain.AgentOrchestrator:
		return runServe(ctx, domain.AgentOrchestrator)
	case "specialist":
		if len(args) < 2 {
			return usageError{"usage: agentcore specialist <" + strings.Join(domain.Specialists, "|") + ">"}
		}
		if !domain.IsSpecialist(args[1]) {
			return usageError{fmt.Sprintf("unknown specialist %q (want one of %s)", args[1], strings.Join(domain.Specialists, ", "))}
		}
		return runServe(ctx, args[1])
	case "call":
		opts, err := parseCallArgs(args[1:])
		if err != nil {
			return err
		}
		return runCall(ctx, opts, os.Stdout)
	case "health":
		return runHealth(ctx, args[1:], os.Stdout)
	case "encrypt":
		if len(args) != 2 {
			return usageError{"usage: agentcore encrypt <value>"}
		}
		return runEncrypt(args[1], os.Getenv("AGENTCORE_CONFIG_KEY"), os.Stdout)
	default:
		return usageError{"unknown command: " + args[0]}
	}
}

func showUsage() {
	fmt.Println(`agentcore - multi-agent orchestrator and specialist workers

USAGE:
    agentcore [COMMAND] [FLAGS]

COMMANDS:
    orchestrator                 Serve the chat API and route requests (default)
    specialist <name>            Serve one specialist over A2A
                                 Names: vision, document, data, tool
    call <agent> <task...>       Send one task to an agent and print the answer
        --image PATH             Attach a local image
        --video PATH             Attach a local video
        --uri URI                Attach a remote object (e.g. s3://bucket/key.jpg)
        --user ID                User id forwarded to the agent
        --session ID             Session id forwarded to the agent
    health [agent...]            Check configuration, memory and agent reachability
    encrypt <value>              Encrypt a secret with AGENTCORE_CONFIG_KEY for config.yaml

FLAGS:
    -h, --help         Show this help message
    --config PATH      Specify config file path (default: ./config.yaml)

CONFIGURATION:
    Config file: ./config.yaml (optional; defaults apply when missing)
    Environment: AGENTCORE_* variables override config
                 VISION_AGENT_URL, DOCUMENT_AGENT_URL, DATA_AGENT_URL,
                 TOOL_AGENT_URL, ORCHESTRATOR_URL set agent endpoints
                 ENVIRONMENT=production requires every endpoint

EXAMPLES:
    agentcore                                    # Run the orchestrator
    agentcore specialist vision                  # Run the vision worker
    agentcore call tool "what is 6 * 7?"         # One-shot call
    agentcore call vision "what is this?" --image cat.png
    agentcore health vision data                 # Probe two workers`)
}

// configPath returns the --config value, AGENTCORE_CONFIG, or config.yaml.
func configPath() string {
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("AGENTCORE_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// stripConfigFlag removes --config and its value so subcommands see only
// their own arguments.
func stripConfigFlag(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--config":
			i++
		case strings.HasPrefix(args[i], "--config="):
		default:
			out = append(out, args[i])
		}
	}
	return out
}

// runEncrypt prints value in the "enc:" form config.Load decrypts.
func runEncrypt(value, passphrase string, out io.Writer) error {
	if passphrase == "" {
		return usageError{"AGENTCORE_CONFIG_KEY must be set to encrypt secrets"}
	}
	enc, err := config.EncryptValue(value, passphrase)
	if err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}
	_, err = fmt.Fprintln(out, "enc:"+enc)
	return err
}

func loadConfig(agent string) (*config.Config, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if agent != "" {
		cfg.Agent.Name = agent
	}
	return cfg, nil
}
