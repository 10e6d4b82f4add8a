package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/sourcerouted/overlay/internal/identity"
	"github.com/sourcerouted/overlay/internal/message"
	"github.com/sourcerouted/overlay/internal/supervisor"
	"github.com/sourcerouted/overlay/internal/topology"
	"github.com/spf13/cobra"
)

var generateIdentityFlag bool

var runCmd = &cobra.Command{
	Use:   "run <topology.toml>",
	Short: "Spawn a network from a topology file and block, serving the control surface on stdin",
	Long: `run loads a TOML topology, spawns every drone (reserved id only),
server, and client it describes, wires every edge (each over the
transport named by its [[edge]] entry, or an in-process channel pair
by default), and then reads control commands from stdin until quit or
EOF/SIGINT. add-edge always wires a new in-process edge; transport
overrides are a topology-file-only knob:

  add-edge <a> <b>
  send <from> <to> <request-kind> [args...]
  crash
  quit

request-kind is one of: server-type, get-chats, create-chat <name>,
send-message <chat-id> <text>, delete-chat <chat-id>,
get-messages <chat-id>, list-public-files, get-public-file <name>,
write-public-file <name> <text>, list-private-files,
get-private-file <name>, write-private-file <name> <text>.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&generateIdentityFlag, "identity", false, "generate one X25519/Ed25519 identity, shared by every spawned node")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := topology.Load(args[0])
	if err != nil {
		return err
	}

	var kp *identity.KeyPair
	if generateIdentityFlag {
		kp, err = identity.Generate()
		if err != nil {
			return fmt.Errorf("generating identity: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup := supervisor.New(logger)
	assigned, err := sup.SpawnTopology(ctx, cfg, kp)
	if err != nil {
		return fmt.Errorf("spawning topology: %w", err)
	}
	logger.Info("topology spawned", "node_count", len(assigned))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	linesCh := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			linesCh <- scanner.Text()
		}
		close(linesCh)
	}()

	for {
		select {
		case <-sigCh:
			fmt.Fprintln(cmd.OutOrStdout(), "shutting down")
			sup.QuitAll()
			return nil
		case line, ok := <-linesCh:
			if !ok {
				sup.QuitAll()
				return nil
			}
			if quit := dispatchLine(ctx, cmd, sup, line); quit {
				sup.QuitAll()
				return nil
			}
		}
	}
}

// dispatchLine parses and executes one control-surface line, reporting
// errors to stdout rather than failing the whole session. It returns true
// when the session should end.
func dispatchLine(ctx context.Context, cmd *cobra.Command, sup *supervisor.Supervisor, line string) (quit bool) {
	out := cmd.OutOrStdout()
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "quit":
		return true
	case "crash":
		sup.CrashAll()
		fmt.Fprintln(out, "ok")
	case "add-edge":
		a, b, err := parseEdgeArgs(fields[1:])
		if err != nil {
			fmt.Fprintln(out, "error:", err)
			return false
		}
		// The interactive control surface always wires a fresh edge
		// in-process; transport overrides are a topology-file-only knob
		// (see topology.EdgeOverride) since there is no line syntax here
		// for broker URLs or serial ports.
		if err := sup.AddEdge(ctx, a, b, topology.EdgeOverride{}); err != nil {
			fmt.Fprintln(out, "error:", err)
			return false
		}
		fmt.Fprintln(out, "ok")
	case "send":
		if err := dispatchSend(sup, fields[1:]); err != nil {
			fmt.Fprintln(out, "error:", err)
			return false
		}
		fmt.Fprintln(out, "ok")
	default:
		fmt.Fprintln(out, "error: unknown command", fields[0])
	}
	return false
}

func parseEdgeArgs(args []string) (a, b uint8, err error) {
	if len(args) != 2 {
		return 0, 0, fmt.Errorf("add-edge requires exactly 2 node ids")
	}
	a, err = parseNodeID(args[0])
	if err != nil {
		return 0, 0, err
	}
	b, err = parseNodeID(args[1])
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

func parseNodeID(s string) (uint8, error) {
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid node id %q: %w", s, err)
	}
	return uint8(n), nil
}

func dispatchSend(sup *supervisor.Supervisor, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("send requires <from> <to> <request-kind> [args...]")
	}
	from, err := parseNodeID(args[0])
	if err != nil {
		return err
	}
	to, err := parseNodeID(args[1])
	if err != nil {
		return err
	}
	req, err := parseRequest(args[2], args[3:])
	if err != nil {
		return err
	}
	return sup.SendRequest(from, to, req)
}

// parseRequest builds the application request named by kind from args, the
// vocabulary described in runCmd's Long help text.
func parseRequest(kind string, args []string) (message.Message, error) {
	switch kind {
	case "server-type":
		return message.NewServerType(), nil
	case "get-chats":
		return message.NewGetChats(), nil
	case "create-chat":
		if len(args) != 1 {
			return message.Message{}, fmt.Errorf("create-chat requires <name>")
		}
		return message.NewCreateChat(args[0]), nil
	case "send-message":
		if len(args) != 2 {
			return message.Message{}, fmt.Errorf("send-message requires <chat-id> <text>")
		}
		chatID, err := parseChatID(args[0])
		if err != nil {
			return message.Message{}, err
		}
		return message.NewSendMessage(chatID, args[1]), nil
	case "delete-chat":
		if len(args) != 1 {
			return message.Message{}, fmt.Errorf("delete-chat requires <chat-id>")
		}
		chatID, err := parseChatID(args[0])
		if err != nil {
			return message.Message{}, err
		}
		return message.NewDeleteChat(chatID), nil
	case "get-messages":
		if len(args) != 1 {
			return message.Message{}, fmt.Errorf("get-messages requires <chat-id>")
		}
		chatID, err := parseChatID(args[0])
		if err != nil {
			return message.Message{}, err
		}
		return message.NewGetMessages(chatID), nil
	case "list-public-files":
		return message.NewListPublicFiles(), nil
	case "get-public-file":
		if len(args) != 1 {
			return message.Message{}, fmt.Errorf("get-public-file requires <name>")
		}
		return message.NewGetPublicFile(args[0]), nil
	case "write-public-file":
		if len(args) != 2 {
			return message.Message{}, fmt.Errorf("write-public-file requires <name> <text>")
		}
		return message.NewWritePublicFile(args[0], []byte(args[1])), nil
	case "list-private-files":
		return message.NewListPrivateFiles(), nil
	case "get-private-file":
		if len(args) != 1 {
			return message.Message{}, fmt.Errorf("get-private-file requires <name>")
		}
		return message.NewGetPrivateFile(args[0]), nil
	case "write-private-file":
		if len(args) != 2 {
			return message.Message{}, fmt.Errorf("write-private-file requires <name> <text>")
		}
		return message.NewWritePrivateFile(args[0], []byte(args[1])), nil
	default:
		return message.Message{}, fmt.Errorf("unknown request-kind %q", kind)
	}
}

func parseChatID(s string) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q: %w", s, err)
	}
	return n, nil
}
