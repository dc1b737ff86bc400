package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandRecord      Command = "record"
	CommandListSources Command = "list-sources"
	CommandStatus      Command = "status"
	CommandPause       Command = "pause"
	CommandResume      Command = "resume"
	CommandStop        Command = "stop"
	CommandCancel      Command = "cancel"
	CommandDoctor      Command = "doctor"
	CommandVersion     Command = "version"
	CommandHelp        Command = "help"
)

var validCommands = map[Command]struct{}{
	CommandRecord:      {},
	CommandListSources: {},
	CommandStatus:      {},
	CommandPause:       {},
	CommandResume:      {},
	CommandStop:        {},
	CommandCancel:      {},
	CommandDoctor:      {},
	CommandVersion:     {},
	CommandHelp:        {},
}

// Parsed is the outcome of parsing os.Args against the command word and the
// shared --config/--help/--version flags. Any arguments following the
// command word are left in Args for the command-specific flag set (record's
// --duration, --rate, and so on) to parse.
type Parsed struct {
	Command    Command
	ConfigPath string
	ShowHelp   bool
	Args       []string
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case "--config":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = args[i]
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}

			cmd := Command(arg)
			if _, ok := validCommands[cmd]; !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp
			parsed.Args = args[i+1:]
			return parsed, nil
		}
	}

	return parsed, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] <command> [flags]

Commands:
  record        Start recording until stopped or --duration elapses
  list-sources  List available mic and system audio sources
  status        Print current state
  pause         Pause an active recording
  resume        Resume a paused recording
  stop          Stop the active recording and write the output file
  cancel        Cancel the active recording and discard output
  doctor        Run configuration and environment checks
  version       Print version information
  help          Show this help

Record flags:
  --duration SECONDS  Stop automatically after SECONDS (0 = unbounded)
  --rate HZ           Target sample rate
  --bits DEPTH        Output bit depth (16, 24, 32)
  --channels N        Output channel count (1 or 2)
  --no-mic            Disable the microphone track
  --no-system         Disable the system audio track
  --encrypt           Encrypt the output with the configured key
  --out PATH          Output directory

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/duocap/config.jsonc)
  -h, --help      Show help
  --version       Show version
`, binaryName)
}
