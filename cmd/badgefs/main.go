package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/badgeteam/badgefs/config"
	"github.com/badgeteam/badgefs/device"
	"github.com/badgeteam/badgefs/internal/util"
	"github.com/badgeteam/badgefs/transport"
	"github.com/badgeteam/badgefs/vfs"
)

const usage = `Usage: badgefs [flags] <command> [args]

Filesystem commands:
  ls <path>                list a directory
  tree [path]              recursively list a subtree (default: whole device)
  get <remote> [local]     download a file (default: stdout)
  set <local|-> <remote>   upload a file ("-" reads stdin)
  cp <from> <to>           copy a file; device-side when both ends are remote
  mv <from> <to>           move or rename; falls back to copy+delete across ends
  rm <path>                delete a file or directory
  create-dir <path>        create a directory
  create-file <path>       create an empty file

Device commands:
  run <app>                start an app on the badge
  shell                    attach an interactive console (Ctrl-] to detach)
  mount <mountpoint>       mount the badge as a FUSE filesystem

Flags:
`

func main() {
	var (
		verbose    int
		configPath string
		umount     bool
	)
	pflag.IntVarP(&verbose, "verbose", "v", 3,
		"Log verbosity level between 1 (error) and 5 (trace)")
	pflag.StringVarP(&configPath, "config", "c", "", "Path to config override file (yaml or json)")
	pflag.BoolVarP(&umount, "umount", "u", false,
		"Unmount the mountpoint first if needed before mounting again")
	pflag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if verbose < 1 {
		verbose = 1
	}
	if verbose > 5 {
		verbose = 5
	}
	logLvls := [5]util.LogLevel{util.ErrorLevel, util.WarnLevel, util.InfoLevel, util.DebugLevel, util.TraceLevel}
	logLvl := logLvls[verbose-1]
	util.InitializeLogger(logLvl)
	logger := util.GetLogger("main")

	var cfg *config.Config
	if configPath != "" {
		var err error
		cfg, err = config.NewConfigFromFile(configPath)
		if err != nil {
			logger.Fatal().Err(err).Str("config", configPath).Msg("Failed to load config file")
		}
		cfg.LogLvl = logLvl
	} else {
		cfg = config.NewConfig(&config.Override{LogLvl: &logLvl})
	}

	args := pflag.Args()
	if len(args) == 0 {
		pflag.Usage()
		os.Exit(2)
	}
	command, args := args[0], args[1:]

	v, err := openSession(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open badge session")
	}
	defer v.Close()

	if err := dispatch(v, cfg, command, args, umount); err != nil {
		logger.Fatal().Err(err).Str("command", command).Msg("Command failed")
	}
}

// openSession connects over USB and verifies the badge answers.
func openSession(cfg *config.Config) (*vfs.VFS, error) {
	stream, err := device.OpenUSB()
	if err != nil {
		return nil, fmt.Errorf("opening usb device: %w", err)
	}
	conn := transport.New(stream, cfg)
	client := device.NewClient(conn, cfg)
	v := vfs.New(client)
	if err := v.Probe(); err != nil {
		v.Close()
		return nil, fmt.Errorf("badge did not answer heartbeat: %w", err)
	}
	return v, nil
}

func dispatch(v *vfs.VFS, cfg *config.Config, command string, args []string, umount bool) error {
	switch command {
	case "ls":
		return cmdLs(v, args)
	case "tree":
		return cmdTree(v, args)
	case "get":
		return cmdGet(v, args)
	case "set":
		return cmdSet(v, args)
	case "cp":
		return cmdCp(v, args)
	case "mv":
		return cmdMv(v, args)
	case "rm":
		return cmdRm(v, args)
	case "create-dir":
		return cmdCreateDir(v, args)
	case "create-file":
		return cmdCreateFile(v, args)
	case "run":
		return cmdRun(v, args)
	case "shell":
		return cmdShell(v)
	case "mount":
		return cmdMount(v, cfg, args, umount)
	default:
		pflag.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}
