package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/badgeteam/badgefs"
	"github.com/badgeteam/badgefs/config"
	"github.com/badgeteam/badgefs/fusefs"
	"github.com/badgeteam/badgefs/internal/util"
	"github.com/badgeteam/badgefs/vfs"
)

func cmdLs(v *vfs.VFS, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: ls <path>")
	}
	entries, err := v.List(args[0])
	if err != nil {
		return err
	}
	sortEntries(entries)
	for _, e := range entries {
		if e.Kind == badgefs.KindDirectory {
			fmt.Println(e.Name + "/")
		} else {
			fmt.Println(e.Name)
		}
	}
	return nil
}

// cmdTree walks the remote tree depth-first and prints one full path per
// line.
func cmdTree(v *vfs.VFS, args []string) error {
	roots := []string{"/flash", "/sdcard"}
	if len(args) == 1 {
		roots = []string{args[0]}
	} else if len(args) > 1 {
		return fmt.Errorf("usage: tree [path]")
	}
	for _, root := range roots {
		fmt.Println(root)
		if err := printTree(v, root); err != nil {
			return err
		}
	}
	return nil
}

func printTree(v *vfs.VFS, p string) error {
	entries, err := v.List(p)
	if err != nil {
		return err
	}
	sortEntries(entries)
	for _, e := range entries {
		full := p + "/" + e.Name
		fmt.Println(full)
		if e.Kind == badgefs.KindDirectory {
			if err := printTree(v, full); err != nil {
				return err
			}
		}
	}
	return nil
}

func cmdGet(v *vfs.VFS, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("usage: get <remote> [local]")
	}
	data, err := v.ReadAll(args[0])
	if err != nil {
		return err
	}
	if len(args) == 1 || args[1] == "-" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(args[1], data, 0o644)
}

func cmdSet(v *vfs.VFS, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: set <local|-> <remote>")
	}
	var data []byte
	var err error
	if args[0] == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return err
	}
	return v.Write(args[1], 0, data)
}

// isRemote reports whether a path addresses the badge rather than the
// local filesystem. Only the two device roots and their subtrees count;
// a sibling like /flashy is a local path.
func isRemote(p string) bool {
	for _, root := range []string{"/flash", "/sdcard"} {
		if p == root || strings.HasPrefix(p, root+"/") {
			return true
		}
	}
	return false
}

// copyPath moves bytes between any combination of local and remote
// endpoints. Remote-to-remote uses the device's native copy so the
// contents never cross the wire.
func copyPath(v *vfs.VFS, from, to string) error {
	switch {
	case isRemote(from) && isRemote(to):
		return v.CopyFile(from, to)
	case isRemote(from):
		data, err := v.ReadAll(from)
		if err != nil {
			return err
		}
		return os.WriteFile(to, data, 0o644)
	case isRemote(to):
		data, err := os.ReadFile(from)
		if err != nil {
			return err
		}
		return v.Write(to, 0, data)
	default:
		return fmt.Errorf("neither %s nor %s is a badge path", from, to)
	}
}

func cmdCp(v *vfs.VFS, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: cp <from> <to>")
	}
	return copyPath(v, args[0], args[1])
}

func cmdMv(v *vfs.VFS, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: mv <from> <to>")
	}
	from, to := args[0], args[1]
	if isRemote(from) && isRemote(to) {
		return v.Rename(from, to)
	}
	if err := copyPath(v, from, to); err != nil {
		return err
	}
	if isRemote(from) {
		return v.Delete(from)
	}
	return os.Remove(from)
}

func cmdRm(v *vfs.VFS, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: rm <path>")
	}
	return v.Delete(args[0])
}

func cmdCreateDir(v *vfs.VFS, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: create-dir <path>")
	}
	return v.Create(args[0], badgefs.KindDirectory)
}

func cmdCreateFile(v *vfs.VFS, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: create-file <path>")
	}
	return v.Create(args[0], badgefs.KindFile)
}

func cmdRun(v *vfs.VFS, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: run <app>")
	}
	logger := util.GetLogger("run")
	p := args[0]
	// The badge roots app paths at /flash already.
	if trimmed, ok := strings.CutPrefix(p, "/flash/"); ok {
		logger.Warn().Str("app", p).Msg("App paths are rooted at /flash; stripping the prefix")
		p = "/" + trimmed
	}
	return v.Run(p)
}

// cmdShell attaches the terminal to the badge console. The terminal
// goes raw so every keystroke reaches the badge, with two exceptions:
// Ctrl-] detaches, and Enter is expanded to CRLF for the firmware REPL.
func cmdShell(v *vfs.VFS) error {
	con, err := v.OpenConsole()
	if err != nil {
		return err
	}
	defer con.Close()

	fd := int(os.Stdin.Fd())
	state, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("setting raw terminal: %w", err)
	}
	defer term.Restore(fd, state) // nolint:errcheck

	fmt.Print("Attached to badge console; Ctrl-] to detach.\r\n")

	// Interrupt whatever app is running so the REPL prompt shows up.
	if _, err := con.Write([]byte{0x03}); err != nil {
		return err
	}

	// Console output to the terminal until the session ends.
	outDone := make(chan struct{})
	go func() {
		defer close(outDone)
		io.Copy(os.Stdout, con) // nolint:errcheck
	}()

	buf := make([]byte, 256)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return err
		}
		for _, b := range buf[:n] {
			switch b {
			case 0x1d: // Ctrl-]
				return nil
			case '\r', '\n':
				if _, err := con.Write([]byte("\r\n")); err != nil {
					return err
				}
			default:
				if _, err := con.Write([]byte{b}); err != nil {
					return err
				}
			}
		}
		select {
		case <-outDone:
			// Device went away mid-session.
			return badgefs.ErrDisconnected
		default:
		}
	}
}

func cmdMount(v *vfs.VFS, cfg *config.Config, args []string, umount bool) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: mount <mountpoint>")
	}
	mnt := args[0]
	logger := util.GetLogger("mount")

	if umount {
		// Ignore the error when nothing was mounted there.
		exec.Command("fusermount", "-u", mnt).Run() // nolint:errcheck
	}

	server, err := fusefs.Mount(mnt, v, cfg)
	if err != nil {
		return err
	}
	logger.Info().Str("mountpoint", mnt).Msg("Badge mounted")

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	sig := <-signalChan
	logger.Info().Str("signal", sig.String()).Msg("Received signal, unmounting")

	if err := server.Unmount(); err != nil {
		logger.Error().Err(err).Msg("Failed to unmount; forcing")
		exec.Command("fusermount", "-u", mnt).Run() // nolint:errcheck
	}
	server.Wait()
	return nil
}

func sortEntries(entries []badgefs.DirEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
}
