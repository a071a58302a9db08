// Package process supervises one long-running child process.
//
// A Manager owns at most one live Handle. It resolves and spawns the binary
// in its own process group, delivers stdout and stderr to a callback one line
// at a time, keeps stdin open for console commands, and reports the exit
// after both streams have drained.
//
// Features:
//   - Line delivery per stream, in emission order, empty lines dropped
//   - Commands written to stdin while the process is alive
//   - Forced termination of the whole process group (idempotent)
//   - SIGTERM then SIGKILL stop for agents without a console
//   - Status, uptime and stats reporting
//
// Example usage:
//
//	mgr := process.NewManager(process.Config{
//	    Name:   "worker",
//	    Binary: "/usr/bin/java",
//	    Args:   []string{"-Xmx2G", "-Xms2G", "-jar", "forge.jar", "nogui"},
//	    OnLine: func(l process.Line) { fmt.Println(l.Text) },
//	})
//
//	h, err := mgr.Start(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	mgr.SendLine("/stop")
//	<-h.Done()
//	mgr.Release()
package process
