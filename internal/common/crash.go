package common

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// crashDir is where fatal-panic reports land. Set once at startup via
// InstallCrashHandler; defaults beside the working directory.
var crashDir = "./logs"

// InstallCrashHandler prepares the crash report directory. Call it at the
// top of main, paired with a deferred RecoverWithCrashFile.
func InstallCrashHandler(dir string) {
	if dir != "" {
		crashDir = dir
	}
	if err := os.MkdirAll(crashDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "CRASH: cannot create crash directory: %v\n", err)
	}
}

// RecoverWithCrashFile recovers a panic on the current goroutine, writes a
// post-mortem report and exits non-zero. Deferred in main so an unhandled
// panic anywhere on the main path leaves a file behind.
func RecoverWithCrashFile() {
	r := recover()
	if r == nil {
		return
	}
	buf := make([]byte, 8192)
	n := runtime.Stack(buf, false)
	writeCrashReport(r, string(buf[:n]))
	os.Exit(1)
}

// writeCrashReport dumps the panic, the faulting stack, every goroutine and
// runtime stats to a timestamped file. Falls back to stderr when the file
// cannot be written; unbuffered writes on purpose.
func writeCrashReport(panicVal interface{}, stack string) string {
	path := filepath.Join(crashDir, fmt.Sprintf("crash-%s.log", time.Now().Format("2006-01-02T15-04-05")))

	var report bytes.Buffer
	fmt.Fprintf(&report, "=== KARDEX CRASH REPORT ===\nTime: %s\nVersion: %s\n\n",
		time.Now().Format(time.RFC3339), GetFullVersion())
	fmt.Fprintf(&report, "=== PANIC ===\n%v\n\n", panicVal)
	fmt.Fprintf(&report, "=== STACK ===\n%s\n", stack)
	fmt.Fprintf(&report, "=== ALL GOROUTINES ===\n%s\n", allGoroutineStacks())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	fmt.Fprintf(&report, "=== RUNTIME ===\nNumGoroutine: %d\nNumCPU: %d\nGOOS/GOARCH: %s/%s\nAlloc: %d MB\nSys: %d MB\nNumGC: %d\n",
		runtime.NumGoroutine(), runtime.NumCPU(), runtime.GOOS, runtime.GOARCH,
		mem.Alloc/1024/1024, mem.Sys/1024/1024, mem.NumGC)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "CRASH: cannot create crash file: %v\n%s", err, report.String())
		return ""
	}
	if _, err := file.Write(report.Bytes()); err != nil {
		fmt.Fprintf(os.Stderr, "CRASH: cannot write crash file: %v\n%s", err, report.String())
	}
	file.Sync()
	file.Close()

	fmt.Fprintf(os.Stderr, "\nFATAL: panic %v - report at %s\n", panicVal, path)
	return path
}

// allGoroutineStacks snapshots every goroutine, growing the buffer until
// the dump fits (capped at 64 MB).
func allGoroutineStacks() string {
	buf := make([]byte, 64*1024)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			return string(buf[:n])
		}
		if len(buf) >= 64*1024*1024 {
			return string(buf[:n])
		}
		buf = make([]byte, len(buf)*2)
	}
}
