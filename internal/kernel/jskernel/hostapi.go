package jskernel

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"

	"github.com/kernos-ai/kernos/internal/schema"
)

// permissionDeniedPrefix marks errors raised by restricted capabilities
// so the adapter reports them with the PermissionDenied kind.
const permissionDeniedPrefix = "PermissionDenied"

func permissionDenied(op string) error {
	return fmt.Errorf("%s: %s is not permitted in a boxed kernel", permissionDeniedPrefix, op)
}

// installConsole wires console.log/info/warn/error into the pending
// message buffer, so guest prints surface as ExecutionMessages on the
// error stream instead of corrupting the framed result stream.
func (e *Evaluator) installConsole() error {
	console := e.vm.NewObject()

	record := func(level schema.MessageLevel) func(args ...any) {
		return func(args ...any) {
			parts := make([]string, 0, len(args))
			for _, arg := range args {
				parts = append(parts, fmt.Sprintf("%v", arg))
			}
			msg := schema.ExecutionMessage{Type: "ExecutionMessage", Level: level, Message: strings.Join(parts, " ")}
			e.pending = append(e.pending, msg)
		}
	}

	if err := console.Set("log", record(schema.LevelInfo)); err != nil {
		return err
	}
	if err := console.Set("info", record(schema.LevelInfo)); err != nil {
		return err
	}
	if err := console.Set("warn", record(schema.LevelWarning)); err != nil {
		return err
	}
	if err := console.Set("error", record(schema.LevelError)); err != nil {
		return err
	}
	return e.vm.Set("console", console)
}

// installHostAPI exposes the fs, net and proc capability modules. The
// restriction check lives in Go closures, out of reach of guest code, so
// boxing cannot be revoked from inside the VM.
func (e *Evaluator) installHostAPI() error {
	fsModule := e.vm.NewObject()
	if err := fsModule.Set("readTextFile", func(path string) (string, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}); err != nil {
		return err
	}
	if err := fsModule.Set("writeTextFile", func(path, content string) error {
		if e.restricted.Load() {
			return permissionDenied("writing files")
		}
		return os.WriteFile(path, []byte(content), 0o644)
	}); err != nil {
		return err
	}
	if err := e.vm.Set("fs", fsModule); err != nil {
		return err
	}

	netModule := e.vm.NewObject()
	if err := netModule.Set("fetchText", func(url string) (string, error) {
		if e.restricted.Load() {
			return "", permissionDenied("network access")
		}
		resp, err := http.Get(url)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", err
		}
		return string(body), nil
	}); err != nil {
		return err
	}
	if err := e.vm.Set("net", netModule); err != nil {
		return err
	}

	procModule := e.vm.NewObject()
	if err := procModule.Set("run", func(command string, args ...string) (string, error) {
		if e.restricted.Load() {
			return "", permissionDenied("spawning processes")
		}
		out, err := exec.Command(command, args...).CombinedOutput()
		if err != nil {
			return string(out), err
		}
		return string(out), nil
	}); err != nil {
		return err
	}
	return e.vm.Set("proc", procModule)
}
