package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"github.com/openfroyo/installengine/pkg/definition"
	"github.com/openfroyo/installengine/pkg/engine"
)

// consoleDialogs shows definition dialogs on a terminal. Each field prompts
// for a property value; an empty answer keeps the current value. Answering
// "n" at the final confirmation cancels the install.
type consoleDialogs struct {
	def         *definition.Definition
	in          io.Reader
	out         io.Writer
	interactive bool
	rl          *readline.Instance
}

func newConsoleDialogs(def *definition.Definition, in io.Reader, out io.Writer) *consoleDialogs {
	return &consoleDialogs{
		def:         def,
		in:          in,
		out:         out,
		interactive: isTerminal(in) && isTerminal(out),
	}
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && readline.IsTerminal(int(f.Fd()))
}

// ShowDialog implements engine.DialogRunner.
func (d *consoleDialogs) ShowDialog(ctx context.Context, pkg *engine.Package, name string) (bool, error) {
	dialog, ok := d.def.Dialog(name)
	if !ok {
		return false, nil
	}

	properties := pkg.Properties
	fmt.Fprintf(d.out, "\n== %s ==\n", properties.Deformat(dialog.Title))
	if dialog.Text != "" {
		fmt.Fprintln(d.out, properties.Deformat(dialog.Text))
	}

	for _, field := range dialog.Fields {
		if err := ctx.Err(); err != nil {
			return true, engine.NewError(engine.CodeUserExit, "install cancelled", err).WithAction(name)
		}
		prompt := fmt.Sprintf("%s [%s]: ", properties.Deformat(field.Prompt), properties.Get(field.Property))
		answer, err := d.ask(prompt)
		if err != nil {
			return true, engine.NewError(engine.CodeUserExit, "no input", err).WithAction(name)
		}
		if answer != "" {
			properties.Set(field.Property, answer)
		}
	}

	answer, err := d.ask("Continue? [Y/n]: ")
	if err != nil {
		return true, engine.NewError(engine.CodeUserExit, "no input", err).WithAction(name)
	}
	if strings.EqualFold(answer, "n") || strings.EqualFold(answer, "no") {
		return true, engine.ErrUserExit
	}
	return true, nil
}

// ask shows prompt and returns the trimmed answer. Ctrl-C returns
// readline.ErrInterrupt and end of input returns io.EOF.
func (d *consoleDialogs) ask(prompt string) (string, error) {
	rl, err := d.readline()
	if err != nil {
		return "", err
	}

	// Readline only draws its prompt on a terminal.
	if d.interactive {
		rl.SetPrompt(prompt)
	} else {
		fmt.Fprint(d.out, prompt)
	}

	line, err := rl.Readline()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// readline opens the line reader on first use. One instance serves every
// dialog of a run since it reads ahead from the input.
func (d *consoleDialogs) readline() (*readline.Instance, error) {
	if d.rl != nil {
		return d.rl, nil
	}

	var stdin io.ReadCloser
	if f, ok := d.in.(*os.File); ok {
		stdin = readline.NewCancelableStdin(f)
	} else {
		stdin = io.NopCloser(d.in)
	}

	rl, err := readline.NewEx(&readline.Config{
		Stdin:                  stdin,
		Stdout:                 d.out,
		Stderr:                 d.out,
		HistoryLimit:           -1,
		DisableAutoSaveHistory: true,
		FuncIsTerminal:         func() bool { return d.interactive },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open console: %w", err)
	}
	d.rl = rl
	return rl, nil
}

// Close releases the terminal.
func (d *consoleDialogs) Close() error {
	if d.rl == nil {
		return nil
	}
	return d.rl.Close()
}

var _ engine.DialogRunner = (*consoleDialogs)(nil)
