// Package sim runs programs through the offline plot simulator: commands are
// written to files, an external point generator turns them into plotted
// points and the points are summarized into a time estimate.
package sim

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/mastercactapus/polargraph/gcode"
	"github.com/mastercactapus/polargraph/machine/polargraph"
	"github.com/mastercactapus/polargraph/translate"
	"github.com/rs/zerolog/log"
)

// File names shared with the point generator.
const (
	CommandsFile = "polargraphCmds.txt"
	NativeFile   = "ArduinoCommands.txt"
	PointsFile   = "points.txt"
)

// ErrSubprocess is returned when the point generator fails.
var ErrSubprocess = errors.New("Failed to Generate Points.")

// Workspace is a directory holding simulator files and the generator to run there.
type Workspace struct {
	Dir string

	// Exe is the point generator. It is run without arguments in Dir.
	Exe string
}

func (w Workspace) path(name string) string { return filepath.Join(w.Dir, name) }

func writeFile(name string, r io.Reader) error {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, r)
	if err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteCommands writes prog in protocol form to the commands file.
func (w Workspace) WriteCommands(prog gcode.Program) (translate.Counters, error) {
	tr := translate.NewTranslator(translate.Protocol)
	err := writeFile(w.path(CommandsFile), translate.NewBuffer(&gcode.LinesReader{Lines: prog}, tr))
	return tr.Counters, err
}

// WriteSingleCommand writes one manual command to the commands file.
func (w Workspace) WriteSingleCommand(cmd string) error {
	canon, err := polargraph.Canonicalize(cmd, math.MaxInt)
	if err != nil {
		return err
	}
	return os.WriteFile(w.path(CommandsFile), []byte(canon), 0644)
}

// WriteNative writes prog as a firmware function to the native file.
func (w Workspace) WriteNative(prog gcode.Program) (translate.Counters, error) {
	tr := translate.NewTranslator(translate.Native)
	r := io.MultiReader(
		bytes.NewBufferString(translate.NativeHeader),
		translate.NewBuffer(&gcode.LinesReader{Lines: prog}, tr),
		bytes.NewBufferString(translate.NativeFooter),
	)
	err := writeFile(w.path(NativeFile), r)
	return tr.Counters, err
}

// GeneratePoints runs the point generator, which reads the commands file and
// writes the points file.
func (w Workspace) GeneratePoints(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, w.Exe)
	cmd.Dir = w.Dir
	out, err := cmd.CombinedOutput()
	if len(out) > 0 {
		log.Debug().Str("exe", w.Exe).Bytes("output", out).Msg("point generator")
	}
	if err != nil {
		log.Error().Err(err).Str("exe", w.Exe).Msg("point generator failed")
		return fmt.Errorf("%w: %v", ErrSubprocess, err)
	}
	return nil
}

// Estimate reads the points file and estimates the plot at speed.
func (w Workspace) Estimate(speed int, c translate.Counters) (*Estimate, error) {
	strokes, err := ReadPointsFile(w.path(PointsFile))
	if err != nil {
		return nil, err
	}
	return NewEstimate(strokes, speed, c)
}

// Simulate runs the whole pipeline for prog.
func (w Workspace) Simulate(ctx context.Context, prog gcode.Program, speed int) (*Estimate, error) {
	c, err := w.WriteCommands(prog)
	if err != nil {
		return nil, err
	}
	_, err = w.WriteNative(prog)
	if err != nil {
		return nil, err
	}
	err = w.GeneratePoints(ctx)
	if err != nil {
		return nil, err
	}
	return w.Estimate(speed, c)
}

// SimulateCommand runs the pipeline for a single manual command.
func (w Workspace) SimulateCommand(ctx context.Context, cmd string, speed int) (*Estimate, error) {
	err := w.WriteSingleCommand(cmd)
	if err != nil {
		return nil, err
	}
	err = w.GeneratePoints(ctx)
	if err != nil {
		return nil, err
	}
	return w.Estimate(speed, translate.Counters{Commands: 1})
}
