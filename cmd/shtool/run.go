package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	log "github.com/colorfulnotion/openfa/log"
	"github.com/colorfulnotion/openfa/scripting"
	"github.com/colorfulnotion/openfa/sh"
	"github.com/colorfulnotion/openfa/shape"
	"github.com/colorfulnotion/openfa/x86"
	"github.com/spf13/cobra"
)

type drawFlags struct {
	detail    int
	closeness int
	frame     int
	damaged   bool
}

func (f *drawFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.detail, "detail", -1, "detail level (default from config)")
	cmd.Flags().IntVar(&f.closeness, "closeness", -1, "viewer closeness (default from config)")
	cmd.Flags().IntVar(&f.frame, "frame", -1, "animation frame (default from config)")
	cmd.Flags().BoolVar(&f.damaged, "damaged", false, "draw the damaged model")
}

func (f *drawFlags) state() *shape.DrawState {
	st := cfg.DrawState()
	if f.detail >= 0 {
		st.Detail = uint16(f.detail)
	}
	if f.closeness >= 0 {
		st.Closeness = f.closeness
	}
	if f.frame >= 0 {
		st.FrameNumber = f.frame
	}
	if f.damaged {
		st.Damaged = true
	}
	return st
}

func newSession(s *sh.Shape, reg *shape.Registry, st *shape.DrawState) (*shape.Session, error) {
	sess, err := shape.NewSession(s, reg, st)
	if err != nil {
		return nil, err
	}
	if cfg.VM.StepBudget > 0 {
		sess.SetStepBudget(cfg.VM.StepBudget)
	}
	return sess, nil
}

func printMesh(w io.Writer, name string, sess *shape.Session, mesh *shape.Mesh) {
	fmt.Fprintf(w, "%s: %d triangles, %d vertices, %d normals\n", name, mesh.Triangles(), len(mesh.Vertices), len(mesh.Normals))
	fmt.Fprintf(w, "  records visited: %d\n", len(mesh.Visited))
	if mesh.Skipped > 0 {
		fmt.Fprintf(w, "  triangles skipped: %d\n", mesh.Skipped)
	}
	if len(mesh.Textures) > 0 {
		fmt.Fprintf(w, "  textures: %s\n", strings.Join(mesh.Textures, ", "))
	}
	if calls := sess.Calls(); len(calls) > 0 {
		fmt.Fprintf(w, "  calls: %s\n", strings.Join(calls, ", "))
	}
	fmt.Fprintf(w, "  instructions executed: %d\n", sess.Interpreter().Steps())
}

func newRunCmd() *cobra.Command {
	var df drawFlags
	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Walk a shape, executing its x86 fragments, and summarize the mesh",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadShape(args[0])
			if err != nil {
				return err
			}
			reg, err := cfg.Registry(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			sess, err := newSession(s, reg, df.state())
			if err != nil {
				return err
			}
			mesh, err := shape.Walk(sess)
			if err != nil {
				return fmt.Errorf("%s: %w", shapeName(args[0]), err)
			}
			printMesh(cmd.OutOrStdout(), shapeName(args[0]), sess, mesh)
			return nil
		},
	}
	df.register(cmd)
	return cmd
}

func newExploreCmd() *cobra.Command {
	var df drawFlags
	cmd := &cobra.Command{
		Use:   "explore FILE",
		Short: "Interactive JavaScript console over a shape",
		Long: `Interactive JavaScript console over a shape.

  records()            one line per record
  describe(i)          record i
  disasm(i)            listing of the X86Code record i
  state                the draw state (toml field names)
  call(name, fn)       handle a trampoline
  value(name, v)       bind a symbol value
  walk()               run the shape and summarize the mesh
  exit                 leave`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadShape(args[0])
			if s == nil {
				return err
			}
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "warning: %v\n", err)
			}
			base, err := cfg.Registry(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return explore(cmd.OutOrStdout(), s, shapeName(args[0]), base, df.state())
		},
	}
	df.register(cmd)
	return cmd
}

func explore(out io.Writer, s *sh.Shape, name string, base *shape.Registry, st *shape.DrawState) error {
	e := scripting.New(out)
	rt := e.Runtime()
	rt.Set("state", st)
	rt.Set("records", func() []string {
		lines := make([]string, len(s.Records))
		for i, r := range s.Records {
			lines[i] = fmt.Sprintf("%3d %s", i, sh.Describe(r))
		}
		return lines
	})
	rt.Set("describe", func(i int) (string, error) {
		if i < 0 || i >= len(s.Records) {
			return "", fmt.Errorf("no record %d", i)
		}
		return sh.Describe(s.Records[i]), nil
	})
	rt.Set("disasm", func(i int) (string, error) {
		if i < 0 || i >= len(s.Records) {
			return "", fmt.Errorf("no record %d", i)
		}
		x, ok := s.Records[i].(*sh.X86Code)
		if !ok {
			return "", fmt.Errorf("record %d is %s", i, s.Records[i].Name())
		}
		return x86.Listing(x.Code, s.Image.VAddrOf(x.CodeOffset())), nil
	})
	rt.Set("walk", func() (string, error) {
		reg := base.Clone()
		e.Install(reg)
		sess, err := newSession(s, reg, st)
		if err != nil {
			return "", err
		}
		mesh, err := shape.Walk(sess)
		if err != nil {
			return "", err
		}
		var sb strings.Builder
		printMesh(&sb, name, sess, mesh)
		return sb.String(), nil
	})

	home, _ := os.UserHomeDir()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      name + "> ",
		HistoryFile: filepath.Join(home, ".shtool_history"),
		Stdout:      out,
	})
	if err != nil {
		return fmt.Errorf("failed to start readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(out, "%s: %d records. Type 'exit' to quit.\n", name, len(s.Records))
	for {
		line, err := rl.Readline()
		if err != nil {
			return nil
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		v, err := e.Eval(line)
		if err != nil {
			fmt.Fprintln(out, "error:", err)
			log.Debug(log.ToolModule, "eval failed", "line", line, "err", err)
			continue
		}
		if v != "" {
			fmt.Fprintln(out, v)
		}
	}
}
